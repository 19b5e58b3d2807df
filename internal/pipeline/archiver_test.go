package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/store/memory"
)

type captureBlob struct {
	path, contentType string
	data              []byte
}

func (c *captureBlob) Put(_ context.Context, path string, r io.Reader, contentType string) error {
	b, err := io.ReadAll(r)
	c.path, c.contentType, c.data = path, contentType, b
	return err
}

func TestArchiverWritesJSONL(t *testing.T) {
	ctx := context.Background()
	store := memory.NewContractStore()
	key := seed(t, store, domain.MarketPredictIt, "7", 0.3, true)
	for i := 0; i < 3; i++ {
		at := t0.Add(time.Duration(i) * time.Hour)
		_, err := store.RecordPrice(ctx, key, domain.PricePoint{Price: 0.3, Timestamp: at}, at.Add(-HistoryRetention))
		require.NoError(t, err)
	}

	blob := &captureBlob{}
	a := NewArchiver(store, blob, "hist", discardLogger())
	a.now = func() time.Time { return t0.Add(12 * time.Hour) }

	n, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "hist/2024/05/06/history-210000.jsonl", blob.path)
	assert.Equal(t, "application/x-ndjson", blob.contentType)

	sc := bufio.NewScanner(bytes.NewReader(blob.data))
	lines := 0
	for sc.Scan() {
		var row archiveLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		assert.Equal(t, "7", row.ExternalID)
		assert.Equal(t, domain.MarketPredictIt, row.Market)
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestArchiverSkipsEmptyWindow(t *testing.T) {
	blob := &captureBlob{}
	n, err := NewArchiver(memory.NewContractStore(), blob, "", discardLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.path)
}
