package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// HistoryReader lists recent price history across all contracts.
type HistoryReader interface {
	HistorySince(ctx context.Context, since time.Time) ([]domain.HistoryRecord, error)
}

// archiveLine is one JSONL row in an archive object.
type archiveLine struct {
	ExternalID string        `json:"externalId"`
	Market     domain.Market `json:"market"`
	Price      float64       `json:"price"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Archiver copies the last day of price history to object storage before
// the refresh path prunes it away.
type Archiver struct {
	history HistoryReader
	blob    domain.BlobWriter
	prefix  string
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver creates an Archiver writing objects under prefix.
func NewArchiver(history HistoryReader, blob domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	if prefix == "" {
		prefix = "price-history"
	}
	return &Archiver{
		history: history,
		blob:    blob,
		prefix:  prefix,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
	}
}

// Run exports history from the retention window as one JSONL object and
// returns the number of rows written. Empty windows write nothing.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	now := a.now().UTC()
	since := now.Add(-HistoryRetention)

	records, err := a.history.HistorySince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive: read history since %v: %w", since, err)
	}
	if len(records) == 0 {
		a.logger.InfoContext(ctx, "no history to archive")
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(archiveLine{
			ExternalID: r.Key.ExternalID,
			Market:     r.Key.Market,
			Price:      r.Price,
			Timestamp:  r.Timestamp,
		}); err != nil {
			return 0, fmt.Errorf("pipeline: archive: encode: %w", err)
		}
	}

	path := ArchivePath(a.prefix, now)
	if err := a.blob.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("pipeline: archive: upload %s: %w", path, err)
	}
	a.logger.InfoContext(ctx, "archived price history",
		slog.String("path", path),
		slog.Int("rows", len(records)),
	)
	return len(records), nil
}

// ArchivePath is the object key for an archive taken at t.
func ArchivePath(prefix string, t time.Time) string {
	return fmt.Sprintf("%s/%s/history-%s.jsonl", prefix, t.Format("2006/01/02"), t.Format("150405"))
}
