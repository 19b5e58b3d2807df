package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/store/memory"
)

func TestHubBridgesBusToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Contains(t, string(msg), `"hello"`)

	// Publish until the hub's subscription is live and the frame arrives.
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = bus.Publish(ctx, domain.ChannelAlerts, []byte(`{"market":"Kalshi","externalId":"X"}`))
			}
		}
	}()

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, "event", env.Type)
	assert.Equal(t, domain.ChannelAlerts, env.Channel)
	assert.JSONEq(t, `{"market":"Kalshi","externalId":"X"}`, string(env.Data))
}

func TestPeerFilterCommands(t *testing.T) {
	p := newPeer(nil)
	assert.True(t, p.wants(domain.ChannelPrices))

	p.apply(command{Action: "unsubscribe", Channels: []string{domain.ChannelPrices}})
	assert.False(t, p.wants(domain.ChannelPrices))
	assert.True(t, p.wants(domain.ChannelAlerts))

	p.apply(command{Action: "subscribe", Channels: []string{domain.ChannelPrices}})
	assert.True(t, p.wants(domain.ChannelPrices))
}

func TestPublishSkipsFilteredAndFullPeers(t *testing.T) {
	hub := NewHub(memory.NewSignalBus(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	listening := newPeer(nil)
	muted := newPeer(nil)
	muted.apply(command{Action: "unsubscribe", Channels: []string{domain.ChannelAlerts}})
	require.True(t, hub.add(listening))
	require.True(t, hub.add(muted))

	for i := 0; i < queueDepth+5; i++ {
		hub.publish(domain.ChannelAlerts, []byte(`{}`))
	}
	assert.Len(t, listening.out, queueDepth)
	assert.Empty(t, muted.out)
}

func TestRunDisconnectsPeersOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(memory.NewSignalBus(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := newPeer(nil)
	require.True(t, hub.add(p))

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Zero(t, hub.Peers())
	_, open := <-p.out
	assert.False(t, open)
	assert.False(t, hub.add(newPeer(nil)))
}

func TestRawOrString(t *testing.T) {
	assert.JSONEq(t, `{"a":1}`, string(rawOrString([]byte(`{"a":1}`))))
	assert.Equal(t, `"plain text"`, string(rawOrString([]byte("plain text"))))
}
