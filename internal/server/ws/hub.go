// Package ws streams price and alert events to dashboard clients over
// WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

const (
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingEvery    = 50 * time.Second
	readLimit    = 4096
	queueDepth   = 256
)

// Channels are the bus channels bridged to peers.
var Channels = []string{domain.ChannelPrices, domain.ChannelAlerts}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// envelope wraps every frame sent to a peer.
type envelope struct {
	Type     string          `json:"type"`
	Channel  string          `json:"channel,omitempty"`
	Channels []string        `json:"channels,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// command is what a peer sends to change its channel filter.
type command struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Hub fans SignalBus events out to connected peers. A new peer receives
// every channel until it unsubscribes.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger

	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool
}

func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:    bus,
		logger: logger.With(slog.String("component", "ws_hub")),
		peers:  make(map[*peer]struct{}),
	}
}

// Run relays bus events until ctx is cancelled, then disconnects every peer.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range Channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.relay(ctx, ch)
		}()
	}
	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	h.closed = true
	for p := range h.peers {
		delete(h.peers, p)
		close(p.out)
	}
	h.mu.Unlock()
	return ctx.Err()
}

func (h *Hub) relay(ctx context.Context, channel string) {
	events, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.ErrorContext(ctx, "bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				h.logger.WarnContext(ctx, "bus subscription ended", slog.String("channel", channel))
				return
			}
			frame, err := json.Marshal(envelope{Type: "event", Channel: channel, Data: rawOrString(data)})
			if err != nil {
				continue
			}
			h.publish(channel, frame)
		}
	}
}

// publish queues frame for every peer listening on channel. Peers whose
// queue is full miss the frame.
func (h *Hub) publish(channel string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		if !p.wants(channel) {
			continue
		}
		select {
		case p.out <- frame:
		default:
			h.logger.Warn("dropped frame for slow peer", slog.String("channel", channel))
		}
	}
}

// Peers reports how many connections are open.
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Hub) add(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.peers[p] = struct{}{}
	return true
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; ok {
		delete(h.peers, p)
		close(p.out)
	}
}

// rawOrString embeds valid JSON payloads as-is and quotes anything else.
func rawOrString(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

// HandleWS upgrades GET /ws and starts the peer's read and write loops.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	p := newPeer(conn)
	if hello, err := json.Marshal(envelope{Type: "hello", Channels: Channels}); err == nil {
		p.out <- hello
	}
	if !h.add(p) {
		conn.Close()
		return
	}
	h.logger.Debug("peer connected", slog.Int("peers", h.Peers()))

	go p.writeLoop()
	go func() {
		p.readLoop(h.logger)
		h.remove(p)
		h.logger.Debug("peer disconnected", slog.Int("peers", h.Peers()))
	}()
}

type peer struct {
	conn *websocket.Conn
	out  chan []byte

	mu     sync.RWMutex
	filter map[string]bool
}

func newPeer(conn *websocket.Conn) *peer {
	p := &peer{
		conn:   conn,
		out:    make(chan []byte, queueDepth),
		filter: make(map[string]bool, len(Channels)),
	}
	for _, ch := range Channels {
		p.filter[ch] = true
	}
	return p
}

func (p *peer) wants(channel string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filter[channel]
}

func (p *peer) apply(cmd command) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch cmd.Action {
	case "subscribe":
		for _, ch := range cmd.Channels {
			p.filter[ch] = true
		}
	case "unsubscribe":
		for _, ch := range cmd.Channels {
			delete(p.filter, ch)
		}
	}
}

// readLoop applies filter commands until the connection drops. Anything
// that is not a command is ignored.
func (p *peer) readLoop(logger *slog.Logger) {
	defer p.conn.Close()
	p.conn.SetReadLimit(readLimit)
	_ = p.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("peer closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		var cmd command
		if json.Unmarshal(msg, &cmd) == nil {
			p.apply(cmd)
		}
	}
}

// writeLoop drains out to the socket and pings on idle. A closed out
// channel sends a close frame.
func (p *peer) writeLoop() {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.out:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
