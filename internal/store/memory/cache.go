package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// PriceCache keeps the latest price per contract in process.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[domain.ContractKey]cachedPrice
}

type cachedPrice struct {
	price float64
	ts    time.Time
}

var _ domain.PriceCache = (*PriceCache)(nil)

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[domain.ContractKey]cachedPrice)}
}

func (c *PriceCache) SetPrice(_ context.Context, key domain.ContractKey, price float64, ts time.Time) error {
	c.mu.Lock()
	c.prices[key] = cachedPrice{price: price, ts: ts}
	c.mu.Unlock()
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, key domain.ContractKey) (float64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[key]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("memory: price %s: %w", key, domain.ErrNotFound)
	}
	return p.price, p.ts, nil
}

// SignalBus fans published payloads out to in-process subscribers. Slow
// subscribers drop messages rather than block publishers.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

var _ domain.SignalBus = (*SignalBus)(nil)

func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string][]chan []byte)}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that is closed when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, c := range list {
			if c == ch {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// RateLimiter is a sliding-window limiter over event timestamps.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{events: make(map[string][]time.Time), now: time.Now}
}

func (l *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-window)
	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		l.events[key] = kept
		return false, nil
	}
	l.events[key] = append(kept, now)
	return true, nil
}
