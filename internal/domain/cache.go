package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest refreshed price per contract.
type PriceCache interface {
	SetPrice(ctx context.Context, key ContractKey, price float64, ts time.Time) error
	GetPrice(ctx context.Context, key ContractKey) (float64, time.Time, error)
}

// RateLimiter provides sliding-window rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides fire-and-forget pub/sub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Event bus channels.
const (
	ChannelPrices = "prices"
	ChannelAlerts = "alerts"
)
