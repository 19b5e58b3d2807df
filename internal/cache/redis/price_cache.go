package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// priceTTL bounds how long an unrefreshed price lingers.
const priceTTL = 48 * time.Hour

// PriceCache implements domain.PriceCache using Redis hashes at
// "{prefix}price:{market}:{externalId}" with fields "price" and "ts"
// (Unix nanoseconds).
type PriceCache struct {
	c *Client
}

func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

func (pc *PriceCache) priceKey(key domain.ContractKey) string {
	return pc.c.key("price", string(key.Market), key.ExternalID)
}

// SetPrice stores the latest price and timestamp for a contract.
func (pc *PriceCache) SetPrice(ctx context.Context, key domain.ContractKey, price float64, ts time.Time) error {
	k := pc.priceKey(key)
	_, err := pc.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, map[string]any{
			"price": strconv.FormatFloat(price, 'f', -1, 64),
			"ts":    strconv.FormatInt(ts.UnixNano(), 10),
		})
		pipe.Expire(ctx, k, priceTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w: %w", key, domain.ErrPersistence, err)
	}
	return nil
}

// GetPrice returns domain.ErrNotFound when the contract has no cached price.
func (pc *PriceCache) GetPrice(ctx context.Context, key domain.ContractKey) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.priceKey(key)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w: %w", key, domain.ErrPersistence, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", key, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
