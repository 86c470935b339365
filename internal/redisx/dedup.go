package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/redis/go-redis/v9"
)

// Dedup keeps processed-event markers with a TTL.
type Dedup struct {
	RDB redis.Cmdable
	TTL time.Duration
}

var _ events.Deduper = (*Dedup)(nil)

func NewDedup(rdb redis.Cmdable) *Dedup { return &Dedup{RDB: rdb, TTL: TTLDedup} }

func (d *Dedup) Seen(ctx context.Context, key string) (bool, error) {
	return Exists(ctx, d.RDB, fmt.Sprintf(KeyDedup, key))
}

func (d *Dedup) Mark(ctx context.Context, key string) error {
	return d.RDB.Set(ctx, fmt.Sprintf(KeyDedup, key), "1", d.TTL).Err()
}

type CachedStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache is the order status read cache.
type StatusCache struct {
	RDB redis.Cmdable
	TTL time.Duration
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache { return &StatusCache{RDB: rdb, TTL: TTLStatusCache} }

func (c *StatusCache) PutStatus(ctx context.Context, orderID, status string, updatedAt time.Time) error {
	b, err := json.Marshal(CachedStatus{Status: status, UpdatedAt: updatedAt})
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, c.TTL).Err()
}

// GetStatus returns found=false on a cache miss.
func (c *StatusCache) GetStatus(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var s CachedStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return CachedStatus{}, false, err
	}
	return s, true, nil
}
