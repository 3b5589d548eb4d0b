// Package webhook ingests channel callback deliveries: verification
// handshakes, inbound messages, and delivery-status updates. Deliveries are
// at-least-once, so every message passes a dedupe gate before it reaches
// the ledger.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const dedupeKeyPrefix = "waflow:dedupe:"

// Deduper is a shared first-seen gate over redis. Keys expire after the
// configured TTL; the ledger's unique provider message id constraint backs
// it up for replays older than that.
type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl}
}

// MarkSeen claims the provider message id and reports whether this is its
// first delivery.
func (d *Deduper) MarkSeen(ctx context.Context, providerMessageID string) (bool, error) {
	first, err := d.rdb.SetNX(ctx, dedupeKeyPrefix+providerMessageID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe mark: %w", err)
	}
	return first, nil
}

// Forget releases a claimed id so the provider's next redelivery is treated
// as first-seen again. Used when processing fails after the claim but before
// the ledger row exists.
func (d *Deduper) Forget(ctx context.Context, providerMessageID string) error {
	if err := d.rdb.Del(ctx, dedupeKeyPrefix+providerMessageID).Err(); err != nil {
		return fmt.Errorf("dedupe forget: %w", err)
	}
	return nil
}
