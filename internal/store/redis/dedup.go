package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupTTL = time.Hour

// DedupChecker provides idempotency checks for tracking webhooks.
// Key format: dedup:<tracking_number>:<status>:<unix_timestamp>
type DedupChecker struct {
	client *redis.Client
}

// NewDedupChecker creates a DedupChecker wrapping the given Redis client.
func NewDedupChecker(client *redis.Client) *DedupChecker {
	return &DedupChecker{client: client}
}

// Seen atomically marks the event and reports whether it had been marked
// before.
func (d *DedupChecker) Seen(ctx context.Context, trackingNumber, status string, ts time.Time) (bool, error) {
	created, err := d.client.SetNX(ctx, d.key(trackingNumber, status, ts), "1", dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return !created, nil
}

// Forget deletes the mark so a redelivered event is processed again.
func (d *DedupChecker) Forget(ctx context.Context, trackingNumber, status string, ts time.Time) error {
	if err := d.client.Del(ctx, d.key(trackingNumber, status, ts)).Err(); err != nil {
		return fmt.Errorf("dedup forget: %w", err)
	}
	return nil
}

func (d *DedupChecker) key(trackingNumber, status string, ts time.Time) string {
	return fmt.Sprintf("dedup:%s:%s:%d", trackingNumber, status, ts.Unix())
}
