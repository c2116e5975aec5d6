package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Dedup remembers tracking webhook events for a fixed window. It is the
// in-process counterpart of the Redis dedup checker.
type Dedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewDedup creates a Dedup that forgets events after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Dedup{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

// SetClock replaces the time source used for expiry.
func (d *Dedup) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Seen marks the event and reports whether it was already marked.
func (d *Dedup) Seen(ctx context.Context, trackingNumber, status string, ts time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}

	key := dedupKey(trackingNumber, status, ts)
	if _, ok := d.seen[key]; ok {
		return true, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return false, nil
}

// Forget removes the mark so the event is accepted again.
func (d *Dedup) Forget(ctx context.Context, trackingNumber, status string, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, dedupKey(trackingNumber, status, ts))
	return nil
}

func dedupKey(trackingNumber, status string, ts time.Time) string {
	return fmt.Sprintf("%s:%s:%d", trackingNumber, status, ts.Unix())
}
