package usps_test

import (
	"context"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func nopLogger() *otelzap.Logger {
	return otelzap.New(zap.NewNop())
}

// memCache is a minimal RateCache used to observe aggregator behaviour.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	params  map[string][]byte
	gets    int
	upserts int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}, params: map[string][]byte{}}
}

func (c *memCache) GetIfValid(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Upsert(_ context.Context, key string, params, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts++
	c.entries[key] = value
	c.params[key] = params
	return nil
}

func (c *memCache) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

func (c *memCache) Count(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.entries)), nil
}

func (c *memCache) counts() (gets, upserts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets, c.upserts
}
