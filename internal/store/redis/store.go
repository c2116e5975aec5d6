package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/tournevent/uspsbridge/pkg/shipper"
)

const (
	shipmentPrefix  = "usps:shipment:"
	shipmentIndex   = "usps:shipments:by_shipped"
	defaultRatesKey = "usps_rates_*"
)

// Store keeps rate cache entries and shipments in Redis. Cache entries carry
// a native TTL, so expiry needs no sweeping.
type Store struct {
	client       *redis.Client
	cachePattern string
}

// NewStore wraps client. cachePattern is the SCAN match used by Count, for
// example "usps_rates_*".
func NewStore(client *redis.Client, cachePattern string) *Store {
	if cachePattern == "" {
		cachePattern = defaultRatesKey
	}
	return &Store{client: client, cachePattern: cachePattern}
}

// GetIfValid returns the cached value; Redis drops it once the TTL elapses.
func (s *Store) GetIfValid(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rate cache get: %w", err)
	}
	return v, true, nil
}

// Upsert stores value under key with ttl. The request params are kept under
// a sibling key with the same lifetime.
func (s *Store) Upsert(ctx context.Context, key string, params, value []byte, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		pipe.Set(ctx, key+":params", params, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rate cache set: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires keys itself.
func (s *Store) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}

// Count returns how many cache entries currently exist.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var (
		n      int64
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.cachePattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("rate cache scan: %w", err)
		}
		n += int64(len(lo.Filter(keys, func(k string, _ int) bool {
			return !strings.HasSuffix(k, ":params")
		})))
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

// SaveShipment stores a shipment as JSON and indexes it by ship time.
func (s *Store) SaveShipment(ctx context.Context, sh *shipper.Shipment) error {
	if sh == nil || sh.TrackingNumber == "" {
		return fmt.Errorf("tracking number is required")
	}
	data, err := json.Marshal(sh)
	if err != nil {
		return fmt.Errorf("encode shipment: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, shipmentPrefix+sh.TrackingNumber, data, 0)
		pipe.ZAdd(ctx, shipmentIndex, redis.Z{
			Score:  float64(sh.ShippedAt.Unix()),
			Member: sh.TrackingNumber,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save shipment %s: %w", sh.TrackingNumber, err)
	}
	return nil
}

// GetShipment loads a shipment by tracking number.
func (s *Store) GetShipment(ctx context.Context, trackingNumber string) (*shipper.Shipment, error) {
	data, err := s.client.Get(ctx, shipmentPrefix+trackingNumber).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shipper.ErrShipmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shipment %s: %w", trackingNumber, err)
	}

	var sh shipper.Shipment
	if err := json.Unmarshal(data, &sh); err != nil {
		return nil, fmt.Errorf("decode shipment %s: %w", trackingNumber, err)
	}
	return &sh, nil
}

// ListShipments returns matching shipments ordered by ship time.
func (s *Store) ListShipments(ctx context.Context, filter shipper.ShipmentFilter) ([]*shipper.Shipment, error) {
	from := "-inf"
	if !filter.ShippedSince.IsZero() {
		from = strconv.FormatInt(filter.ShippedSince.Unix(), 10)
	}
	numbers, err := s.client.ZRangeByScore(ctx, shipmentIndex, &redis.ZRangeBy{Min: from, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	if len(filter.TrackingNumbers) > 0 {
		numbers = lo.Intersect(numbers, filter.TrackingNumbers)
	}
	if len(numbers) == 0 {
		return nil, nil
	}

	keys := lo.Map(numbers, func(tn string, _ int) string { return shipmentPrefix + tn })
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load shipments: %w", err)
	}

	var out []*shipper.Shipment
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var sh shipper.Shipment
		if err := json.Unmarshal([]byte(raw), &sh); err != nil {
			return nil, fmt.Errorf("decode shipment: %w", err)
		}
		if filter.ActiveOnly && sh.Status.IsTerminal() {
			continue
		}
		out = append(out, &sh)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ShippedAt.Equal(out[j].ShippedAt) {
			return out[i].TrackingNumber < out[j].TrackingNumber
		}
		return out[i].ShippedAt.Before(out[j].ShippedAt)
	})
	return out, nil
}

// UpdateTracking applies a tracking result to a stored shipment.
func (s *Store) UpdateTracking(ctx context.Context, trackingNumber string, res *shipper.TrackingResult, now time.Time) error {
	sh, err := s.GetShipment(ctx, trackingNumber)
	if err != nil {
		return err
	}
	sh.ApplyTracking(res, now)
	return s.SaveShipment(ctx, sh)
}

var (
	_ shipper.RateCache     = (*Store)(nil)
	_ shipper.ShipmentStore = (*Store)(nil)
)
