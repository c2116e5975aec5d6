// Package memory provides in-process rate cache and shipment storage.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/tournevent/uspsbridge/pkg/shipper"
)

type cacheEntry struct {
	params    []byte
	value     []byte
	expiresAt time.Time
}

// Store keeps rate cache entries and shipments in maps guarded by a mutex.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]cacheEntry
	shipments map[string]*shipper.Shipment
	now       func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:   make(map[string]cacheEntry),
		shipments: make(map[string]*shipper.Shipment),
		now:       time.Now,
	}
}

// SetClock replaces the time source used for expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetIfValid returns the cached value while it has not expired.
func (s *Store) GetIfValid(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Upsert stores value under key until ttl elapses.
func (s *Store) Upsert(ctx context.Context, key string, params, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = cacheEntry{params: params, value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// DeleteExpired drops every expired entry and reports how many were removed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Count returns the number of cache entries, expired or not.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// SaveShipment inserts or replaces a shipment by tracking number.
func (s *Store) SaveShipment(ctx context.Context, sh *shipper.Shipment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sh == nil || sh.TrackingNumber == "" {
		return fmt.Errorf("tracking number is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shipments[sh.TrackingNumber] = cloneShipment(sh)
	return nil
}

// GetShipment returns a copy of the stored shipment.
func (s *Store) GetShipment(ctx context.Context, trackingNumber string) (*shipper.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shipments[trackingNumber]
	if !ok {
		return nil, shipper.ErrShipmentNotFound
	}
	return cloneShipment(sh), nil
}

// ListShipments returns matching shipments ordered by ship time.
func (s *Store) ListShipments(ctx context.Context, filter shipper.ShipmentFilter) ([]*shipper.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := lo.SliceToMap(filter.TrackingNumbers, func(tn string) (string, struct{}) {
		return tn, struct{}{}
	})

	var out []*shipper.Shipment
	for _, sh := range s.shipments {
		if len(wanted) > 0 {
			if _, ok := wanted[sh.TrackingNumber]; !ok {
				continue
			}
		}
		if !filter.ShippedSince.IsZero() && sh.ShippedAt.Before(filter.ShippedSince) {
			continue
		}
		if filter.ActiveOnly && sh.Status.IsTerminal() {
			continue
		}
		out = append(out, cloneShipment(sh))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShippedAt.Equal(out[j].ShippedAt) {
			return out[i].TrackingNumber < out[j].TrackingNumber
		}
		return out[i].ShippedAt.Before(out[j].ShippedAt)
	})
	return out, nil
}

// UpdateTracking applies a tracking result to a stored shipment.
func (s *Store) UpdateTracking(ctx context.Context, trackingNumber string, res *shipper.TrackingResult, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shipments[trackingNumber]
	if !ok {
		return shipper.ErrShipmentNotFound
	}
	applied := *res
	applied.Events = cloneEvents(res.Events)
	sh.ApplyTracking(&applied, now)
	return nil
}

// cloneShipment copies sh so callers never share slices or maps with the
// stored record.
func cloneShipment(sh *shipper.Shipment) *shipper.Shipment {
	cp := *sh
	cp.LabelData = slices.Clone(sh.LabelData)
	cp.Events = cloneEvents(sh.Events)
	cp.Metadata = maps.Clone(sh.Metadata)
	if sh.DeliveredAt != nil {
		delivered := *sh.DeliveredAt
		cp.DeliveredAt = &delivered
	}
	return &cp
}

func cloneEvents(events []shipper.TrackingEvent) []shipper.TrackingEvent {
	out := slices.Clone(events)
	for i := range out {
		if ts := out[i].Timestamp; ts != nil {
			t := *ts
			out[i].Timestamp = &t
		}
	}
	return out
}

var (
	_ shipper.RateCache     = (*Store)(nil)
	_ shipper.ShipmentStore = (*Store)(nil)
)
