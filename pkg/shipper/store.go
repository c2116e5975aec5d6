package shipper

import (
	"context"
	"time"
)

// RateCache stores serialized rate results keyed by a request fingerprint.
// An entry is only returned while now < expiresAt.
type RateCache interface {
	GetIfValid(ctx context.Context, key string) ([]byte, bool, error)
	Upsert(ctx context.Context, key string, params, value []byte, ttl time.Duration) error
	DeleteExpired(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// ShipmentFilter narrows ListShipments.
type ShipmentFilter struct {
	TrackingNumbers []string
	ShippedSince    time.Time
	ActiveOnly      bool
}

// ShipmentStore persists created labels and their tracking state.
type ShipmentStore interface {
	SaveShipment(ctx context.Context, s *Shipment) error
	GetShipment(ctx context.Context, trackingNumber string) (*Shipment, error)
	ListShipments(ctx context.Context, filter ShipmentFilter) ([]*Shipment, error)
	UpdateTracking(ctx context.Context, trackingNumber string, res *TrackingResult, now time.Time) error
}
