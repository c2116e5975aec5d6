// Package shipper provides an abstraction layer for shipping carriers.
package shipper

import (
	"context"
)

// Shipper defines the interface that all shipping carriers must implement.
type Shipper interface {
	// Name returns the carrier identifier (e.g., "usps").
	Name() string

	// ValidateAddress standardizes an address. Failures are reported in the result.
	ValidateAddress(ctx context.Context, addr Address) AddressValidation

	// GetRates returns quotes for a package. useCache=false bypasses the rate cache.
	GetRates(ctx context.Context, req *RateRequest, useCache bool) (*RateQuoteSet, error)

	// CreateLabel purchases a shipping label.
	CreateLabel(ctx context.Context, req *LabelRequest) (*LabelResult, error)

	// CancelLabel voids a previously created label.
	CancelLabel(ctx context.Context, trackingNumber string) (*CancelResult, error)

	// Track returns the normalized tracking state. Failures are reported in the result.
	Track(ctx context.Context, trackingNumber string) *TrackingResult
}
