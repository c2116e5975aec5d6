// Package mock provides a mock shipper implementation for testing.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tournevent/uspsbridge/pkg/shipper"
)

// Client is a mock shipper for testing.
// The zero hooks produce deterministic canned answers.
type Client struct {
	name string

	OnValidateAddress func(ctx context.Context, addr shipper.Address) shipper.AddressValidation
	OnGetRates        func(ctx context.Context, req *shipper.RateRequest, useCache bool) (*shipper.RateQuoteSet, error)
	OnCreateLabel     func(ctx context.Context, req *shipper.LabelRequest) (*shipper.LabelResult, error)
	OnTrack           func(ctx context.Context, trackingNumber string) *shipper.TrackingResult

	mu         sync.Mutex
	labelCount int
	tracked    []string
}

// New creates a new mock shipper.
func New(name string) *Client {
	return &Client{name: name}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return c.name
}

// ValidateAddress echoes the address back upper-cased as the standardized form.
func (c *Client) ValidateAddress(ctx context.Context, addr shipper.Address) shipper.AddressValidation {
	if c.OnValidateAddress != nil {
		return c.OnValidateAddress(ctx, addr)
	}
	std := addr
	std.Street = strings.ToUpper(addr.Street)
	std.City = strings.ToUpper(addr.City)
	return shipper.AddressValidation{
		Valid:        true,
		Original:     addr,
		Standardized: &std,
	}
}

// GetRates returns two mock quotes sorted by price.
func (c *Client) GetRates(ctx context.Context, req *shipper.RateRequest, useCache bool) (*shipper.RateQuoteSet, error) {
	if c.OnGetRates != nil {
		return c.OnGetRates(ctx, req, useCache)
	}
	return &shipper.RateQuoteSet{
		SortBy: shipper.SortByPrice,
		Quotes: []shipper.RateQuote{
			{ServiceType: "STANDARD", ServiceName: c.name + " Standard", TotalPrice: 8.50, Currency: "USD", DeliveryDays: "2-5"},
			{ServiceType: "EXPRESS", ServiceName: c.name + " Express", TotalPrice: 24.00, Currency: "USD", DeliveryDays: "1-2"},
		},
	}, nil
}

// CreateLabel returns a mock label with a unique tracking number.
func (c *Client) CreateLabel(ctx context.Context, req *shipper.LabelRequest) (*shipper.LabelResult, error) {
	if c.OnCreateLabel != nil {
		return c.OnCreateLabel(ctx, req)
	}
	c.mu.Lock()
	c.labelCount++
	n := c.labelCount
	c.mu.Unlock()

	trackingNumber := fmt.Sprintf("9400%s%012d", strings.ToUpper(c.name[:min(3, len(c.name))]), n)
	service := req.ServiceType
	if service == "" {
		service = "STANDARD"
	}
	return &shipper.LabelResult{
		TrackingNumber: trackingNumber,
		Cost:           8.50,
		ServiceType:    service,
		Label: shipper.Label{
			Format: shipper.LabelFormatPDF,
			URL:    fmt.Sprintf("https://labels.%s.mock/%s.pdf", c.name, trackingNumber),
		},
	}, nil
}

// CancelLabel cancels a mock label.
func (c *Client) CancelLabel(ctx context.Context, trackingNumber string) (*shipper.CancelResult, error) {
	return &shipper.CancelResult{
		TrackingNumber: trackingNumber,
		Status:         "CANCELED",
	}, nil
}

// Track returns an in-transit result with a single event.
func (c *Client) Track(ctx context.Context, trackingNumber string) *shipper.TrackingResult {
	c.mu.Lock()
	c.tracked = append(c.tracked, trackingNumber)
	c.mu.Unlock()

	if c.OnTrack != nil {
		return c.OnTrack(ctx, trackingNumber)
	}
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	loc := shipper.Location{City: "NEW YORK", State: "NY", Zip: "10001"}
	return &shipper.TrackingResult{
		TrackingNumber: trackingNumber,
		Status:         shipper.StatusInTransit,
		Events: []shipper.TrackingEvent{
			{Timestamp: &ts, RawStatus: "In Transit", Status: shipper.StatusInTransit, Location: loc},
		},
		CurrentLocation: &loc,
	}
}

// Tracked returns the tracking numbers passed to Track, in call order.
func (c *Client) Tracked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tracked...)
}

var _ shipper.Shipper = (*Client)(nil)
