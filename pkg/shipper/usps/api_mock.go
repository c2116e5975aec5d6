package usps

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/uspsbridge/pkg/shipper"
)

// mockPrices are the canned base prices per mail class.
var mockPrices = map[string]float64{
	"USPS_GROUND_ADVANTAGE": 8.50,
	"PRIORITY_MAIL":         10.20,
	"PRIORITY_MAIL_EXPRESS": 31.40,
	"FIRST_CLASS_MAIL":      5.25,
	"PARCEL_SELECT":         9.75,
}

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnValidateAddress     func(ctx context.Context, req *AddressRequest) (*AddressResponse, error)
	OnCityState           func(ctx context.Context, zip string) (*CityStateResponse, error)
	OnGetBaseRates        func(ctx context.Context, req *BaseRatesRequest) (*BaseRatesResponse, error)
	OnGetServiceStandards func(ctx context.Context, req *ServiceStandardsRequest) (*ServiceStandardsResponse, error)
	OnCreateLabel         func(ctx context.Context, req *LabelRequest) (*LabelResponse, error)
	OnCancelLabel         func(ctx context.Context, trackingNumber string) (map[string]any, error)
	OnGetTracking         func(ctx context.Context, trackingNumber string) (*TrackingResponse, error)

	calls atomic.Int64
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

// Calls returns how many API methods have been invoked.
func (m *MockAPIClient) Calls() int64 {
	return m.calls.Load()
}

func (m *MockAPIClient) before(ctx context.Context) error {
	m.calls.Add(1)
	if m.SimulateLatency > 0 {
		select {
		case <-time.After(m.SimulateLatency):
		case <-ctx.Done():
			return shipper.NewTransportError(carrierName, ctx.Err())
		}
	}
	if m.SimulateErrors {
		return shipper.NewAPIError(carrierName, http.StatusServiceUnavailable, "Simulated API error")
	}
	return nil
}

// ValidateAddress upper-cases the street and city as a standardization.
func (m *MockAPIClient) ValidateAddress(ctx context.Context, req *AddressRequest) (*AddressResponse, error) {
	if err := m.before(ctx); err != nil {
		return nil, err
	}
	if m.OnValidateAddress != nil {
		return m.OnValidateAddress(ctx, req)
	}

	return &AddressResponse{
		Address: &WireAddress{
			StreetAddress:    strings.ToUpper(req.StreetAddress),
			SecondaryAddress: strings.ToUpper(req.StreetAddressAbbreviation),
			City:             strings.ToUpper(req.City),
			State:            strings.ToUpper(req.State),
			ZIPCode:          req.ZIPCode,
			ZIPPlus4:         req.ZIPPlus4,
		},
		AdditionalInfo: &AdditionalInfo{DPVConfirmation: "Y"},
	}, nil
}

// CityState returns a fixed city for any ZIP code.
func (m *MockAPIClient) CityState(ctx context.Context, zip string) (*CityStateResponse, error) {
	if err := m.before(ctx); err != nil {
		return nil, err
	}
	if m.OnCityState != nil {
		return m.OnCityState(ctx, zip)
	}

	return &CityStateResponse{City: "BEVERLY HILLS", State: "CA", ZIPCode: zip}, nil
}

// GetBaseRates returns the canned price of the requested mail class.
func (m *MockAPIClient) GetBaseRates(ctx context.Context, req *BaseRatesRequest) (*BaseRatesResponse, error) {
	if err := m.before(ctx); err != nil {
		return nil, err
	}
	if m.OnGetBaseRates != nil {
		return m.OnGetBaseRates(ctx, req)
	}

	price, ok := mockPrices[req.MailClass]
	if !ok {
		return nil, shipper.NewAPIError(carrierName, http.StatusBadRequest,
			fmt.Sprintf("unsupported mail class %s", req.MailClass))
	}
	total := price + req.Weight*0.5
	return &BaseRatesResponse{
		TotalBasePrice: &total,
		Rates: []WireRate{
			{SKU: "DXXX0XXXXX01020", Description: req.MailClass, Price: total, Weight: req.Weight, MailClass: req.MailClass},
		},
	}, nil
}

// GetServiceStandards returns a two-day estimate.
func (m *MockAPIClient) GetServiceStandards(ctx context.Context, req *ServiceStandardsRequest) (*ServiceStandardsResponse, error) {
	if err := m.before(ctx); err != nil {
		return nil, err
	}
	if m.OnGetServiceStandards != nil {
		return m.OnGetServiceStandards(ctx, req)
	}

	return &ServiceStandardsResponse{
		MailClass:       req.MailClass,
		ServiceStandard: "2",
		DeliveryDays:    2,
	}, nil
}

// CreateLabel returns a label with a random tracking number.
func (m *MockAPIClient) CreateLabel(ctx context.Context, req *LabelRequest) (*LabelResponse, error) {
	if err := m.before(ctx); err != nil {
		return nil, err
	}
	if m.OnCreateLabel != nil {
		return m.OnCreateLabel(ctx, req)
	}

	trackingNumber := "9400" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:18]
	return &LabelResponse{
		LabelMetadata: LabelMetadata{
			TrackingNumber: trackingNumber,
			Postage:        mockPrices["USPS_GROUND_ADVANTAGE"],
		},
		LabelImage: LabelImage{
			LabelImageURL: fmt.Sprintf("https://labels.usps.mock/%s.pdf", trackingNumber),
		},
	}, nil
}

// CancelLabel acknowledges the cancellation.
func (m *MockAPIClient) CancelLabel(ctx context.Context, trackingNumber string) (map[string]any, error) {
	if err := m.before(ctx); err != nil {
		return nil, err
	}
	if m.OnCancelLabel != nil {
		return m.OnCancelLabel(ctx, trackingNumber)
	}

	return map[string]any{"trackingNumber": trackingNumber, "status": "CANCELED"}, nil
}

// GetTracking returns a two-event in-transit history.
func (m *MockAPIClient) GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error) {
	if err := m.before(ctx); err != nil {
		return nil, err
	}
	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, trackingNumber)
	}

	return &TrackingResponse{
		TrackingNumber: trackingNumber,
		TrackingEvents: []TrackingEvent{
			{
				EventDateTime:    "2024-01-15T10:30:00Z",
				EventType:        "In Transit",
				EventDescription: "In Transit to Next Facility",
				EventCity:        "CHICAGO",
				EventState:       "IL",
				EventZIP:         "60601",
			},
			{
				EventDateTime:    "2024-01-14T08:00:00Z",
				EventType:        "Acceptance",
				EventDescription: "USPS in possession of item",
				EventCity:        "BEVERLY HILLS",
				EventState:       "CA",
				EventZIP:         "90210",
			},
		},
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)
