package usps

import (
	"context"
)

// APIClient defines the interface for USPS API operations.
// It can be implemented by HTTPAPIClient (REST), XMLRateClient (legacy rates)
// or MockAPIClient (testing).
type APIClient interface {
	ValidateAddress(ctx context.Context, req *AddressRequest) (*AddressResponse, error)
	CityState(ctx context.Context, zip string) (*CityStateResponse, error)
	GetBaseRates(ctx context.Context, req *BaseRatesRequest) (*BaseRatesResponse, error)
	GetServiceStandards(ctx context.Context, req *ServiceStandardsRequest) (*ServiceStandardsResponse, error)
	CreateLabel(ctx context.Context, req *LabelRequest) (*LabelResponse, error)
	CancelLabel(ctx context.Context, trackingNumber string) (map[string]any, error)
	GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error)
}

// ============================================================================
// Addresses
// ============================================================================

// AddressRequest is the payload for POST /addresses/v3/address.
type AddressRequest struct {
	StreetAddress             string `json:"streetAddress"`
	StreetAddressAbbreviation string `json:"streetAddressAbbreviation"`
	City                      string `json:"city"`
	State                     string `json:"state"`
	ZIPCode                   string `json:"ZIPCode"`
	ZIPPlus4                  string `json:"ZIPPlus4"`
}

// AddressResponse is the standardization result.
type AddressResponse struct {
	Firm           string          `json:"firm,omitempty"`
	Address        *WireAddress    `json:"address,omitempty"`
	AdditionalInfo *AdditionalInfo `json:"additionalInfo,omitempty"`
	Corrections    []WireNote      `json:"corrections,omitempty"`
	Matches        []WireNote      `json:"matches,omitempty"`
}

// WireAddress is the address shape used by the addresses and labels APIs.
type WireAddress struct {
	FirstName        string `json:"firstName,omitempty"`
	LastName         string `json:"lastName,omitempty"`
	Firm             string `json:"firm,omitempty"`
	StreetAddress    string `json:"streetAddress"`
	SecondaryAddress string `json:"secondaryAddress,omitempty"`
	City             string `json:"city"`
	State            string `json:"state"`
	ZIPCode          string `json:"ZIPCode"`
	ZIPPlus4         string `json:"ZIPPlus4,omitempty"`
}

// AdditionalInfo carries delivery point details.
type AdditionalInfo struct {
	DeliveryPoint        string `json:"deliveryPoint,omitempty"`
	CarrierRoute         string `json:"carrierRoute,omitempty"`
	DPVConfirmation      string `json:"DPVConfirmation,omitempty"`
	Business             string `json:"business,omitempty"`
	CentralDeliveryPoint string `json:"centralDeliveryPoint,omitempty"`
	Vacant               string `json:"vacant,omitempty"`
}

// WireNote is a code/text pair returned with matches and corrections.
type WireNote struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// CityStateResponse is the result of POST /addresses/v3/city-state.
type CityStateResponse struct {
	City    string `json:"city"`
	State   string `json:"state"`
	ZIPCode string `json:"ZIPCode"`
}

// ============================================================================
// Prices
// ============================================================================

// BaseRatesRequest is the payload for POST /prices/v3/base-rates/search.
type BaseRatesRequest struct {
	OriginZIPCode                string  `json:"originZIPCode"`
	DestinationZIPCode           string  `json:"destinationZIPCode"`
	Weight                       float64 `json:"weight"`
	Length                       float64 `json:"length"`
	Width                        float64 `json:"width"`
	Height                       float64 `json:"height"`
	MailClass                    string  `json:"mailClass"`
	ProcessingCategory           string  `json:"processingCategory"`
	RateIndicator                string  `json:"rateIndicator"`
	DestinationEntryFacilityType string  `json:"destinationEntryFacilityType"`
	PriceType                    string  `json:"priceType"`
}

// BaseRatesResponse holds the rate for one mail class.
// TotalBasePrice is nil when the carrier returns no machine-readable price.
type BaseRatesResponse struct {
	TotalBasePrice *float64   `json:"totalBasePrice,omitempty"`
	Rates          []WireRate `json:"rates,omitempty"`
}

// WireRate is one rate line in a base rates response.
type WireRate struct {
	SKU         string  `json:"SKU,omitempty"`
	Description string  `json:"description,omitempty"`
	PriceType   string  `json:"priceType,omitempty"`
	Price       float64 `json:"price"`
	Weight      float64 `json:"weight,omitempty"`
	MailClass   string  `json:"mailClass,omitempty"`
	Zone        string  `json:"zone,omitempty"`
}

// ============================================================================
// Service standards
// ============================================================================

// ServiceStandardsRequest is the payload for POST /service-standards/v3/estimates.
type ServiceStandardsRequest struct {
	OriginZIPCode      string `json:"originZIPCode"`
	DestinationZIPCode string `json:"destinationZIPCode"`
	MailClass          string `json:"mailClass"`
	AcceptanceDate     string `json:"acceptanceDate"`
}

// ServiceStandardsResponse lists delivery commitments.
type ServiceStandardsResponse struct {
	MailClass         string `json:"mailClass,omitempty"`
	ServiceStandard   string `json:"serviceStandard,omitempty"`
	ScheduledDelivery string `json:"scheduledDeliveryDateTime,omitempty"`
	DeliveryDays      int    `json:"deliveryDays,omitempty"`
}

// ============================================================================
// Labels
// ============================================================================

// LabelRequest is the payload for POST /labels/v3/label.
type LabelRequest struct {
	LabelAddress       LabelAddress       `json:"labelAddress"`
	SenderAddress      LabelAddress       `json:"senderAddress"`
	PackageDescription PackageDescription `json:"packageDescription"`
	CustomerDetails    CustomerDetails    `json:"customerDetails"`
	ImageInfo          ImageInfo          `json:"imageInfo"`
}

// LabelAddress is the address shape used in label payloads.
type LabelAddress struct {
	StreetAddress             string `json:"streetAddress"`
	StreetAddressAbbreviation string `json:"streetAddressAbbreviation"`
	City                      string `json:"city"`
	State                     string `json:"state"`
	ZIPCode                   string `json:"ZIPCode"`
	ZIPPlus4                  string `json:"ZIPPlus4"`
}

// PackageDescription describes the parcel being labeled.
type PackageDescription struct {
	Weight                       float64 `json:"weight"`
	Length                       float64 `json:"length"`
	Height                       float64 `json:"height"`
	Width                        float64 `json:"width"`
	Girth                        float64 `json:"girth"`
	MailClass                    string  `json:"mailClass"`
	ProcessingCategory           string  `json:"processingCategory"`
	RateIndicator                string  `json:"rateIndicator"`
	DestinationEntryFacilityType string  `json:"destinationEntryFacilityType"`
}

// CustomerDetails identifies who pays for the label.
type CustomerDetails struct {
	CustomerName        string `json:"customerName"`
	CustomerEmail       string `json:"customerEmail"`
	CustomerPhoneNumber string `json:"customerPhoneNumber"`
}

// ImageInfo selects the label image rendering.
type ImageInfo struct {
	ImageType     string `json:"imageType"`
	LabelType     string `json:"labelType"`
	ReceiptOption string `json:"receiptOption"`
}

// LabelResponse is the result of a label creation.
type LabelResponse struct {
	LabelMetadata LabelMetadata `json:"labelMetadata"`
	LabelImage    LabelImage    `json:"labelImage"`
}

// LabelMetadata holds the tracking number and postage.
type LabelMetadata struct {
	TrackingNumber string  `json:"trackingNumber"`
	Postage        float64 `json:"postage"`
	SKU            string  `json:"SKU,omitempty"`
	Zone           string  `json:"zone,omitempty"`
}

// LabelImage holds the label URL and/or base64 image.
type LabelImage struct {
	LabelImageURL    string `json:"labelImageURL,omitempty"`
	LabelImageBase64 string `json:"labelImageBase64,omitempty"`
}

// ============================================================================
// Tracking
// ============================================================================

// TrackingResponse is the result of GET /tracking/v3/tracking/{trackingNumber}.
type TrackingResponse struct {
	TrackingNumber        string          `json:"trackingNumber"`
	EstimatedDeliveryDate string          `json:"estimatedDeliveryDate,omitempty"`
	TrackingEvents        []TrackingEvent `json:"trackingEvents"`
}

// TrackingEvent is a raw carrier tracking event.
type TrackingEvent struct {
	EventDateTime         string `json:"eventDateTime,omitempty"`
	EventType             string `json:"eventType,omitempty"`
	EventDescription      string `json:"eventDescription,omitempty"`
	EventCity             string `json:"eventCity,omitempty"`
	EventState            string `json:"eventState,omitempty"`
	EventZIP              string `json:"eventZIP,omitempty"`
	EstimatedDeliveryDate string `json:"estimatedDeliveryDate,omitempty"`
}
