package shipper

import (
	"time"
)

// ShipmentStatus is the normalized tracking status of a package.
type ShipmentStatus string

const (
	StatusUnknown        ShipmentStatus = "unknown"
	StatusPreShipment    ShipmentStatus = "pre_shipment"
	StatusAccepted       ShipmentStatus = "accepted"
	StatusInTransit      ShipmentStatus = "in_transit"
	StatusOutForDelivery ShipmentStatus = "out_for_delivery"
	StatusDelivered      ShipmentStatus = "delivered"
	StatusReturned       ShipmentStatus = "returned"

	// StatusLabelCreated is assigned to stored shipments before the first tracking refresh.
	StatusLabelCreated ShipmentStatus = "label_created"
)

// IsTerminal reports whether no further tracking updates are expected.
func (s ShipmentStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusReturned
}

// SortPolicy determines the order of quotes in a RateQuoteSet.
type SortPolicy string

const (
	SortByPrice        SortPolicy = "price"
	SortByDeliveryTime SortPolicy = "delivery_time"
)

// LabelFormat represents the label image type.
type LabelFormat string

const (
	LabelFormatPDF LabelFormat = "PDF"
	LabelFormatPNG LabelFormat = "PNG"
	LabelFormatTIF LabelFormat = "TIF"
	LabelFormatZPL LabelFormat = "ZPL"
)

// Address represents a domestic postal address.
type Address struct {
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Street  string `json:"street,omitempty"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Zip4    string `json:"zip4,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Dimensions of a package in inches.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Girth  float64 `json:"girth,omitempty"`
}

// Correction is a single field changed by address standardization.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

// AddressValidation is the outcome of validating one address.
type AddressValidation struct {
	Valid        bool                  `json:"valid"`
	Original     Address               `json:"original"`
	Standardized *Address              `json:"standardized,omitempty"`
	Corrections  map[string]Correction `json:"corrections,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// CityState is the result of a ZIP code lookup.
type CityState struct {
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

// RateRequest describes a package to be rated.
type RateRequest struct {
	OriginZip          string     `json:"origin_zip"`
	DestinationZip     string     `json:"destination_zip"`
	Weight             float64    `json:"weight"`
	Dimensions         Dimensions `json:"dimensions"`
	MailClass          string     `json:"mail_class,omitempty"`
	ProcessingCategory string     `json:"processing_category,omitempty"`
	RateIndicator      string     `json:"rate_indicator,omitempty"`
}

// RateQuote is the price of one service class.
type RateQuote struct {
	ServiceType  string  `json:"service_type"`
	ServiceName  string  `json:"service_name"`
	TotalPrice   float64 `json:"total_price"`
	Currency     string  `json:"currency"`
	DeliveryDays string  `json:"delivery_days,omitempty"`
}

// ServiceFailure records why one service class produced no quote.
type ServiceFailure struct {
	ServiceType string `json:"service_type"`
	Error       string `json:"error"`
}

// RateQuoteSet is the ordered result of a rate request.
type RateQuoteSet struct {
	Quotes    []RateQuote      `json:"quotes"`
	Failures  []ServiceFailure `json:"failures,omitempty"`
	SortBy    SortPolicy       `json:"sort_by,omitempty"`
	FromCache bool             `json:"from_cache"`
}

// DeliveryEstimateRequest asks for service standards between two ZIP codes.
type DeliveryEstimateRequest struct {
	OriginZip      string    `json:"origin_zip"`
	DestinationZip string    `json:"destination_zip"`
	MailClass      string    `json:"mail_class,omitempty"`
	AcceptanceDate time.Time `json:"acceptance_date,omitempty"`
}

// DeliveryEstimate is the carrier's delivery commitment for a service.
type DeliveryEstimate struct {
	MailClass         string     `json:"mail_class"`
	DeliveryDays      int        `json:"delivery_days"`
	ScheduledDelivery *time.Time `json:"scheduled_delivery,omitempty"`
}

// LabelRequest describes a shipment to be labeled.
type LabelRequest struct {
	ToAddress          Address           `json:"to_address"`
	FromAddress        *Address          `json:"from_address,omitempty"`
	Weight             float64           `json:"weight"`
	Dimensions         Dimensions        `json:"dimensions"`
	ServiceType        string            `json:"service_type,omitempty"`
	ProcessingCategory string            `json:"processing_category,omitempty"`
	RateIndicator      string            `json:"rate_indicator,omitempty"`
	LabelFormat        LabelFormat       `json:"label_format,omitempty"`
	LabelType          string            `json:"label_type,omitempty"`
	ReceiptOption      string            `json:"receipt_option,omitempty"`
	CustomerName       string            `json:"customer_name,omitempty"`
	CustomerEmail      string            `json:"customer_email,omitempty"`
	CustomerPhone      string            `json:"customer_phone,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Label represents a shipping label image.
type Label struct {
	Format LabelFormat `json:"format"`
	URL    string      `json:"url,omitempty"`
	Data   []byte      `json:"data,omitempty"`
}

// LabelResult is the outcome of a successful label creation.
type LabelResult struct {
	TrackingNumber string  `json:"tracking_number"`
	Cost           float64 `json:"cost"`
	Label          Label   `json:"label"`
	ServiceType    string  `json:"service_type"`
}

// CancelResult is the carrier's answer to a label cancellation.
type CancelResult struct {
	TrackingNumber string         `json:"tracking_number"`
	Status         string         `json:"status"`
	Raw            map[string]any `json:"raw,omitempty"`
}

// Location is where a tracking event happened.
type Location struct {
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
	Zip   string `json:"zip,omitempty"`
}

// IsZero reports whether no location field is set.
func (l Location) IsZero() bool {
	return l.City == "" && l.State == "" && l.Zip == ""
}

// TrackingEvent represents a single tracking event, newest first in a result.
type TrackingEvent struct {
	Timestamp         *time.Time     `json:"timestamp,omitempty"`
	RawTimestamp      string         `json:"raw_timestamp,omitempty"`
	RawStatus         string         `json:"raw_status"`
	Status            ShipmentStatus `json:"status"`
	Description       string         `json:"description,omitempty"`
	Location          Location       `json:"location"`
	EstimatedDelivery string         `json:"estimated_delivery,omitempty"`
}

// TrackingResult is the normalized tracking state of a package.
type TrackingResult struct {
	TrackingNumber    string          `json:"tracking_number"`
	Status            ShipmentStatus  `json:"status"`
	Events            []TrackingEvent `json:"events"`
	EstimatedDelivery string          `json:"estimated_delivery,omitempty"`
	CurrentLocation   *Location       `json:"current_location,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Shipment is a persisted label together with its latest tracking state.
type Shipment struct {
	ID             string            `json:"id"`
	TrackingNumber string            `json:"tracking_number"`
	Carrier        string            `json:"carrier"`
	ServiceType    string            `json:"service_type"`
	FromAddress    Address           `json:"from_address"`
	ToAddress      Address           `json:"to_address"`
	Weight         float64           `json:"weight"`
	Dimensions     Dimensions        `json:"dimensions"`
	Cost           float64           `json:"cost"`
	LabelURL       string            `json:"label_url,omitempty"`
	LabelData      []byte            `json:"label_data,omitempty"`
	Status         ShipmentStatus    `json:"status"`
	Events         []TrackingEvent   `json:"events,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ShippedAt      time.Time         `json:"shipped_at"`
	DeliveredAt    *time.Time        `json:"delivered_at,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ApplyTracking copies a tracking result onto the shipment.
// DeliveredAt is set the first time the shipment is seen as delivered.
func (s *Shipment) ApplyTracking(res *TrackingResult, now time.Time) {
	s.Status = res.Status
	s.Events = res.Events
	s.UpdatedAt = now
	if res.Status == StatusDelivered && s.DeliveredAt == nil {
		delivered := now
		if len(res.Events) > 0 && res.Events[0].Timestamp != nil {
			delivered = *res.Events[0].Timestamp
		}
		s.DeliveredAt = &delivered
	}
}
