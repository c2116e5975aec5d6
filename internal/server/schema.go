package server

import (
	"github.com/samber/lo"
	"github.com/tournevent/uspsbridge/internal/shipment"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/tournevent/uspsbridge/pkg/shipper/usps"
)

type addressInput struct {
	Name    string `json:"name"`
	Company string `json:"company"`
	Street  string `json:"street" validate:"required"`
	Street2 string `json:"street2"`
	City    string `json:"city"`
	State   string `json:"state" validate:"omitempty,len=2"`
	Zip     string `json:"zip" validate:"required"`
	Zip4    string `json:"zip4" validate:"omitempty,len=4,numeric"`
	Phone   string `json:"phone"`
	Email   string `json:"email" validate:"omitempty,email"`
}

func (a addressInput) toModel() shipper.Address {
	return shipper.Address{
		Name:    a.Name,
		Company: a.Company,
		Street:  a.Street,
		Street2: a.Street2,
		City:    a.City,
		State:   a.State,
		Zip:     a.Zip,
		Zip4:    a.Zip4,
		Phone:   a.Phone,
		Email:   a.Email,
	}
}

type dimensionsInput struct {
	Length float64 `json:"length" validate:"gte=0"`
	Width  float64 `json:"width" validate:"gte=0"`
	Height float64 `json:"height" validate:"gte=0"`
	Girth  float64 `json:"girth" validate:"gte=0"`
}

func (d dimensionsInput) toModel() shipper.Dimensions {
	return shipper.Dimensions(d)
}

type batchAddressRequest struct {
	Addresses []addressInput `json:"addresses" validate:"required,min=1,max=100,dive"`
}

type rateRequest struct {
	OriginZip          string          `json:"origin_zip" validate:"required"`
	DestinationZip     string          `json:"destination_zip" validate:"required"`
	Weight             float64         `json:"weight" validate:"gt=0"`
	Dimensions         dimensionsInput `json:"dimensions"`
	MailClass          string          `json:"mail_class"`
	ProcessingCategory string          `json:"processing_category"`
	RateIndicator      string          `json:"rate_indicator"`
}

func (r rateRequest) toModel() *shipper.RateRequest {
	return &shipper.RateRequest{
		OriginZip:          r.OriginZip,
		DestinationZip:     r.DestinationZip,
		Weight:             r.Weight,
		Dimensions:         r.Dimensions.toModel(),
		MailClass:          r.MailClass,
		ProcessingCategory: r.ProcessingCategory,
		RateIndicator:      r.RateIndicator,
	}
}

type labelRequest struct {
	ToAddress          addressInput      `json:"to_address" validate:"required"`
	FromAddress        *addressInput     `json:"from_address" validate:"omitempty"`
	Weight             float64           `json:"weight" validate:"gt=0"`
	Dimensions         dimensionsInput   `json:"dimensions"`
	ServiceType        string            `json:"service_type"`
	ProcessingCategory string            `json:"processing_category"`
	RateIndicator      string            `json:"rate_indicator"`
	LabelFormat        string            `json:"label_format" validate:"omitempty,oneof=PDF PNG TIF ZPL"`
	LabelType          string            `json:"label_type"`
	ReceiptOption      string            `json:"receipt_option"`
	CustomerName       string            `json:"customer_name"`
	CustomerEmail      string            `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone      string            `json:"customer_phone"`
	Metadata           map[string]string `json:"metadata"`
}

func (r labelRequest) toModel() *shipper.LabelRequest {
	req := &shipper.LabelRequest{
		ToAddress:          r.ToAddress.toModel(),
		Weight:             r.Weight,
		Dimensions:         r.Dimensions.toModel(),
		ServiceType:        r.ServiceType,
		ProcessingCategory: r.ProcessingCategory,
		RateIndicator:      r.RateIndicator,
		LabelFormat:        shipper.LabelFormat(r.LabelFormat),
		LabelType:          r.LabelType,
		ReceiptOption:      r.ReceiptOption,
		CustomerName:       r.CustomerName,
		CustomerEmail:      r.CustomerEmail,
		CustomerPhone:      r.CustomerPhone,
		Metadata:           r.Metadata,
	}
	if r.FromAddress != nil {
		req.FromAddress = lo.ToPtr(r.FromAddress.toModel())
	}
	return req
}

type createShipmentRequest struct {
	Carrier     string            `json:"carrier"`
	FromAddress addressInput      `json:"from_address" validate:"required"`
	ToAddress   addressInput      `json:"to_address" validate:"required"`
	Weight      float64           `json:"weight" validate:"gt=0"`
	Dimensions  dimensionsInput   `json:"dimensions"`
	ServiceType string            `json:"service_type"`
	LabelFormat string            `json:"label_format" validate:"omitempty,oneof=PDF PNG TIF ZPL"`
	Metadata    map[string]string `json:"metadata"`
}

func (r createShipmentRequest) toModel() *shipment.CreateRequest {
	return &shipment.CreateRequest{
		Carrier:     r.Carrier,
		FromAddress: r.FromAddress.toModel(),
		ToAddress:   r.ToAddress.toModel(),
		Weight:      r.Weight,
		Dimensions:  r.Dimensions.toModel(),
		ServiceType: r.ServiceType,
		LabelFormat: shipper.LabelFormat(r.LabelFormat),
		Metadata:    r.Metadata,
	}
}

type batchShipmentRequest struct {
	Shipments []createShipmentRequest `json:"shipments" validate:"required,min=1,max=100,dive"`
}

// trackingWebhook is the tracking payload pushed by the carrier.
type trackingWebhook struct {
	TrackingNumber        string               `json:"trackingNumber" validate:"required"`
	EstimatedDeliveryDate string               `json:"estimatedDeliveryDate"`
	TrackingEvents        []usps.TrackingEvent `json:"trackingEvents" validate:"required,min=1"`
}

func (p trackingWebhook) toModel() *shipper.TrackingResult {
	return usps.Normalize(p.TrackingNumber, &usps.TrackingResponse{
		TrackingNumber:        p.TrackingNumber,
		EstimatedDeliveryDate: p.EstimatedDeliveryDate,
		TrackingEvents:        p.TrackingEvents,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
