package usps

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/samber/lo"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const defaultReceiptOption = "SEPARATE_PAGE"

// LabelDefaults are the configured fallbacks applied to label requests.
type LabelDefaults struct {
	Service     string
	LabelFormat shipper.LabelFormat
	LabelType   string
	Sender      shipper.Address
}

// LabelBuilder maps label requests onto the carrier payload and interprets
// the response.
type LabelBuilder struct {
	api      APIClient
	defaults LabelDefaults
	logger   *otelzap.Logger
}

// NewLabelBuilder creates a label builder.
func NewLabelBuilder(defaults LabelDefaults, api APIClient, logger *otelzap.Logger) *LabelBuilder {
	if defaults.Service == "" {
		defaults.Service = ServiceGroundAdvantage
	}
	if defaults.LabelFormat == "" {
		defaults.LabelFormat = shipper.LabelFormatPDF
	}
	if defaults.LabelType == "" {
		defaults.LabelType = "SHIPPING_LABEL_ONLY"
	}
	return &LabelBuilder{api: api, defaults: defaults, logger: logger}
}

// CreateLabel purchases a label. Every failure is a label-creation error
// wrapping its cause; no partial result is returned.
func (b *LabelBuilder) CreateLabel(ctx context.Context, req *shipper.LabelRequest) (*shipper.LabelResult, error) {
	payload, err := b.Build(req)
	if err != nil {
		return nil, shipper.NewLabelCreationError(carrierName, "invalid label request", err)
	}

	resp, err := b.api.CreateLabel(ctx, payload)
	if err != nil {
		b.logger.Ctx(ctx).Error("USPS label request failed", zap.Error(err))
		return nil, shipper.NewLabelCreationError(carrierName, "failed to create shipping label", err)
	}
	if resp == nil || resp.LabelMetadata.TrackingNumber == "" {
		return nil, shipper.NewLabelCreationError(carrierName, "no tracking number received from USPS", nil)
	}

	label := shipper.Label{
		Format: shipper.LabelFormat(payload.ImageInfo.ImageType),
		URL:    resp.LabelImage.LabelImageURL,
	}
	if resp.LabelImage.LabelImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(resp.LabelImage.LabelImageBase64)
		if err != nil {
			return nil, shipper.NewLabelCreationError(carrierName, "label image is not valid base64", err)
		}
		label.Data = data
	}

	return &shipper.LabelResult{
		TrackingNumber: resp.LabelMetadata.TrackingNumber,
		Cost:           resp.LabelMetadata.Postage,
		Label:          label,
		ServiceType:    payload.PackageDescription.MailClass,
	}, nil
}

// Cancel voids a label and passes the carrier answer through.
func (b *LabelBuilder) Cancel(ctx context.Context, trackingNumber string) (*shipper.CancelResult, error) {
	raw, err := b.api.CancelLabel(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	status, _ := raw["status"].(string)
	return &shipper.CancelResult{
		TrackingNumber: trackingNumber,
		Status:         status,
		Raw:            raw,
	}, nil
}

// Build produces the label payload. Precedence for each field is the request
// value, then the configured default, then the fixed fallback.
func (b *LabelBuilder) Build(req *shipper.LabelRequest) (*LabelRequest, error) {
	if err := validateLabelRequest(req); err != nil {
		return nil, err
	}

	sender := MergeSender(b.defaults.Sender, req.FromAddress)

	return &LabelRequest{
		LabelAddress:  toLabelAddress(req.ToAddress),
		SenderAddress: toLabelAddress(sender),
		PackageDescription: PackageDescription{
			Weight:                       req.Weight,
			Length:                       req.Dimensions.Length,
			Height:                       req.Dimensions.Height,
			Width:                        req.Dimensions.Width,
			Girth:                        req.Dimensions.Girth,
			MailClass:                    lo.CoalesceOrEmpty(req.ServiceType, b.defaults.Service),
			ProcessingCategory:           lo.CoalesceOrEmpty(req.ProcessingCategory, defaultProcessingCategory),
			RateIndicator:                lo.CoalesceOrEmpty(req.RateIndicator, defaultRateIndicator),
			DestinationEntryFacilityType: defaultEntryFacility,
		},
		CustomerDetails: CustomerDetails{
			CustomerName:        lo.CoalesceOrEmpty(req.CustomerName, sender.Name),
			CustomerEmail:       lo.CoalesceOrEmpty(req.CustomerEmail, sender.Email),
			CustomerPhoneNumber: lo.CoalesceOrEmpty(req.CustomerPhone, sender.Phone),
		},
		ImageInfo: ImageInfo{
			ImageType:     string(lo.CoalesceOrEmpty(req.LabelFormat, b.defaults.LabelFormat)),
			LabelType:     lo.CoalesceOrEmpty(req.LabelType, b.defaults.LabelType),
			ReceiptOption: lo.CoalesceOrEmpty(req.ReceiptOption, defaultReceiptOption),
		},
	}, nil
}

// MergeSender overlays the non-empty fields of override onto base.
func MergeSender(base shipper.Address, override *shipper.Address) shipper.Address {
	if override == nil {
		return base
	}
	merged := base
	merged.Name = lo.CoalesceOrEmpty(override.Name, base.Name)
	merged.Company = lo.CoalesceOrEmpty(override.Company, base.Company)
	merged.Street = lo.CoalesceOrEmpty(override.Street, base.Street)
	merged.Street2 = lo.CoalesceOrEmpty(override.Street2, base.Street2)
	merged.City = lo.CoalesceOrEmpty(override.City, base.City)
	merged.State = lo.CoalesceOrEmpty(override.State, base.State)
	merged.Zip = lo.CoalesceOrEmpty(override.Zip, base.Zip)
	merged.Zip4 = lo.CoalesceOrEmpty(override.Zip4, base.Zip4)
	merged.Phone = lo.CoalesceOrEmpty(override.Phone, base.Phone)
	merged.Email = lo.CoalesceOrEmpty(override.Email, base.Email)
	return merged
}

func validateLabelRequest(req *shipper.LabelRequest) error {
	if req == nil {
		return shipper.NewValidationError(carrierName, "label request is required")
	}
	to := req.ToAddress
	fields := []lo.Tuple2[string, string]{
		lo.T2("to_address.street", to.Street),
		lo.T2("to_address.city", to.City),
		lo.T2("to_address.state", to.State),
		lo.T2("to_address.zip", to.Zip),
	}
	missing := lo.FilterMap(fields, func(f lo.Tuple2[string, string], _ int) (string, bool) {
		return f.A, strings.TrimSpace(f.B) == ""
	})
	if len(missing) > 0 {
		return shipper.NewValidationError(carrierName, "missing required fields: "+strings.Join(missing, ", "))
	}
	if req.Weight <= 0 {
		return shipper.NewValidationError(carrierName, "weight must be greater than zero")
	}
	return nil
}

func toLabelAddress(a shipper.Address) LabelAddress {
	return LabelAddress{
		StreetAddress:             a.Street,
		StreetAddressAbbreviation: a.Street2,
		City:                      a.City,
		State:                     a.State,
		ZIPCode:                   a.Zip,
		ZIPPlus4:                  a.Zip4,
	}
}
