// Package usps provides integration with the USPS REST APIs: OAuth token
// handling, address standardization, rate shopping, label creation and
// tracking normalization.
package usps

import (
	"context"
	"fmt"
	"time"

	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const carrierName = "usps"

// Config holds USPS configuration.
type Config struct {
	ClientID          string
	ClientSecret      string
	Environment       Environment
	BaseURL           string // Overrides the environment host
	Scope             string
	Timeout           time.Duration
	TokenSafetyMargin time.Duration

	// Legacy Web Tools rating; enabled when LegacyUserID is set
	LegacyUserID string
	LegacyURL    string

	DefaultService string
	LabelFormat    shipper.LabelFormat
	LabelType      string
	DefaultSender  shipper.Address

	Rates            RateAggregatorConfig
	BatchConcurrency int

	UseMock bool // When true, uses mock API client
}

// Client is the USPS shipper client.
// It implements the shipper.Shipper interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	tokens    *TokenManager
	addresses *AddressValidator
	rates     *RateAggregator
	labels    *LabelBuilder
	tracking  *TrackingNormalizer
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new USPS client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client with a token manager.
func New(cfg Config, cache shipper.RateCache, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if cfg.UseMock {
		return NewWithAPIClient(cfg, NewMockAPIClient(), cache, logger, tracer)
	}

	host := cfg.BaseURL
	if host == "" {
		host = Host(cfg.Environment)
	}

	tokens := NewTokenManager(TokenManagerConfig{
		TokenURL:     TokenURL(host),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scope:        cfg.Scope,
		SafetyMargin: cfg.TokenSafetyMargin,
		Timeout:      cfg.Timeout,
	})

	var apiClient APIClient = NewHTTPAPIClient(HTTPAPIClientConfig{
		Environment: cfg.Environment,
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.Timeout,
		Tokens:      tokens,
	})
	if cfg.LegacyUserID != "" {
		apiClient = NewXMLRateClient(XMLRateClientConfig{
			UserID:   cfg.LegacyUserID,
			Endpoint: cfg.LegacyURL,
			Timeout:  cfg.Timeout,
		}, apiClient)
	}

	c := NewWithAPIClient(cfg, apiClient, cache, logger, tracer)
	c.tokens = tokens
	return c
}

// NewWithAPIClient creates a new USPS client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, cache shipper.RateCache, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(carrierName)
	}

	rateCfg := cfg.Rates
	if rateCfg.DefaultService == "" {
		rateCfg.DefaultService = cfg.DefaultService
	}

	return &Client{
		config:    cfg,
		apiClient: apiClient,
		addresses: NewAddressValidator(apiClient, logger, cfg.BatchConcurrency),
		rates:     NewRateAggregator(rateCfg, apiClient, cache, logger),
		labels: NewLabelBuilder(LabelDefaults{
			Service:     cfg.DefaultService,
			LabelFormat: cfg.LabelFormat,
			LabelType:   cfg.LabelType,
			Sender:      cfg.DefaultSender,
		}, apiClient, logger),
		tracking: NewTrackingNormalizer(apiClient, logger),
		logger:   logger,
		tracer:   tracer,
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// Tokens returns the token manager, or nil when running against the mock API.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Rates returns the rate aggregator.
func (c *Client) Rates() *RateAggregator {
	return c.rates
}

// ValidateAddress standardizes an address.
func (c *Client) ValidateAddress(ctx context.Context, addr shipper.Address) shipper.AddressValidation {
	ctx, span := c.tracer.Start(ctx, "usps.ValidateAddress",
		trace.WithAttributes(attribute.String("address.zip", addr.Zip)))
	defer span.End()

	result := c.addresses.Validate(ctx, addr)
	span.SetAttributes(attribute.Bool("address.valid", result.Valid))
	return result
}

// ValidateAddresses standardizes several addresses independently.
func (c *Client) ValidateAddresses(ctx context.Context, addrs []shipper.Address) []shipper.AddressValidation {
	ctx, span := c.tracer.Start(ctx, "usps.ValidateAddresses",
		trace.WithAttributes(attribute.Int("address.count", len(addrs))))
	defer span.End()

	return c.addresses.ValidateBatch(ctx, addrs)
}

// CityState looks up the city and state served by a ZIP code.
func (c *Client) CityState(ctx context.Context, zip string) (*shipper.CityState, error) {
	ctx, span := c.tracer.Start(ctx, "usps.CityState")
	defer span.End()

	resp, err := c.apiClient.CityState(ctx, zip)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return &shipper.CityState{City: resp.City, State: resp.State, Zip: resp.ZIPCode}, nil
}

// GetRates returns quotes for a package.
func (c *Client) GetRates(ctx context.Context, req *shipper.RateRequest, useCache bool) (*shipper.RateQuoteSet, error) {
	ctx, span := c.tracer.Start(ctx, "usps.GetRates", trace.WithAttributes(
		attribute.String("rate.origin_zip", req.OriginZip),
		attribute.String("rate.destination_zip", req.DestinationZip),
		attribute.Bool("rate.use_cache", useCache),
	))
	defer span.End()

	c.logger.Ctx(ctx).Info("Getting USPS rates",
		zap.String("origin_zip", req.OriginZip),
		zap.String("destination_zip", req.DestinationZip),
		zap.Float64("weight", req.Weight),
	)

	set, err := c.rates.GetRates(ctx, req, useCache)
	if err != nil {
		c.logger.Ctx(ctx).Error("USPS API error", zap.Error(err))
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("rate.quotes", len(set.Quotes)),
		attribute.Int("rate.failures", len(set.Failures)),
		attribute.Bool("rate.from_cache", set.FromCache),
	)
	return set, nil
}

// DeliveryEstimate returns the service standard for a lane.
func (c *Client) DeliveryEstimate(ctx context.Context, req *shipper.DeliveryEstimateRequest) (*shipper.DeliveryEstimate, error) {
	ctx, span := c.tracer.Start(ctx, "usps.DeliveryEstimate")
	defer span.End()

	mailClass := req.MailClass
	if mailClass == "" {
		mailClass = c.rates.cfg.DefaultService
	}
	acceptance := req.AcceptanceDate
	if acceptance.IsZero() {
		acceptance = time.Now()
	}

	resp, err := c.apiClient.GetServiceStandards(ctx, &ServiceStandardsRequest{
		OriginZIPCode:      req.OriginZip,
		DestinationZIPCode: req.DestinationZip,
		MailClass:          mailClass,
		AcceptanceDate:     acceptance.Format("2006-01-02"),
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	est := &shipper.DeliveryEstimate{
		MailClass:    mailClass,
		DeliveryDays: resp.DeliveryDays,
	}
	if resp.MailClass != "" {
		est.MailClass = resp.MailClass
	}
	if est.DeliveryDays == 0 {
		est.DeliveryDays = MinDeliveryDays(resp.ServiceStandard, 0)
	}
	if t, ok := ParseTimestamp(resp.ScheduledDelivery); ok {
		est.ScheduledDelivery = &t
	}
	return est, nil
}

// CreateLabel purchases a shipping label.
func (c *Client) CreateLabel(ctx context.Context, req *shipper.LabelRequest) (*shipper.LabelResult, error) {
	ctx, span := c.tracer.Start(ctx, "usps.CreateLabel",
		trace.WithAttributes(attribute.String("label.service", req.ServiceType)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating USPS label",
		zap.String("service_type", req.ServiceType),
		zap.String("destination_zip", req.ToAddress.Zip),
	)

	result, err := c.labels.CreateLabel(ctx, req)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("label.tracking_number", result.TrackingNumber))
	return result, nil
}

// CancelLabel voids a label.
func (c *Client) CancelLabel(ctx context.Context, trackingNumber string) (*shipper.CancelResult, error) {
	ctx, span := c.tracer.Start(ctx, "usps.CancelLabel",
		trace.WithAttributes(attribute.String("label.tracking_number", trackingNumber)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Cancelling USPS label", zap.String("tracking_number", trackingNumber))

	result, err := c.labels.Cancel(ctx, trackingNumber)
	if err != nil {
		c.logger.Ctx(ctx).Error("USPS API error", zap.Error(err))
		recordError(span, err)
		return nil, err
	}
	return result, nil
}

// Track returns the normalized tracking state of a package.
func (c *Client) Track(ctx context.Context, trackingNumber string) *shipper.TrackingResult {
	ctx, span := c.tracer.Start(ctx, "usps.Track",
		trace.WithAttributes(attribute.String("tracking.number", trackingNumber)))
	defer span.End()

	result := c.tracking.Track(ctx, trackingNumber)
	span.SetAttributes(attribute.String("tracking.status", string(result.Status)))
	if result.Error != "" {
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

var _ shipper.Shipper = (*Client)(nil)

// ConnectionReport summarizes a connectivity check against the carrier.
type ConnectionReport struct {
	TokenPreview string                     `json:"token_preview,omitempty"`
	CityState    *shipper.CityState         `json:"city_state,omitempty"`
	Address      *shipper.AddressValidation `json:"address,omitempty"`
}

// CheckConnection obtains a token, looks up ZIP 90210 and validates a
// sample address. It stops at the first failing step.
func (c *Client) CheckConnection(ctx context.Context) (*ConnectionReport, error) {
	ctx, span := c.tracer.Start(ctx, "usps.CheckConnection")
	defer span.End()

	report := &ConnectionReport{}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			recordError(span, err)
			return report, err
		}
		report.TokenPreview = tok[:min(20, len(tok))] + "..."
	}

	cs, err := c.CityState(ctx, "90210")
	if err != nil {
		return report, fmt.Errorf("city/state lookup: %w", err)
	}
	report.CityState = cs

	v := c.ValidateAddress(ctx, shipper.Address{
		Street: "123 Main St",
		City:   "Beverly Hills",
		State:  "CA",
		Zip:    "90210",
	})
	report.Address = &v
	if !v.Valid {
		return report, fmt.Errorf("address validation: %s", v.Error)
	}
	return report, nil
}
