package usps

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// statusTable maps lower-cased carrier event types to normalized statuses.
var statusTable = map[string]shipper.ShipmentStatus{
	"delivered":        shipper.StatusDelivered,
	"out for delivery": shipper.StatusOutForDelivery,
	"in transit":       shipper.StatusInTransit,
	"departed":         shipper.StatusInTransit,
	"arrived":          shipper.StatusInTransit,
	"acceptance":       shipper.StatusAccepted,
	"pre-shipment":     shipper.StatusPreShipment,
	"return to sender": shipper.StatusReturned,
}

// timestampLayouts are tried in order when parsing carrier event times.
// Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"January 2, 2006, 3:04 pm",
	"January 2, 2006, 3:04 PM",
	"January 2, 2006 3:04 pm",
	"January 2, 2006 3:04 PM",
	"2006-01-02",
}

// MapStatus normalizes a raw carrier event type. Unmapped values are
// treated as in transit.
func MapStatus(raw string) shipper.ShipmentStatus {
	if s, ok := statusTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return shipper.StatusInTransit
}

// ParseTimestamp parses a carrier event time into UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// TrackingNormalizer converts carrier tracking payloads into the common
// tracking vocabulary.
type TrackingNormalizer struct {
	api    APIClient
	logger *otelzap.Logger
}

// NewTrackingNormalizer creates a tracking normalizer.
func NewTrackingNormalizer(api APIClient, logger *otelzap.Logger) *TrackingNormalizer {
	return &TrackingNormalizer{api: api, logger: logger}
}

// Track fetches and normalizes the tracking history of a package. It never
// returns an error; failures yield StatusUnknown with Error set.
func (n *TrackingNormalizer) Track(ctx context.Context, trackingNumber string) *shipper.TrackingResult {
	resp, err := n.api.GetTracking(ctx, trackingNumber)
	if err != nil {
		n.logger.Ctx(ctx).Warn("USPS tracking request failed",
			zap.String("tracking_number", trackingNumber),
			zap.Error(err),
		)
		return &shipper.TrackingResult{
			TrackingNumber: trackingNumber,
			Status:         shipper.StatusUnknown,
			Events:         []shipper.TrackingEvent{},
			Error:          err.Error(),
		}
	}
	return Normalize(trackingNumber, resp)
}

// Normalize shapes a raw tracking payload. Events keep the carrier's
// newest-first order and the status is derived from the first event.
func Normalize(trackingNumber string, resp *TrackingResponse) *shipper.TrackingResult {
	result := &shipper.TrackingResult{
		TrackingNumber: trackingNumber,
		Status:         shipper.StatusUnknown,
		Events:         []shipper.TrackingEvent{},
	}
	if resp == nil {
		return result
	}
	if trackingNumber == "" {
		result.TrackingNumber = resp.TrackingNumber
	}

	result.Events = lo.Map(resp.TrackingEvents, func(e TrackingEvent, _ int) shipper.TrackingEvent {
		return normalizeEvent(e)
	})

	if len(result.Events) > 0 {
		latest := result.Events[0]
		result.Status = latest.Status
		if !latest.Location.IsZero() {
			loc := latest.Location
			result.CurrentLocation = &loc
		}
	}

	result.EstimatedDelivery = resp.EstimatedDeliveryDate
	if result.EstimatedDelivery == "" {
		if e, ok := lo.Find(resp.TrackingEvents, func(e TrackingEvent) bool {
			return e.EstimatedDeliveryDate != ""
		}); ok {
			result.EstimatedDelivery = e.EstimatedDeliveryDate
		}
	}

	return result
}

func normalizeEvent(e TrackingEvent) shipper.TrackingEvent {
	event := shipper.TrackingEvent{
		RawTimestamp:      e.EventDateTime,
		RawStatus:         lo.CoalesceOrEmpty(e.EventType, "Unknown"),
		Status:            MapStatus(e.EventType),
		Description:       e.EventDescription,
		EstimatedDelivery: e.EstimatedDeliveryDate,
		Location: shipper.Location{
			City:  e.EventCity,
			State: e.EventState,
			Zip:   e.EventZIP,
		},
	}
	if ts, ok := ParseTimestamp(e.EventDateTime); ok {
		event.Timestamp = &ts
	}
	return event
}
