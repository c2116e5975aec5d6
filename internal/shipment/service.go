// Package shipment orchestrates label purchase, persistence and tracking
// upkeep on top of the registered carriers.
package shipment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tournevent/uspsbridge/internal/telemetry"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Deduper reports whether a tracking event has already been applied.
// Forget unmarks an event whose update could not be stored.
type Deduper interface {
	Seen(ctx context.Context, trackingNumber, status string, ts time.Time) (bool, error)
	Forget(ctx context.Context, trackingNumber, status string, ts time.Time) error
}

// Config controls batching and tracking refresh pacing.
type Config struct {
	DefaultCarrier     string
	BatchConcurrency   int
	RefreshInterval    time.Duration
	RefreshConcurrency int
	LookbackDays       int
}

// Service creates shipments and keeps their tracking state current.
type Service struct {
	cfg      Config
	registry *shipper.Registry
	store    shipper.ShipmentStore
	cache    shipper.RateCache
	dedup    Deduper
	metrics  *telemetry.Metrics
	logger   *otelzap.Logger
	now      func() time.Time
}

// NewService creates a Service. cache, dedup and metrics may be nil.
func NewService(cfg Config, registry *shipper.Registry, store shipper.ShipmentStore, cache shipper.RateCache, dedup Deduper, metrics *telemetry.Metrics, logger *otelzap.Logger) *Service {
	if cfg.DefaultCarrier == "" {
		cfg.DefaultCarrier = "usps"
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 1
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	return &Service{
		cfg:      cfg,
		registry: registry,
		store:    store,
		cache:    cache,
		dedup:    dedup,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for ship and update times.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Carrier resolves a carrier by name, falling back to the default carrier.
func (s *Service) Carrier(name string) (shipper.Shipper, error) {
	if name == "" {
		name = s.cfg.DefaultCarrier
	}
	return s.registry.Get(name)
}

// CreateRequest describes a shipment to label and persist.
type CreateRequest struct {
	Carrier     string              `json:"carrier,omitempty"`
	FromAddress shipper.Address     `json:"from_address"`
	ToAddress   shipper.Address     `json:"to_address"`
	Weight      float64             `json:"weight"`
	Dimensions  shipper.Dimensions  `json:"dimensions"`
	ServiceType string              `json:"service_type,omitempty"`
	LabelFormat shipper.LabelFormat `json:"label_format,omitempty"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

// CreateShipment validates both addresses, buys a label for the
// standardized forms and stores the result. Without a service type the
// first quote of a fresh rate request is used; if rating fails the
// carrier default applies.
func (s *Service) CreateShipment(ctx context.Context, req *CreateRequest) (*shipper.Shipment, error) {
	carrier, err := s.Carrier(req.Carrier)
	if err != nil {
		return nil, err
	}
	name := carrier.Name()

	from := carrier.ValidateAddress(ctx, req.FromAddress)
	if !from.Valid {
		return nil, shipper.NewValidationError(name, "Invalid from address: "+from.Error)
	}
	to := carrier.ValidateAddress(ctx, req.ToAddress)
	if !to.Valid {
		return nil, shipper.NewValidationError(name, "Invalid to address: "+to.Error)
	}
	fromAddr := lo.FromPtrOr(from.Standardized, req.FromAddress)
	toAddr := lo.FromPtrOr(to.Standardized, req.ToAddress)

	service := req.ServiceType
	if service == "" {
		service = s.pickService(ctx, carrier, fromAddr, toAddr, req)
	}

	label, err := carrier.CreateLabel(ctx, &shipper.LabelRequest{
		ToAddress:   toAddr,
		FromAddress: &fromAddr,
		Weight:      req.Weight,
		Dimensions:  req.Dimensions,
		ServiceType: service,
		LabelFormat: req.LabelFormat,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sh := &shipper.Shipment{
		ID:             uuid.NewString(),
		TrackingNumber: label.TrackingNumber,
		Carrier:        name,
		ServiceType:    label.ServiceType,
		FromAddress:    fromAddr,
		ToAddress:      toAddr,
		Weight:         req.Weight,
		Dimensions:     req.Dimensions,
		Cost:           label.Cost,
		LabelURL:       label.Label.URL,
		LabelData:      label.Label.Data,
		Status:         shipper.StatusLabelCreated,
		Metadata:       req.Metadata,
		ShippedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.SaveShipment(ctx, sh); err != nil {
		return nil, fmt.Errorf("save shipment %s: %w", sh.TrackingNumber, err)
	}

	s.logger.Ctx(ctx).Info("Shipment created",
		zap.String("carrier", name),
		zap.String("tracking_number", sh.TrackingNumber),
		zap.String("service_type", sh.ServiceType),
		zap.Float64("cost", sh.Cost),
	)
	return sh, nil
}

func (s *Service) pickService(ctx context.Context, carrier shipper.Shipper, from, to shipper.Address, req *CreateRequest) string {
	set, err := carrier.GetRates(ctx, &shipper.RateRequest{
		OriginZip:      from.Zip,
		DestinationZip: to.Zip,
		Weight:         req.Weight,
		Dimensions:     req.Dimensions,
	}, true)
	if err != nil || len(set.Quotes) == 0 {
		s.logger.Ctx(ctx).Warn("No rate available, using carrier default service",
			zap.String("carrier", carrier.Name()),
			zap.Error(err),
		)
		return ""
	}
	return set.Quotes[0].ServiceType
}

// GetShipment loads a stored shipment.
func (s *Service) GetShipment(ctx context.Context, trackingNumber string) (*shipper.Shipment, error) {
	return s.store.GetShipment(ctx, trackingNumber)
}

// BatchItem is the outcome of one request in a batch, at its input index.
type BatchItem struct {
	Index    int               `json:"index"`
	Success  bool              `json:"success"`
	Shipment *shipper.Shipment `json:"shipment,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// CreateBatch creates each shipment independently. One failure does not
// affect the others; results keep input order.
func (s *Service) CreateBatch(ctx context.Context, reqs []*CreateRequest) []BatchItem {
	items := make([]BatchItem, len(reqs))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			item := BatchItem{Index: i}
			sh, err := s.CreateShipment(ctx, req)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Success = true
				item.Shipment = sh
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// RefreshOptions selects the shipments to refresh. TrackingNumbers wins
// over All; otherwise active shipments from the last Days days are used.
type RefreshOptions struct {
	TrackingNumbers []string
	All             bool
	Days            int
}

// RefreshItem reports the refresh of one shipment.
type RefreshItem struct {
	TrackingNumber string                 `json:"tracking_number"`
	Status         shipper.ShipmentStatus `json:"status,omitempty"`
	Skipped        bool                   `json:"skipped,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// RefreshSummary counts refresh outcomes.
type RefreshSummary struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Items     []RefreshItem `json:"items"`
}

// RefreshTracking polls the carrier for each selected shipment and stores
// the normalized result. Calls are paced by RefreshInterval. Failed
// lookups leave the stored state untouched.
func (s *Service) RefreshTracking(ctx context.Context, opts RefreshOptions) (*RefreshSummary, error) {
	targets, skipped, err := s.selectTargets(ctx, opts)
	if err != nil {
		return nil, err
	}

	summary := &RefreshSummary{Items: make([]RefreshItem, len(targets))}
	for _, tn := range skipped {
		summary.Items = append(summary.Items, RefreshItem{TrackingNumber: tn, Skipped: true})
	}
	if len(targets) == 0 {
		summary.Skipped = len(skipped)
		s.recordRefresh(summary)
		return summary, nil
	}

	limit := rate.Inf
	if s.cfg.RefreshInterval > 0 {
		limit = rate.Every(s.cfg.RefreshInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var succeeded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RefreshConcurrency)
	for i, sh := range targets {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				summary.Items[i] = RefreshItem{TrackingNumber: sh.TrackingNumber, Error: err.Error()}
				failed.Add(1)
				return err
			}
			item := s.refreshOne(gctx, sh)
			summary.Items[i] = item
			if item.Error != "" {
				failed.Add(1)
			} else {
				succeeded.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	summary.Succeeded = int(succeeded.Load())
	summary.Failed = int(failed.Load())
	summary.Skipped = len(skipped)
	s.recordRefresh(summary)

	s.logger.Ctx(ctx).Info("Tracking refresh finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	if err != nil {
		return summary, fmt.Errorf("tracking refresh interrupted: %w", err)
	}
	return summary, nil
}

func (s *Service) selectTargets(ctx context.Context, opts RefreshOptions) ([]*shipper.Shipment, []string, error) {
	var filter shipper.ShipmentFilter
	switch {
	case len(opts.TrackingNumbers) > 0:
		filter.TrackingNumbers = lo.Uniq(opts.TrackingNumbers)
	case opts.All:
		filter.ActiveOnly = true
	default:
		days := opts.Days
		if days <= 0 {
			days = s.cfg.LookbackDays
		}
		filter.ActiveOnly = true
		filter.ShippedSince = s.now().UTC().AddDate(0, 0, -days)
	}

	found, err := s.store.ListShipments(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("list shipments: %w", err)
	}
	if len(filter.TrackingNumbers) == 0 {
		return found, nil, nil
	}

	targets, done := lo.FilterReject(found, func(sh *shipper.Shipment, _ int) bool {
		return !sh.Status.IsTerminal()
	})
	known := lo.Map(found, func(sh *shipper.Shipment, _ int) string { return sh.TrackingNumber })
	_, missing := lo.Difference(known, filter.TrackingNumbers)
	skipped := append(lo.Map(done, func(sh *shipper.Shipment, _ int) string { return sh.TrackingNumber }), missing...)
	return targets, skipped, nil
}

func (s *Service) refreshOne(ctx context.Context, sh *shipper.Shipment) RefreshItem {
	item := RefreshItem{TrackingNumber: sh.TrackingNumber}

	carrier, err := s.Carrier(sh.Carrier)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	res := carrier.Track(ctx, sh.TrackingNumber)
	if res.Error != "" {
		s.logger.Ctx(ctx).Warn("Tracking lookup failed",
			zap.String("tracking_number", sh.TrackingNumber),
			zap.String("error", res.Error),
		)
		item.Error = res.Error
		return item
	}
	if err := s.store.UpdateTracking(ctx, sh.TrackingNumber, res, s.now().UTC()); err != nil {
		item.Error = err.Error()
		return item
	}
	item.Status = res.Status
	return item
}

func (s *Service) recordRefresh(summary *RefreshSummary) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordRefresh("succeeded", summary.Succeeded)
	s.metrics.RecordRefresh("failed", summary.Failed)
	s.metrics.RecordRefresh("skipped", summary.Skipped)
}

// ApplyTracking stores a pushed tracking result. It returns false when the
// latest event was already applied. Unknown shipments yield
// shipper.ErrShipmentNotFound.
func (s *Service) ApplyTracking(ctx context.Context, res *shipper.TrackingResult) (bool, error) {
	if res == nil || res.TrackingNumber == "" {
		return false, errors.New("tracking number is required")
	}
	if _, err := s.store.GetShipment(ctx, res.TrackingNumber); err != nil {
		return false, err
	}

	var marked *time.Time
	if s.dedup != nil && len(res.Events) > 0 && res.Events[0].Timestamp != nil {
		marked = res.Events[0].Timestamp
		seen, err := s.dedup.Seen(ctx, res.TrackingNumber, string(res.Status), *marked)
		if err != nil {
			return false, err
		}
		if seen {
			s.logger.Ctx(ctx).Debug("Duplicate tracking event ignored",
				zap.String("tracking_number", res.TrackingNumber),
				zap.String("status", string(res.Status)),
			)
			return false, nil
		}
	}

	if err := s.store.UpdateTracking(ctx, res.TrackingNumber, res, s.now().UTC()); err != nil {
		if marked != nil {
			if ferr := s.dedup.Forget(context.WithoutCancel(ctx), res.TrackingNumber, string(res.Status), *marked); ferr != nil {
				s.logger.Ctx(ctx).Warn("Failed to release dedup key",
					zap.String("tracking_number", res.TrackingNumber),
					zap.Error(ferr),
				)
			}
		}
		return false, err
	}
	return true, nil
}

// CleanupResult reports a cache sweep.
type CleanupResult struct {
	Deleted   int64 `json:"deleted"`
	Remaining int64 `json:"remaining"`
}

// CleanupCache removes expired rate cache entries.
func (s *Service) CleanupCache(ctx context.Context) (*CleanupResult, error) {
	if s.cache == nil {
		return &CleanupResult{}, nil
	}
	deleted, err := s.cache.DeleteExpired(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete expired rates: %w", err)
	}
	remaining, err := s.cache.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count cached rates: %w", err)
	}
	s.logger.Ctx(ctx).Info("Rate cache cleaned",
		zap.Int64("deleted", deleted),
		zap.Int64("remaining", remaining),
	)
	return &CleanupResult{Deleted: deleted, Remaining: remaining}, nil
}
