package usps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultProcessingCategory = "MACHINABLE"
	defaultRateIndicator      = "SP"
	defaultEntryFacility      = "NONE"
	defaultPriceType          = "RETAIL"
	defaultCurrency           = "USD"

	// DefaultFallbackDeliveryDays is used when a service has no parsable delivery range.
	DefaultFallbackDeliveryDays = 5
)

// RateAggregatorConfig controls rate shopping and caching.
type RateAggregatorConfig struct {
	DefaultService       string
	Services             map[string]Service
	Shopping             bool
	ShoppingServices     []string
	SortBy               shipper.SortPolicy
	Concurrency          int
	FallbackDeliveryDays int

	CacheEnabled bool
	CacheTTL     time.Duration
	CachePrefix  string
}

// RateAggregator fetches rates for one or many mail classes, sorts them and
// caches the result.
type RateAggregator struct {
	api    APIClient
	cache  shipper.RateCache
	cfg    RateAggregatorConfig
	logger *otelzap.Logger
}

// NewRateAggregator creates a rate aggregator. cache may be nil.
func NewRateAggregator(cfg RateAggregatorConfig, api APIClient, cache shipper.RateCache, logger *otelzap.Logger) *RateAggregator {
	if cfg.DefaultService == "" {
		cfg.DefaultService = ServiceGroundAdvantage
	}
	if cfg.Services == nil {
		cfg.Services = DefaultServices()
	}
	if len(cfg.ShoppingServices) == 0 {
		cfg.ShoppingServices = DefaultShoppingServices()
	}
	if cfg.SortBy == "" {
		cfg.SortBy = shipper.SortByPrice
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = len(cfg.ShoppingServices)
	}
	if cfg.FallbackDeliveryDays <= 0 {
		cfg.FallbackDeliveryDays = DefaultFallbackDeliveryDays
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "usps_"
	}
	return &RateAggregator{api: api, cache: cache, cfg: cfg, logger: logger}
}

// cacheParams is the canonical form of a rate request used for cache keys.
// Field order is fixed so that equal requests marshal to equal bytes.
type cacheParams struct {
	OriginZip          string   `json:"origin_zip"`
	DestinationZip     string   `json:"destination_zip"`
	Weight             float64  `json:"weight"`
	Length             float64  `json:"length"`
	Width              float64  `json:"width"`
	Height             float64  `json:"height"`
	MailClass          string   `json:"mail_class"`
	ProcessingCategory string   `json:"processing_category"`
	RateIndicator      string   `json:"rate_indicator"`
	Services           []string `json:"services,omitempty"`
	SortBy             string   `json:"sort_by,omitempty"`
}

func (a *RateAggregator) canonical(req *shipper.RateRequest) cacheParams {
	p := cacheParams{
		OriginZip:          strings.TrimSpace(req.OriginZip),
		DestinationZip:     strings.TrimSpace(req.DestinationZip),
		Weight:             req.Weight,
		Length:             req.Dimensions.Length,
		Width:              req.Dimensions.Width,
		Height:             req.Dimensions.Height,
		MailClass:          lo.Ternary(req.MailClass != "", req.MailClass, a.cfg.DefaultService),
		ProcessingCategory: lo.Ternary(req.ProcessingCategory != "", req.ProcessingCategory, defaultProcessingCategory),
		RateIndicator:      lo.Ternary(req.RateIndicator != "", req.RateIndicator, defaultRateIndicator),
	}
	if a.cfg.Shopping {
		p.MailClass = ""
		p.Services = a.cfg.ShoppingServices
		p.SortBy = string(a.cfg.SortBy)
	}
	return p
}

// CacheKey returns the cache key of req: the prefix followed by the SHA-256
// of the canonical request parameters.
func (a *RateAggregator) CacheKey(req *shipper.RateRequest) (string, []byte) {
	params, _ := json.Marshal(a.canonical(req))
	sum := sha256.Sum256(params)
	return a.cfg.CachePrefix + "rates_" + hex.EncodeToString(sum[:]), params
}

// GetRates returns the quotes for req. With useCache the configured cache is
// consulted first and populated on a miss.
func (a *RateAggregator) GetRates(ctx context.Context, req *shipper.RateRequest, useCache bool) (*shipper.RateQuoteSet, error) {
	cacheable := a.cfg.CacheEnabled && useCache && a.cache != nil
	key, params := a.CacheKey(req)

	if cacheable {
		if set, ok := a.lookup(ctx, key); ok {
			return set, nil
		}
	}

	var (
		set *shipper.RateQuoteSet
		err error
	)
	if a.cfg.Shopping {
		set = a.shop(ctx, req)
	} else {
		set, err = a.single(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	if cacheable && len(set.Quotes) > 0 && ctx.Err() == nil {
		a.store(ctx, key, params, set)
	}
	return set, nil
}

func (a *RateAggregator) lookup(ctx context.Context, key string) (*shipper.RateQuoteSet, bool) {
	data, ok, err := a.cache.GetIfValid(ctx, key)
	if err != nil {
		a.logger.Ctx(ctx).Warn("Rate cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var set shipper.RateQuoteSet
	if err := json.Unmarshal(data, &set); err != nil {
		a.logger.Ctx(ctx).Warn("Discarding unreadable rate cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	set.FromCache = true
	return &set, true
}

func (a *RateAggregator) store(ctx context.Context, key string, params []byte, set *shipper.RateQuoteSet) {
	data, err := json.Marshal(set)
	if err != nil {
		a.logger.Ctx(ctx).Warn("Failed to encode rates for cache", zap.Error(err))
		return
	}
	if err := a.cache.Upsert(ctx, key, params, data, a.cfg.CacheTTL); err != nil {
		a.logger.Ctx(ctx).Warn("Rate cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// single fetches one mail class. Carrier errors propagate.
func (a *RateAggregator) single(ctx context.Context, req *shipper.RateRequest) (*shipper.RateQuoteSet, error) {
	service := lo.Ternary(req.MailClass != "", req.MailClass, a.cfg.DefaultService)

	set := &shipper.RateQuoteSet{Quotes: []shipper.RateQuote{}, SortBy: a.cfg.SortBy}
	quote, err := a.fetch(ctx, req, service)
	if err != nil {
		var missing missingPriceError
		if errors.As(err, &missing) {
			set.Failures = append(set.Failures, shipper.ServiceFailure{ServiceType: service, Error: err.Error()})
			return set, nil
		}
		return nil, err
	}
	set.Quotes = append(set.Quotes, *quote)
	return set, nil
}

// shop fetches every configured mail class concurrently. Individual failures
// are recorded and never abort the others.
func (a *RateAggregator) shop(ctx context.Context, req *shipper.RateRequest) *shipper.RateQuoteSet {
	services := a.cfg.ShoppingServices
	quotes := make([]*shipper.RateQuote, len(services))
	failures := make([]*shipper.ServiceFailure, len(services))

	var g errgroup.Group
	g.SetLimit(a.cfg.Concurrency)

	for i, service := range services {
		g.Go(func() error {
			quote, err := a.fetch(ctx, req, service)
			if err != nil {
				a.logger.Ctx(ctx).Warn("Rate shopping service failed",
					zap.String("service", service),
					zap.Error(err),
				)
				failures[i] = &shipper.ServiceFailure{ServiceType: service, Error: err.Error()}
				return nil
			}
			quotes[i] = quote
			return nil
		})
	}
	_ = g.Wait()

	set := &shipper.RateQuoteSet{
		Quotes: lo.FilterMap(quotes, func(q *shipper.RateQuote, _ int) (shipper.RateQuote, bool) {
			if q == nil {
				return shipper.RateQuote{}, false
			}
			return *q, true
		}),
		Failures: lo.FilterMap(failures, func(f *shipper.ServiceFailure, _ int) (shipper.ServiceFailure, bool) {
			if f == nil {
				return shipper.ServiceFailure{}, false
			}
			return *f, true
		}),
		SortBy: a.cfg.SortBy,
	}
	SortQuotes(set.Quotes, a.cfg.SortBy, a.cfg.FallbackDeliveryDays)
	return set
}

type missingPriceError struct{ service string }

func (e missingPriceError) Error() string {
	return fmt.Sprintf("no total base price returned for %s", e.service)
}

func (a *RateAggregator) fetch(ctx context.Context, req *shipper.RateRequest, service string) (*shipper.RateQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, shipper.NewTransportError(carrierName, err)
	}

	resp, err := a.api.GetBaseRates(ctx, &BaseRatesRequest{
		OriginZIPCode:                req.OriginZip,
		DestinationZIPCode:           req.DestinationZip,
		Weight:                       req.Weight,
		Length:                       req.Dimensions.Length,
		Width:                        req.Dimensions.Width,
		Height:                       req.Dimensions.Height,
		MailClass:                    service,
		ProcessingCategory:           lo.Ternary(req.ProcessingCategory != "", req.ProcessingCategory, defaultProcessingCategory),
		RateIndicator:                lo.Ternary(req.RateIndicator != "", req.RateIndicator, defaultRateIndicator),
		DestinationEntryFacilityType: defaultEntryFacility,
		PriceType:                    defaultPriceType,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.TotalBasePrice == nil {
		return nil, missingPriceError{service: service}
	}

	info, ok := a.cfg.Services[service]
	name := lo.Ternary(ok, info.Name, service)

	return &shipper.RateQuote{
		ServiceType:  service,
		ServiceName:  name,
		TotalPrice:   *resp.TotalBasePrice,
		Currency:     defaultCurrency,
		DeliveryDays: info.DeliveryDays,
	}, nil
}

// SortQuotes orders quotes in place by policy. The sort is stable, so ties
// keep their incoming order.
func SortQuotes(quotes []shipper.RateQuote, policy shipper.SortPolicy, fallbackDays int) {
	switch policy {
	case shipper.SortByDeliveryTime:
		sort.SliceStable(quotes, func(i, j int) bool {
			return MinDeliveryDays(quotes[i].DeliveryDays, fallbackDays) < MinDeliveryDays(quotes[j].DeliveryDays, fallbackDays)
		})
	default:
		sort.SliceStable(quotes, func(i, j int) bool {
			return quotes[i].TotalPrice < quotes[j].TotalPrice
		})
	}
}

// MinDeliveryDays returns the lower bound of a "min-max" day range such as
// "2-5". Missing or malformed ranges yield fallback.
func MinDeliveryDays(days string, fallback int) int {
	lower, _, _ := strings.Cut(strings.TrimSpace(days), "-")
	n, err := strconv.Atoi(strings.TrimSpace(lower))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
