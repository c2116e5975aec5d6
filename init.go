package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tournevent/uspsbridge/internal/config"
	"github.com/tournevent/uspsbridge/internal/shipment"
	"github.com/tournevent/uspsbridge/internal/store/memory"
	storeredis "github.com/tournevent/uspsbridge/internal/store/redis"
	"github.com/tournevent/uspsbridge/internal/store/sqlite"
	"github.com/tournevent/uspsbridge/internal/telemetry"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/tournevent/uspsbridge/pkg/shipper/usps"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(cfg *config.Config) (*otelzap.Logger, error) {
	return telemetry.NewLogger(telemetry.LoggerConfig{
		Level:       cfg.LogLevel,
		Service:     cfg.ServiceName,
		Version:     cfg.Version,
		Environment: cfg.USPSEnvironment,
	})
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return nil, func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
}

// storage bundles the backend chosen by STORE_BACKEND.
type storage struct {
	cache     shipper.RateCache
	shipments shipper.ShipmentStore
	dedup     shipment.Deduper
	close     func() error
}

func initStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &storage{cache: s, shipments: s, dedup: memory.NewDedup(time.Hour), close: s.Close}, nil

	case config.BackendRedis:
		client, err := storeredis.Connect(ctx, storeredis.Config{
			Addr:    cfg.RedisAddr,
			DB:      cfg.RedisDB,
			Timeout: cfg.RedisTimeout,
		})
		if err != nil {
			return nil, err
		}
		s := storeredis.NewStore(client, cfg.CachePrefix+"rates_*")
		return &storage{cache: s, shipments: s, dedup: storeredis.NewDedupChecker(client), close: client.Close}, nil

	default:
		s := memory.New()
		return &storage{cache: s, shipments: s, dedup: memory.NewDedup(time.Hour), close: func() error { return nil }}, nil
	}
}

func uspsConfig(cfg *config.Config) usps.Config {
	return usps.Config{
		ClientID:          cfg.USPSClientID,
		ClientSecret:      cfg.USPSClientSecret,
		Environment:       usps.Environment(cfg.USPSEnvironment),
		BaseURL:           cfg.USPSBaseURL,
		Scope:             cfg.USPSScope,
		Timeout:           cfg.USPSTimeout,
		TokenSafetyMargin: cfg.USPSTokenSafetyMargin,
		LegacyUserID:      cfg.USPSLegacyUserID,
		LegacyURL:         cfg.USPSLegacyURL,
		DefaultService:    cfg.USPSDefaultService,
		LabelFormat:       shipper.LabelFormat(strings.ToUpper(cfg.USPSLabelFormat)),
		LabelType:         cfg.USPSLabelType,
		DefaultSender: shipper.Address{
			Name:    cfg.SenderName,
			Company: cfg.SenderCompany,
			Street:  cfg.SenderStreet,
			Street2: cfg.SenderStreet2,
			City:    cfg.SenderCity,
			State:   cfg.SenderState,
			Zip:     cfg.SenderZip,
			Phone:   cfg.SenderPhone,
			Email:   cfg.SenderEmail,
		},
		Rates: usps.RateAggregatorConfig{
			DefaultService:       cfg.USPSDefaultService,
			Shopping:             cfg.RateShopping,
			ShoppingServices:     cfg.RateShoppingServices,
			SortBy:               shipper.SortPolicy(cfg.RateSortBy),
			Concurrency:          cfg.RateConcurrency,
			FallbackDeliveryDays: cfg.FallbackDeliveryDays,
			CacheEnabled:         cfg.CacheEnabled,
			CacheTTL:             cfg.CacheTTL,
			CachePrefix:          cfg.CachePrefix,
		},
		BatchConcurrency: cfg.BatchConcurrency,
		UseMock:          cfg.USPSUseMock,
	}
}

// app holds everything the commands share.
type app struct {
	cfg      *config.Config
	logger   *otelzap.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	storage  *storage
	usps     *usps.Client
	registry *shipper.Registry
	service  *shipment.Service
	shutdown func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, err
	}

	tracer, shutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
		tracer, shutdown = nil, func(context.Context) error { return nil }
	}

	st, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.StoreBackend, err)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	client := usps.New(uspsConfig(cfg), st.cache, logger, tracer)
	registry := shipper.NewRegistry()
	registry.Register(client)

	service := shipment.NewService(shipment.Config{
		DefaultCarrier:     client.Name(),
		BatchConcurrency:   cfg.BatchConcurrency,
		RefreshInterval:    cfg.TrackingRefreshInterval,
		RefreshConcurrency: cfg.TrackingRefreshConcurrency,
		LookbackDays:       cfg.TrackingLookbackDays,
	}, registry, st.shipments, st.cache, st.dedup, metrics, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		tracer:   tracer,
		metrics:  metrics,
		storage:  st,
		usps:     client,
		registry: registry,
		service:  service,
		shutdown: shutdown,
	}, nil
}

// Close flushes spans and releases the storage backend.
func (a *app) Close(ctx context.Context) error {
	err := errors.Join(a.shutdown(ctx), a.storage.close())
	_ = a.logger.Sync()
	return err
}
