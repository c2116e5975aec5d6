package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/uspsbridge/internal/shipment"
	"github.com/tournevent/uspsbridge/internal/telemetry"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	defaultCarrier = "usps"
	allCarriers    = "all"
	maxBodyBytes   = 1 << 20
)

// Server is the HTTP server for the shipping bridge.
type Server struct {
	port      int
	registry  *shipper.Registry
	shipments *shipment.Service
	logger    *otelzap.Logger
	metrics   *telemetry.Metrics
	gatherer  prometheus.Gatherer
	validate  *requestValidator
}

// Config holds server configuration.
type Config struct {
	Port int

	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// New creates a new server instance.
func New(cfg Config, registry *shipper.Registry, shipments *shipment.Service, metrics *telemetry.Metrics, logger *otelzap.Logger) *Server {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		port:      cfg.Port,
		registry:  registry,
		shipments: shipments,
		logger:    logger,
		metrics:   metrics,
		gatherer:  gatherer,
		validate:  newRequestValidator(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/carriers", s.handleCarriers)
	mux.HandleFunc("POST /v1/addresses/validate", s.instrument("validate_address", s.handleValidateAddress))
	mux.HandleFunc("POST /v1/rates", s.instrument("get_rates", s.handleRates))
	mux.HandleFunc("POST /v1/labels", s.instrument("create_label", s.handleCreateLabel))
	mux.HandleFunc("DELETE /v1/labels/{trackingNumber}", s.instrument("cancel_label", s.handleCancelLabel))
	mux.HandleFunc("GET /v1/tracking/{trackingNumber}", s.instrument("track", s.handleTrack))
	mux.HandleFunc("POST /v1/shipments", s.instrument("create_shipment", s.handleCreateShipment))
	mux.HandleFunc("POST /v1/shipments/batch", s.instrument("create_shipment_batch", s.handleCreateBatch))
	mux.HandleFunc("GET /v1/shipments/{trackingNumber}", s.instrument("get_shipment", s.handleGetShipment))
	mux.HandleFunc("POST /webhooks/usps/tracking", s.instrument("tracking_webhook", s.handleTrackingWebhook))

	return s.requestID(mux)
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requestID propagates X-Request-ID, generating one when absent.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency per operation and carrier.
func (s *Server) instrument(operation string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		carrier := carrierParam(r)
		status := "success"
		if rec.status >= http.StatusBadRequest {
			status = "error"
		}
		if s.metrics != nil {
			s.metrics.RecordRequest(operation, carrier, status, time.Since(start).Seconds())
		}
		s.logger.Ctx(r.Context()).Debug("Request handled",
			zap.String("operation", operation),
			zap.String("carrier", carrier),
			zap.Int("status", rec.status),
			zap.String("request_id", r.Header.Get("X-Request-ID")),
		)
	}
}

func carrierParam(r *http.Request) string {
	if c := r.URL.Query().Get("carrier"); c != "" {
		return c
	}
	return defaultCarrier
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
