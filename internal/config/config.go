package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Cache and store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"80"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// USPS API
	USPSClientID          string        `envconfig:"USPS_CLIENT_ID"`
	USPSClientSecret      string        `envconfig:"USPS_CLIENT_SECRET"`
	USPSEnvironment       string        `envconfig:"USPS_ENVIRONMENT" default:"sandbox"`
	USPSBaseURL           string        `envconfig:"USPS_BASE_URL"`
	USPSScope             string        `envconfig:"USPS_SCOPE" default:"addresses prices labels tracking service-standards"`
	USPSTimeout           time.Duration `envconfig:"USPS_TIMEOUT" default:"10s"`
	USPSTokenSafetyMargin time.Duration `envconfig:"USPS_TOKEN_SAFETY_MARGIN" default:"5m"`
	USPSUseMock           bool          `envconfig:"USPS_USE_MOCK" default:"false"`

	// Legacy Web Tools rating
	USPSLegacyUserID string `envconfig:"USPS_LEGACY_USER_ID"`
	USPSLegacyURL    string `envconfig:"USPS_LEGACY_URL" default:"https://secure.shippingapis.com/ShippingAPI.dll"`

	// Labels
	USPSDefaultService string `envconfig:"USPS_DEFAULT_SERVICE" default:"USPS_GROUND_ADVANTAGE"`
	USPSLabelFormat    string `envconfig:"USPS_LABEL_FORMAT" default:"PDF"`
	USPSLabelType      string `envconfig:"USPS_LABEL_TYPE" default:"SHIPPING_LABEL_ONLY"`

	// Default sender
	SenderName    string `envconfig:"USPS_SENDER_NAME"`
	SenderCompany string `envconfig:"USPS_SENDER_COMPANY"`
	SenderStreet  string `envconfig:"USPS_SENDER_STREET"`
	SenderStreet2 string `envconfig:"USPS_SENDER_STREET2"`
	SenderCity    string `envconfig:"USPS_SENDER_CITY"`
	SenderState   string `envconfig:"USPS_SENDER_STATE"`
	SenderZip     string `envconfig:"USPS_SENDER_ZIP"`
	SenderPhone   string `envconfig:"USPS_SENDER_PHONE"`
	SenderEmail   string `envconfig:"USPS_SENDER_EMAIL"`

	// Rate shopping
	RateShopping         bool     `envconfig:"USPS_RATE_SHOPPING" default:"true"`
	RateShoppingServices []string `envconfig:"USPS_RATE_SHOPPING_SERVICES" default:"USPS_GROUND_ADVANTAGE,PRIORITY_MAIL,PRIORITY_MAIL_EXPRESS"`
	RateSortBy           string   `envconfig:"USPS_RATE_SORT_BY" default:"price"`
	RateConcurrency      int      `envconfig:"USPS_RATE_CONCURRENCY" default:"3"`
	FallbackDeliveryDays int      `envconfig:"USPS_FALLBACK_DELIVERY_DAYS" default:"5"`

	// Rate cache
	CacheEnabled bool          `envconfig:"USPS_CACHE_ENABLED" default:"true"`
	CacheTTL     time.Duration `envconfig:"USPS_CACHE_TTL" default:"1h"`
	CachePrefix  string        `envconfig:"USPS_CACHE_PREFIX" default:"usps_"`

	// Storage
	StoreBackend string        `envconfig:"STORE_BACKEND" default:"memory"`
	SQLitePath   string        `envconfig:"SQLITE_PATH" default:"uspsbridge.db"`
	RedisAddr    string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB      int           `envconfig:"REDIS_DB" default:"0"`
	RedisTimeout time.Duration `envconfig:"REDIS_TIMEOUT" default:"5s"`

	// Tracking refresh
	TrackingRefreshInterval    time.Duration `envconfig:"TRACKING_REFRESH_INTERVAL" default:"250ms"`
	TrackingRefreshConcurrency int           `envconfig:"TRACKING_REFRESH_CONCURRENCY" default:"4"`
	TrackingLookbackDays       int           `envconfig:"TRACKING_LOOKBACK_DAYS" default:"7"`
	BatchConcurrency           int           `envconfig:"BATCH_CONCURRENCY" default:"4"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"uspsbridge"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings and credentials.
func (c *Config) Validate() error {
	switch c.USPSEnvironment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("invalid USPS_ENVIRONMENT %q: want sandbox or production", c.USPSEnvironment)
	}

	switch c.RateSortBy {
	case "price", "delivery_time":
	default:
		return fmt.Errorf("invalid USPS_RATE_SORT_BY %q: want price or delivery_time", c.RateSortBy)
	}

	switch strings.ToUpper(c.USPSLabelFormat) {
	case "PDF", "PNG", "TIF", "ZPL":
	default:
		return fmt.Errorf("invalid USPS_LABEL_FORMAT %q", c.USPSLabelFormat)
	}

	switch c.StoreBackend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: want memory, sqlite or redis", c.StoreBackend)
	}

	if !c.USPSUseMock && (c.USPSClientID == "" || c.USPSClientSecret == "") {
		return fmt.Errorf("USPS_CLIENT_ID and USPS_CLIENT_SECRET are required unless USPS_USE_MOCK is set")
	}
	return nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("usps.environment", c.USPSEnvironment),
		attribute.Bool("usps.mock", c.USPSUseMock),
		attribute.Bool("usps.rate_shopping", c.RateShopping),
		attribute.String("store.backend", c.StoreBackend),
	}
}
