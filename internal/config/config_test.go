package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/uspsbridge/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("USPS_USE_MOCK", "true")

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Port)
	assert.Equal(t, "sandbox", cfg.USPSEnvironment)
	assert.Equal(t, 10*time.Second, cfg.USPSTimeout)
	assert.Equal(t, 5*time.Minute, cfg.USPSTokenSafetyMargin)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, "usps_", cfg.CachePrefix)
	assert.Equal(t, []string{"USPS_GROUND_ADVANTAGE", "PRIORITY_MAIL", "PRIORITY_MAIL_EXPRESS"}, cfg.RateShoppingServices)
	assert.Equal(t, config.BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 7, cfg.TrackingLookbackDays)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("USPS_CLIENT_ID", "id")
	t.Setenv("USPS_CLIENT_SECRET", "secret")
	t.Setenv("USPS_ENVIRONMENT", "production")
	t.Setenv("USPS_RATE_SORT_BY", "delivery_time")
	t.Setenv("USPS_RATE_SHOPPING_SERVICES", "PRIORITY_MAIL")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("USPS_CACHE_TTL", "30m")

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, "production", cfg.USPSEnvironment)
	assert.Equal(t, "delivery_time", cfg.RateSortBy)
	assert.Equal(t, []string{"PRIORITY_MAIL"}, cfg.RateShoppingServices)
	assert.Equal(t, config.BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			USPSEnvironment: "sandbox",
			RateSortBy:      "price",
			USPSLabelFormat: "pdf",
			StoreBackend:    config.BackendRedis,
			USPSUseMock:     true,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"environment", func(c *config.Config) { c.USPSEnvironment = "staging" }},
		{"sort", func(c *config.Config) { c.RateSortBy = "cheapest" }},
		{"label format", func(c *config.Config) { c.USPSLabelFormat = "GIF" }},
		{"backend", func(c *config.Config) { c.StoreBackend = "postgres" }},
		{"credentials", func(c *config.Config) { c.USPSUseMock = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
