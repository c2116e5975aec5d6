package usps_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/tournevent/uspsbridge/pkg/shipper/usps"
)

// fakeUSPS serves the token endpoint and delegates product paths to api.
type fakeUSPS struct {
	srv         *httptest.Server
	tokenHits   atomic.Int32
	issued      atomic.Int32
	apiHandler  http.HandlerFunc
	mu          sync.Mutex
	lastRequest *http.Request
	bodies      []string
}

func newFakeUSPS(t *testing.T, api http.HandlerFunc) *fakeUSPS {
	t.Helper()
	f := &fakeUSPS{apiHandler: api}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v3/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		n := f.issued.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lastRequest = r
		f.bodies = append(f.bodies, string(body))
		f.mu.Unlock()
		f.apiHandler(w, r)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUSPS) client() (*usps.HTTPAPIClient, *usps.TokenManager) {
	tokens := usps.NewTokenManager(usps.TokenManagerConfig{
		TokenURL:     usps.TokenURL(f.srv.URL),
		ClientID:     "id",
		ClientSecret: "secret",
	})
	return usps.NewHTTPAPIClient(usps.HTTPAPIClientConfig{
		BaseURL: f.srv.URL,
		Tokens:  tokens,
		Timeout: 2 * time.Second,
	}), tokens
}

func TestHost(t *testing.T) {
	assert.Equal(t, "https://apis-tem.usps.com", usps.Host(usps.EnvSandbox))
	assert.Equal(t, "https://apis.usps.com", usps.Host(usps.EnvProduction))
	assert.Equal(t, "https://apis-tem.usps.com", usps.Host(""))
	assert.Equal(t, "https://apis.usps.com/oauth2/v3/token", usps.TokenURL("https://apis.usps.com/"))
}

func TestHTTPAPIClient_ProductURL(t *testing.T) {
	c := usps.NewHTTPAPIClient(usps.HTTPAPIClientConfig{Environment: usps.EnvProduction})

	assert.Equal(t, "https://apis.usps.com/addresses/v3/address", c.ProductURL(usps.ProductAddresses, "/address"))
	assert.Equal(t, "https://apis.usps.com/prices/v3/base-rates/search", c.ProductURL(usps.ProductPrices, "/base-rates/search"))
	assert.Equal(t, "https://apis.usps.com/labels/v3/label", c.ProductURL(usps.ProductLabels, "/label"))
	assert.Equal(t, "https://apis.usps.com/tracking/v3/tracking/9400", c.ProductURL(usps.ProductTracking, "/tracking/9400"))
	assert.Equal(t, "https://apis.usps.com/service-standards/v3/estimates", c.ProductURL(usps.ProductServiceStandards, "/estimates"))
}

func TestHTTPAPIClient_SetsHeaders(t *testing.T) {
	f := newFakeUSPS(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/addresses/v3/city-state", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Write([]byte(`{"city":"BEVERLY HILLS","state":"CA","ZIPCode":"90210"}`))
	})
	c, _ := f.client()

	resp, err := c.CityState(context.Background(), "90210")

	require.NoError(t, err)
	assert.Equal(t, "BEVERLY HILLS", resp.City)
	assert.Equal(t, `{"ZIPCode":"90210"}`, f.bodies[0])
}

func TestHTTPAPIClient_RetriesOnceAfterUnauthorized(t *testing.T) {
	var apiHits atomic.Int32
	f := newFakeUSPS(t, func(w http.ResponseWriter, r *http.Request) {
		apiHits.Add(1)
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"token expired"}}`))
			return
		}
		w.Write([]byte(`{"totalBasePrice":8.5}`))
	})
	c, tokens := f.client()

	_, err := tokens.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), tokens.Renewals())

	resp, err := c.GetBaseRates(context.Background(), &usps.BaseRatesRequest{
		OriginZIPCode:      "90210",
		DestinationZIPCode: "10001",
		Weight:             2,
		MailClass:          usps.ServiceGroundAdvantage,
	})

	require.NoError(t, err)
	require.NotNil(t, resp.TotalBasePrice)
	assert.Equal(t, 8.5, *resp.TotalBasePrice)
	assert.Equal(t, int32(2), apiHits.Load())
	assert.Equal(t, int64(2), tokens.Renewals(), "exactly one renewal after the 401")

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.bodies, 2)
	assert.Equal(t, f.bodies[0], f.bodies[1], "the retry resends the same body")
}

func TestHTTPAPIClient_SecondUnauthorizedIsReturned(t *testing.T) {
	var apiHits atomic.Int32
	f := newFakeUSPS(t, func(w http.ResponseWriter, r *http.Request) {
		apiHits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"insufficient scope"}}`))
	})
	c, _ := f.client()

	_, err := c.GetTracking(context.Background(), "9400100000000000000000")

	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrAPI))
	var se *shipper.ShipperError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "insufficient scope", se.Message)
	assert.Equal(t, int32(2), apiHits.Load())
}

func TestHTTPAPIClient_ErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"structured", http.StatusBadRequest, `{"error":{"code":"400","message":"Invalid ZIP Code."}}`, "Invalid ZIP Code."},
		{"plain error", http.StatusNotFound, `{"error":"not_found"}`, "not_found"},
		{"message field", http.StatusConflict, `{"message":"Label already cancelled"}`, "Label already cancelled"},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, "Unknown API error"},
		{"empty", http.StatusInternalServerError, ``, "Unknown API error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeUSPS(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			c, _ := f.client()

			_, err := c.ValidateAddress(context.Background(), &usps.AddressRequest{StreetAddress: "1 Main"})

			var se *shipper.ShipperError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, shipper.CodeAPI, se.Code)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.message, se.Message)
		})
	}
}

func TestHTTPAPIClient_TransportError(t *testing.T) {
	f := newFakeUSPS(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	})
	tokens := usps.NewTokenManager(usps.TokenManagerConfig{TokenURL: usps.TokenURL(f.srv.URL)})
	c := usps.NewHTTPAPIClient(usps.HTTPAPIClientConfig{
		BaseURL: f.srv.URL,
		Tokens:  tokens,
		Timeout: 50 * time.Millisecond,
	})

	_, err := c.GetTracking(context.Background(), "9400")

	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrTransport))
	assert.True(t, shipper.IsRetryable(err))
}

func TestHTTPAPIClient_CancelledContext(t *testing.T) {
	f := newFakeUSPS(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	c, tokens := f.client()
	_, err := tokens.Token(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.GetTracking(ctx, "9400")

	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrTransport))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestHTTPAPIClient_AuthenticationErrorPropagates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v3/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := usps.NewHTTPAPIClient(usps.HTTPAPIClientConfig{
		BaseURL: srv.URL,
		Tokens:  usps.NewTokenManager(usps.TokenManagerConfig{TokenURL: usps.TokenURL(srv.URL)}),
	})

	_, err := c.CityState(context.Background(), "90210")

	assert.True(t, errors.Is(err, shipper.ErrAuthentication))
}

func TestHTTPAPIClient_CancelLabel_PassesThrough(t *testing.T) {
	f := newFakeUSPS(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/labels/v3/label/9400111", r.URL.Path)
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.Write([]byte(`{"trackingNumber":"9400111","status":"CANCELED","refund":{"amount":8.5}}`))
	})
	c, _ := f.client()

	raw, err := c.CancelLabel(context.Background(), "9400111")

	require.NoError(t, err)
	assert.Equal(t, "CANCELED", raw["status"])
	assert.Contains(t, raw, "refund")
}

func TestHTTPAPIClient_EmptySuccessBody(t *testing.T) {
	f := newFakeUSPS(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := f.client()

	raw, err := c.CancelLabel(context.Background(), "9400111")

	require.NoError(t, err)
	assert.Empty(t, raw)
}
