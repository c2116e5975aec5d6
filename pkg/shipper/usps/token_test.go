package usps_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/tournevent/uspsbridge/pkg/shipper/usps"
)

func newTokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTokenManager(url string) *usps.TokenManager {
	return usps.NewTokenManager(usps.TokenManagerConfig{
		TokenURL:     url,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
}

func TestTokenManager_SendsClientCredentials(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, usps.DefaultScope, r.PostForm.Get("scope"))
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})

	token, err := newTokenManager(srv.URL).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestTokenManager_CachesValidToken(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})

	tm := newTokenManager(srv.URL)
	for i := 0; i < 3; i++ {
		_, err := tm.Token(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int64(1), tm.Renewals())
}

func TestTokenManager_RespectsSafetyMargin(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})

	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	now := start
	tm := newTokenManager(srv.URL)
	tm.SetClock(func() time.Time { return now })

	_, err := tm.Token(context.Background())
	require.NoError(t, err)

	// 54 minutes in: still outside the 5 minute margin.
	now = start.Add(54 * time.Minute)
	_, err = tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	// 55 minutes in: expiry minus margin reached, renew exactly once.
	now = start.Add(55 * time.Minute)
	_, err = tm.Token(context.Background())
	require.NoError(t, err)
	_, err = tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int64(2), tm.Renewals())
}

func TestTokenManager_ShortLivedToken(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"access_token":"tok","expires_in":60}`))
	})

	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	now := start
	tm := newTokenManager(srv.URL)
	tm.SetClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		_, err := tm.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())

	// Margin is capped at half the 60s lifetime.
	now = start.Add(29 * time.Second)
	_, err := tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = start.Add(30 * time.Second)
	_, err = tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	current, ok := tm.Current()
	require.True(t, ok)
	assert.True(t, current.Valid(now, 30*time.Second))
}

func TestTokenManager_DefaultExpiry(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok"}`))
	})

	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	tm := newTokenManager(srv.URL)
	tm.SetClock(func() time.Time { return start })

	_, err := tm.Token(context.Background())
	require.NoError(t, err)

	current, ok := tm.Current()
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Hour), current.ExpiresAt)
}

func TestTokenManager_Invalidate(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})

	tm := newTokenManager(srv.URL)
	_, err := tm.Token(context.Background())
	require.NoError(t, err)

	tm.Invalidate()
	_, ok := tm.Current()
	assert.False(t, ok)

	_, err = tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestTokenManager_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"rejected credentials", http.StatusUnauthorized, `{"error":"invalid_client","error_description":"Client authentication failed"}`, "Client authentication failed"},
		{"missing access token", http.StatusOK, `{"token_type":"Bearer"}`, "no access_token"},
		{"undecodable body", http.StatusOK, `not json`, "failed to decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			tm := newTokenManager(srv.URL)
			_, err := tm.Token(context.Background())

			require.Error(t, err)
			assert.True(t, errors.Is(err, shipper.ErrAuthentication))
			assert.Contains(t, err.Error(), tt.message)
			assert.Equal(t, int64(0), tm.Renewals())
		})
	}
}

func TestTokenManager_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTokenManager(url).Token(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrAuthentication))
}

func TestAccessToken_Valid(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	tok := usps.AccessToken{Value: "tok", ExpiresAt: now.Add(10 * time.Minute)}

	assert.True(t, tok.Valid(now, 5*time.Minute))
	assert.False(t, tok.Valid(now.Add(5*time.Minute), 5*time.Minute))
	assert.False(t, usps.AccessToken{ExpiresAt: now.Add(time.Hour)}.Valid(now, 0))
}
