package usps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tournevent/uspsbridge/pkg/shipper"
)

const (
	// DefaultScope requests every product the client talks to.
	DefaultScope = "addresses prices labels tracking service-standards"

	// DefaultSafetyMargin is subtracted from the token expiry before it is reused.
	DefaultSafetyMargin = 5 * time.Minute

	defaultTokenLifetime = 3600 * time.Second
	tokenPath            = "/oauth2/v3/token"
)

// AccessToken is an OAuth2 bearer credential.
type AccessToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the token may still be handed out at now.
func (t AccessToken) Valid(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// TokenSource supplies bearer tokens to the HTTP client.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// TokenManagerConfig holds the client-credentials grant settings.
type TokenManagerConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	SafetyMargin time.Duration
	Timeout      time.Duration
}

// TokenManager acquires and caches an OAuth2 client-credentials token.
// Concurrent callers that observe an expired token may each renew it; the
// last writer wins and every issued token is valid.
type TokenManager struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	margin       time.Duration
	httpClient   *http.Client
	now          func() time.Time

	current  atomic.Pointer[AccessToken]
	renewals atomic.Int64
}

// NewTokenManager creates a token manager.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	scope := cfg.Scope
	if scope == "" {
		scope = DefaultScope
	}

	margin := cfg.SafetyMargin
	if margin == 0 {
		margin = DefaultSafetyMargin
	}

	return &TokenManager{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scope:        scope,
		margin:       margin,
		httpClient:   &http.Client{Timeout: timeout},
		now:          time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *TokenManager) SetClock(now func() time.Time) {
	m.now = now
}

// Token returns a bearer token, renewing it when it is missing or within
// the safety margin of its expiry.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if t := m.current.Load(); t != nil && t.Valid(m.now(), m.marginFor(*t)) {
		return t.Value, nil
	}

	t, err := m.fetch(ctx)
	if err != nil {
		return "", err
	}
	m.current.Store(t)
	m.renewals.Add(1)
	return t.Value, nil
}

// marginFor caps the safety margin at half the token's lifetime so a
// short-lived token is still usable for a while after it is issued.
func (m *TokenManager) marginFor(t AccessToken) time.Duration {
	return min(m.margin, t.ExpiresAt.Sub(t.IssuedAt)/2)
}

// Invalidate drops the cached token so the next call renews it.
func (m *TokenManager) Invalidate() {
	m.current.Store(nil)
}

// Current returns the cached token, if any.
func (m *TokenManager) Current() (AccessToken, bool) {
	t := m.current.Load()
	if t == nil {
		return AccessToken{}, false
	}
	return *t, true
}

// Renewals returns how many tokens have been obtained from the token endpoint.
func (m *TokenManager) Renewals() int64 {
	return m.renewals.Load()
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (m *TokenManager) fetch(ctx context.Context) (*AccessToken, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"scope":         {m.scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, shipper.NewAuthenticationError(carrierName, "failed to create token request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, shipper.NewAuthenticationError(carrierName, "token request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, shipper.NewAuthenticationError(carrierName,
			fmt.Sprintf("authentication failed with HTTP %d: %s", resp.StatusCode, tokenErrorMessage(body))).
			WithStatusCode(resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, shipper.NewAuthenticationError(carrierName, "failed to decode token response").WithCause(err)
	}
	if tr.AccessToken == "" {
		return nil, shipper.NewAuthenticationError(carrierName, "no access_token in token response")
	}

	lifetime := defaultTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}

	issued := m.now()
	return &AccessToken{
		Value:     tr.AccessToken,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(lifetime),
	}, nil
}

func tokenErrorMessage(body []byte) string {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err == nil {
		if tr.ErrorDescription != "" {
			return tr.ErrorDescription
		}
		if tr.Error != "" {
			return tr.Error
		}
	}
	return strings.TrimSpace(string(body))
}

var _ TokenSource = (*TokenManager)(nil)
