package usps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/uspsbridge/pkg/shipper"
)

// Environment selects the USPS API host.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// Product is a USPS API family with its own versioned path prefix.
type Product string

const (
	ProductAddresses        Product = "addresses"
	ProductPrices           Product = "prices"
	ProductLabels           Product = "labels"
	ProductTracking         Product = "tracking"
	ProductServiceStandards Product = "service-standards"
)

var hosts = map[Environment]string{
	EnvSandbox:    "https://apis-tem.usps.com",
	EnvProduction: "https://apis.usps.com",
}

var productPrefixes = map[Product]string{
	ProductAddresses:        "/addresses/v3",
	ProductPrices:           "/prices/v3",
	ProductLabels:           "/labels/v3",
	ProductTracking:         "/tracking/v3",
	ProductServiceStandards: "/service-standards/v3",
}

// Host returns the API host for env. Anything other than production is sandbox.
func Host(env Environment) string {
	if env == EnvProduction {
		return hosts[EnvProduction]
	}
	return hosts[EnvSandbox]
}

// TokenURL returns the OAuth token endpoint for a host.
func TokenURL(host string) string {
	return strings.TrimRight(host, "/") + tokenPath
}

// HTTPAPIClient is the production implementation of APIClient using the
// USPS REST API.
type HTTPAPIClient struct {
	host       string
	tokens     TokenSource
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	Environment Environment
	BaseURL     string // Overrides the environment host when set
	Timeout     time.Duration
	Tokens      TokenSource
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	host := cfg.BaseURL
	if host == "" {
		host = Host(cfg.Environment)
	}

	return &HTTPAPIClient{
		host:   strings.TrimRight(host, "/"),
		tokens: cfg.Tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ProductURL resolves the absolute URL of path within a product.
func (c *HTTPAPIClient) ProductURL(product Product, path string) string {
	return c.host + productPrefixes[product] + path
}

// ValidateAddress standardizes an address.
// POST /addresses/v3/address
func (c *HTTPAPIClient) ValidateAddress(ctx context.Context, req *AddressRequest) (*AddressResponse, error) {
	var result AddressResponse
	if err := c.do(ctx, http.MethodPost, ProductAddresses, "/address", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CityState looks up the city and state of a ZIP code.
// POST /addresses/v3/city-state
func (c *HTTPAPIClient) CityState(ctx context.Context, zip string) (*CityStateResponse, error) {
	var result CityStateResponse
	body := map[string]string{"ZIPCode": zip}
	if err := c.do(ctx, http.MethodPost, ProductAddresses, "/city-state", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBaseRates prices a package for a single mail class.
// POST /prices/v3/base-rates/search
func (c *HTTPAPIClient) GetBaseRates(ctx context.Context, req *BaseRatesRequest) (*BaseRatesResponse, error) {
	var result BaseRatesResponse
	if err := c.do(ctx, http.MethodPost, ProductPrices, "/base-rates/search", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetServiceStandards fetches delivery estimates.
// POST /service-standards/v3/estimates
func (c *HTTPAPIClient) GetServiceStandards(ctx context.Context, req *ServiceStandardsRequest) (*ServiceStandardsResponse, error) {
	var result ServiceStandardsResponse
	if err := c.do(ctx, http.MethodPost, ProductServiceStandards, "/estimates", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateLabel purchases a label.
// POST /labels/v3/label
func (c *HTTPAPIClient) CreateLabel(ctx context.Context, req *LabelRequest) (*LabelResponse, error) {
	var result LabelResponse
	if err := c.do(ctx, http.MethodPost, ProductLabels, "/label", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelLabel voids a label and returns the carrier's answer as-is.
// DELETE /labels/v3/label/{trackingNumber}
func (c *HTTPAPIClient) CancelLabel(ctx context.Context, trackingNumber string) (map[string]any, error) {
	result := map[string]any{}
	path := "/label/" + url.PathEscape(trackingNumber)
	if err := c.do(ctx, http.MethodDelete, ProductLabels, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetTracking fetches the raw tracking history of a package.
// GET /tracking/v3/tracking/{trackingNumber}
func (c *HTTPAPIClient) GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error) {
	var result TrackingResponse
	path := "/tracking/" + url.PathEscape(trackingNumber)
	if err := c.do(ctx, http.MethodGet, ProductTracking, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do performs an authenticated request and decodes the JSON answer into out.
// A 401 invalidates the token and the request is sent once more.
func (c *HTTPAPIClient) do(ctx context.Context, method string, product Product, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return shipper.NewValidationError(carrierName, "failed to marshal request body").WithCause(err)
		}
		payload = b
	}

	endpoint := c.ProductURL(product, path)

	for attempt := 0; ; attempt++ {
		resp, err := c.doRequest(ctx, method, endpoint, payload)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.tokens.Invalidate()
			continue
		}

		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			return c.parseError(resp)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return shipper.NewTransportError(carrierName, err)
		}
		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return shipper.NewValidationError(carrierName,
				fmt.Sprintf("failed to decode %s response", product)).WithCause(err)
		}
		return nil
	}
}

// doRequest sends one HTTP request with a fresh bearer token.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, endpoint string, payload []byte) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, shipper.NewValidationError(carrierName, "failed to create request").WithCause(err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, shipper.NewTransportError(carrierName, err)
	}
	return resp, nil
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return shipper.NewAPIError(carrierName, resp.StatusCode, errorMessage(body))
}

// errorMessage reads the message out of the known USPS error shapes.
func errorMessage(body []byte) string {
	var envelope struct {
		Error            json.RawMessage `json:"error"`
		Message          string          `json:"message"`
		ErrorDescription string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "Unknown API error"
	}

	if len(envelope.Error) > 0 {
		var structured struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &structured); err == nil && structured.Message != "" {
			return structured.Message
		}
		var plain string
		if err := json.Unmarshal(envelope.Error, &plain); err == nil && plain != "" {
			if envelope.ErrorDescription != "" {
				return envelope.ErrorDescription
			}
			return plain
		}
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	if envelope.ErrorDescription != "" {
		return envelope.ErrorDescription
	}
	return "Unknown API error"
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
