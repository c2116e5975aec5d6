package usps

import (
	"context"
	"encoding/xml"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tournevent/uspsbridge/pkg/shipper"
)

// DefaultLegacyURL is the Web Tools endpoint serving RateV4.
const DefaultLegacyURL = "https://secure.shippingapis.com/ShippingAPI.dll"

// legacyServices maps REST mail classes onto RateV4 service names.
var legacyServices = map[string]string{
	"USPS_GROUND_ADVANTAGE": "GROUND ADVANTAGE",
	"PRIORITY_MAIL":         "PRIORITY",
	"PRIORITY_MAIL_EXPRESS": "PRIORITY MAIL EXPRESS",
	"FIRST_CLASS_MAIL":      "FIRST CLASS",
	"PARCEL_SELECT":         "PARCEL SELECT GROUND",
}

// XMLRateClient prices packages through the legacy RateV4 XML API keyed by
// a Web Tools USERID. Every other operation is delegated to the embedded
// REST client.
type XMLRateClient struct {
	APIClient
	userID     string
	endpoint   string
	httpClient *http.Client
}

// XMLRateClientConfig holds configuration for the legacy rate client.
type XMLRateClientConfig struct {
	UserID   string
	Endpoint string
	Timeout  time.Duration
}

// NewXMLRateClient wraps rest so that rates come from the RateV4 API.
func NewXMLRateClient(cfg XMLRateClientConfig, rest APIClient) *XMLRateClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultLegacyURL
	}

	return &XMLRateClient{
		APIClient:  rest,
		userID:     cfg.UserID,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rateV4Request struct {
	XMLName  xml.Name      `xml:"RateV4Request"`
	UserID   string        `xml:"USERID,attr"`
	Revision int           `xml:"Revision"`
	Package  rateV4Package `xml:"Package"`
}

type rateV4Package struct {
	ID             string `xml:"ID,attr"`
	Service        string `xml:"Service"`
	ZipOrigination string `xml:"ZipOrigination"`
	ZipDestination string `xml:"ZipDestination"`
	Pounds         int    `xml:"Pounds"`
	Ounces         int    `xml:"Ounces"`
	Container      string `xml:"Container"`
	Size           string `xml:"Size"`
	Width          string `xml:"Width,omitempty"`
	Length         string `xml:"Length,omitempty"`
	Height         string `xml:"Height,omitempty"`
	Machinable     bool   `xml:"Machinable"`
}

type rateV4Response struct {
	XMLName  xml.Name        `xml:"RateV4Response"`
	Packages []rateV4RespPkg `xml:"Package"`
}

type rateV4RespPkg struct {
	ID       string          `xml:"ID,attr"`
	Postages []rateV4Postage `xml:"Postage"`
	Error    *legacyError    `xml:"Error"`
}

type rateV4Postage struct {
	ClassID     string `xml:"CLASSID,attr"`
	MailService string `xml:"MailService"`
	Rate        string `xml:"Rate"`
}

type legacyError struct {
	Number      string `xml:"Number"`
	Description string `xml:"Description"`
}

type legacyErrorDoc struct {
	XMLName xml.Name `xml:"Error"`
	legacyError
}

// BuildRateV4 renders the RateV4 request document for req.
// Weight is given in pounds and sent as whole ounces.
func BuildRateV4(userID string, req *BaseRatesRequest) ([]byte, error) {
	service, ok := legacyServices[req.MailClass]
	if !ok {
		service = "ALL"
	}

	doc := rateV4Request{
		UserID:   userID,
		Revision: 2,
		Package: rateV4Package{
			ID:             "0",
			Service:        service,
			ZipOrigination: req.OriginZIPCode,
			ZipDestination: req.DestinationZIPCode,
			Pounds:         0,
			Ounces:         int(math.Round(req.Weight * 16)),
			Size:           "REGULAR",
			Machinable:     req.ProcessingCategory == "" || req.ProcessingCategory == "MACHINABLE",
		},
	}
	if req.Length > 0 && req.Width > 0 && req.Height > 0 {
		doc.Package.Length = formatInches(req.Length)
		doc.Package.Width = formatInches(req.Width)
		doc.Package.Height = formatInches(req.Height)
	}

	return xml.Marshal(doc)
}

func formatInches(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// GetBaseRates prices a package through RateV4 and reports the first postage
// as the total base price.
func (c *XMLRateClient) GetBaseRates(ctx context.Context, req *BaseRatesRequest) (*BaseRatesResponse, error) {
	doc, err := BuildRateV4(c.userID, req)
	if err != nil {
		return nil, shipper.NewValidationError(carrierName, "failed to build RateV4 request").WithCause(err)
	}

	q := url.Values{"API": {"RateV4"}, "XML": {string(doc)}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, shipper.NewValidationError(carrierName, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, shipper.NewTransportError(carrierName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shipper.NewTransportError(carrierName, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, shipper.NewAPIError(carrierName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Web Tools answers errors with HTTP 200 and an <Error> root.
	var topErr legacyErrorDoc
	if err := xml.Unmarshal(body, &topErr); err == nil && topErr.Description != "" {
		return nil, shipper.NewAPIError(carrierName, http.StatusBadRequest, topErr.Description)
	}

	var parsed rateV4Response
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, shipper.NewValidationError(carrierName, "failed to decode RateV4 response").WithCause(err)
	}

	result := &BaseRatesResponse{}
	for _, pkg := range parsed.Packages {
		if pkg.Error != nil {
			return nil, shipper.NewAPIError(carrierName, http.StatusBadRequest, pkg.Error.Description)
		}
		for _, p := range pkg.Postages {
			price, err := strconv.ParseFloat(p.Rate, 64)
			if err != nil {
				continue
			}
			result.Rates = append(result.Rates, WireRate{
				Description: p.MailService,
				Price:       price,
				MailClass:   req.MailClass,
			})
		}
	}
	if len(result.Rates) > 0 {
		total := result.Rates[0].Price
		result.TotalBasePrice = &total
	}
	return result, nil
}

var _ APIClient = (*XMLRateClient)(nil)
