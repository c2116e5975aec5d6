package usps_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/tournevent/uspsbridge/pkg/shipper/usps"
)

func TestBuildRateV4(t *testing.T) {
	doc, err := usps.BuildRateV4("USER123", &usps.BaseRatesRequest{
		OriginZIPCode:      "90210",
		DestinationZIPCode: "10001",
		Weight:             2.5,
		MailClass:          usps.ServicePriorityMail,
	})

	require.NoError(t, err)
	xml := string(doc)
	assert.Contains(t, xml, `<RateV4Request USERID="USER123">`)
	assert.Contains(t, xml, `<Revision>2</Revision>`)
	assert.Contains(t, xml, `<Package ID="0">`)
	assert.Contains(t, xml, `<Service>PRIORITY</Service>`)
	assert.Contains(t, xml, `<ZipOrigination>90210</ZipOrigination>`)
	assert.Contains(t, xml, `<Pounds>0</Pounds><Ounces>40</Ounces>`)
	assert.Contains(t, xml, `<Machinable>true</Machinable>`)
	assert.NotContains(t, xml, `<Width>`)
}

func TestBuildRateV4_DimensionsAndUnknownClass(t *testing.T) {
	doc, err := usps.BuildRateV4("U", &usps.BaseRatesRequest{
		MailClass:          "BOUND_PRINTED_MATTER",
		Weight:             1,
		Length:             12,
		Width:              9.5,
		Height:             4,
		ProcessingCategory: "NON_MACHINABLE",
	})

	require.NoError(t, err)
	xml := string(doc)
	assert.Contains(t, xml, `<Service>ALL</Service>`)
	assert.Contains(t, xml, `<Width>9.5</Width><Length>12</Length><Height>4</Height>`)
	assert.Contains(t, xml, `<Machinable>false</Machinable>`)
}

func TestXMLRateClient_GetBaseRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RateV4", r.URL.Query().Get("API"))
		assert.Contains(t, r.URL.Query().Get("XML"), `USERID="USER123"`)
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<RateV4Response><Package ID="0"><ZipOrigination>90210</ZipOrigination>
<Postage CLASSID="1"><MailService>Priority Mail 2-Day</MailService><Rate>10.40</Rate></Postage>
<Postage CLASSID="2"><MailService>Priority Mail 2-Day Hold For Pickup</MailService><Rate>10.40</Rate></Postage>
</Package></RateV4Response>`))
	}))
	t.Cleanup(srv.Close)

	rest := usps.NewMockAPIClient()
	c := usps.NewXMLRateClient(usps.XMLRateClientConfig{UserID: "USER123", Endpoint: srv.URL}, rest)

	resp, err := c.GetBaseRates(context.Background(), &usps.BaseRatesRequest{
		OriginZIPCode:      "90210",
		DestinationZIPCode: "10001",
		Weight:             2,
		MailClass:          usps.ServicePriorityMail,
	})

	require.NoError(t, err)
	require.NotNil(t, resp.TotalBasePrice)
	assert.Equal(t, 10.40, *resp.TotalBasePrice)
	assert.Len(t, resp.Rates, 2)
	assert.Equal(t, "Priority Mail 2-Day", resp.Rates[0].Description)
	assert.Zero(t, rest.Calls(), "rates never reach the REST client")

	_, err = c.GetTracking(context.Background(), "9400")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rest.Calls(), "other operations are delegated")
}

func TestXMLRateClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{
			name:    "top level",
			body:    `<Error><Number>80040B1A</Number><Description>Authorization failure.</Description></Error>`,
			message: "Authorization failure.",
		},
		{
			name:    "package level",
			body:    `<RateV4Response><Package ID="0"><Error><Number>-2147219497</Number><Description>Invalid Zip Code.</Description></Error></Package></RateV4Response>`,
			message: "Invalid Zip Code.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)
			c := usps.NewXMLRateClient(usps.XMLRateClientConfig{UserID: "U", Endpoint: srv.URL}, usps.NewMockAPIClient())

			_, err := c.GetBaseRates(context.Background(), &usps.BaseRatesRequest{MailClass: usps.ServicePriorityMail, Weight: 1})

			require.Error(t, err)
			assert.True(t, errors.Is(err, shipper.ErrAPI))
			var se *shipper.ShipperError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.message, se.Message)
		})
	}
}

func TestXMLRateClient_NoPostageMeansNoPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<RateV4Response><Package ID="0"></Package></RateV4Response>`))
	}))
	t.Cleanup(srv.Close)
	c := usps.NewXMLRateClient(usps.XMLRateClientConfig{UserID: "U", Endpoint: srv.URL}, usps.NewMockAPIClient())

	resp, err := c.GetBaseRates(context.Background(), &usps.BaseRatesRequest{MailClass: usps.ServicePriorityMail, Weight: 1})

	require.NoError(t, err)
	assert.Nil(t, resp.TotalBasePrice)
}
