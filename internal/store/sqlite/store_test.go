package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/uspsbridge/internal/store/sqlite"
	"github.com/tournevent/uspsbridge/pkg/shipper"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "usps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := sqlite.Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usps.db")

	s, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestStore_RateCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	s := openTestStore(t)
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Upsert(ctx, "usps_rates_a", []byte(`{"origin_zip":"90210"}`), []byte(`{"quotes":[1]}`), time.Hour))
	require.NoError(t, s.Upsert(ctx, "usps_rates_b", []byte(`{}`), []byte(`{"quotes":[2]}`), 10*time.Minute))

	v, ok, err := s.GetIfValid(ctx, "usps_rates_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"quotes":[1]}`, string(v))

	_, ok, err = s.GetIfValid(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(10 * time.Minute)
	_, ok, err = s.GetIfValid(ctx, "usps_rates_b")
	require.NoError(t, err)
	assert.False(t, ok)

	// Upsert refreshes the value and expiry of an existing key.
	require.NoError(t, s.Upsert(ctx, "usps_rates_a", []byte(`{}`), []byte(`{"quotes":[3]}`), time.Hour))
	v, ok, err = s.GetIfValid(ctx, "usps_rates_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"quotes":[3]}`, string(v))

	deleted, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_ShipmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	shipped := time.Date(2024, 1, 14, 8, 0, 0, 0, time.UTC)

	sh := &shipper.Shipment{
		TrackingNumber: "9400111899223100000001",
		Carrier:        "usps",
		ServiceType:    "USPS_GROUND_ADVANTAGE",
		FromAddress:    shipper.Address{Name: "Acme", Street: "500 Industrial Way", City: "CHICAGO", State: "IL", Zip: "60601"},
		ToAddress:      shipper.Address{Name: "John", Street: "350 5TH AVE", City: "NEW YORK", State: "NY", Zip: "10001"},
		Weight:         1.5,
		Dimensions:     shipper.Dimensions{Length: 10, Width: 8, Height: 4},
		Cost:           9.25,
		LabelURL:       "https://labels.example/9400.pdf",
		LabelData:      []byte("%PDF"),
		Status:         shipper.StatusLabelCreated,
		Metadata:       map[string]string{"order_id": "A-1001"},
		ShippedAt:      shipped,
		UpdatedAt:      shipped,
	}
	require.NoError(t, s.SaveShipment(ctx, sh))
	assert.NotEmpty(t, sh.ID)

	got, err := s.GetShipment(ctx, sh.TrackingNumber)
	require.NoError(t, err)
	assert.Equal(t, sh.ID, got.ID)
	assert.Equal(t, sh.FromAddress, got.FromAddress)
	assert.Equal(t, sh.ToAddress, got.ToAddress)
	assert.Equal(t, sh.Dimensions, got.Dimensions)
	assert.Equal(t, sh.Metadata, got.Metadata)
	assert.Equal(t, sh.LabelData, got.LabelData)
	assert.Equal(t, shipper.StatusLabelCreated, got.Status)
	assert.True(t, shipped.Equal(got.ShippedAt))
	assert.Nil(t, got.DeliveredAt)

	_, err = s.GetShipment(ctx, "unknown")
	assert.True(t, errors.Is(err, shipper.ErrShipmentNotFound))
}

func TestStore_UpdateTrackingAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	for i, tn := range []string{"9400A", "9400B", "9400C"} {
		require.NoError(t, s.SaveShipment(ctx, &shipper.Shipment{
			TrackingNumber: tn,
			Carrier:        "usps",
			ServiceType:    "PRIORITY_MAIL",
			Weight:         1,
			Status:         shipper.StatusLabelCreated,
			ShippedAt:      base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}

	deliveredAt := base.Add(50 * time.Hour)
	require.NoError(t, s.UpdateTracking(ctx, "9400A", &shipper.TrackingResult{
		Status: shipper.StatusDelivered,
		Events: []shipper.TrackingEvent{{
			Status:    shipper.StatusDelivered,
			RawStatus: "Delivered",
			Timestamp: &deliveredAt,
			Location:  shipper.Location{City: "NEW YORK", State: "NY"},
		}},
	}, base.Add(60*time.Hour)))

	got, err := s.GetShipment(ctx, "9400A")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, deliveredAt.Equal(*got.DeliveredAt))
	require.Len(t, got.Events, 1)
	assert.Equal(t, "NEW YORK", got.Events[0].Location.City)

	active, err := s.ListShipments(ctx, shipper.ShipmentFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "9400B", active[0].TrackingNumber)

	recent, err := s.ListShipments(ctx, shipper.ShipmentFilter{ShippedSince: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	picked, err := s.ListShipments(ctx, shipper.ShipmentFilter{TrackingNumbers: []string{"9400C", "9400A"}})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "9400A", picked[0].TrackingNumber)

	err = s.UpdateTracking(ctx, "missing", &shipper.TrackingResult{}, base)
	assert.True(t, errors.Is(err, shipper.ErrShipmentNotFound))
}

func TestStore_CancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Count(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
