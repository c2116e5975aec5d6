package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/uspsbridge/internal/store/memory"
	"github.com/tournevent/uspsbridge/pkg/shipper"
)

func TestStore_RateCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	s := memory.New()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Upsert(ctx, "usps_rates_a", []byte(`{}`), []byte(`{"quotes":[]}`), time.Hour))
	require.NoError(t, s.Upsert(ctx, "usps_rates_b", []byte(`{}`), []byte(`{}`), time.Minute))

	v, ok, err := s.GetIfValid(ctx, "usps_rates_a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"quotes":[]}`, string(v))

	now = now.Add(time.Minute)
	_, ok, err = s.GetIfValid(ctx, "usps_rates_b")
	require.NoError(t, err)
	assert.False(t, ok, "an entry is gone once now reaches expiresAt")

	deleted, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Upsert(ctx, "k", nil, []byte("one"), time.Hour))
	require.NoError(t, s.Upsert(ctx, "k", nil, []byte("two"), time.Hour))

	v, ok, err := s.GetIfValid(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", string(v))
}

func TestStore_Shipments(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	s := memory.New()

	for i, tn := range []string{"9400A", "9400B", "9400C"} {
		require.NoError(t, s.SaveShipment(ctx, &shipper.Shipment{
			TrackingNumber: tn,
			Status:         shipper.StatusLabelCreated,
			ShippedAt:      base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}

	got, err := s.GetShipment(ctx, "9400B")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusLabelCreated, got.Status)

	_, err = s.GetShipment(ctx, "missing")
	assert.True(t, errors.Is(err, shipper.ErrShipmentNotFound))

	delivered := base.Add(72 * time.Hour)
	require.NoError(t, s.UpdateTracking(ctx, "9400A", &shipper.TrackingResult{
		Status: shipper.StatusDelivered,
		Events: []shipper.TrackingEvent{{Status: shipper.StatusDelivered, Timestamp: &delivered}},
	}, delivered))

	active, err := s.ListShipments(ctx, shipper.ShipmentFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "9400B", active[0].TrackingNumber)
	assert.Equal(t, "9400C", active[1].TrackingNumber)

	recent, err := s.ListShipments(ctx, shipper.ShipmentFilter{ShippedSince: base.Add(36 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "9400C", recent[0].TrackingNumber)

	picked, err := s.ListShipments(ctx, shipper.ShipmentFilter{TrackingNumbers: []string{"9400A", "nope"}})
	require.NoError(t, err)
	require.Len(t, picked, 1)
	require.NotNil(t, picked[0].DeliveredAt)
	assert.Equal(t, delivered, *picked[0].DeliveredAt)

	err = s.UpdateTracking(ctx, "nope", &shipper.TrackingResult{}, base)
	assert.True(t, errors.Is(err, shipper.ErrShipmentNotFound))
}

func TestStore_ShipmentsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ts := time.Date(2024, 1, 16, 14, 5, 0, 0, time.UTC)

	sh := &shipper.Shipment{
		TrackingNumber: "9400",
		Status:         shipper.StatusInTransit,
		LabelData:      []byte("%PDF"),
		Metadata:       map[string]string{"order_id": "A-1001"},
		Events:         []shipper.TrackingEvent{{Status: shipper.StatusInTransit, RawStatus: "In Transit", Timestamp: &ts}},
	}
	require.NoError(t, s.SaveShipment(ctx, sh))
	sh.Metadata["order_id"] = "changed"
	sh.LabelData[0] = 'X'

	got, err := s.GetShipment(ctx, "9400")
	require.NoError(t, err)
	got.Metadata["order_id"] = "mutated"
	got.Events[0].RawStatus = "mutated"
	*got.Events[0].Timestamp = ts.Add(time.Hour)

	listed, err := s.ListShipments(ctx, shipper.ShipmentFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	listed[0].LabelData[1] = 'X'

	stored, err := s.GetShipment(ctx, "9400")
	require.NoError(t, err)
	assert.Equal(t, "A-1001", stored.Metadata["order_id"])
	assert.Equal(t, []byte("%PDF"), stored.LabelData)
	assert.Equal(t, "In Transit", stored.Events[0].RawStatus)
	assert.Equal(t, ts, *stored.Events[0].Timestamp)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := memory.New()

	_, _, err := s.GetIfValid(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.SaveShipment(ctx, &shipper.Shipment{TrackingNumber: "x"}), context.Canceled)
}
