package shipper_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/uspsbridge/pkg/shipper"
)

func TestShipmentStatus_IsTerminal(t *testing.T) {
	assert.True(t, shipper.StatusDelivered.IsTerminal())
	assert.True(t, shipper.StatusReturned.IsTerminal())
	assert.False(t, shipper.StatusInTransit.IsTerminal())
	assert.False(t, shipper.StatusLabelCreated.IsTerminal())
}

func TestShipment_ApplyTracking(t *testing.T) {
	now := time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC)
	deliveredAt := time.Date(2024, 1, 16, 14, 5, 0, 0, time.UTC)

	s := &shipper.Shipment{TrackingNumber: "9400", Status: shipper.StatusLabelCreated}

	s.ApplyTracking(&shipper.TrackingResult{
		Status: shipper.StatusInTransit,
		Events: []shipper.TrackingEvent{{Status: shipper.StatusInTransit}},
	}, now)
	assert.Equal(t, shipper.StatusInTransit, s.Status)
	assert.Nil(t, s.DeliveredAt)
	assert.Equal(t, now, s.UpdatedAt)

	s.ApplyTracking(&shipper.TrackingResult{
		Status: shipper.StatusDelivered,
		Events: []shipper.TrackingEvent{{Status: shipper.StatusDelivered, Timestamp: &deliveredAt}},
	}, now)
	require.NotNil(t, s.DeliveredAt)
	assert.Equal(t, deliveredAt, *s.DeliveredAt)

	// A later delivered result keeps the first delivery time.
	s.ApplyTracking(&shipper.TrackingResult{Status: shipper.StatusDelivered}, now.Add(time.Hour))
	assert.Equal(t, deliveredAt, *s.DeliveredAt)
	assert.Empty(t, s.Events)
}

func TestShipment_ApplyTracking_DeliveredWithoutTimestamp(t *testing.T) {
	now := time.Date(2024, 1, 17, 9, 0, 0, 0, time.UTC)
	s := &shipper.Shipment{}

	s.ApplyTracking(&shipper.TrackingResult{Status: shipper.StatusDelivered}, now)

	require.NotNil(t, s.DeliveredAt)
	assert.Equal(t, now, *s.DeliveredAt)
}
