package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/uspsbridge/internal/store/memory"
)

func TestDedup_Window(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 16, 14, 0, 0, 0, time.UTC)
	d := memory.NewDedup(time.Hour)
	d.SetClock(func() time.Time { return now })
	ts := now.Add(-5 * time.Minute)

	seen, err := d.Seen(ctx, "9400", "delivered", ts)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "9400", "delivered", ts)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.Seen(ctx, "9400", "delivered", ts.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, seen)

	now = now.Add(time.Hour)
	seen, err = d.Seen(ctx, "9400", "delivered", ts)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDedup_Forget(t *testing.T) {
	ctx := context.Background()
	d := memory.NewDedup(time.Hour)
	ts := time.Date(2024, 1, 16, 14, 5, 0, 0, time.UTC)

	seen, err := d.Seen(ctx, "9400", "delivered", ts)
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, d.Forget(ctx, "9400", "delivered", ts))

	seen, err = d.Seen(ctx, "9400", "delivered", ts)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDedup_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := memory.NewDedup(0).Seen(ctx, "9400", "delivered", time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
