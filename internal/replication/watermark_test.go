package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatermarkStartsAtZero(t *testing.T) {
	watermarks := NewWatermarkStore(openStore(t, "watermark_zero"))

	loaded, err := watermarks.Load(context.Background())
	require.NoError(t, err)
	require.True(t, loaded.IsZero())
}

func TestWatermarkAdvanceIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	watermarks := NewWatermarkStore(openStore(t, "watermark_cas"))

	first := baseTime
	second := baseTime.Add(10 * time.Minute)

	require.NoError(t, watermarks.Advance(ctx, time.Time{}, first))
	loaded, err := watermarks.Load(ctx)
	require.NoError(t, err)
	require.True(t, first.Equal(loaded))

	err = watermarks.Advance(ctx, time.Time{}, second)
	require.ErrorIs(t, err, ErrWatermarkMoved)

	require.NoError(t, watermarks.Advance(ctx, first, second))
	loaded, err = watermarks.Load(ctx)
	require.NoError(t, err)
	require.True(t, second.Equal(loaded))
}
