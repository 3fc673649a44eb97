package buffer

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverbend-labs/river-edge/runtime"
)

// watermarkCounters records callback firings of one buffer.
type watermarkCounters struct {
	belowLow      int
	aboveHigh     int
	aboveOverflow int
}

func newTestWatermarkBuffer(multiplier uint64) (*WatermarkBuffer, *watermarkCounters) {
	counters := &watermarkCounters{}

	b := NewWatermarkBuffer(
		hclog.NewNullLogger(),
		func() { counters.belowLow++ },
		func() { counters.aboveHigh++ },
		func() { counters.aboveOverflow++ },
	)

	if multiplier > 0 {
		b.overflowMultiplier = func() uint64 {
			return multiplier
		}
	}

	return b, counters
}

func add(t *testing.T, b *WatermarkBuffer, size uint64) {
	t.Helper()

	_, err := b.Write(make([]byte, size))
	require.NoError(t, err)
}

func TestWatermarkBuffer_HighLowCycle(t *testing.T) {
	t.Parallel()

	b, counters := newTestWatermarkBuffer(0)
	b.SetWatermarks(100)

	// Crossing the high watermark fires aboveHigh once.
	add(t, b, 160)
	assert.Equal(t, 1, counters.aboveHigh)
	assert.True(t, b.HighWatermarkTriggered())

	// Growing further does not re-fire.
	add(t, b, 10)
	assert.Equal(t, 1, counters.aboveHigh)

	// Draining to above the low watermark fires nothing.
	b.Drain(60)
	assert.Equal(t, uint64(110), b.Len())
	assert.Equal(t, 0, counters.belowLow)
	assert.True(t, b.HighWatermarkTriggered())

	// Draining to 45, at or below the low watermark of 50, releases.
	b.Drain(65)
	assert.Equal(t, uint64(45), b.Len())
	assert.Equal(t, 1, counters.belowLow)
	assert.False(t, b.HighWatermarkTriggered())

	// Crossing high again re-fires.
	add(t, b, 60)
	assert.Equal(t, uint64(105), b.Len())
	assert.Equal(t, 2, counters.aboveHigh)
}

func TestWatermarkBuffer_ExactBoundaries(t *testing.T) {
	t.Parallel()

	b, counters := newTestWatermarkBuffer(0)
	b.SetWatermarks(100)

	// Exactly at high does not latch.
	add(t, b, 100)
	assert.Equal(t, 0, counters.aboveHigh)

	// One past high does.
	add(t, b, 1)
	assert.Equal(t, 1, counters.aboveHigh)

	// One past low does not release.
	b.Drain(50)
	assert.Equal(t, uint64(51), b.Len())
	assert.Equal(t, 0, counters.belowLow)

	// Exactly at low releases.
	b.Drain(1)
	assert.Equal(t, uint64(50), b.Len())
	assert.Equal(t, 1, counters.belowLow)
}

func TestWatermarkBuffer_OverflowLatch(t *testing.T) {
	t.Parallel()

	rt := runtime.NewStore(hclog.NewNullLogger(), map[string]string{
		RuntimeOverflowMultiplierKey: "3",
	})

	factory, err := NewWatermarkFactory(nil, hclog.NewNullLogger(), NilMetrics(), rt)
	require.NoError(t, err)

	counters := &watermarkCounters{}
	b := factory.CreateBuffer(
		func() { counters.belowLow++ },
		func() { counters.aboveHigh++ },
		func() { counters.aboveOverflow++ },
	)

	b.SetWatermarks(100)

	// 350 crosses high (100) and overflow (300) in one mutation.
	add(t, b, 350)
	assert.Equal(t, 1, counters.aboveHigh)
	assert.Equal(t, 1, counters.aboveOverflow)

	b.Drain(300)
	assert.Equal(t, uint64(50), b.Len())
	assert.Equal(t, 1, counters.belowLow)

	// Overflow is latched for the buffer's lifetime, high re-fires.
	add(t, b, 400)
	assert.Equal(t, 2, counters.aboveHigh)
	assert.Equal(t, 1, counters.aboveOverflow)
}

func TestWatermarkBuffer_OverflowMultiplierOverflowDisables(t *testing.T) {
	t.Parallel()

	// multiplier * high exceeds the 32-bit range; overflow must be
	// disabled rather than wrapped.
	b, counters := newTestWatermarkBuffer(1 << 30)
	b.SetWatermarks(1 << 20)

	assert.Zero(t, b.overflowWatermark)

	add(t, b, 1<<20+1)
	assert.Equal(t, 1, counters.aboveHigh)
	assert.Equal(t, 0, counters.aboveOverflow)
}

func TestWatermarkBuffer_DisabledWatermarks(t *testing.T) {
	t.Parallel()

	b, counters := newTestWatermarkBuffer(0)

	// No SetWatermarks call: nothing may ever fire.
	chunk := make([]byte, 1<<20)
	for i := 0; i < 1024; i++ {
		_, err := b.Write(chunk)
		require.NoError(t, err)
	}

	require.Equal(t, uint64(1<<30), b.Len())

	b.Drain(1 << 30)

	assert.Zero(t, counters.aboveHigh)
	assert.Zero(t, counters.belowLow)
	assert.Zero(t, counters.aboveOverflow)
	assert.False(t, b.HighWatermarkTriggered())
}

func TestWatermarkBuffer_SetWatermarksReEvaluates(t *testing.T) {
	t.Parallel()

	t.Run("enabling over a full buffer fires immediately", func(t *testing.T) {
		t.Parallel()

		b, counters := newTestWatermarkBuffer(0)
		add(t, b, 500)

		b.SetWatermarks(100)
		assert.Equal(t, 1, counters.aboveHigh)
	})

	t.Run("disabling releases a latched high", func(t *testing.T) {
		t.Parallel()

		b, counters := newTestWatermarkBuffer(0)
		b.SetWatermarks(100)

		add(t, b, 200)
		require.Equal(t, 1, counters.aboveHigh)

		b.SetWatermarks(0)
		assert.Equal(t, 1, counters.belowLow)
		assert.False(t, b.HighWatermarkTriggered())
	})

	t.Run("raising the watermark releases when under low", func(t *testing.T) {
		t.Parallel()

		b, counters := newTestWatermarkBuffer(0)
		b.SetWatermarks(100)

		add(t, b, 200)
		require.Equal(t, 1, counters.aboveHigh)

		b.SetWatermarks(1000)
		assert.Equal(t, 1, counters.belowLow)
	})
}

func TestWatermarkBuffer_MoveAndPostProcess(t *testing.T) {
	t.Parallel()

	src, srcCounters := newTestWatermarkBuffer(0)
	dst, dstCounters := newTestWatermarkBuffer(0)

	src.SetWatermarks(100)
	dst.SetWatermarks(100)

	add(t, src, 150)
	require.Equal(t, 1, srcCounters.aboveHigh)

	// Splicing out of src's base bypasses src's low watermark check;
	// the move only validates dst.
	dst.Move(src.Base())
	assert.Equal(t, uint64(150), dst.Len())
	assert.Equal(t, 1, dstCounters.aboveHigh)
	assert.Equal(t, 0, srcCounters.belowLow)

	// PostProcess catches up on the deferred low check.
	src.PostProcess()
	assert.Equal(t, 1, srcCounters.belowLow)
	assert.False(t, src.HighWatermarkTriggered())
}

func TestWatermarkBuffer_CommitChecksWatermarks(t *testing.T) {
	t.Parallel()

	b, counters := newTestWatermarkBuffer(0)
	b.base.sliceSize = 64
	b.base.readReservationSize = 256

	b.SetWatermarks(100)

	r := b.ReserveForRead()
	require.GreaterOrEqual(t, r.Len(), uint64(128))

	r.Commit(128)
	assert.Equal(t, 1, counters.aboveHigh)
}

func TestWatermarkBuffer_ReserveForRead(t *testing.T) {
	t.Parallel()

	newBuffer := func(length uint64) *WatermarkBuffer {
		b, _ := newTestWatermarkBuffer(0)
		b.base.sliceSize = 4 * 1024
		b.base.readReservationSize = 64 * 1024
		b.SetWatermarks(16 * 1024)

		if length > 0 {
			add(t, b, length)
		}

		return b
	}

	t.Run("bounded by distance to the high watermark", func(t *testing.T) {
		t.Parallel()

		// 12 KiB buffered against a 16 KiB high watermark leaves one
		// 4 KiB slice of headroom.
		b := newBuffer(12 * 1024)

		r := b.ReserveForRead()
		assert.Equal(t, uint64(4*1024), r.Len())
		r.Discard()
	})

	t.Run("over the high watermark still reserves one slice", func(t *testing.T) {
		t.Parallel()

		b := newBuffer(20 * 1024)

		r := b.ReserveForRead()
		assert.Equal(t, uint64(4*1024), r.Len())
		r.Discard()
	})

	t.Run("far below high uses the preferred size", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestWatermarkBuffer(0)
		b.base.sliceSize = 4 * 1024
		b.base.readReservationSize = 16 * 1024
		b.SetWatermarks(1 << 20)

		r := b.ReserveForRead()
		assert.Equal(t, uint64(16*1024), r.Len())
		r.Discard()
	})

	t.Run("disabled watermarks use the preferred size", func(t *testing.T) {
		t.Parallel()

		b, _ := newTestWatermarkBuffer(0)

		r := b.ReserveForRead()
		assert.Equal(t, uint64(DefaultReadReservationSize), r.Len())
		r.Discard()
	})

	t.Run("headroom rounds up to the slice size", func(t *testing.T) {
		t.Parallel()

		// 14 KiB buffered leaves 2 KiB of headroom, rounded up to one
		// 4 KiB slice.
		b := newBuffer(14 * 1024)

		r := b.ReserveForRead()
		assert.Equal(t, uint64(4*1024), r.Len())
		r.Discard()
	})
}
