package buffer

import (
	"math"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"

	"github.com/riverbend-labs/river-edge/helper/common"
)

// WatermarkBuffer wraps an OwnedBuffer and validates watermarks after
// every mutation. As the buffer grows past the high watermark the
// aboveHigh callback is invoked once; it is not invoked again until the
// buffer drains back to the low watermark, at which point belowLow is
// invoked. If the buffer grows past the overflow watermark aboveOverflow
// is invoked, on the first overflow only.
//
// Callbacks run inline from the mutating operation and must not mutate
// the same buffer recursively.
type WatermarkBuffer struct {
	base   OwnedBuffer
	logger hclog.Logger

	belowLow      func()
	aboveHigh     func()
	aboveOverflow func()

	// overflowMultiplier yields the runtime overflow multiplier at
	// SetWatermarks time. Nil means overflow is disabled.
	overflowMultiplier func() uint64

	// Watermarks are off by default. SetWatermarks enables them.
	highWatermark     uint32
	lowWatermark      uint32
	overflowWatermark uint32

	// True between an aboveHigh firing and the matching belowLow.
	aboveHighFired bool
	// Latched on the first overflow firing, never cleared.
	aboveOverflowFired bool

	// Instrumentation hooks installed by TrackedWatermarkFactory.
	onChange        func(size uint64)
	onSetWatermarks func(high uint32)
	onBind          func(account Account)
	onClose         func()
}

// NewWatermarkBuffer creates a buffer with watermarking disabled. The
// three callbacks are invoked per the state machine above; nil callbacks
// are treated as no-ops.
func NewWatermarkBuffer(logger hclog.Logger, belowLow, aboveHigh, aboveOverflow func()) *WatermarkBuffer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	nop := func() {}
	if belowLow == nil {
		belowLow = nop
	}

	if aboveHigh == nil {
		aboveHigh = nop
	}

	if aboveOverflow == nil {
		aboveOverflow = nop
	}

	return &WatermarkBuffer{
		base:          *NewOwnedBuffer(),
		logger:        logger,
		belowLow:      belowLow,
		aboveHigh:     aboveHigh,
		aboveOverflow: aboveOverflow,
	}
}

// Base exposes the wrapped buffer so it can be the source of a Move or
// PrependBuffer splice. Draining the base directly bypasses the low
// watermark check; callers doing so must follow up with PostProcess.
func (w *WatermarkBuffer) Base() *OwnedBuffer {
	return &w.base
}

// Len returns the number of buffered bytes.
func (w *WatermarkBuffer) Len() uint64 {
	return w.base.Len()
}

// Bytes copies out the buffered data.
func (w *WatermarkBuffer) Bytes() []byte {
	return w.base.Bytes()
}

// BindAccount associates an account with the underlying buffer.
func (w *WatermarkBuffer) BindAccount(account Account) {
	if w.onBind != nil {
		w.onBind(account)
	}

	w.base.BindAccount(account)
}

// Write appends p and checks the high and overflow watermarks.
func (w *WatermarkBuffer) Write(p []byte) (int, error) {
	n, err := w.base.Write(p)
	w.checkHighAndOverflowWatermarks()

	return n, err
}

// AddString appends data and checks the high and overflow watermarks.
func (w *WatermarkBuffer) AddString(data string) {
	w.base.AddString(data)
	w.checkHighAndOverflowWatermarks()
}

// AddBuffer appends a copy of other's data and checks the high and
// overflow watermarks.
func (w *WatermarkBuffer) AddBuffer(other *OwnedBuffer) {
	w.base.AddBuffer(other)
	w.checkHighAndOverflowWatermarks()
}

// Prepend inserts data in front and checks the high and overflow
// watermarks.
func (w *WatermarkBuffer) Prepend(data []byte) {
	w.base.Prepend(data)
	w.checkHighAndOverflowWatermarks()
}

// PrependBuffer moves other's data in front and checks the high and
// overflow watermarks.
func (w *WatermarkBuffer) PrependBuffer(other *OwnedBuffer) {
	w.base.PrependBuffer(other)
	w.checkHighAndOverflowWatermarks()
}

// Move splices all of other into w and checks the high and overflow
// watermarks.
func (w *WatermarkBuffer) Move(other *OwnedBuffer) {
	w.base.Move(other)
	w.checkHighAndOverflowWatermarks()
}

// MoveAtMost splices up to size bytes from other into w and checks the
// high and overflow watermarks.
func (w *WatermarkBuffer) MoveAtMost(other *OwnedBuffer, size uint64) {
	w.base.MoveAtMost(other, size)
	w.checkHighAndOverflowWatermarks()
}

// Drain removes size bytes from the front and checks the low watermark.
func (w *WatermarkBuffer) Drain(size uint64) {
	w.base.Drain(size)
	w.checkLowWatermark()
}

// ExtractFrontSlice detaches the front slice and checks the low
// watermark.
func (w *WatermarkBuffer) ExtractFrontSlice() []byte {
	out := w.base.ExtractFrontSlice()
	w.checkLowWatermark()

	return out
}

// PostProcess re-checks the low watermark. Called by owners after the
// buffer shrank through a path that bypassed the wrapper, such as being
// the source of another buffer's Move.
func (w *WatermarkBuffer) PostProcess() {
	w.checkLowWatermark()
}

// ReserveForRead returns a reservation bounded so that committing it in
// full does not blow far past the high watermark. At least one slice is
// always reservable, even over the high watermark.
func (w *WatermarkBuffer) ReserveForRead() *Reservation {
	adjusted := w.base.readReservationSize

	if w.highWatermark > 0 && adjusted > 0 {
		if current := w.base.Len(); current >= uint64(w.highWatermark) {
			adjusted = w.base.sliceSize
		} else {
			available := uint64(w.highWatermark) - current
			adjusted = common.Min(
				common.RoundUpToMultiple(available, w.base.sliceSize),
				w.base.readReservationSize,
			)
		}
	}

	return w.base.reserveWithMaxLength(adjusted, w)
}

// Close releases the buffer's contents, crediting any bound account.
func (w *WatermarkBuffer) Close() {
	if w.onClose != nil {
		w.onClose()
	}

	w.base.Close()
}

// SetWatermarks updates the thresholds and re-evaluates them against the
// current length. The low watermark is half the high watermark; the
// overflow watermark is the runtime multiplier times the high watermark.
// Passing 0 disables watermarking and releases a latched high.
func (w *WatermarkBuffer) SetWatermarks(highWatermark uint32) {
	if w.onSetWatermarks != nil {
		w.onSetWatermarks(highWatermark)
	}

	multiplier := uint64(0)
	if w.overflowMultiplier != nil {
		multiplier = w.overflowMultiplier()
	}

	// The product is checked in 64 bits before it is stored; a result
	// wider than 32 bits disables overflow rather than wrapping.
	if multiplier > 0 && multiplier*uint64(highWatermark) > math.MaxUint32 {
		w.logger.Debug(
			"overflow multiplier times high watermark exceeds the 32-bit range, disabling overflow watermark",
			"multiplier", multiplier,
			"high_watermark", highWatermark,
		)

		multiplier = 0
	}

	w.lowWatermark = highWatermark / 2
	w.highWatermark = highWatermark
	w.overflowWatermark = uint32(multiplier * uint64(highWatermark))

	w.checkHighAndOverflowWatermarks()
	w.checkLowWatermark()
}

// HighWatermark returns the configured high watermark, 0 if disabled.
func (w *WatermarkBuffer) HighWatermark() uint32 {
	return w.highWatermark
}

// HighWatermarkTriggered returns true if the high watermark callback has
// fired more recently than the low watermark callback.
func (w *WatermarkBuffer) HighWatermarkTriggered() bool {
	return w.aboveHighFired
}

func (w *WatermarkBuffer) checkHighAndOverflowWatermarks() {
	if w.onChange != nil {
		w.onChange(w.base.Len())
	}

	if w.highWatermark == 0 || w.base.Len() <= uint64(w.highWatermark) {
		return
	}

	if !w.aboveHighFired {
		w.aboveHighFired = true

		metrics.IncrCounter([]string{bufferMetrics, "above_high_watermark"}, 1)
		w.aboveHigh()
	}

	if w.overflowWatermark != 0 && !w.aboveOverflowFired &&
		w.base.Len() > uint64(w.overflowWatermark) {
		w.aboveOverflowFired = true

		metrics.IncrCounter([]string{bufferMetrics, "above_overflow_watermark"}, 1)
		w.aboveOverflow()
	}
}

func (w *WatermarkBuffer) checkLowWatermark() {
	if w.onChange != nil {
		w.onChange(w.base.Len())
	}

	if !w.aboveHighFired ||
		(w.highWatermark != 0 && w.base.Len() > uint64(w.lowWatermark)) {
		return
	}

	w.aboveHighFired = false

	metrics.IncrCounter([]string{bufferMetrics, "below_low_watermark"}, 1)
	w.belowLow()
}

// commitReservation routes reservation commits through the high and
// overflow check.
func (w *WatermarkBuffer) commitReservation(r *Reservation, length uint64) {
	w.base.commitReservation(r, length)
	w.checkHighAndOverflowWatermarks()
}
