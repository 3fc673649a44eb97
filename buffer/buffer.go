package buffer

import (
	"errors"
)

const (
	// DefaultSliceSize is the allocation unit for buffer slices.
	DefaultSliceSize = 16 * 1024

	// DefaultReadReservationSize is the preferred aggregate length of a
	// scatter-read reservation, before watermark adjustment.
	DefaultReadReservationSize = 8 * DefaultSliceSize

	// NumBuckets is the number of logarithmic size classes accounts are
	// sorted into. The shedder resets whole buckets at a time.
	NumBuckets = 8

	// RuntimeOverflowMultiplierKey is the runtime key holding the
	// overflow watermark multiplier. A buffer's overflow watermark is
	// multiplier * high watermark; 0 disables overflow signalling.
	RuntimeOverflowMultiplierKey = "buffer.overflow_multiplier"

	// bufferMetrics is a prefix used for buffer-related metrics
	bufferMetrics = "buffer"
)

// errors
var (
	ErrTrackingThresholdNotPowerOfTwo = errors.New("account tracking threshold must be zero or a power of two")
)

// ResetReason explains why a stream is being reset through its account.
type ResetReason int

const (
	// ResetReasonOverloadManager marks resets issued by the overload
	// shedder to reclaim buffered memory.
	ResetReasonOverloadManager ResetReason = iota

	// ResetReasonLocalReset marks resets requested by the stream owner.
	ResetReasonLocalReset
)

func (r ResetReason) String() (s string) {
	switch r {
	case ResetReasonOverloadManager:
		s = "overload_manager"
	case ResetReasonLocalReset:
		s = "local_reset"
	}

	return
}

// StreamResetHandler is the stream-cancellation capability an account
// forwards overload resets to. Implementations post the actual reset onto
// the stream's own worker rather than executing it inline.
type StreamResetHandler interface {
	ResetStream(reason ResetReason)
}

// Account aggregates bytes-in-flight for a single stream across every
// buffer the stream touches. Balance changes reclassify the account into
// one of NumBuckets logarithmic size classes kept by the factory, which
// uses them to cancel the heaviest streams under memory pressure.
//
// Charge, Credit and ClearDownstream must only be called from the worker
// owning the stream. ResetDownstream may be called from any goroutine.
type Account interface {
	// Balance returns the outstanding bytes charged to the account.
	Balance() uint64

	// Charge debits the account by amount bytes.
	Charge(amount uint64)

	// Credit returns amount bytes to the account. Crediting more than
	// the current balance is a programming error.
	Credit(amount uint64)

	// ResetDownstream forwards the reset reason to the stream's reset
	// handler. A no-op once the downstream has been cleared.
	ResetDownstream(reason ResetReason)

	// ClearDownstream detaches the account from its stream and removes
	// it from the factory's bucket index. Called on stream teardown.
	ClearDownstream()
}
