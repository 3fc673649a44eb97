package buffer

import (
	"math"
	"sync"
	"time"
)

// TrackedWatermarkFactory wraps a WatermarkFactory and records how the
// buffers it creates are used: per-buffer sizes, high watermark settings
// and account bindings. Used by integration tests and diagnostics to
// observe accounting without touching the hot path types.
type TrackedWatermarkFactory struct {
	*WatermarkFactory

	trackingLock sync.Mutex

	nextIdx         uint64
	activeBuffers   uint64
	totalBufferSize uint64

	bufferInfos    map[uint64]*bufferInfo
	accountBuffers map[Account]map[*WatermarkBuffer]struct{}
}

type bufferInfo struct {
	watermark   uint32
	currentSize uint64
	maxSize     uint64
}

// NewTrackedWatermarkFactory wraps the given factory.
func NewTrackedWatermarkFactory(inner *WatermarkFactory) *TrackedWatermarkFactory {
	return &TrackedWatermarkFactory{
		WatermarkFactory: inner,
		bufferInfos:      make(map[uint64]*bufferInfo),
		accountBuffers:   make(map[Account]map[*WatermarkBuffer]struct{}),
	}
}

// CreateBuffer builds a watermark buffer with tracking hooks installed.
func (f *TrackedWatermarkFactory) CreateBuffer(belowLow, aboveHigh, aboveOverflow func()) *WatermarkBuffer {
	b := f.WatermarkFactory.CreateBuffer(belowLow, aboveHigh, aboveOverflow)

	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	idx := f.nextIdx
	f.nextIdx++
	f.activeBuffers++
	f.bufferInfos[idx] = &bufferInfo{}

	b.onChange = func(size uint64) {
		f.updateSize(idx, size)
	}
	b.onSetWatermarks = func(high uint32) {
		f.updateWatermark(idx, high)
	}
	b.onBind = func(account Account) {
		f.recordBind(account, b)
	}
	b.onClose = func() {
		f.recordClose(idx, b)
	}

	return b
}

// NumBuffersCreated returns the number of buffers the factory has built.
func (f *TrackedWatermarkFactory) NumBuffersCreated() uint64 {
	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	return f.nextIdx
}

// NumBuffersActive returns the number of buffers not yet closed.
func (f *TrackedWatermarkFactory) NumBuffersActive() uint64 {
	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	return f.activeBuffers
}

// TotalBufferedBytes returns the bytes currently held across all known
// buffers.
func (f *TrackedWatermarkFactory) TotalBufferedBytes() uint64 {
	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	return f.totalBufferSize
}

// MaxBufferSize returns the largest size any buffer has reached.
func (f *TrackedWatermarkFactory) MaxBufferSize() uint64 {
	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	max := uint64(0)
	for _, info := range f.bufferInfos {
		if info.maxSize > max {
			max = info.maxSize
		}
	}

	return max
}

// HighWatermarkRange returns the lowest and highest high watermark set on
// any buffer. A watermark of 0 means watermarking is disabled on that
// buffer.
func (f *TrackedWatermarkFactory) HighWatermarkRange() (uint32, uint32) {
	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	low, high := uint32(math.MaxUint32), uint32(0)
	for _, info := range f.bufferInfos {
		if info.watermark < low {
			low = info.watermark
		}

		if info.watermark > high {
			high = info.watermark
		}
	}

	if low > high {
		low = 0
	}

	return low, high
}

// NumAccountsBound returns the number of accounts bound to at least one
// buffer that is still open.
func (f *TrackedWatermarkFactory) NumAccountsBound() int {
	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	return len(f.accountBuffers)
}

// WaitUntilTotalBufferedExceeds polls until the tracked total exceeds
// size or the timeout elapses.
func (f *TrackedWatermarkFactory) WaitUntilTotalBufferedExceeds(size uint64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		if f.TotalBufferedBytes() > size {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		time.Sleep(time.Millisecond)
	}
}

func (f *TrackedWatermarkFactory) updateSize(idx uint64, size uint64) {
	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	info := f.bufferInfos[idx]

	f.totalBufferSize += size - info.currentSize
	info.currentSize = size

	if size > info.maxSize {
		info.maxSize = size
	}
}

func (f *TrackedWatermarkFactory) updateWatermark(idx uint64, high uint32) {
	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	f.bufferInfos[idx].watermark = high
}

func (f *TrackedWatermarkFactory) recordBind(account Account, b *WatermarkBuffer) {
	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	buffers, ok := f.accountBuffers[account]
	if !ok {
		buffers = make(map[*WatermarkBuffer]struct{})
		f.accountBuffers[account] = buffers
	}

	buffers[b] = struct{}{}
}

func (f *TrackedWatermarkFactory) recordClose(idx uint64, b *WatermarkBuffer) {
	f.trackingLock.Lock()
	defer f.trackingLock.Unlock()

	info := f.bufferInfos[idx]
	f.totalBufferSize -= info.currentSize
	info.currentSize = 0
	f.activeBuffers--

	for account, buffers := range f.accountBuffers {
		delete(buffers, b)

		if len(buffers) == 0 {
			delete(f.accountBuffers, account)
		}
	}
}
