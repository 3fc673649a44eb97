package buffer

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/riverbend-labs/river-edge/runtime"
)

// defaultTrackingBitshift derives size classes from a 256 KiB minimum
// tracking threshold, bit_width(256 KiB - 1).
const defaultTrackingBitshift = 18

// WatermarkFactory creates watermark buffers and memory accounts and
// keeps the bucket index used for shedding: an array of NumBuckets
// account sets, one per size class.
//
// The factory is the only cross-thread object of the subsystem. Bucket
// membership transitions arrive from every worker and from the overload
// coordinator; the sets are guarded by a mutex so each transition is
// atomic.
type WatermarkFactory struct {
	logger  hclog.Logger
	metrics *Metrics
	rt      *runtime.Store

	bitshift uint32

	setsLock sync.Mutex
	buckets  [NumBuckets]map[Account]struct{}
}

// NewWatermarkFactory validates the config and builds a factory. The
// tracking threshold must be zero (use the default) or a power of two.
func NewWatermarkFactory(
	config *Config,
	logger hclog.Logger,
	m *Metrics,
	rt *runtime.Store,
) (*WatermarkFactory, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if m == nil {
		m = NilMetrics()
	}

	bitshift := uint32(defaultTrackingBitshift)
	if threshold := config.AccountTrackingThresholdBytes; threshold != 0 {
		bitshift = uint32(bits.Len64(threshold - 1))
	}

	f := &WatermarkFactory{
		logger:   logger.Named("buffer-factory"),
		metrics:  m,
		rt:       rt,
		bitshift: bitshift,
	}

	for i := range f.buckets {
		f.buckets[i] = make(map[Account]struct{})
	}

	return f, nil
}

// CreateBuffer builds a watermark buffer wired to the factory's runtime
// overflow multiplier.
func (f *WatermarkFactory) CreateBuffer(belowLow, aboveHigh, aboveOverflow func()) *WatermarkBuffer {
	b := NewWatermarkBuffer(f.logger, belowLow, aboveHigh, aboveOverflow)
	b.overflowMultiplier = f.overflowMultiplier

	return b
}

// CreateAccount builds an account stamped with the factory's bitshift and
// wired to the given stream reset handler.
func (f *WatermarkFactory) CreateAccount(handler StreamResetHandler) Account {
	account := &memoryAccount{
		factory:  f,
		bitshift: f.bitshift,
		bucket:   noBucket,
		handler:  handler,
	}
	account.self = account

	return account
}

// ResetAccountsAtOrAbove walks buckets k..NumBuckets-1 and forwards an
// overload reset to every account found. Returns the number of accounts
// reset.
//
// Membership may change while the handlers run (a reset stream tears
// down and unregisters), so the walk snapshots each set under the lock
// and posts the resets after releasing it.
func (f *WatermarkFactory) ResetAccountsAtOrAbove(bucket uint32) uint64 {
	if bucket >= NumBuckets {
		panic(fmt.Sprintf("bucket index %d is out of range", bucket))
	}

	f.setsLock.Lock()

	var victims []Account

	for i := int(bucket); i < NumBuckets; i++ {
		f.logger.Info("resetting streams in bucket", "bucket", i, "streams", len(f.buckets[i]))

		for account := range f.buckets[i] {
			victims = append(victims, account)
		}
	}

	f.setsLock.Unlock()

	for _, account := range victims {
		account.ResetDownstream(ResetReasonOverloadManager)
	}

	f.metrics.ShedStreams.Add(float64(len(victims)))

	return uint64(len(victims))
}

// Close verifies every account has unregistered. Outstanding accounts at
// teardown are leaked streams.
func (f *WatermarkFactory) Close() {
	f.setsLock.Lock()
	defer f.setsLock.Unlock()

	for i, set := range f.buckets {
		if len(set) != 0 {
			panic(fmt.Sprintf("bucket %d still holds %d accounts at factory close", i, len(set)))
		}
	}
}

// updateAccountClass moves the account between bucket sets. Either index
// may be noBucket, but they must differ.
func (f *WatermarkFactory) updateAccountClass(account Account, currentBucket, newBucket int) {
	if currentBucket == newBucket {
		panic("account class transition between equal classes")
	}

	f.setsLock.Lock()
	defer f.setsLock.Unlock()

	if currentBucket != noBucket {
		if _, ok := f.buckets[currentBucket][account]; !ok {
			panic(fmt.Sprintf("account missing from bucket %d during class transition", currentBucket))
		}

		delete(f.buckets[currentBucket], account)
	}

	if newBucket != noBucket {
		if _, ok := f.buckets[newBucket][account]; ok {
			panic(fmt.Sprintf("account already present in bucket %d during class transition", newBucket))
		}

		f.buckets[newBucket][account] = struct{}{}
	}

	f.metrics.TrackedAccounts.Set(float64(f.trackedLocked()))
}

// unregisterAccount removes the account from its bucket set. Benign
// no-op for untracked accounts.
func (f *WatermarkFactory) unregisterAccount(account Account, currentBucket int) {
	if currentBucket == noBucket {
		return
	}

	f.setsLock.Lock()
	defer f.setsLock.Unlock()

	if _, ok := f.buckets[currentBucket][account]; !ok {
		panic(fmt.Sprintf("account missing from bucket %d during unregister", currentBucket))
	}

	delete(f.buckets[currentBucket], account)
	f.metrics.TrackedAccounts.Set(float64(f.trackedLocked()))
}

func (f *WatermarkFactory) trackedLocked() (total int) {
	for _, set := range f.buckets {
		total += len(set)
	}

	return
}

// overflowMultiplier reads the runtime overflow multiplier, 0 when no
// runtime store is wired.
func (f *WatermarkFactory) overflowMultiplier() uint64 {
	if f.rt == nil {
		return 0
	}

	return f.rt.GetInteger(RuntimeOverflowMultiplierKey, 0)
}

// bucketOf reports the bucket currently holding the account, noBucket if
// untracked. Test and diagnostics helper.
func (f *WatermarkFactory) bucketOf(account Account) int {
	f.setsLock.Lock()
	defer f.setsLock.Unlock()

	for i, set := range f.buckets {
		if _, ok := set[account]; ok {
			return i
		}
	}

	return noBucket
}

// bucketSize reports the number of accounts tracked in the given bucket.
func (f *WatermarkFactory) bucketSize(bucket int) int {
	f.setsLock.Lock()
	defer f.setsLock.Unlock()

	return len(f.buckets[bucket])
}
