package buffer

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
)

// memoryAccount tracks allocated bytes across the buffers bound to one
// stream. Produced by the WatermarkFactory; balance mutations stay on the
// stream's worker, while ResetDownstream may arrive from the overload
// coordinator.
type memoryAccount struct {
	factory *WatermarkFactory

	// Factory-wide shift deriving the size class from the balance.
	bitshift uint32

	balance uint64

	// Bucket the account is currently tracked in, or noBucket.
	bucket int

	// Handle the factory's bucket sets hold so a tracked account stays
	// reachable for shedding. Cleared when the downstream is cleared.
	self Account

	// handlerLock guards handler against a reset racing a clear.
	handlerLock sync.Mutex
	handler     StreamResetHandler
	cleared     bool
}

// noBucket marks an account whose balance is below the tracking
// threshold.
const noBucket = -1

func (a *memoryAccount) Balance() uint64 {
	return a.balance
}

func (a *memoryAccount) Charge(amount uint64) {
	if math.MaxUint64-a.balance < amount {
		panic(fmt.Sprintf("account balance overflow: %d + %d", a.balance, amount))
	}

	a.balance += amount
	a.updateClass()
}

func (a *memoryAccount) Credit(amount uint64) {
	if a.balance < amount {
		panic(fmt.Sprintf("credit of %d exceeds account balance %d", amount, a.balance))
	}

	a.balance -= amount
	a.updateClass()
}

func (a *memoryAccount) ResetDownstream(reason ResetReason) {
	a.handlerLock.Lock()
	handler := a.handler
	a.handlerLock.Unlock()

	// Best effort: the clear may have won the race, in which case the
	// stream is already going away.
	if handler != nil {
		handler.ResetStream(reason)
	}
}

func (a *memoryAccount) ClearDownstream() {
	a.handlerLock.Lock()

	if a.cleared {
		a.handlerLock.Unlock()

		return
	}

	a.cleared = true
	a.handler = nil
	a.handlerLock.Unlock()

	a.factory.unregisterAccount(a.self, a.bucket)
	a.bucket = noBucket
	a.self = nil
}

// balanceToBucket classifies the balance into one of the logarithmic
// size classes: one bucket per power-of-two band above the tracking
// threshold, saturating at the last bucket. Returns noBucket below the
// threshold.
func (a *memoryAccount) balanceToBucket() int {
	shifted := a.balance >> a.bitshift
	if shifted == 0 {
		return noBucket
	}

	bucket := bits.Len64(shifted) - 1
	if bucket > NumBuckets-1 {
		bucket = NumBuckets - 1
	}

	return bucket
}

// updateClass moves the account between bucket sets when a balance change
// crossed a class boundary.
func (a *memoryAccount) updateClass() {
	newBucket := a.balanceToBucket()

	if a.self != nil && newBucket != a.bucket {
		a.factory.updateAccountClass(a.self, a.bucket, newBucket)
		a.bucket = newBucket
	}
}
