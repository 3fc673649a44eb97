package buffer

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestWatermarkFactory_ConfigValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		threshold uint64
		valid     bool
		bitshift  uint32
	}{
		{name: "default threshold", threshold: 0, valid: true, bitshift: 18},
		{name: "power of two", threshold: 1024, valid: true, bitshift: 10},
		{name: "one megabyte", threshold: 1 << 20, valid: true, bitshift: 20},
		{name: "not a power of two", threshold: 1000, valid: false},
		{name: "odd threshold", threshold: 3, valid: false},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			factory, err := NewWatermarkFactory(
				&Config{AccountTrackingThresholdBytes: c.threshold},
				hclog.NewNullLogger(),
				NilMetrics(),
				nil,
			)

			if !c.valid {
				require.ErrorIs(t, err, ErrTrackingThresholdNotPowerOfTwo)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, c.bitshift, factory.bitshift)
			factory.Close()
		})
	}
}

// chargeIntoBucket sizes the balance so the account lands exactly in the
// wanted bucket.
func chargeIntoBucket(t *testing.T, factory *WatermarkFactory, account Account, bucket int) {
	t.Helper()

	account.Charge(1 << (factory.bitshift + uint32(bucket)))
	require.Equal(t, bucket, factory.bucketOf(account))
}

func TestWatermarkFactory_SheddingWalk(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)

	accounts := make(map[int]Account)
	handlers := make(map[int]*mockResetHandler)

	for _, bucket := range []int{3, 5, 7} {
		account, handler := newTestAccount(t, factory)
		chargeIntoBucket(t, factory, account, bucket)

		accounts[bucket] = account
		handlers[bucket] = handler
	}

	reset := factory.ResetAccountsAtOrAbove(5)
	assert.Equal(t, uint64(2), reset)

	// Exactly the bucket-5 and bucket-7 accounts were reset.
	assert.Equal(t, []ResetReason{ResetReasonOverloadManager}, handlers[5].resets)
	assert.Equal(t, []ResetReason{ResetReasonOverloadManager}, handlers[7].resets)
	assert.Empty(t, handlers[3].resets)

	// The reset streams tore down and unregistered; bucket 3 is
	// untouched.
	assert.Zero(t, factory.bucketSize(5))
	assert.Zero(t, factory.bucketSize(6))
	assert.Zero(t, factory.bucketSize(7))
	assert.Equal(t, 1, factory.bucketSize(3))
	assert.Equal(t, 3, factory.bucketOf(accounts[3]))

	accounts[3].ClearDownstream()
	factory.Close()
}

func TestWatermarkFactory_ShedEverything(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)

	account, handler := newTestAccount(t, factory)
	chargeIntoBucket(t, factory, account, 0)

	reset := factory.ResetAccountsAtOrAbove(0)
	assert.Equal(t, uint64(1), reset)
	assert.Len(t, handler.resets, 1)

	factory.Close()
}

func TestWatermarkFactory_ShedBucketOutOfRangePanics(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)
	defer factory.Close()

	assert.Panics(t, func() {
		factory.ResetAccountsAtOrAbove(NumBuckets)
	})
}

func TestWatermarkFactory_CloseWithOutstandingAccountsPanics(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)
	account, _ := newTestAccount(t, factory)

	chargeIntoBucket(t, factory, account, 2)

	assert.Panics(t, func() {
		factory.Close()
	})
}

func TestWatermarkFactory_EqualClassTransitionPanics(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)
	defer factory.Close()

	account, _ := newTestAccount(t, factory)

	assert.Panics(t, func() {
		factory.updateAccountClass(account, 2, 2)
	})
}

func TestWatermarkFactory_UnregisterUntrackedIsNoop(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)

	account, _ := newTestAccount(t, factory)

	// Never charged past the threshold, so never tracked.
	account.Charge(16)
	account.Credit(16)
	account.ClearDownstream()

	factory.Close()
}

// Accounts on concurrent workers register, reclassify and unregister
// against the shared bucket index.
func TestWatermarkFactory_ConcurrentWorkers(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)

	var group errgroup.Group

	for worker := 0; worker < 8; worker++ {
		group.Go(func() error {
			for i := 0; i < 200; i++ {
				handler := &mockResetHandler{clearOnReset: true}
				account := factory.CreateAccount(handler)
				handler.account = account

				account.Charge(1 << 22)
				account.Charge(1 << 24)
				account.Credit(1 << 22)
				account.Credit(account.Balance())

				account.ClearDownstream()
			}

			return nil
		})
	}

	require.NoError(t, group.Wait())

	// Every account unregistered, so close must not panic.
	factory.Close()
}

// Shedding runs from a coordinator goroutine while workers keep
// registering and clearing accounts.
func TestWatermarkFactory_ConcurrentShedding(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t, nil)

	var group errgroup.Group

	for worker := 0; worker < 4; worker++ {
		group.Go(func() error {
			for i := 0; i < 100; i++ {
				// The reset handler of a real stream posts the reset
				// onto the owning worker; here the worker simply tears
				// the stream down itself right away.
				account := factory.CreateAccount(nil)

				account.Charge(1 << 25)
				account.Credit(account.Balance())
				account.ClearDownstream()
			}

			return nil
		})
	}

	group.Go(func() error {
		for i := 0; i < 50; i++ {
			factory.ResetAccountsAtOrAbove(0)
		}

		return nil
	})

	require.NoError(t, group.Wait())
	factory.Close()
}
