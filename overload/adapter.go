package overload

import (
	"math"

	"github.com/riverbend-labs/river-edge/buffer"
)

// ResetStreamsAdapter translates a memory pressure reading into the
// lowest bucket index the factory should shed. The mapping is linear
// between a lower and an upper pressure limit, both expressed as
// percentages: below the lower limit nothing is shed, at the upper limit
// every tracked bucket is shed, and in between each pressure gradation
// pulls one more bucket into the reset.
type ResetStreamsAdapter struct {
	lowerLimit float64
	upperLimit float64
	gradation  float64
}

// NewResetStreamsAdapter builds an adapter for the given pressure limits
// in [0, 100].
func NewResetStreamsAdapter(lowerLimit, upperLimit float64) (*ResetStreamsAdapter, error) {
	if err := validateLimits(lowerLimit, upperLimit); err != nil {
		return nil, err
	}

	return &ResetStreamsAdapter{
		lowerLimit: lowerLimit,
		upperLimit: upperLimit,
		gradation:  (upperLimit - lowerLimit) / buffer.NumBuckets,
	}, nil
}

// BucketsToReset maps a pressure reading in [0, 1] to the lowest bucket
// index to shed. The second return value is false when pressure is below
// the lower limit and nothing should be shed.
func (a *ResetStreamsAdapter) BucketsToReset(pressure float64) (uint32, bool) {
	// Scale from [0, 1] to [0, 100].
	currentPressure := pressure * 100

	if currentPressure < a.lowerLimit {
		return 0, false
	}

	if currentPressure >= a.upperLimit {
		// Reset all buckets
		return 0, true
	}

	bucketsToClear := int(math.Floor((currentPressure-a.lowerLimit)/a.gradation)) + 1

	return uint32(buffer.NumBuckets - bucketsToClear), true
}
