package overload

import (
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
)

// errors
var (
	ErrInvalidLowerLimit = errors.New("lower pressure limit must be within [0, 100)")
	ErrInvalidUpperLimit = errors.New("upper pressure limit must be within (0, 100]")
	ErrLimitsInverted    = errors.New("upper pressure limit must be greater than the lower limit")
	ErrInvalidInterval   = errors.New("sampling interval must be positive")
)

// DefaultSampleInterval is the period at which the monitor samples its
// pressure source.
const DefaultSampleInterval = 250 * time.Millisecond

// Config holds the overload monitor configuration params.
type Config struct {
	// LowerLimit is the pressure percentage below which no shedding
	// happens.
	LowerLimit float64 `json:"lower_limit" yaml:"lower_limit"`

	// UpperLimit is the pressure percentage at which every tracked
	// bucket is shed.
	UpperLimit float64 `json:"upper_limit" yaml:"upper_limit"`

	// SampleInterval is the period between pressure samples.
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`
}

// DefaultConfig returns the default overload monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		LowerLimit:     85,
		UpperLimit:     98,
		SampleInterval: DefaultSampleInterval,
	}
}

// Validate checks the config invariants enforced at startup.
func (c *Config) Validate() error {
	var errs error

	if err := validateLimits(c.LowerLimit, c.UpperLimit); err != nil {
		errs = multierror.Append(errs, err)
	}

	if c.SampleInterval <= 0 {
		errs = multierror.Append(errs, ErrInvalidInterval)
	}

	return errs
}

func validateLimits(lowerLimit, upperLimit float64) error {
	var errs error

	if lowerLimit < 0 || lowerLimit >= 100 {
		errs = multierror.Append(errs, ErrInvalidLowerLimit)
	}

	if upperLimit <= 0 || upperLimit > 100 {
		errs = multierror.Append(errs, ErrInvalidUpperLimit)
	}

	if upperLimit <= lowerLimit {
		errs = multierror.Append(errs, ErrLimitsInverted)
	}

	return errs
}
