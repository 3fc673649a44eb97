package buffer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl"
	"gopkg.in/yaml.v3"
)

// Config holds the factory configuration params.
type Config struct {
	// AccountTrackingThresholdBytes is the minimum balance at which an
	// account becomes tracked in the bucket index. Zero selects the
	// 256 KiB default; any other value must be a power of two.
	AccountTrackingThresholdBytes uint64 `json:"account_tracking_threshold_bytes" yaml:"account_tracking_threshold_bytes" hcl:"account_tracking_threshold_bytes"`

	// RuntimeOverrides seeds the runtime store consulted for keys such
	// as buffer.overflow_multiplier.
	RuntimeOverrides map[string]string `json:"runtime_overrides" yaml:"runtime_overrides" hcl:"runtime_overrides"`
}

// DefaultConfig returns the default factory configuration.
func DefaultConfig() *Config {
	return &Config{
		AccountTrackingThresholdBytes: 0,
	}
}

// Validate checks the config invariants enforced at startup.
func (c *Config) Validate() error {
	if t := c.AccountTrackingThresholdBytes; t != 0 && t&(t-1) != 0 {
		return fmt.Errorf("%w: got %d", ErrTrackingThresholdNotPowerOfTwo, t)
	}

	return nil
}

// ReadConfigFile reads the config file from the specified path, builds a
// Config object and returns it.
//
// Supported file types: .json, .hcl, .yaml, .yml
func ReadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var unmarshalFunc func([]byte, interface{}) error

	switch {
	case strings.HasSuffix(path, ".hcl"):
		unmarshalFunc = hcl.Unmarshal
	case strings.HasSuffix(path, ".json"):
		unmarshalFunc = json.Unmarshal
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		unmarshalFunc = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("suffix of %s is neither hcl, json, yaml nor yml", path)
	}

	config := DefaultConfig()

	if err := unmarshalFunc(data, config); err != nil {
		return nil, err
	}

	return config, nil
}
