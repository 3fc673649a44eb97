package runtime

import (
	"strconv"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Store is a thread-safe snapshot of runtime key overrides. Components
// consult it for tunables that may change while the process runs, falling
// back to a caller-supplied default when a key is absent or malformed.
type Store struct {
	logger hclog.Logger

	valuesLock sync.RWMutex
	values     map[string]string
}

// NewStore builds a store seeded with the given overrides.
func NewStore(logger hclog.Logger, overrides map[string]string) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	values := make(map[string]string, len(overrides))
	for key, value := range overrides {
		values[key] = value
	}

	return &Store{
		logger: logger.Named("runtime"),
		values: values,
	}
}

// Set installs or replaces an override.
func (s *Store) Set(key, value string) {
	s.valuesLock.Lock()
	defer s.valuesLock.Unlock()

	s.values[key] = value
}

// Delete removes an override, restoring the default for the key.
func (s *Store) Delete(key string) {
	s.valuesLock.Lock()
	defer s.valuesLock.Unlock()

	delete(s.values, key)
}

// GetInteger returns the key's value as an unsigned integer, or the
// default when the key is absent or does not parse.
func (s *Store) GetInteger(key string, defaultValue uint64) uint64 {
	raw, ok := s.get(key)
	if !ok {
		return defaultValue
	}

	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.logger.Warn("runtime key does not parse as an integer", "key", key, "value", raw)

		return defaultValue
	}

	return value
}

// GetDouble returns the key's value as a float, or the default when the
// key is absent or does not parse.
func (s *Store) GetDouble(key string, defaultValue float64) float64 {
	raw, ok := s.get(key)
	if !ok {
		return defaultValue
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.logger.Warn("runtime key does not parse as a float", "key", key, "value", raw)

		return defaultValue
	}

	return value
}

func (s *Store) get(key string) (string, bool) {
	s.valuesLock.RLock()
	defer s.valuesLock.RUnlock()

	value, ok := s.values[key]

	return value, ok
}
