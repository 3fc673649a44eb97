package runtime

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
)

func TestStore_GetInteger(t *testing.T) {
	t.Parallel()

	store := NewStore(hclog.NewNullLogger(), map[string]string{
		"buffer.overflow_multiplier": "3",
		"not.a.number":               "three",
	})

	assert.Equal(t, uint64(3), store.GetInteger("buffer.overflow_multiplier", 0))
	assert.Equal(t, uint64(7), store.GetInteger("missing.key", 7))
	assert.Equal(t, uint64(7), store.GetInteger("not.a.number", 7))
}

func TestStore_GetDouble(t *testing.T) {
	t.Parallel()

	store := NewStore(hclog.NewNullLogger(), map[string]string{
		"overload.upper_limit": "97.5",
		"not.a.number":         "many",
	})

	assert.Equal(t, 97.5, store.GetDouble("overload.upper_limit", 0))
	assert.Equal(t, 1.5, store.GetDouble("missing.key", 1.5))
	assert.Equal(t, 1.5, store.GetDouble("not.a.number", 1.5))
}

func TestStore_SetAndDelete(t *testing.T) {
	t.Parallel()

	store := NewStore(hclog.NewNullLogger(), nil)

	assert.Equal(t, uint64(0), store.GetInteger("key", 0))

	store.Set("key", "42")
	assert.Equal(t, uint64(42), store.GetInteger("key", 0))

	store.Delete("key")
	assert.Equal(t, uint64(0), store.GetInteger("key", 0))
}
