package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDGenerator_UniqueIDs(t *testing.T) {
	gen := UUIDGenerator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen.NewID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestUUIDGenerator_SuffixLength(t *testing.T) {
	gen := UUIDGenerator{}
	assert.Len(t, gen.Suffix(), 12)
}

func TestFixedGenerator_ReturnsValuesInOrder(t *testing.T) {
	gen := NewFixedGenerator("one", "two")
	assert.Equal(t, "one", gen.NewID())
	assert.Equal(t, "two", gen.Suffix())
	assert.Panics(t, func() { gen.NewID() })
}

func TestDerivedID(t *testing.T) {
	assert.Equal(t, "EXEC001-var-abc123", DerivedID("EXEC001", "var", "abc123"))
}

func TestNormalizeText(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed form.
	assert.Equal(t, "caf\u00e9", NormalizeText("  cafe\u0301 "))
}
