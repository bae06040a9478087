package model

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces unique identifier components for records, branches,
// executions, and blueprint keys. Implemented by UUIDGenerator (production)
// and FixedGenerator (tests).
//
// Derived ids (fork targets) are built as "<base>-<tag>-<suffix>" where the
// suffix is collision-free, so no check-then-create loop is needed even
// under fast sequential forks.
type IDGenerator interface {
	// NewID returns a full unique identifier (used for record ids).
	NewID() string
	// Suffix returns a short unique component for derived ids.
	Suffix() string
}

// UUIDGenerator generates time-sortable UUIDv7 identifiers.
//
// UUIDv7 embeds a timestamp in the most significant bits, so record ids and
// fork suffixes sort by creation time, which helps when reading audit
// listings.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDGenerator struct{}

// NewID returns a hyphenated UUIDv7 string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDGenerator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Suffix returns the final, high-entropy segment of a UUIDv7
// (12 hex characters), short enough to keep derived ids readable.
func (g UUIDGenerator) Suffix() string {
	id := uuid.Must(uuid.NewV7()).String()
	return id[len(id)-12:]
}

// FixedGenerator returns predetermined identifiers for tests, enabling
// deterministic derived ids and golden comparisons.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	values []string
	idx    int
}

// NewFixedGenerator creates a generator that returns values in order.
// Panics when exhausted; fail-fast catches test misconfiguration.
func NewFixedGenerator(values ...string) *FixedGenerator {
	return &FixedGenerator{values: values}
}

func (g *FixedGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.values) {
		panic("FixedGenerator: all values exhausted")
	}
	v := g.values[g.idx]
	g.idx++
	return v
}

// NewID returns the next predetermined value.
func (g *FixedGenerator) NewID() string { return g.next() }

// Suffix returns the next predetermined value.
func (g *FixedGenerator) Suffix() string { return g.next() }

// DerivedID builds a fork/branch/rewind identifier from a base id, a short
// tag naming the operation ("var", "br"), and a generated suffix.
func DerivedID(base, tag, suffix string) string {
	return fmt.Sprintf("%s-%s-%s", base, tag, suffix)
}
