package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockAdvancesPerCall(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(base, time.Second)

	assert.Equal(t, base, c.Now())
	assert.Equal(t, base.Add(time.Second), c.Now())
	assert.Equal(t, base.Add(time.Second), c.Current())
}

func TestClockReset(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(base, time.Minute)
	c.Now()
	c.Now()

	c.Reset(base)
	assert.Equal(t, base, c.Now())
}

func TestClockConcurrentNowIsStrictlyIncreasing(t *testing.T) {
	c := NewTickingClock()

	const calls = 64
	times := make([]time.Time, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			times[i] = c.Now()
		}(i)
	}
	wg.Wait()

	seen := make(map[time.Time]bool, calls)
	for _, ts := range times {
		require.False(t, seen[ts], "duplicate timestamp %v", ts)
		seen[ts] = true
	}
}
