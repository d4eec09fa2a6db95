package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCounters_Snapshot verifies that counters correctly track and snapshot metrics.
func TestCounters_Snapshot(t *testing.T) {
	c := newCounters()

	appended, rewound, items, bytes := c.snapshot()
	require.Zero(t, appended)
	require.Zero(t, rewound)
	require.Zero(t, items)
	require.Zero(t, bytes)

	c.appended.Add(10)
	c.rewound.Add(5)
	c.hardEvictedItems.Add(3)
	c.hardEvictedBytes.Add(1024)

	appended, rewound, items, bytes = c.snapshot()
	require.Equal(t, int64(10), appended)
	require.Equal(t, int64(5), rewound)
	require.Equal(t, int64(3), items)
	require.Equal(t, int64(1024), bytes)
}

// TestCounters_Concurrent verifies that counters are thread-safe.
func TestCounters_Concurrent(t *testing.T) {
	c := newCounters()

	const numGoroutines = 10
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Go(func() {
			for j := 0; j < opsPerGoroutine; j++ {
				c.appended.Add(1)
				c.rewound.Add(1)
				c.hardEvictedItems.Add(1)
				c.hardEvictedBytes.Add(100)
			}
		})
	}
	wg.Wait()

	appended, rewound, items, bytes := c.snapshot()
	require.Equal(t, int64(numGoroutines*opsPerGoroutine), appended)
	require.Equal(t, int64(numGoroutines*opsPerGoroutine), rewound)
	require.Equal(t, int64(numGoroutines*opsPerGoroutine), items)
	require.Equal(t, int64(numGoroutines*opsPerGoroutine*100), bytes)
}
