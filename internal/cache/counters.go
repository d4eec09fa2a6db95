package cache

import "sync/atomic"

type counters struct {
	appended         atomic.Int64
	rewound          atomic.Int64
	hardEvictedItems atomic.Int64
	hardEvictedBytes atomic.Int64
}

func newCounters() *counters {
	return &counters{
		appended:         atomic.Int64{},
		rewound:          atomic.Int64{},
		hardEvictedItems: atomic.Int64{},
		hardEvictedBytes: atomic.Int64{},
	}
}

func (c *counters) snapshot() (appended, rewound, hardEvictedItems, hardEvictedBytes int64) {
	return c.appended.Load(), c.rewound.Load(), c.hardEvictedItems.Load(), c.hardEvictedBytes.Load()
}
