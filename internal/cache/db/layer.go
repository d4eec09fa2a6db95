package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Borislavv/go-ash-speculate/internal/cache/db/model"
	pubmodel "github.com/Borislavv/go-ash-speculate/model"
)

// Layer is the fixed-capacity KV storage of one transformer layer.
// Live entries sit in slots[0:tail) in strictly increasing position order;
// Evict leaves nil holes that Compact squeezes out.
// Append and Evict are mutually exclusive under the layer lock.
type Layer struct {
	sync.RWMutex
	slots []*model.Entry
	idx   map[int32]int // position -> slot, valid until the next Compact

	id         int
	budget     int    // max live entries at the end of a step
	tail       int    // first unused slot
	len        int64  // number of live entries (atomic)
	mem        int64  // total K/V payload in bytes (atomic)
	generation uint64 // bumped by every Compact (atomic)
}

// NewLayer allocates capacity slots. Capacity above budget is the speculation headroom.
func NewLayer(id, budget, capacity int) *Layer {
	if capacity < budget {
		capacity = budget
	}
	return &Layer{
		id:     id,
		budget: budget,
		slots:  make([]*model.Entry, capacity),
		idx:    make(map[int32]int, capacity),
	}
}

func (l *Layer) ID() int            { return l.id }
func (l *Layer) Budget() int        { return l.budget }
func (l *Layer) Capacity() int      { return len(l.slots) }
func (l *Layer) Len() int64         { return atomic.LoadInt64(&l.len) }
func (l *Layer) Weight() int64      { return atomic.LoadInt64(&l.mem) }
func (l *Layer) Generation() uint64 { return atomic.LoadUint64(&l.generation) }

// Append stores e after the last live position. It never evicts: a full layer is a
// contract violation reported as ErrCapacityExceeded.
func (l *Layer) Append(e *model.Entry) error {
	l.Lock()
	defer l.Unlock()

	if int(l.Len()) >= len(l.slots) {
		return fmt.Errorf("%w: layer %d holds %d entries, position %d", pubmodel.ErrCapacityExceeded, l.id, l.Len(), e.Pos())
	}
	if last, ok := l.lastUnlocked(); ok && e.Pos() <= last.Pos() {
		return fmt.Errorf("%w: layer %d position %d after %d", pubmodel.ErrPositionOrder, l.id, e.Pos(), last.Pos())
	}
	if l.tail == len(l.slots) {
		l.compactUnlocked()
	}

	l.slots[l.tail] = e
	l.idx[e.Pos()] = l.tail
	l.tail++
	atomic.AddInt64(&l.len, 1)
	atomic.AddInt64(&l.mem, e.Weight())
	return nil
}

// Get returns the live entry at pos.
func (l *Layer) Get(pos int32) (*model.Entry, bool) {
	l.RLock()
	defer l.RUnlock()
	i, ok := l.idx[pos]
	if !ok {
		return nil, false
	}
	return l.slots[i], true
}

// Evict removes exactly the given positions. Absent positions are ignored.
func (l *Layer) Evict(positions []int32) (freedBytes, evicted int64) {
	l.Lock()
	defer l.Unlock()
	for _, pos := range positions {
		freedBytes, evicted = l.removeUnlocked(pos, freedBytes, evicted)
	}
	return
}

// Truncate removes every position >= from.
func (l *Layer) Truncate(from int32) (freedBytes, evicted int64) {
	l.Lock()
	defer l.Unlock()
	for i := l.tail - 1; i >= 0; i-- {
		e := l.slots[i]
		if e == nil {
			continue
		}
		if e.Pos() < from {
			break
		}
		freedBytes, evicted = l.removeUnlocked(e.Pos(), freedBytes, evicted)
	}
	return
}

// Compact repacks live entries densely, preserving order.
// Slot indices captured before the call are stale afterwards.
func (l *Layer) Compact() {
	l.Lock()
	l.compactUnlocked()
	l.Unlock()
}

// Entries returns the live entries in position order.
func (l *Layer) Entries() []*model.Entry {
	l.RLock()
	defer l.RUnlock()
	out := make([]*model.Entry, 0, l.Len())
	for _, e := range l.slots[:l.tail] {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Positions returns the live positions in order.
func (l *Layer) Positions() []int32 {
	l.RLock()
	defer l.RUnlock()
	out := make([]int32, 0, l.Len())
	for _, e := range l.slots[:l.tail] {
		if e != nil {
			out = append(out, e.Pos())
		}
	}
	return out
}

// Walk iterates live entries in order under a shared lock. The callback must be lightweight.
func (l *Layer) Walk(ctx context.Context, fn func(*model.Entry) bool) {
	l.RLock()
	defer l.RUnlock()
	for _, e := range l.slots[:l.tail] {
		if e == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
			if !fn(e) {
				return
			}
		}
	}
}

// Clear removes all entries and returns (freedBytes, itemsRemoved).
func (l *Layer) Clear() (freedBytes int64, items int64) {
	l.Lock()
	items = atomic.LoadInt64(&l.len)
	freedBytes = atomic.LoadInt64(&l.mem)
	clear(l.slots)
	clear(l.idx)
	l.tail = 0
	atomic.StoreInt64(&l.len, 0)
	atomic.StoreInt64(&l.mem, 0)
	atomic.AddUint64(&l.generation, 1)
	l.Unlock()
	return
}

func (l *Layer) removeUnlocked(pos int32, freedBytes, evicted int64) (int64, int64) {
	i, ok := l.idx[pos]
	if !ok {
		return freedBytes, evicted
	}
	e := l.slots[i]
	l.slots[i] = nil
	delete(l.idx, pos)
	w := e.Weight()
	atomic.AddInt64(&l.len, -1)
	atomic.AddInt64(&l.mem, -w)
	if i == l.tail-1 {
		// trailing holes are reclaimed immediately
		for l.tail > 0 && l.slots[l.tail-1] == nil {
			l.tail--
		}
	}
	return freedBytes + w, evicted + 1
}

func (l *Layer) lastUnlocked() (*model.Entry, bool) {
	for i := l.tail - 1; i >= 0; i-- {
		if e := l.slots[i]; e != nil {
			return e, true
		}
	}
	return nil, false
}

func (l *Layer) compactUnlocked() {
	n := 0
	for i := 0; i < l.tail; i++ {
		if e := l.slots[i]; e != nil {
			l.slots[n] = e
			l.idx[e.Pos()] = n
			n++
		}
	}
	clear(l.slots[n:l.tail])
	l.tail = n
	atomic.AddUint64(&l.generation, 1)
}
