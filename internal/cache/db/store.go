// Package db implements the per-layer KV cache store: fixed-capacity layers with
// order-preserving append, exact eviction by position and compaction.
// Per-layer counters are atomics so telemetry can read them without locks.
package db

import (
	"context"

	"github.com/Borislavv/go-ash-speculate/internal/cache/db/model"
)

// Store groups the layers of one model cache.
type Store struct {
	layers []*Layer
	dim    int
}

// NewStore creates one layer per budget with headroom extra slots for in-flight speculation.
func NewStore(budgets []int, headroom, dim int) *Store {
	s := &Store{layers: make([]*Layer, len(budgets)), dim: dim}
	for i, b := range budgets {
		s.layers[i] = NewLayer(i, b, b+headroom)
	}
	return s
}

func (s *Store) Layer(i int) *Layer { return s.layers[i] }
func (s *Store) NumLayers() int     { return len(s.layers) }
func (s *Store) Dim() int           { return s.dim }

// Len is the total number of live entries over all layers.
func (s *Store) Len() (n int64) {
	for _, l := range s.layers {
		n += l.Len()
	}
	return n
}

// Mem is the total K/V payload in bytes.
func (s *Store) Mem() (n int64) {
	for _, l := range s.layers {
		n += l.Weight()
	}
	return n
}

// Budget is the total budget over all layers.
func (s *Store) Budget() (n int64) {
	for _, l := range s.layers {
		n += int64(l.Budget())
	}
	return n
}

// OverBudget reports whether any layer holds more than its budget.
func (s *Store) OverBudget() bool {
	for _, l := range s.layers {
		if l.Len() > int64(l.Budget()) {
			return true
		}
	}
	return false
}

// Room is the smallest number of free slots over all layers.
func (s *Store) Room() int {
	room := -1
	for _, l := range s.layers {
		if free := l.Capacity() - int(l.Len()); room < 0 || free < room {
			room = free
		}
	}
	return max(room, 0)
}

// Append stores e in layer.
func (s *Store) Append(layer int, e *model.Entry) error {
	return s.layers[layer].Append(e)
}

// Evict removes positions from layer.
func (s *Store) Evict(layer int, positions []int32) (freedBytes, evicted int64) {
	return s.layers[layer].Evict(positions)
}

// Truncate removes every position >= from in every layer.
func (s *Store) Truncate(from int32) (freedBytes, evicted int64) {
	for _, l := range s.layers {
		f, e := l.Truncate(from)
		freedBytes += f
		evicted += e
	}
	return
}

// Compact repacks every layer.
func (s *Store) Compact() {
	for _, l := range s.layers {
		l.Compact()
	}
}

// WalkLayers applies fn to all layers synchronously.
func (s *Store) WalkLayers(ctx context.Context, fn func(layer *Layer)) {
	for _, l := range s.layers {
		if ctx.Err() != nil {
			return
		}
		fn(l)
	}
}

// Clear wipes all layers.
func (s *Store) Clear() (freedBytes, items int64) {
	for _, l := range s.layers {
		f, n := l.Clear()
		freedBytes += f
		items += n
	}
	return
}

// View captures the live positions and vectors of every layer. The snapshot keeps
// the position order a scorer saw even if the store is compacted afterwards.
func (s *Store) View() *View {
	v := &View{
		positions: make([][]int32, len(s.layers)),
		keys:      make([][][]float64, len(s.layers)),
		values:    make([][][]float64, len(s.layers)),
	}
	for i, l := range s.layers {
		entries := l.Entries()
		v.positions[i] = make([]int32, len(entries))
		v.keys[i] = make([][]float64, len(entries))
		v.values[i] = make([][]float64, len(entries))
		for j, e := range entries {
			v.positions[i][j] = e.Pos()
			v.keys[i][j] = e.Key()
			v.values[i][j] = e.Value()
		}
	}
	return v
}

// View is an immutable model.CacheView snapshot.
type View struct {
	positions [][]int32
	keys      [][][]float64
	values    [][][]float64
}

func (v *View) NumLayers() int               { return len(v.positions) }
func (v *View) Positions(layer int) []int32  { return v.positions[layer] }
func (v *View) Keys(layer int) [][]float64   { return v.keys[layer] }
func (v *View) Values(layer int) [][]float64 { return v.values[layer] }
