package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Borislavv/go-ash-speculate/internal/cache/db"
	entry "github.com/Borislavv/go-ash-speculate/internal/cache/db/model"
	"github.com/Borislavv/go-ash-speculate/internal/policy"
	"github.com/Borislavv/go-ash-speculate/internal/recovery"
	"github.com/Borislavv/go-ash-speculate/model"
)

// Cache is the KV cache of one model in one session. It mirrors the committed
// token sequence: every appended entry belongs to a token the model has scored,
// and Rewind drops whatever a rejected speculation left behind.
type Cache struct {
	name     string
	decay    float64
	store    *db.Store
	logger   *slog.Logger
	counters *counters
	cursor   int32  // next position to feed
	step     uint64 // committed rows so far
}

// New allocates one layer per budget with headroom extra slots for in-flight tokens.
func New(name string, budgets []int, headroom, dim int, decay float64, logger *slog.Logger) *Cache {
	return &Cache{
		name:     name,
		decay:    decay,
		logger:   logger,
		counters: newCounters(),
		store:    db.NewStore(budgets, headroom, dim),
	}
}

func (c *Cache) Name() string     { return c.name }
func (c *Cache) Store() *db.Store { return c.store }
func (c *Cache) Cursor() int32    { return c.cursor }
func (c *Cache) Step() uint64     { return c.step }
func (c *Cache) View() *db.View   { return c.store.View() }
func (c *Cache) Len() int64       { return c.store.Len() }
func (c *Cache) Mem() int64       { return c.store.Mem() }
func (c *Cache) Budget() int64    { return c.store.Budget() }
func (c *Cache) Room() int        { return c.store.Room() }
func (c *Cache) OverBudget() bool { return c.store.OverBudget() }
func (c *Cache) NumLayers() int   { return c.store.NumLayers() }

// Budgets returns the budget of every layer.
func (c *Cache) Budgets() []int {
	out := make([]int, c.store.NumLayers())
	for i := range out {
		out[i] = c.store.Layer(i).Budget()
	}
	return out
}

// Clear drops every entry and restarts the sequence at position zero.
func (c *Cache) Clear() {
	c.store.Clear()
	c.cursor, c.step = 0, 0
}

func (c *Cache) CacheMetrics() (appended, rewound, hardEvictedItems, hardEvictedBytes int64) {
	return c.counters.snapshot()
}

// Commit appends the KV entries of the first rows request tokens and credits the
// attention those rows paid to every visible entry. view must be the snapshot the
// scorer saw and the store must not have been evicted since it was taken.
//
// Room is checked up front so that a failing commit leaves the cache untouched.
// The returned steps hold the attention of each committed row per layer.
func (c *Cache) Commit(view model.CacheView, tokens []model.Token, res *model.ScoreResult, rows int) ([]recovery.Step, error) {
	if rows <= 0 {
		return nil, nil
	}
	if rows > len(tokens) {
		return nil, fmt.Errorf("%w: %s commits %d rows of %d tokens", model.ErrPositionOrder, c.name, rows, len(tokens))
	}
	if tokens[0].Pos != c.cursor {
		return nil, fmt.Errorf("%w: %s expects position %d, got %d", model.ErrPositionOrder, c.name, c.cursor, tokens[0].Pos)
	}
	if room := c.store.Room(); room < rows {
		return nil, fmt.Errorf("%w: %s has room for %d of %d entries", model.ErrCapacityExceeded, c.name, room, rows)
	}

	steps := make([]recovery.Step, rows)
	for i := range steps {
		steps[i] = make(recovery.Step, c.store.NumLayers())
	}

	for l := 0; l < c.store.NumLayers(); l++ {
		layer := c.store.Layer(l)
		cached := view.Positions(l)

		visible := make([]*entry.Entry, 0, len(cached)+rows)
		for _, pos := range cached {
			e, _ := layer.Get(pos)
			visible = append(visible, e)
		}

		for i := 0; i < rows; i++ {
			e := entry.NewEntry(tokens[i].Pos, res.Keys[l][i], res.Values[l][i])
			if err := layer.Append(e); err != nil {
				return nil, err
			}
			visible = append(visible, e)

			weights := res.Attention[l][i][:len(cached)+i+1]
			step := c.step + uint64(i) + 1
			for j, w := range weights {
				if visible[j] != nil {
					visible[j].Observe(w, step, c.decay)
				}
			}

			positions := make([]int32, len(weights))
			copy(positions, cached)
			for j := 0; j <= i; j++ {
				positions[len(cached)+j] = tokens[j].Pos
			}
			steps[i][l] = recovery.Row{Positions: positions, Weights: append([]float64(nil), weights...)}
		}
	}

	c.step += uint64(rows)
	c.cursor = tokens[rows-1].Pos + 1
	c.counters.appended.Add(int64(rows * c.store.NumLayers()))
	return steps, nil
}

// Rewind drops every entry at or after from and moves the cursor back.
func (c *Cache) Rewind(from int32) (evicted int64) {
	_, evicted = c.store.Truncate(from)
	if from < c.cursor {
		c.cursor = from
	}
	if evicted > 0 {
		c.counters.rewound.Add(evicted)
	}
	return evicted
}

// Candidates exposes the live positions and scores of every layer to the policy engine.
func (c *Cache) Candidates() [][]policy.Candidate {
	out := make([][]policy.Candidate, c.store.NumLayers())
	c.store.WalkLayers(context.Background(), func(layer *db.Layer) {
		entries := layer.Entries()
		cands := make([]policy.Candidate, len(entries))
		for i, e := range entries {
			cands[i] = policy.Candidate{Pos: e.Pos(), Score: e.Score()}
		}
		out[layer.ID()] = cands
	})
	return out
}

// HardEvictUntilWithinBudget drops the oldest non-anchor entries of every layer
// above its budget. Policies that keep the budget never trigger it.
func (c *Cache) HardEvictUntilWithinBudget(anchors int32) (freed, evicted int64) {
	if !c.store.OverBudget() {
		return 0, 0
	}
	freed, evicted = c.store.EvictUntilWithinBudget(anchors)
	if evicted > 0 {
		c.counters.hardEvictedItems.Add(evicted)
		c.counters.hardEvictedBytes.Add(freed)
		c.store.Compact()
		c.logger.Debug("hard limit eviction", "cache", c.name, "evicted", evicted, "freed_bytes", freed)
	}
	return freed, evicted
}
