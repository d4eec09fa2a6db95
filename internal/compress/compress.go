// Package compress implements the one-time compressions applied while a prompt is
// ingested. They differ from the decode policies in what they look at: the prompt's
// own attention (SnapKV) or its keys (L2) rather than accumulated scores.
package compress

import (
	"cmp"
	"slices"

	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/internal/recovery"
	pq "github.com/emirpasic/gods/v2/queues/priorityqueue"
)

// Layer is one layer's cache right after a prompt chunk was committed.
type Layer struct {
	Positions []int32        // live positions, ascending
	Keys      [][]float64    // key vector per position
	Observed  []recovery.Row // attention of the latest prompt rows, oldest first
	Budget    int
	Anchors   int32 // positions below are always kept
	Recent    int   // trailing positions always kept by L2
}

type Compressor interface {
	Name() config.PromptCompression
	// Keep returns at most Budget positions in ascending order.
	Keep(in Layer) []int32
}

// New returns the compressor of strategy, or nil for "none".
func New(strategy config.PromptCompression) Compressor {
	switch strategy {
	case config.PromptCompressionRecentGlobal:
		return RecentGlobal{}
	case config.PromptCompressionSnapKV:
		return SnapKV{Window: ObservationWindow, Kernel: PoolKernel}
	case config.PromptCompressionL2:
		return L2{}
	default:
		return nil
	}
}

// RecentGlobal keeps the anchors and fills the rest of the budget with the most recent positions.
type RecentGlobal struct{}

func (RecentGlobal) Name() config.PromptCompression { return config.PromptCompressionRecentGlobal }

func (RecentGlobal) Keep(in Layer) []int32 {
	if len(in.Positions) <= in.Budget {
		return in.Positions
	}
	n := anchorCount(in)
	if n >= in.Budget {
		return slices.Clone(in.Positions[:in.Budget])
	}
	keep := slices.Clone(in.Positions[:n])
	return append(keep, in.Positions[len(in.Positions)-(in.Budget-n):]...)
}

func anchorCount(in Layer) int {
	n := 0
	for n < len(in.Positions) && in.Positions[n] < in.Anchors {
		n++
	}
	return n
}

type scored struct {
	pos   int32
	score float64
}

// top returns the positions of the k highest scores in ascending position order.
// Equal scores prefer the more recent position.
func top(items []scored, k int) []int32 {
	q := pq.NewWith(func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(b.pos, a.pos)
	})
	for _, it := range items {
		q.Enqueue(it)
	}
	out := make([]int32, 0, k)
	for range min(k, len(items)) {
		it, _ := q.Dequeue()
		out = append(out, it.pos)
	}
	slices.Sort(out)
	return out
}
