package policy

import (
	"cmp"
	"math"
	"slices"

	pq "github.com/emirpasic/gods/v2/queues/priorityqueue"
)

// Candidate is one live cache position with its cumulative attention score.
type Candidate struct {
	Pos   int32
	Score float64
}

// Retain returns the positions p keeps out of cands (sorted by position) so that
// at most budget remain. Positions below anchors are kept first; the recent window
// and heavy hitters share what is left of the budget.
//
// Full and an unresolved Hybrid keep everything.
func Retain(p Policy, cands []Candidate, budget int, anchors int32) []int32 {
	if len(cands) <= budget || p.Kind == Full || p.Kind == Hybrid {
		return positions(cands)
	}
	budget = max(budget, 0)

	nAnchors := 0
	for nAnchors < len(cands) && cands[nAnchors].Pos < anchors {
		nAnchors++
	}
	if nAnchors >= budget {
		return positions(cands[:budget])
	}

	avail := budget - nAnchors
	rest := cands[nAnchors:]
	recent := min(share(p.RecentFrac, avail), len(rest))

	keep := make([]int32, 0, budget)
	keep = append(keep, positions(cands[:nAnchors])...)
	if p.Kind == HeavyHitter {
		heavy := min(share(p.HeavyFrac, avail), avail-recent)
		keep = append(keep, heavyHitters(rest[:len(rest)-recent], heavy)...)
	}
	return append(keep, positions(rest[len(rest)-recent:])...)
}

// share is ceil(frac*n) clamped to n. The epsilon absorbs float noise such as
// 0.1*30 = 3.0000000000000004.
func share(frac float64, n int) int {
	return min(int(math.Ceil(frac*float64(n)-1e-9)), n)
}

// heaviestFirst orders by score, breaking ties toward the more recent position.
func heaviestFirst(a, b Candidate) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return cmp.Compare(b.Pos, a.Pos)
}

// heavyHitters returns the k highest scored positions of pool in position order.
func heavyHitters(pool []Candidate, k int) []int32 {
	if k <= 0 || len(pool) == 0 {
		return nil
	}
	q := pq.NewWith(heaviestFirst)
	for _, c := range pool {
		q.Enqueue(c)
	}
	out := make([]int32, 0, k)
	for range min(k, len(pool)) {
		c, _ := q.Dequeue()
		out = append(out, c.Pos)
	}
	slices.Sort(out)
	return out
}

func positions(cands []Candidate) []int32 {
	out := make([]int32, len(cands))
	for i, c := range cands {
		out[i] = c.Pos
	}
	return out
}
