package compress

import (
	"math"

	"github.com/Borislavv/go-ash-speculate/config"
)

const (
	// ObservationWindow is the number of trailing prompt rows whose attention votes.
	ObservationWindow = 16
	// PoolKernel is the width of the average pooling applied to the votes.
	PoolKernel = 5
)

// SnapKV keeps the positions the last Window prompt rows attend to most, smoothed by
// an average pool of width Kernel. The observed rows themselves and the anchors are
// always kept.
type SnapKV struct {
	Window int
	Kernel int
}

func (SnapKV) Name() config.PromptCompression { return config.PromptCompressionSnapKV }

func (s SnapKV) Keep(in Layer) []int32 {
	if len(in.Positions) <= in.Budget {
		return in.Positions
	}

	votes := s.votes(in)
	pooled := pool(votes, s.Kernel)

	items := make([]scored, len(in.Positions))
	tail := len(in.Positions) - s.Window
	for i, pos := range in.Positions {
		score := pooled[i]
		if pos < in.Anchors || i >= tail {
			score = math.Inf(1)
		}
		items[i] = scored{pos: pos, score: score}
	}
	return top(items, in.Budget)
}

// votes is the mean attention of the observed rows over in.Positions.
func (s SnapKV) votes(in Layer) []float64 {
	rows := in.Observed
	if len(rows) > s.Window {
		rows = rows[len(rows)-s.Window:]
	}
	index := make(map[int32]int, len(in.Positions))
	for i, p := range in.Positions {
		index[p] = i
	}

	votes := make([]float64, len(in.Positions))
	if len(rows) == 0 {
		return votes
	}
	for _, row := range rows {
		for j, p := range row.Positions {
			if i, ok := index[p]; ok {
				votes[i] += row.Weights[j]
			}
		}
	}
	for i := range votes {
		votes[i] /= float64(len(rows))
	}
	return votes
}

// pool is a stride one average pool of width kernel, padded so the output keeps
// the input length. Padding does not count toward the average.
func pool(in []float64, kernel int) []float64 {
	half := kernel / 2
	out := make([]float64, len(in))
	for i := range in {
		lo, hi := max(0, i-half), min(len(in), i+half+1)
		var sum float64
		for _, v := range in[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}
