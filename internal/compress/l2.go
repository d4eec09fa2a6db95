package compress

import (
	"math"

	"github.com/Borislavv/go-ash-speculate/config"
	"gonum.org/v1/gonum/floats"
)

// L2 keeps the positions with the smallest key norm; low norm keys tend to draw
// the most attention. Anchors and the Recent trailing positions are always kept.
type L2 struct{}

func (L2) Name() config.PromptCompression { return config.PromptCompressionL2 }

func (L2) Keep(in Layer) []int32 {
	if len(in.Positions) <= in.Budget {
		return in.Positions
	}

	tail := len(in.Positions) - in.Recent
	items := make([]scored, len(in.Positions))
	for i, pos := range in.Positions {
		// top keeps the largest scores, so the norm is negated
		score := -floats.Norm(in.Keys[i], 2)
		if pos < in.Anchors || i >= tail {
			score = math.Inf(1)
		}
		items[i] = scored{pos: pos, score: score}
	}
	return top(items, in.Budget)
}
