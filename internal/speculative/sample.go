package speculative

import (
	"math"

	"github.com/Borislavv/go-ash-speculate/internal/shared/random"
	"gonum.org/v1/gonum/floats"
)

// Distribution turns logits into probabilities: softmax(logits/temperature), or a
// one-hot vector on the argmax when temperature is zero.
func Distribution(logits []float64, temperature float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	if temperature <= 0 {
		out[floats.MaxIdx(logits)] = 1
		return out
	}

	floats.ScaleTo(out, 1/temperature, logits)
	lse := floats.LogSumExp(out)
	for i, v := range out {
		out[i] = math.Exp(v - lse)
	}
	return out
}

// Residual is normalize(max(0, p - q)). It returns p itself when the two
// distributions are equal and nothing is left to resample from.
func Residual(p, q []float64) []float64 {
	out := make([]float64, len(p))
	for i := range p {
		out[i] = max(0, p[i]-q[i])
	}
	sum := floats.Sum(out)
	if sum <= 0 {
		return p
	}
	floats.Scale(1/sum, out)
	return out
}

// Accept is the speculative sampling test: accept iff u < min(1, p/q).
func Accept(p, q, u float64) bool {
	if q <= 0 {
		return p > 0
	}
	return u < min(1, p/q)
}

// Sample draws a token id from probs with a fresh uniform.
func Sample(rng *random.Source, probs []float64) int32 {
	return int32(random.Categorical(probs, rng.Float64()))
}
