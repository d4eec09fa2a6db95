package random

// Source is a seeded SplitMix64 generator. It is not safe for concurrent use:
// each session owns its own Source so draws are reproducible under a fixed seed.
type Source struct {
	// SplitMix64 64-bit state.
	state uint64
}

// New returns a Source whose sequence depends only on seed.
func New(seed uint64) *Source {
	return &Source{state: splitmixSeed(seed)}
}

// Uint64 returns the next 64 random bits.
func (s *Source) Uint64() uint64 {
	return splitmixNext(&s.state)
}

// Float64 returns a uniform in [0,1) using 53 random bits (double precision).
func (s *Source) Float64() float64 {
	x := splitmixNext(&s.state)
	// take top 53 bits -> [0,1)
	const inv53 = 1.0 / 9007199254740992.0 // 2^53
	return float64(x>>11) * inv53
}

// Categorical draws an index from weights proportionally using u in [0,1).
// Zero total weight falls back to the last index.
func Categorical(weights []float64, u float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	target := u * total
	var acc float64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		if target < acc {
			return i
		}
	}
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i
		}
	}
	return len(weights) - 1
}

// ---------- SplitMix64 ----------

// splitmixNext advances s and returns a mixed 64-bit value.
// This is the canonical SplitMix64 step: x += golden; mix(x).
func splitmixNext(s *uint64) uint64 {
	*s += 0x9e3779b97f4a7c15
	z := *s
	z ^= z >> 30
	z *= 0xbf58476d1ce4e5b9
	z ^= z >> 27
	z *= 0x94d049bb133111eb
	z ^= z >> 31
	return z
}

// splitmixSeed turns a seed into a decent 64-bit starting state.
func splitmixSeed(seed uint64) uint64 {
	z := seed + 0x9e3779b97f4a7c15
	z ^= z >> 30
	z *= 0xbf58476d1ce4e5b9
	z ^= z >> 27
	z *= 0x94d049bb133111eb
	z ^= z >> 31
	if z == 0 {
		z = 0x9e3779b97f4a7c15
	}
	return z
}
