// Package synthetic provides a deterministic Scorer for tests and the CLI demo.
// Logits, attention and KV vectors are derived from xxh3 hashes of the seed and the
// token coordinates, so two scorers with the same seed agree everywhere.
package synthetic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/Borislavv/go-ash-speculate/model"
	"github.com/zeebo/xxh3"
)

var ErrInjected = errors.New("injected scorer failure")

// peak is the logit given to the scripted next token.
const peak = 12.0

type Option func(*Scorer)

// WithNext scripts the most likely token following t.
func WithNext(next func(t model.Token) int32) Option {
	return func(s *Scorer) { s.next = next }
}

// WithNoise adds a seed-dependent perturbation of the given scale to every logit.
// A draft built with the target's WithNext and some noise agrees with it most of the time.
func WithNoise(scale float64) Option {
	return func(s *Scorer) { s.noise = scale }
}

// WithFailAfter makes every call after the first n fail.
func WithFailAfter(n int64) Option {
	return func(s *Scorer) { s.failAfter = n }
}

// WithSink makes positions below sink attract extra attention, as prompt prefixes do.
func WithSink(sink int32) Option {
	return func(s *Scorer) { s.sink = sink }
}

type Scorer struct {
	spec      model.ModelSpec
	seed      uint64
	next      func(t model.Token) int32
	noise     float64
	sink      int32
	failAfter int64
	calls     atomic.Int64
}

func New(spec model.ModelSpec, seed uint64, opts ...Option) *Scorer {
	s := &Scorer{spec: spec, seed: seed, failAfter: -1, noise: 1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scorer) Spec() model.ModelSpec { return s.spec }
func (s *Scorer) Calls() int64          { return s.calls.Load() }

func (s *Scorer) Score(ctx context.Context, req model.ScoreRequest) (*model.ScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n := s.calls.Add(1); s.failAfter >= 0 && n > s.failAfter {
		return nil, fmt.Errorf("call %d: %w", n, ErrInjected)
	}

	rows := len(req.Tokens)
	res := &model.ScoreResult{
		Logits:    make([][]float64, rows),
		Attention: make([][][]float64, s.spec.NumLayers),
		Keys:      make([][][]float64, s.spec.NumLayers),
		Values:    make([][][]float64, s.spec.NumLayers),
	}
	for i, t := range req.Tokens {
		res.Logits[i] = s.logits(t)
	}
	for l := 0; l < s.spec.NumLayers; l++ {
		cached := req.Cache.Positions(l)
		visible := make([]int32, 0, len(cached)+rows)
		visible = append(visible, cached...)
		for _, t := range req.Tokens {
			visible = append(visible, t.Pos)
		}

		res.Attention[l] = make([][]float64, rows)
		res.Keys[l] = make([][]float64, rows)
		res.Values[l] = make([][]float64, rows)
		for i, t := range req.Tokens {
			res.Attention[l][i] = s.attention(l, t, visible, len(cached)+i+1)
			res.Keys[l][i] = s.vector(1, l, t)
			res.Values[l][i] = s.vector(2, l, t)
		}
	}
	return res, nil
}

func (s *Scorer) logits(t model.Token) []float64 {
	out := make([]float64, s.spec.VocabSize)
	for v := range out {
		out[v] = s.noise * unit(s.hash(3, uint64(t.ID), uint64(t.Pos), uint64(v)))
	}
	if s.next != nil {
		if n := s.next(t); n >= 0 && int(n) < len(out) {
			out[n] += peak
		}
	}
	return out
}

// attention spreads one row over the first n visible positions: recency decay, a
// hashed heavy-hitter bump and the sink. Positions after the row get zero.
func (s *Scorer) attention(layer int, t model.Token, visible []int32, n int) []float64 {
	out := make([]float64, len(visible))
	var sum float64
	for j := 0; j < n; j++ {
		pos := visible[j]
		w := 1 / (1 + math.Abs(float64(t.Pos-pos)))
		if s.hash(4, uint64(layer), uint64(pos))%7 == 0 {
			w += 0.5
		}
		if pos < s.sink {
			w += 1
		}
		out[j] = w
		sum += w
	}
	for j := 0; j < n; j++ {
		out[j] /= sum
	}
	return out
}

func (s *Scorer) vector(kind uint64, layer int, t model.Token) []float64 {
	out := make([]float64, s.spec.HeadDim)
	for d := range out {
		out[d] = unit(s.hash(kind, uint64(layer), uint64(t.ID), uint64(t.Pos), uint64(d)))
	}
	return out
}

func (s *Scorer) hash(parts ...uint64) uint64 {
	buf := make([]byte, 8*(len(parts)+1))
	binary.LittleEndian.PutUint64(buf, s.seed)
	for i, p := range parts {
		binary.LittleEndian.PutUint64(buf[8*(i+1):], p)
	}
	return xxh3.Hash(buf)
}

// unit maps a hash to [-1, 1).
func unit(h uint64) float64 {
	return float64(h>>11)/float64(1<<52) - 1
}
