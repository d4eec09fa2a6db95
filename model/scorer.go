package model

import (
	"context"
	"fmt"
)

// ModelSpec describes the shape of a scorer's outputs.
type ModelSpec struct {
	VocabSize int
	NumLayers int
	HeadDim   int
}

// CacheView is a read-only view of the live cache positions per layer, in sequence order.
// Implementations must not be retained by scorers after Score returns.
type CacheView interface {
	NumLayers() int
	Positions(layer int) []int32
	Keys(layer int) [][]float64
	Values(layer int) [][]float64
}

type ScoreRequest struct {
	// Tokens are scored in order; Tokens[0].Pos follows the last committed position.
	Tokens []Token
	Cache  CacheView
}

// ScoreResult carries one row per request token.
//
// Attention[layer][row] has one weight per visible position: first the live cache
// positions of that layer as exposed by the CacheView, then the request tokens.
// Weights for request tokens after the row are expected to be zero.
// Keys/Values[layer][row] are the KV vectors the core appends on commit.
type ScoreResult struct {
	Logits    [][]float64
	Attention [][][]float64
	Keys      [][][]float64
	Values    [][][]float64
}

// Scorer is the model collaborator. Implementations must be safe for concurrent use
// since independent sessions may share one scorer.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error)
	Spec() ModelSpec
}

// Validate checks that a result matches the request and the declared spec.
func (r *ScoreResult) Validate(req ScoreRequest, spec ModelSpec) error {
	rows := len(req.Tokens)
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrScorerFailure)
	}
	if len(r.Logits) != rows {
		return fmt.Errorf("%w: got %d logit rows, want %d", ErrScorerFailure, len(r.Logits), rows)
	}
	for i, row := range r.Logits {
		if len(row) != spec.VocabSize {
			return fmt.Errorf("%w: logit row %d has %d entries, want %d", ErrScorerFailure, i, len(row), spec.VocabSize)
		}
	}
	if len(r.Attention) != spec.NumLayers || len(r.Keys) != spec.NumLayers || len(r.Values) != spec.NumLayers {
		return fmt.Errorf("%w: layer count mismatch, want %d", ErrScorerFailure, spec.NumLayers)
	}
	for l := 0; l < spec.NumLayers; l++ {
		visible := len(req.Cache.Positions(l)) + rows
		if len(r.Attention[l]) != rows || len(r.Keys[l]) != rows || len(r.Values[l]) != rows {
			return fmt.Errorf("%w: layer %d row count mismatch, want %d", ErrScorerFailure, l, rows)
		}
		for i := 0; i < rows; i++ {
			if len(r.Attention[l][i]) != visible {
				return fmt.Errorf("%w: layer %d row %d attends %d positions, want %d",
					ErrScorerFailure, l, i, len(r.Attention[l][i]), visible)
			}
			if len(r.Keys[l][i]) != spec.HeadDim || len(r.Values[l][i]) != spec.HeadDim {
				return fmt.Errorf("%w: layer %d row %d kv dim mismatch, want %d", ErrScorerFailure, l, i, spec.HeadDim)
			}
		}
	}
	return nil
}
