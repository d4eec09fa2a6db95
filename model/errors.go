package model

import "errors"

var (
	// ErrCapacityExceeded means an append was issued without a prior eviction making room.
	// It is a contract violation and fatal to the session.
	ErrCapacityExceeded = errors.New("kv cache capacity exceeded")

	// ErrPositionOrder means an append did not respect strictly increasing positions.
	ErrPositionOrder = errors.New("kv cache positions must be strictly increasing")

	// ErrInvalidPolicyConfiguration is returned before generation starts.
	ErrInvalidPolicyConfiguration = errors.New("invalid cache policy configuration")

	// ErrScorerFailure wraps any error coming from a scorer or a malformed score result.
	ErrScorerFailure = errors.New("scorer failure")

	ErrVocabMismatch     = errors.New("draft and target vocabulary mismatch")
	ErrDimensionMismatch = errors.New("scorer dimension mismatch")
)
