package speculative

import (
	"github.com/Borislavv/go-ash-speculate/internal/recovery"
	"github.com/Borislavv/go-ash-speculate/model"
)

// Round is the outcome of one draft-then-verify step.
type Round struct {
	// Drafts are the k proposed tokens, DraftProbs their draft distributions.
	Drafts     []model.Token
	DraftProbs [][]float64

	// TargetProbs has k+1 rows; row i is the target distribution of position Drafts[0].Pos+i.
	TargetProbs [][]float64

	// Accepted is the number of drafts kept (0..k).
	Accepted int

	// Extra is the resampled or bonus token. It is absent when an accepted draft
	// was a stop token and ended the round.
	Extra    model.Token
	HasExtra bool

	// Committed are the tokens appended to the output: the accepted drafts then Extra.
	Committed []model.Token

	// Steps hold the target attention of every row committed to the target cache.
	Steps []recovery.Step

	// Stopped reports that the last committed token is a stop token.
	Stopped bool
}

// Proposed is the number of drafted tokens.
func (r *Round) Proposed() int { return len(r.Drafts) }
