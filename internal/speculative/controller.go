// Package speculative drives the draft-then-verify loop and keeps both model caches
// an exact mirror of the committed sequence.
package speculative

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/internal/cache"
	"github.com/Borislavv/go-ash-speculate/internal/shared/random"
	"github.com/Borislavv/go-ash-speculate/model"
)

// Model couples a scorer with the cache it reads and fills.
type Model struct {
	Name   string
	Scorer model.Scorer
	Cache  *cache.Cache
}

type Controller struct {
	cfg    *config.SpeculationCfg
	rng    *random.Source
	draft  Model
	target Model
	stop   func(id int32) bool
	logger *slog.Logger
}

func New(
	cfg *config.SpeculationCfg,
	rng *random.Source,
	draft, target Model,
	stop func(id int32) bool,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		cfg:    cfg,
		rng:    rng,
		draft:  draft,
		target: target,
		stop:   stop,
		logger: logger,
	}
}

// Step runs one round over seq, the committed sequence. Its last token is pending:
// the target has scored everything before it and nothing after.
// k drafts are proposed; k = 0 degrades to plain target decoding.
//
// A round is atomic: scorer calls ignore ctx cancellation, and on failure the target
// cache is untouched while the draft cache is rewound to where it was.
func (c *Controller) Step(ctx context.Context, seq []model.Token, k int) (*Round, error) {
	if len(seq) == 0 {
		return nil, fmt.Errorf("%w: empty sequence", model.ErrPositionOrder)
	}
	pending := seq[len(seq)-1]
	if cur := c.target.Cache.Cursor(); cur != pending.Pos {
		return nil, fmt.Errorf("%w: target cursor %d, pending position %d", model.ErrPositionOrder, cur, pending.Pos)
	}

	ctx = context.WithoutCancel(ctx)
	draftFrom := c.draft.Cache.Cursor()
	round := &Round{}

	if k > 0 {
		if err := c.propose(ctx, seq, k, round); err != nil {
			c.draft.Cache.Rewind(draftFrom)
			return nil, err
		}
	}

	view := c.target.Cache.View()
	req := model.ScoreRequest{Tokens: append([]model.Token{pending}, round.Drafts...), Cache: view}
	res, err := c.score(ctx, c.target, req)
	if err != nil {
		c.draft.Cache.Rewind(draftFrom)
		return nil, err
	}
	round.TargetProbs = make([][]float64, len(res.Logits))
	for i, logits := range res.Logits {
		round.TargetProbs[i] = Distribution(logits, c.cfg.Temperature)
	}
	c.decide(round, pending)

	// the last committed token becomes pending; everything before it is kept
	rows := len(round.Committed)
	steps, err := c.target.Cache.Commit(view, req.Tokens, res, rows)
	if err != nil {
		c.draft.Cache.Rewind(draftFrom)
		return nil, err
	}
	round.Steps = steps
	c.draft.Cache.Rewind(pending.Pos + int32(rows))

	return round, nil
}

// propose feeds the draft what it has not scored yet and samples k tokens autoregressively.
func (c *Controller) propose(ctx context.Context, seq []model.Token, k int, round *Round) error {
	pending := seq[len(seq)-1]
	if c.draft.Cache.Cursor() > pending.Pos {
		c.draft.Cache.Rewind(pending.Pos)
	}
	feed := seq[c.draft.Cache.Cursor():]

	round.Drafts = make([]model.Token, 0, k)
	round.DraftProbs = make([][]float64, 0, k)
	for len(round.Drafts) < k {
		view := c.draft.Cache.View()
		req := model.ScoreRequest{Tokens: feed, Cache: view}
		res, err := c.score(ctx, c.draft, req)
		if err != nil {
			return err
		}
		if _, err = c.draft.Cache.Commit(view, feed, res, len(feed)); err != nil {
			return err
		}

		q := Distribution(res.Logits[len(feed)-1], c.cfg.Temperature)
		d := model.Token{ID: Sample(c.rng, q), Pos: feed[len(feed)-1].Pos + 1}
		round.Drafts = append(round.Drafts, d)
		round.DraftProbs = append(round.DraftProbs, q)
		feed = []model.Token{d}
	}
	return nil
}

// decide walks the drafts left to right with one uniform per position, stopping at
// the first rejection or at an accepted stop token.
func (c *Controller) decide(round *Round, pending model.Token) {
	round.Committed = make([]model.Token, 0, len(round.Drafts)+1)
	for i, d := range round.Drafts {
		p, q := round.TargetProbs[i], round.DraftProbs[i]
		if !Accept(p[d.ID], q[d.ID], c.rng.Float64()) {
			c.extra(round, model.Token{ID: Sample(c.rng, Residual(p, q)), Pos: d.Pos})
			return
		}
		round.Accepted++
		round.Committed = append(round.Committed, d)
		if c.stop(d.ID) {
			round.Stopped = true
			return
		}
	}
	bonus := model.Token{ID: Sample(c.rng, round.TargetProbs[len(round.Drafts)]), Pos: pending.Pos + int32(len(round.Drafts)) + 1}
	c.extra(round, bonus)
}

func (c *Controller) extra(round *Round, t model.Token) {
	round.Extra, round.HasExtra = t, true
	round.Committed = append(round.Committed, t)
	round.Stopped = c.stop(t.ID)
}

func (c *Controller) score(ctx context.Context, m Model, req model.ScoreRequest) (*model.ScoreResult, error) {
	res, err := m.Scorer.Score(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrScorerFailure, m.Name, err)
	}
	if err = res.Validate(req, m.Scorer.Spec()); err != nil {
		return nil, fmt.Errorf("%s: %w", m.Name, err)
	}
	return res, nil
}
