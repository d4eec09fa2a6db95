package speculative

import (
	"context"
	"log/slog"
	"testing"

	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/internal/cache"
	"github.com/Borislavv/go-ash-speculate/internal/scorer/synthetic"
	"github.com/Borislavv/go-ash-speculate/internal/shared/random"
	"github.com/Borislavv/go-ash-speculate/model"
	"github.com/stretchr/testify/require"
)

var spec = model.ModelSpec{VocabSize: 16, NumLayers: 2, HeadDim: 4}

const (
	a, b, c, d = 10, 11, 12, 13
	stopID     = 2
)

func script(next map[int32]int32) synthetic.Option {
	return synthetic.WithNext(func(t model.Token) int32 {
		if n, ok := next[t.ID]; ok {
			return n
		}
		return 0
	})
}

type fixture struct {
	ctrl   *Controller
	draft  Model
	target Model
	seq    []model.Token
}

// newFixture ingests the prompt [1 2 3] into both caches and leaves token 4 pending at position 3.
func newFixture(t *testing.T, k int, temperature float64, draft, target *synthetic.Scorer) *fixture {
	t.Helper()
	cfg := &config.SpeculationCfg{SpeculateK: k, Temperature: temperature, Seed: 1}
	f := &fixture{
		draft:  Model{Name: "draft", Scorer: draft, Cache: cache.New("draft", []int{16, 16}, k+1, spec.HeadDim, 0, slog.Default())},
		target: Model{Name: "target", Scorer: target, Cache: cache.New("target", []int{16, 16}, k+1, spec.HeadDim, 0, slog.Default())},
		seq:    model.Tokens(0, 1, 2, 3, 4),
	}
	for _, m := range []Model{f.draft, f.target} {
		view := m.Cache.View()
		req := model.ScoreRequest{Tokens: f.seq[:3], Cache: view}
		res, err := m.Scorer.Score(context.Background(), req)
		require.NoError(t, err)
		_, err = m.Cache.Commit(view, req.Tokens, res, 3)
		require.NoError(t, err)
	}
	stop := func(id int32) bool { return id == stopID }
	f.ctrl = New(cfg, random.New(cfg.Seed), f.draft, f.target, stop, slog.Default())
	return f
}

// TestStep_PartialAcceptance accepts a and b, rejects c and commits three target entries.
func TestStep_PartialAcceptance(t *testing.T) {
	f := newFixture(t, 4, 0,
		synthetic.New(spec, 1, script(map[int32]int32{4: a, a: b, b: c, c: d})),
		synthetic.New(spec, 2, script(map[int32]int32{4: a, a: b, b: 14, c: d})),
	)
	before := f.target.Cache.Store().Layer(0).Len()

	round, err := f.ctrl.Step(context.Background(), f.seq, 4)
	require.NoError(t, err)

	require.Equal(t, []int32{a, b, c, d}, model.IDs(round.Drafts))
	require.Equal(t, 2, round.Accepted)
	require.True(t, round.HasExtra)
	require.Equal(t, model.Token{ID: 14, Pos: 6}, round.Extra)
	require.Equal(t, []int32{a, b, 14}, model.IDs(round.Committed))
	require.Len(t, round.Steps, 3)

	layer := f.target.Cache.Store().Layer(0)
	require.Equal(t, before+3, layer.Len())
	require.Equal(t, []int32{0, 1, 2, 3, 4, 5}, layer.Positions())
	for _, pos := range []int32{6, 7} {
		_, ok := layer.Get(pos)
		require.False(t, ok, "no entry may survive for rejected position %d", pos)
	}
	require.Equal(t, int32(6), f.target.Cache.Cursor())

	require.Equal(t, []int32{0, 1, 2, 3, 4, 5}, f.draft.Cache.Store().Layer(1).Positions())
	require.Equal(t, int32(6), f.draft.Cache.Cursor())
}

// TestStep_AllRejected grows the target cache by the pending token only.
func TestStep_AllRejected(t *testing.T) {
	f := newFixture(t, 4, 0,
		synthetic.New(spec, 1, script(map[int32]int32{4: a, a: b, b: c, c: d})),
		synthetic.New(spec, 2, script(map[int32]int32{4: 15})),
	)
	before := f.target.Cache.Len()

	round, err := f.ctrl.Step(context.Background(), f.seq, 4)
	require.NoError(t, err)

	require.Zero(t, round.Accepted)
	require.Equal(t, []model.Token{{ID: 15, Pos: 4}}, round.Committed)
	require.Equal(t, before+int64(spec.NumLayers), f.target.Cache.Len())
	require.Equal(t, []int32{0, 1, 2, 3}, f.draft.Cache.Store().Layer(0).Positions())
}

// TestStep_AllAccepted samples a bonus token from the last target row.
func TestStep_AllAccepted(t *testing.T) {
	next := map[int32]int32{4: a, a: b, b: c, c: d, d: 9}
	f := newFixture(t, 4, 0,
		synthetic.New(spec, 1, script(next)),
		synthetic.New(spec, 2, script(next)),
	)

	round, err := f.ctrl.Step(context.Background(), f.seq, 4)
	require.NoError(t, err)

	require.Equal(t, 4, round.Accepted)
	require.Equal(t, model.Token{ID: 9, Pos: 8}, round.Extra)
	require.Equal(t, []int32{a, b, c, d, 9}, model.IDs(round.Committed))
	require.Equal(t, int32(8), f.target.Cache.Cursor())
	require.Equal(t, int32(7), f.draft.Cache.Cursor(), "the last draft was never fed")

	// the next round catches the draft up on d and the bonus
	seq := append(append([]model.Token{}, f.seq...), round.Committed...)
	round, err = f.ctrl.Step(context.Background(), seq, 2)
	require.NoError(t, err)
	require.Equal(t, int32(9), round.Drafts[0].Pos)
}

// TestStep_StopTokenEndsRound commits an accepted stop token as the final token.
func TestStep_StopTokenEndsRound(t *testing.T) {
	next := map[int32]int32{4: a, a: stopID, stopID: c}
	f := newFixture(t, 4, 0,
		synthetic.New(spec, 1, script(next)),
		synthetic.New(spec, 2, script(next)),
	)

	round, err := f.ctrl.Step(context.Background(), f.seq, 4)
	require.NoError(t, err)

	require.True(t, round.Stopped)
	require.False(t, round.HasExtra)
	require.Equal(t, []int32{a, stopID}, model.IDs(round.Committed))
	require.Equal(t, int32(5), f.target.Cache.Cursor())
}

// TestStep_PlainDecoding skips the draft when k is zero.
func TestStep_PlainDecoding(t *testing.T) {
	draft := synthetic.New(spec, 1)
	f := newFixture(t, 0, 0, draft, synthetic.New(spec, 2, script(map[int32]int32{4: 7})))
	calls := draft.Calls()

	round, err := f.ctrl.Step(context.Background(), f.seq, 0)
	require.NoError(t, err)

	require.Equal(t, []model.Token{{ID: 7, Pos: 4}}, round.Committed)
	require.Zero(t, round.Proposed())
	require.Equal(t, calls, draft.Calls())
}

// TestStep_TargetFailure leaves the target untouched and rewinds the draft.
func TestStep_TargetFailure(t *testing.T) {
	f := newFixture(t, 4, 0,
		synthetic.New(spec, 1),
		synthetic.New(spec, 2, synthetic.WithFailAfter(1)),
	)
	targetLen, draftLen := f.target.Cache.Len(), f.draft.Cache.Len()

	_, err := f.ctrl.Step(context.Background(), f.seq, 4)
	require.ErrorIs(t, err, model.ErrScorerFailure)
	require.ErrorIs(t, err, synthetic.ErrInjected)

	require.Equal(t, targetLen, f.target.Cache.Len())
	require.Equal(t, int32(3), f.target.Cache.Cursor())
	require.Equal(t, draftLen, f.draft.Cache.Len())
	require.Equal(t, int32(3), f.draft.Cache.Cursor())
}

// TestStep_DraftFailure rewinds the draft entries added before the failing call.
func TestStep_DraftFailure(t *testing.T) {
	f := newFixture(t, 4, 0,
		synthetic.New(spec, 1, synthetic.WithFailAfter(3)),
		synthetic.New(spec, 2),
	)
	draftLen := f.draft.Cache.Len()

	_, err := f.ctrl.Step(context.Background(), f.seq, 4)
	require.ErrorIs(t, err, model.ErrScorerFailure)

	require.Equal(t, draftLen, f.draft.Cache.Len())
	require.Equal(t, int32(3), f.draft.Cache.Cursor())
	require.Equal(t, int32(3), f.target.Cache.Cursor())
}

// TestStep_IgnoresCancellation completes a round even when ctx is already done.
func TestStep_IgnoresCancellation(t *testing.T) {
	f := newFixture(t, 2, 0, synthetic.New(spec, 1), synthetic.New(spec, 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ctrl.Step(ctx, f.seq, 2)
	require.NoError(t, err)
}

// TestStep_PositionMismatch refuses a sequence the target cache does not mirror.
func TestStep_PositionMismatch(t *testing.T) {
	f := newFixture(t, 2, 0, synthetic.New(spec, 1), synthetic.New(spec, 2))

	_, err := f.ctrl.Step(context.Background(), f.seq[:3], 2)
	require.ErrorIs(t, err, model.ErrPositionOrder)
}

// TestStep_DeterministicSampling reproduces rounds for a fixed seed and temperature.
func TestStep_DeterministicSampling(t *testing.T) {
	run := func() [][]int32 {
		f := newFixture(t, 3, 0.8,
			synthetic.New(spec, 1, synthetic.WithNoise(3)),
			synthetic.New(spec, 2, synthetic.WithNoise(3)),
		)
		seq := f.seq
		var out [][]int32
		for i := 0; i < 3; i++ {
			round, err := f.ctrl.Step(context.Background(), seq, 3)
			require.NoError(t, err)
			out = append(out, model.IDs(round.Committed))
			seq = append(seq, round.Committed...)
		}
		return out
	}

	require.Equal(t, run(), run())
}
