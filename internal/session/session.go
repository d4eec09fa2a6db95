// Package session runs one generation request end to end: prompt ingestion with
// optional compression, hybrid policy selection, speculative rounds and eviction.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/internal/cache"
	"github.com/Borislavv/go-ash-speculate/internal/compress"
	"github.com/Borislavv/go-ash-speculate/internal/evictor"
	"github.com/Borislavv/go-ash-speculate/internal/policy"
	"github.com/Borislavv/go-ash-speculate/internal/recovery"
	"github.com/Borislavv/go-ash-speculate/internal/shared/random"
	"github.com/Borislavv/go-ash-speculate/internal/speculative"
	"github.com/Borislavv/go-ash-speculate/internal/telemetry"
	"github.com/Borislavv/go-ash-speculate/model"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyPrompt     = errors.New("empty prompt")
	ErrSequenceTooLong = errors.New("prompt leaves no room under max_seq_length")
)

type Session struct {
	id       string
	cfg      *config.Config
	logger   *slog.Logger
	recorder *telemetry.Recorder

	draft  speculative.Model
	target speculative.Model
	ctrl   *speculative.Controller
	rng    *random.Source

	decode     policy.Policy // as configured, possibly hybrid
	evictor    evictor.Evictor
	compressor compress.Compressor
	trace      *recovery.Window
	anchors    int32

	resolved    bool // hybrid selected against an over budget target cache
	scans, hits int64
}

// New validates the configuration against both scorers and allocates the caches.
// Every problem is reported here, before any token is generated.
func New(
	cfg *config.Config,
	seed uint64,
	draft, target model.Scorer,
	logger *slog.Logger,
	recorder *telemetry.Recorder,
) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ds, ts := draft.Spec(), target.Spec()
	for name, spec := range map[string]model.ModelSpec{"draft": ds, "target": ts} {
		if spec.VocabSize <= 0 || spec.NumLayers <= 0 || spec.HeadDim <= 0 {
			return nil, fmt.Errorf("%w: %s spec %+v", model.ErrDimensionMismatch, name, spec)
		}
	}
	if ds.VocabSize != ts.VocabSize {
		return nil, fmt.Errorf("%w: draft %d, target %d", model.ErrVocabMismatch, ds.VocabSize, ts.VocabSize)
	}

	decode, err := policy.FromConfig(cfg.Cache)
	if err != nil {
		return nil, err
	}
	draftBudgets, err := cfg.Cache.Budgets(ds.NumLayers)
	if err != nil {
		return nil, fmt.Errorf("draft: %w", err)
	}
	targetBudgets, err := cfg.Cache.Budgets(ts.NumLayers)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	id := uuid.NewString()
	logger = logger.With("session", id)
	headroom := cfg.Speculation.SpeculateK + 1
	anchors := int32(cfg.Cache.GlobalTokens)

	s := &Session{
		id:         id,
		cfg:        cfg,
		logger:     logger,
		recorder:   recorder,
		rng:        random.New(seed),
		decode:     decode,
		evictor:    evictor.New(decode, anchors, logger),
		compressor: compress.New(cfg.Cache.PromptCompressionStrategy),
		trace:      recovery.NewWindow(cfg.Cache.RecoveryWindow),
		anchors:    anchors,
		draft: speculative.Model{
			Name:   "draft",
			Scorer: draft,
			Cache:  cache.New("draft", draftBudgets, headroom, ds.HeadDim, cfg.Cache.HeavyHitterDecay, logger),
		},
		target: speculative.Model{
			Name:   "target",
			Scorer: target,
			Cache:  cache.New("target", targetBudgets, headroom, ts.HeadDim, cfg.Cache.HeavyHitterDecay, logger),
		},
	}
	s.ctrl = speculative.New(cfg.Speculation, s.rng, s.draft, s.target, cfg.Session.Stop, logger)
	return s, nil
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Target() *cache.Cache  { return s.target.Cache }
func (s *Session) Draft() *cache.Cache   { return s.draft.Cache }
func (s *Session) Policy() policy.Policy { return s.evictor.Policy() }

// Run generates up to max_new_tokens after prompt. ctx is checked between rounds
// only; on cancellation the tokens generated so far are returned with ctx's error.
// A Session serves a single Run.
func (s *Session) Run(ctx context.Context, prompt []int32) (*Result, error) {
	res := &Result{ID: s.id}
	acc := &accumulator{}
	diag := &res.Diagnostics

	err := s.run(ctx, prompt, res, acc)
	switch {
	case err == nil:
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		diag.Stop = StopCancelled
	default:
		diag.Stop = StopFailed
	}
	diag.finish(acc, res.Tokens)
	s.recorder.ObserveSession(diag.Policy, err)

	s.logger.Info("session finished",
		"policy", diag.Policy,
		"tokens", len(res.Tokens),
		"rounds", diag.Rounds,
		"acceptance_rate", diag.AcceptanceRate,
		"compression", diag.FinalCompression,
		"recovered", diag.MeanRecovered,
		"stop", string(diag.Stop),
	)
	return res, err
}

func (s *Session) run(ctx context.Context, prompt []int32, res *Result, acc *accumulator) error {
	diag := &res.Diagnostics
	if len(prompt) == 0 {
		return ErrEmptyPrompt
	}
	maxNew := min(s.cfg.Session.MaxNewTokens, s.cfg.Cache.MaxSeqLength-len(prompt))
	if maxNew <= 0 {
		return fmt.Errorf("%w: prompt %d, max_seq_length %d", ErrSequenceTooLong, len(prompt), s.cfg.Cache.MaxSeqLength)
	}

	seq := model.Tokens(0, prompt...)
	logits, err := s.prefill(ctx, seq, diag)
	if err != nil {
		return err
	}

	if !s.resolved {
		s.selectPolicy(diag)
	}

	first := model.Token{
		ID:  speculative.Sample(s.rng, speculative.Distribution(logits, s.cfg.Speculation.Temperature)),
		Pos: int32(len(seq)),
	}
	seq = append(seq, first)
	res.Tokens = append(res.Tokens, first)
	if s.cfg.Session.Stop(first.ID) {
		diag.Stop = StopToken
		return nil
	}

	for len(res.Tokens) < maxNew {
		if err = ctx.Err(); err != nil {
			return err
		}

		k := min(s.cfg.Speculation.SpeculateK, maxNew-len(res.Tokens)-1)
		round, err := s.ctrl.Step(ctx, seq, k)
		if err != nil {
			return err
		}
		seq = append(seq, round.Committed...)
		res.Tokens = append(res.Tokens, round.Committed...)
		s.trace.Push(round.Steps...)

		if err = s.reconcile(round, diag, acc); err != nil {
			return err
		}
		if round.Stopped {
			diag.Stop = StopToken
			return nil
		}
	}
	diag.Stop = StopMaxTokens
	return nil
}

// reconcile runs eviction after a round and records its outcome.
func (s *Session) reconcile(round *speculative.Round, diag *Diagnostics, acc *accumulator) error {
	every := s.cfg.Cache.ReselectEvery
	if s.unresolved() || (every > 0 && s.decode.Kind == policy.Hybrid && (diag.Rounds+1)%every == 0) {
		s.selectPolicy(diag)
	}

	var stats telemetry.Round
	for _, c := range []*cache.Cache{s.target.Cache, s.draft.Cache} {
		freed, evicted := s.evictor.Evict(c)
		hardFreed, hardEvicted := c.HardEvictUntilWithinBudget(s.anchors)
		stats.EvictedItems += evicted
		stats.EvictedBytes += freed
		stats.HardEvictedItems += hardEvicted
		stats.HardEvictedBytes += hardFreed
	}
	if s.target.Cache.OverBudget() {
		return fmt.Errorf("%w: target cache above budget after eviction", model.ErrCapacityExceeded)
	}

	scans, hits, _, _ := s.evictor.Metrics()
	stats.EvictorScans, stats.EvictorHits = scans-s.scans, hits-s.hits
	s.scans, s.hits = scans, hits

	_, rewound, _, _ := s.draft.Cache.CacheMetrics()
	stats.Rewound = rewound - diag.Rewound
	diag.Rewound = rewound
	diag.Evicted += stats.EvictedItems
	diag.HardEvicted += stats.HardEvictedItems

	stats.Proposed = round.Proposed()
	stats.Accepted = round.Accepted
	stats.Committed = len(round.Committed)
	stats.Occupied = s.target.Cache.Len()
	stats.Budget = s.target.Cache.Budget()
	stats.Recovered = recovery.Recovered(s.livePositions(), s.trace.Steps())

	diag.observe(acc, stats.Proposed, stats.Accepted, float64(stats.Occupied)/float64(stats.Budget), stats.Recovered)
	s.recorder.ObserveRound(stats)
	return nil
}

// unresolved reports a hybrid whose candidates were not yet compared on an over
// budget target cache while that cache overflows.
func (s *Session) unresolved() bool {
	return s.decode.Kind == policy.Hybrid && !s.resolved && s.target.Cache.OverBudget()
}

// selectPolicy resolves the decode policy against the current target cache and trace.
// Candidates only differ while the cache is above budget; a selection made on a cache
// within budget is provisional and is redone on the first overflow.
func (s *Session) selectPolicy(diag *Diagnostics) {
	c := s.target.Cache
	if c.OverBudget() {
		s.resolved = true
	}
	selected, rec := policy.Select(s.decode, c.Candidates(), c.Budgets(), s.anchors, s.trace.Steps(), s.cfg.Cache.MinRecoveryFrac)
	if selected.String() != s.evictor.Policy().String() {
		s.evictor = evictor.Reselect(s.evictor, selected, s.anchors, s.logger)
	}
	diag.Policy, diag.Selection = selected.String(), rec
	s.logger.Info("policy selected", "policy", diag.Policy, "recovered", rec, "min_recovery_frac", s.cfg.Cache.MinRecoveryFrac)
}

// prefill ingests the prompt into both caches concurrently and returns the target
// logits of the last prompt token. Under a hybrid the draft starts once the target
// resolved it, or finished without overflowing.
func (s *Session) prefill(ctx context.Context, seq []model.Token, diag *Diagnostics) ([]float64, error) {
	var logits []float64
	var targetEvicted, draftEvicted int64

	ready := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(ready) }) }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer release()
		logits, targetEvicted, err = s.ingest(gctx, s.target, seq, func() {
			s.selectPolicy(diag)
			release()
		})
		return err
	})
	if s.cfg.Speculation.SpeculateK > 0 {
		g.Go(func() (err error) {
			if s.decode.Kind == policy.Hybrid {
				select {
				case <-ready:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			_, draftEvicted, err = s.ingest(gctx, s.draft, seq, nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	diag.PromptEvicted = targetEvicted + draftEvicted
	return logits, nil
}

// ingest feeds tokens in chunks that fit the free slots, compressing after every
// chunk that leaves the cache above budget. A non nil resolve marks the traced target:
// it runs on the first chunk that overflows an unresolved hybrid, before compression.
func (s *Session) ingest(ctx context.Context, m speculative.Model, tokens []model.Token, resolve func()) (last []float64, evicted int64, err error) {
	for len(tokens) > 0 {
		if err = ctx.Err(); err != nil {
			return nil, evicted, err
		}
		room := m.Cache.Room()
		if room == 0 {
			return nil, evicted, fmt.Errorf("%w: %s has no room for the prompt", model.ErrCapacityExceeded, m.Name)
		}
		chunk := tokens[:min(room, len(tokens))]
		tokens = tokens[len(chunk):]

		view := m.Cache.View()
		req := model.ScoreRequest{Tokens: chunk, Cache: view}
		res, err := m.Scorer.Score(ctx, req)
		if err != nil {
			return nil, evicted, fmt.Errorf("%w: %s: %w", model.ErrScorerFailure, m.Name, err)
		}
		if err = res.Validate(req, m.Scorer.Spec()); err != nil {
			return nil, evicted, fmt.Errorf("%s: %w", m.Name, err)
		}
		steps, err := m.Cache.Commit(view, chunk, res, len(chunk))
		if err != nil {
			return nil, evicted, err
		}
		if resolve != nil {
			s.trace.Push(steps...)
			if s.unresolved() {
				resolve()
			}
		}
		last = res.Logits[len(chunk)-1]
		evicted += s.compressPrompt(m.Cache, steps)
	}
	return last, evicted, nil
}

// compressPrompt brings c back within budget using the prompt compressor, or the
// decode policy when there is none, then the hard limit.
func (s *Session) compressPrompt(c *cache.Cache, steps []recovery.Step) (evicted int64) {
	if !c.OverBudget() {
		return 0
	}
	if s.compressor == nil {
		_, evicted = s.evictor.Evict(c)
	} else {
		store := c.Store()
		for l := 0; l < store.NumLayers(); l++ {
			layer := store.Layer(l)
			if layer.Len() <= int64(layer.Budget()) {
				continue
			}
			_, n := layer.Retain(s.compressor.Keep(s.compressLayer(l, layer.Budget(), c, steps)))
			evicted += n
		}
		store.Compact()
	}
	_, hard := c.HardEvictUntilWithinBudget(s.anchors)
	return evicted + hard
}

func (s *Session) compressLayer(l, budget int, c *cache.Cache, steps []recovery.Step) compress.Layer {
	entries := c.Store().Layer(l).Entries()
	in := compress.Layer{
		Positions: make([]int32, len(entries)),
		Keys:      make([][]float64, len(entries)),
		Observed:  make([]recovery.Row, 0, len(steps)),
		Budget:    budget,
		Anchors:   s.anchors,
		Recent:    int(math.Ceil(s.cfg.Cache.RecentWindow * float64(max(budget-int(s.anchors), 0)))),
	}
	for i, e := range entries {
		in.Positions[i] = e.Pos()
		in.Keys[i] = e.Key()
	}
	for _, step := range steps {
		in.Observed = append(in.Observed, step[l])
	}
	return in
}

func (s *Session) livePositions() [][]int32 {
	store := s.target.Cache.Store()
	out := make([][]int32, store.NumLayers())
	for l := range out {
		out[l] = store.Layer(l).Positions()
	}
	return out
}
