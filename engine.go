// Package ashspec generates tokens with speculative decoding over a bounded KV cache.
//
// An Engine pairs a draft and a target Scorer and runs num_samples independent
// sessions per prompt. Each session keeps its caches within budget with the
// configured eviction policy and reports progress to interval logs and prometheus.
package ashspec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/internal/cache/db/dump"
	"github.com/Borislavv/go-ash-speculate/internal/session"
	"github.com/Borislavv/go-ash-speculate/internal/shared/rate"
	"github.com/Borislavv/go-ash-speculate/internal/telemetry"
	"github.com/Borislavv/go-ash-speculate/model"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

type Result = session.Result

type Option func(*Engine)

// WithRegisterer registers prometheus collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.reg = reg }
}

type Engine struct {
	telemetry.Logger
	cfg      *config.Config
	logger   *slog.Logger
	draft    model.Scorer
	target   model.Scorer
	recorder *telemetry.Recorder
	jitter   *rate.Jitter
	reg      prometheus.Registerer
	cls      context.CancelFunc
}

// New validates cfg and starts the background telemetry. Close stops it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, draft, target model.Scorer, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, logger: logger, draft: draft, target: target, reg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(e)
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled() && cfg.Telemetry.MetricsNamespace != "" {
		m, err := telemetry.NewMetrics(cfg.Telemetry.MetricsNamespace, e.reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		metrics = m
	}
	e.recorder = telemetry.NewRecorder(metrics)

	ctx, cancel := context.WithCancel(ctx)
	e.cls = cancel
	if cfg.Session.SamplesPerSec > 0 {
		e.jitter = rate.NewJitter(ctx, cfg.Session.SamplesPerSec)
	}
	e.Logger = telemetry.New(ctx, cfg.Telemetry, logger, e.recorder)
	return e, nil
}

func (e *Engine) Recorder() *telemetry.Recorder { return e.recorder }

// Generate runs num_samples sessions for prompt concurrently. Sample i is seeded
// with seed+i. The first failing sample cancels the others; results of samples
// that never started are nil.
func (e *Engine) Generate(ctx context.Context, prompt []int32) ([]*Result, error) {
	n := e.cfg.Session.NumSamples
	sessions := make([]*session.Session, n)
	for i := range sessions {
		s, err := session.New(e.cfg, e.cfg.Speculation.Seed+uint64(i), e.draft, e.target, e.logger, e.recorder)
		if err != nil {
			return nil, err
		}
		sessions[i] = s
	}

	var (
		mu   sync.Mutex
		last *session.Session
	)
	results := make([]*Result, n)
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sessions {
		if e.jitter != nil {
			if err := e.jitter.Wait(gctx); err != nil {
				break
			}
		}
		g.Go(func() error {
			res, err := s.Run(gctx, prompt)
			results[i] = res
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			mu.Lock()
			last = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	if e.cfg.Persistence.Enabled() && last != nil {
		if err := dump.Dump(ctx, e.cfg.Persistence, last.Target().Store()); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (e *Engine) Close() error {
	e.cls()
	return nil
}
