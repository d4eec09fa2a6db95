// Package telemetry reports generation progress: periodic interval logs with
// per-interval deltas and prometheus collectors.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/internal/shared/bytes"
)

const defaultInterval = 5 * time.Second

type Logger interface {
	Interval() time.Duration
	Close() error
}

type Logs struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.TelemetryCfg
	logger   *slog.Logger
	recorder *Recorder
	interval time.Duration
}

func New(
	ctx context.Context,
	cfg *config.TelemetryCfg,
	logger *slog.Logger,
	recorder *Recorder,
) *Logs {
	interval := defaultInterval
	if cfg.Enabled() && cfg.LogsInterval > 0 {
		interval = cfg.LogsInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	return (&Logs{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		interval: interval,
	}).run()
}

func (l *Logs) Interval() time.Duration {
	return l.interval
}

func (l *Logs) Close() error {
	l.cancel()
	return nil
}

func (l *Logs) run() *Logs {
	if l.cfg.Enabled() && l.cfg.LogsEnabled && l.recorder != nil {
		go l.loop()
	}
	return l
}

func (l *Logs) loop() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	s := newSampler(l.recorder)
	prev := s.snapshot()

	for {
		select {
		case <-l.ctx.Done():
			return

		case <-ticker.C:
			cur := s.snapshot()
			d := deltaSnapshot(prev, cur)
			prev = cur
			l.report(d)
		}
	}
}

func (l *Logs) report(d snapshot) {
	common := []any{"interval", l.interval.String()}

	l.logger.Info("speculation",
		append(common,
			"sessions", int64(d.sessions),
			"failures", int64(d.failures),
			"rounds", int64(d.rounds),
			"proposed", int64(d.proposed),
			"accepted", int64(d.accepted),
			"acceptance_rate", d.acceptanceRate(),
			"tokens", int64(d.tokens),
		)...,
	)

	l.logger.Info("evictor",
		append(common,
			"scans", int64(d.scans),
			"hits", int64(d.hits),
			"freed_items", int64(d.evictedItems),
			"freed_bytes", bytes.FmtMem(d.evictedBytes),
			"rewound_items", int64(d.rewound),
		)...,
	)

	if d.hardEvictedItems > 0 || d.hardEvictedBytes > 0 {
		l.logger.Info("hard_evictor",
			append(common,
				"freed_items", int64(d.hardEvictedItems),
				"freed_bytes", bytes.FmtMem(d.hardEvictedBytes),
			)...,
		)
	}

	occupied, budget := l.recorder.Occupancy()
	l.logger.Info("storage",
		append(common,
			"entries", occupied,
			"budget", budget,
		)...,
	)
}
