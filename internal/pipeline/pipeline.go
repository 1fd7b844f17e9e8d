package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/domain"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/observability"
)

// Pipeline names used in logs and the run ledger.
const (
	FetchPipeline  = "fetch"
	UpdatePipeline = "update"
)

// RunRecorder records pipeline attempts.
type RunRecorder interface {
	StartRun(ctx context.Context, pipeline, hourKey string) (int64, error)
	CompleteRun(ctx context.Context, id int64, runErr error) error
}

// Options tunes the poll loop.
type Options struct {
	PollInterval time.Duration // sleep between ticks
	RetryPause   time.Duration // extra pause after a failed attempt
}

// DefaultOptions returns the 10s poll and 30s retry pause.
func DefaultOptions() Options {
	return Options{PollInterval: 10 * time.Second, RetryPause: 30 * time.Second}
}

// TickResult reports what one tick did.
type TickResult struct {
	Fetched   bool
	FetchErr  error
	Updated   bool
	UpdateErr error
}

// Status is the freshness state of both pipelines.
type Status struct {
	Fetcher FreshnessSnapshot `json:"fetcher"`
	Updater FreshnessSnapshot `json:"updater"`
	Ready   bool              `json:"ready"`
}

// Pipeline drives the fetcher and updater from a poll loop. Each tick runs
// to completion before the next one starts.
type Pipeline struct {
	fetcher  *Fetcher
	updater  *Updater
	recorder RunRecorder
	clock    domain.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	opts     Options
	ready    atomic.Bool
}

// New creates a Pipeline. recorder may be nil.
func New(f *Fetcher, u *Updater, recorder RunRecorder, clock domain.Clock, logger *slog.Logger,
	metrics *observability.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		fetcher:  f,
		updater:  u,
		recorder: recorder,
		clock:    domain.OrRealClock(clock),
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
	}
}

// CheckReadiness returns nil once an update table has been exported,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no aqi update has been exported yet")
	}
	return nil
}

// Status returns the freshness state of both pipelines.
func (p *Pipeline) Status() Status {
	return Status{
		Fetcher: p.fetcher.State().Snapshot(),
		Updater: p.updater.State().Snapshot(),
		Ready:   p.ready.Load(),
	}
}

// Run ticks until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("aqi updater started", "poll_interval", p.opts.PollInterval, "retry_pause", p.opts.RetryPause)
	for {
		if ctx.Err() != nil {
			p.logger.Info("aqi updater stopping", "reason", ctx.Err())
			return nil
		}
		p.Tick(ctx)
		if !sleepWithContext(ctx, p.clock, p.opts.PollInterval) {
			p.logger.Info("aqi updater stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// Tick fetches when the latest raster is stale and updates when the latest
// raster has not been exported. The matching finish step always runs after
// an attempt.
func (p *Pipeline) Tick(ctx context.Context) TickResult {
	var res TickResult

	if p.fetcher.NewAQIAvailable() {
		res.Fetched = true
		res.FetchErr = p.attempt(ctx, FetchPipeline, domain.CurrentKey(p.clock), p.fetcher.FetchCurrent)
		if res.FetchErr != nil {
			p.metrics.FetchAttempts.WithLabelValues("error").Inc()
			p.logger.Error("failed to process aqi data", "error", res.FetchErr,
				"raster", p.fetcher.State().WIP(), "retry_in", p.opts.RetryPause)
			sleepWithContext(ctx, p.clock, p.opts.RetryPause)
		} else {
			p.metrics.FetchAttempts.WithLabelValues("success").Inc()
			p.logger.Info("aqi fetch and processing succeeded", "raster", p.fetcher.Latest())
		}
		p.fetcher.Finish()
	}

	latest := p.fetcher.Latest()
	if p.updater.NewUpdateAvailable(latest) {
		res.Updated = true
		res.UpdateErr = p.attempt(ctx, UpdatePipeline, domain.KeyOf(latest), func(ctx context.Context) error {
			_, err := p.updater.CreateUpdate(ctx, latest)
			return err
		})
		if res.UpdateErr != nil {
			p.metrics.UpdateAttempts.WithLabelValues("error").Inc()
			p.logger.Error("failed to update aqi", "error", res.UpdateErr,
				"raster", latest, "retry_in", p.opts.RetryPause)
			sleepWithContext(ctx, p.clock, p.opts.RetryPause)
		} else {
			p.metrics.UpdateAttempts.WithLabelValues("success").Inc()
			p.ready.Store(true)
			p.logger.Info("aqi update succeeded", "csv", p.updater.Latest())
		}
		p.updater.Finish()
	}

	return res
}

// attempt runs fn, converting a panic into an error, and records the
// attempt in the run ledger when one is configured.
func (p *Pipeline) attempt(ctx context.Context, name, hourKey string, fn func(context.Context) error) error {
	var id int64
	recorded := false
	if p.recorder != nil {
		var err error
		if id, err = p.recorder.StartRun(ctx, name, hourKey); err != nil {
			p.logger.Warn("run ledger start failed", "error", err, "pipeline", name)
		} else {
			recorded = true
		}
	}

	err := safeCall(ctx, fn)

	if recorded {
		if cerr := p.recorder.CompleteRun(context.WithoutCancel(ctx), id, err); cerr != nil {
			p.logger.Warn("run ledger complete failed", "error", cerr, "pipeline", name)
		}
	}
	return err
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// sleepWithContext waits d on clock. It returns false if ctx ends first.
func sleepWithContext(ctx context.Context, clock domain.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
