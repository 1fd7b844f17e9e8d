package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"

	amqpadapter "github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/amqp"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/graphml"
	httpadapter "github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/http"
	kafkaadapter "github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/kafka"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/netcdf"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/s3"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/adapter/sqlite"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/config"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/nodata"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/observability"
	"github.com/DigitalGeographyLab/hope-graph-updater/internal/pipeline"
)

// app carries the process-wide dependencies built from the environment.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	closers []func() error
}

func newApp(g *Globals) (*app, error) {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := config.LoadSecrets(g.SecretsDir, g.EnvFile, bootLogger); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
		clock:   clockwork.NewRealClock(),
	}, nil
}

func (a *app) filler() *nodata.Interpolator {
	return nodata.New(nodata.Config{
		NoData:            a.cfg.NoDataValue,
		MinCells:          a.cfg.NoDataMinCells,
		MinFraction:       a.cfg.NoDataMinFraction,
		MaxSearchDistance: a.cfg.FillMaxSearchDistance,
		ValidFloor:        nodata.DefaultConfig().ValidFloor,
	}, a.logger)
}

func (a *app) notifier() pipeline.Notifier {
	switch a.cfg.NotifyBackend {
	case config.NotifyKafka:
		a.logger.Info("update notifications enabled", "backend", "kafka", "topic", a.cfg.KafkaTopic)
		return kafkaadapter.NewNotifier(a.cfg, a.logger)
	case config.NotifyAMQP:
		a.logger.Info("update notifications enabled", "backend", "amqp", "queue", a.cfg.AMQPQueue)
		return amqpadapter.NewNotifier(a.cfg, a.logger)
	default:
		a.logger.Info("update notifications disabled")
		return nil
	}
}

func (a *app) updater() (*pipeline.Updater, error) {
	g, err := graphml.Load(a.cfg.GraphFile, a.logger)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	notifier := a.notifier()
	if notifier != nil {
		a.closers = append(a.closers, notifier.Close)
	}
	return pipeline.NewUpdater(pipeline.UpdaterConfig{
		CacheDir:   a.cfg.CacheDir,
		UpdatesDir: a.cfg.UpdatesDir,
	}, g, notifier, a.clock, a.logger, a.metrics)
}

func (a *app) pipeline() (*pipeline.Pipeline, error) {
	store, err := s3.NewStore(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	fetcher, err := pipeline.NewFetcher(pipeline.FetcherConfig{
		CacheDir:      a.cfg.CacheDir,
		Prefix:        a.cfg.S3Prefix,
		Variable:      a.cfg.AQIVariable,
		MemberPattern: a.cfg.ArchiveMemberPattern,
	}, store, netcdf.NewDecoder(a.logger), a.filler(), a.clock, a.logger, a.metrics)
	if err != nil {
		return nil, err
	}
	updater, err := a.updater()
	if err != nil {
		return nil, err
	}

	var recorder pipeline.RunRecorder
	if a.cfg.RunsDB != "" {
		runs, err := sqlite.Open(a.cfg.RunsDB, a.clock)
		if err != nil {
			return nil, fmt.Errorf("open run ledger: %w", err)
		}
		a.closers = append(a.closers, runs.Close)
		recorder = runs
		a.logger.Info("run ledger enabled", "path", a.cfg.RunsDB)
	}

	return pipeline.New(fetcher, updater, recorder, a.clock, a.logger, a.metrics, pipeline.Options{
		PollInterval: a.cfg.PollInterval,
		RetryPause:   a.cfg.RetryPause,
	}), nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Error("close error", "error", err)
		}
	}
}

type runCmd struct{}

func (runCmd) Run(g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.pipeline()
	if err != nil {
		return err
	}
	srv := httpadapter.NewServer(a.cfg.HTTPAddr, p, a.logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
		}
	}()

	if err := p.Run(ctx); err != nil {
		a.logger.Error("pipeline error", "error", err)
	}
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

type onceCmd struct{}

func (onceCmd) Run(g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.pipeline()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := p.Tick(ctx)
	return errors.Join(res.FetchErr, res.UpdateErr)
}

type sampleCmd struct {
	Raster string `required:"" help:"Raster filename in the cache directory, e.g. aqi_2020-10-10T08.tif."`
}

func (c sampleCmd) Run(g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	u, err := a.updater()
	if err != nil {
		return err
	}
	update, err := u.CreateUpdate(context.Background(), filepath.Base(c.Raster))
	if err != nil {
		return err
	}
	a.logger.Info("sampled raster", "csv", update.CSV, "edges", update.EdgeCount, "valid_edges", update.ValidEdgeCount)
	return nil
}

type fillCmd struct {
	Raster string `required:"" type:"existingfile" help:"GeoTIFF to repair in place."`
}

func (c fillCmd) Run(g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	res, err := a.filler().FillFile(c.Raster)
	if err != nil {
		return err
	}
	a.logger.Info("filled raster", "path", c.Raster, "missing", res.Missing, "filled", res.Filled,
		"unfilled", res.Unfilled, "below_floor", res.BelowFloor)
	return nil
}
