package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"edgecam/internal/camera"
	"edgecam/internal/effect"
	"edgecam/internal/export"
	"edgecam/internal/pipeline"
	"edgecam/internal/render"
	"edgecam/internal/server"
	"edgecam/internal/slot"
)

const shutdownTimeout = 5 * time.Second

// newSource picks the MJPEG camera when a URL is configured and the test
// pattern otherwise.
func newSource(cfg server.CameraConfig, logger *zap.Logger) camera.Source {
	if cfg.URL != "" {
		return camera.NewMJPEGSource(cfg.URL, cfg.Width, cfg.Height, cfg.FPS, logger)
	}
	w, h := cfg.Width, cfg.Height
	if w == 0 || h == 0 {
		def := server.DefaultConfig().Camera
		w, h = def.Width, def.Height
	}
	return camera.NewSyntheticSource(w, h, cfg.FPS, nil, logger)
}

// serve wires source, pipeline, render loop, exporter and HTTP API, serves on
// ln until ctx is done, then stops them in order: source and HTTP, exporter,
// pipeline, render loop.
func serve(ctx context.Context, cfg *server.Config, ln net.Listener, logger *zap.Logger) (err error) {
	initial, err := effect.Parse(cfg.Effect)
	if err != nil {
		_ = ln.Close()
		return err
	}
	effects := effect.NewSelector(initial)
	frames := slot.New()
	store := export.NewStore(nil)

	renderer := render.New(render.NewSoftware(), frames, effects,
		render.WithLogger(logger.Named("render")),
		render.WithSink(store))
	loop := render.NewLoop(renderer, 0, 0, logger.Named("render"))

	pipe := pipeline.New(frames,
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithEffects(effects),
		pipeline.WithRenderNotify(loop.RequestRender))

	renderCtx, stopRender := context.WithCancel(context.Background())
	renderDone := make(chan error, 1)
	go func() { renderDone <- loop.Run(renderCtx) }()
	pipe.Start()

	deps := server.Deps{
		Store:    store,
		Effects:  effects,
		Pipeline: pipe,
		Slot:     frames,
		Encode:   cfg.Export.EncodeConfig,
		Logger:   logger.Named("http"),
	}
	var persister *export.Persister
	if cfg.Export.Path != "" {
		persister, err = export.NewPersister(store, cfg.Export.Path, cfg.Export.Schedule, cfg.Export.EncodeConfig, logger.Named("export"))
		if err != nil {
			_ = ln.Close()
			stopRender()
			return multierr.Combine(err, pipe.Close(), <-renderDone)
		}
		deps.Saver = persister
		persister.Start()
	}
	srv := server.New(cfg.Bind, deps)
	source := newSource(cfg.Camera, logger.Named("camera"))

	logger.Info("edgecam started",
		zap.String("addr", ln.Addr().String()),
		zap.String("camera", cfg.Camera.URL),
		zap.Stringer("effect", initial),
		zap.String("export", cfg.Export.Path))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return source.Run(gctx, pipe)
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Wrap(srv.Shutdown(shutdownCtx), "http shutdown")
	})
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	logger.Info("shutting down", zap.Any("stats", pipe.Stats()))
	if persister != nil {
		persister.Stop()
		logger.Debug("export stopped")
	}
	err = multierr.Append(runErr, pipe.Close())
	stopRender()
	err = multierr.Append(err, <-renderDone)
	logger.Debug("render loop stopped")
	return err
}
