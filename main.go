package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"edgecam/internal/logging"
	"edgecam/internal/server"
)

func main() {
	app := &cli.App{
		Name:  "edgecam",
		Usage: "run a camera through Sobel edge detection and serve the rendered frames",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"EDGECAM_CONFIG"},
			},
			&cli.StringFlag{Name: "bind", Usage: "HTTP bind address", EnvVars: []string{"EDGECAM_BIND"}},
			&cli.StringFlag{Name: "camera", Usage: "MJPEG camera `URL`; empty runs the test pattern", EnvVars: []string{"EDGECAM_CAMERA"}},
			&cli.IntFlag{Name: "width", Usage: "processing width", EnvVars: []string{"EDGECAM_WIDTH"}},
			&cli.IntFlag{Name: "height", Usage: "processing height", EnvVars: []string{"EDGECAM_HEIGHT"}},
			&cli.IntFlag{Name: "fps", Usage: "max frames offered per second", EnvVars: []string{"EDGECAM_FPS"}},
			&cli.StringFlag{Name: "effect", Usage: "initial effect, name or id", EnvVars: []string{"EDGECAM_EFFECT"}},
			&cli.StringFlag{Name: "export", Usage: "periodic JPEG export `PATH`; empty disables", EnvVars: []string{"EDGECAM_EXPORT"}},
			&cli.StringFlag{Name: "schedule", Usage: "export cron schedule", EnvVars: []string{"EDGECAM_SCHEDULE"}},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: []string{"EDGECAM_LOG_LEVEL"}},
			&cli.StringFlag{Name: "log-file", Usage: "also log JSON to `FILE`", EnvVars: []string{"EDGECAM_LOG_FILE"}},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*server.Config, error) {
	cfg := server.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := server.LoadConfig(path)
		if err != nil {
			return nil, errors.Wrapf(err, "load config %s", path)
		}
		cfg = *loaded
	}
	if c.IsSet("bind") {
		cfg.Bind = c.String("bind")
	}
	if c.IsSet("camera") {
		cfg.Camera.URL = c.String("camera")
	}
	if c.IsSet("width") {
		cfg.Camera.Width = c.Int("width")
	}
	if c.IsSet("height") {
		cfg.Camera.Height = c.Int("height")
	}
	if c.IsSet("fps") {
		cfg.Camera.FPS = c.Int("fps")
	}
	if c.IsSet("effect") {
		cfg.Effect = c.String("effect")
	}
	if c.IsSet("export") {
		cfg.Export.Path = c.String("export")
	}
	if c.IsSet("schedule") {
		cfg.Export.Schedule = c.String("schedule")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ln, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Bind)
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, ln, logger)
}
