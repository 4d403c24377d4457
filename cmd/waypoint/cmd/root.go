// Package cmd implements the waypoint CLI: a thin front-end over
// pkg/engine and pkg/multi.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/pseudomuto/waypoint/pkg/config"
	"github.com/pseudomuto/waypoint/pkg/engine"
)

// Run creates and executes the waypoint CLI application.
func Run(ctx context.Context, version string, args []string) error {
	app := &cli.Command{
		Name:    "waypoint",
		Usage:   "A Flyway-compatible PostgreSQL schema migration tool",
		Version: version,
		Description: `waypoint drives a PostgreSQL database toward the state described by a
directory of versioned SQL migration files, recording every applied
migration in a history table so that runs are idempotent, verifiable,
and reversible.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the waypoint.yaml configuration file",
				Value:   "waypoint.yaml",
			},
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "database connection URL (overrides the config file)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			level := slog.LevelInfo
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return ctx, nil
		},
		Commands: []*cli.Command{
			migrateCmd(),
			infoCmd(),
			validateCmd(),
			repairCmd(),
			baselineCmd(),
			undoCmd(),
			cleanCmd(),
			initCmd(),
		},
	}

	return app.Run(ctx, args)
}

// loadConfig resolves the effective configuration from the config file
// and CLI overrides. A missing config file is not an error when --url is
// given.
func loadConfig(c *cli.Command) (config.Config, error) {
	path := c.String("config")

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if url := c.String("url"); url != "" {
		cfg.Database.URL = url
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// withEngine connects an engine for the duration of fn.
func withEngine(ctx context.Context, c *cli.Command, fn func(*engine.Waypoint) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	w, err := engine.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to close database session", "error", err)
		}
	}()

	return fn(w)
}
