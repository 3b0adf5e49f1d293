package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/beekhof/calmirror/internal/config"
	"github.com/beekhof/calmirror/internal/metrics"
	"github.com/beekhof/calmirror/internal/mirror"
)

type RunCmd struct {
	DryRun bool `name:"dry-run" help:"Print the transformed events without writing to the destination."`
}

func (c *RunCmd) Run(ctx context.Context, g *Globals) error {
	return withMirror(ctx, g, func(m *mirror.Mirror) error {
		m.DryRun = c.DryRun
		_, err := m.Run(ctx)
		return err
	})
}

type CountCmd struct{}

func (c *CountCmd) Run(ctx context.Context, g *Globals) error {
	return withMirror(ctx, g, func(m *mirror.Mirror) error {
		count, err := m.CountToday(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, count)
		return nil
	})
}

type ClearCmd struct{}

func (c *ClearCmd) Run(ctx context.Context, g *Globals) error {
	return withMirror(ctx, g, func(m *mirror.Mirror) error {
		deleted, err := m.Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d events deleted\n", deleted)
		return nil
	})
}

type AuthCmd struct{}

func (c *AuthCmd) Run(ctx context.Context, g *Globals) error {
	cfg, err := config.LoadConfig(g.Config, g.overrides())
	if err != nil {
		return err
	}

	s, err := authenticate(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "source credential (%s): %s, now valid\n", cfg.TokenPath, s.source.State)
	if s.destination != nil {
		fmt.Fprintf(os.Stdout, "destination credential (%s): %s, now valid\n", cfg.Destination.TokenPath, s.destination.State)
	}
	return nil
}

// withMirror loads config, authenticates, builds the mirror and runs fn,
// writing the metrics textfile afterwards when one is configured.
func withMirror(ctx context.Context, g *Globals, fn func(*mirror.Mirror) error) (err error) {
	cfg, err := config.LoadConfig(g.Config, g.overrides())
	if err != nil {
		return err
	}

	var rec *metrics.Recorder
	if cfg.MetricsFile != "" {
		rec = metrics.NewRecorder()
		defer func() {
			rec.RunFinished(err, time.Now())
			if werr := rec.WriteTextfile(cfg.MetricsFile); werr != nil {
				zerolog.Ctx(ctx).Warn().Err(werr).Str("path", cfg.MetricsFile).Msg("could not write metrics")
			}
		}()
	}

	source, destination, err := newProviders(ctx, cfg)
	if err != nil {
		return err
	}

	return fn(mirror.New(source, destination, cfg, os.Stdout, rec))
}
