package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"digestdb/internal/config"
	"digestdb/internal/engine"
	"digestdb/internal/metrics"
)

func newEngine(cfg *config.Config, m *metrics.Metrics) (*engine.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := cfg.EngineOptions()
	opts.Logger = slog.Default()
	opts.Metrics = m
	return engine.New(opts)
}

// withEngine opens the configured home for the duration of fn. The engine is
// closed and the metrics textfile written on every exit path.
func withEngine(cmd *cobra.Command, cfg *config.Config, fn func(context.Context, *engine.Engine) error) (err error) {
	m := metrics.New()
	eng, err := newEngine(cfg, m)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := eng.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := eng.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		if cfg.MetricsFile != "" {
			if writeErr := m.WriteTextfile(cfg.MetricsFile); writeErr != nil {
				err = errors.Join(err, fmt.Errorf("write metrics: %w", writeErr))
			}
		}
	}()

	return fn(ctx, eng)
}
