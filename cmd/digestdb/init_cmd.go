package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"digestdb/internal/config"
	"digestdb/internal/engine"
	"digestdb/internal/errs"
)

func newInitCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the home directory, index and data tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := strings.TrimSpace(cfg.Home)
			if home == "" {
				return fmt.Errorf("%w: --home is required", errs.ErrInvalidHomeDirectory)
			}
			if err := os.MkdirAll(home, 0o755); err != nil {
				return fmt.Errorf("%w: create %s: %w", errs.ErrInvalidHomeDirectory, home, err)
			}
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				info, err := eng.Info(ctx)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(info)
				}
				return writePlain("initialized %s (%s, shard depth %d)\n", info.Home, info.HashAlgorithm, info.ShardDepth)
			})
		},
	}
}
