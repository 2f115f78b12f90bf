package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"digestdb/internal/config"
	"digestdb/internal/errs"
)

func newConfigCmd(cfg *config.Config, structured *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change configuration",
	}

	cmd.AddCommand(newConfigGetCmd(cfg, structured))
	cmd.AddCommand(newConfigSetCmd(cfg, structured))
	return cmd
}

func newConfigGetCmd(cfg *config.Config, structured *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "get [<key>]",
		Short: "Show one effective config value, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := config.AllowedKeys()
			if len(args) == 1 {
				if !config.IsAllowedKey(args[0]) {
					return fmt.Errorf("%w: unknown key %s (allowed: %v)", errs.ErrInvalidInput, args[0], keys)
				}
				keys = args[:1]
			}

			values := make(map[string]string, len(keys))
			for _, key := range keys {
				value, err := cfg.Get(key)
				if err != nil {
					return err
				}
				values[key] = value
			}

			if *structured {
				return writeStructured(values)
			}
			if len(args) == 1 {
				return writePlain("%s\n", values[args[0]])
			}
			for _, key := range keys {
				if err := writePlain("%s = %s\n", key, values[key]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

type configSetResult struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
	Path  string `json:"path" yaml:"path"`
}

func newConfigSetCmd(cfg *config.Config, structured *bool) *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value",
		Long: "Set a config value in the project config (./.digestdb.toml) or, with --global, in ~/.digestdb.toml.\n" +
			"The value is checked against the rest of the effective configuration before anything is written.\n" +
			"Project config is only read when DIGESTDB_TRUST_PROJECT_CONFIG is true.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			candidate, err := cfg.With(key, value)
			if err != nil {
				return fmt.Errorf("%w: %w", errs.ErrInvalidConfiguration, err)
			}
			if err := checkCandidateConfig(cmd.ErrOrStderr(), candidate); err != nil {
				return err
			}

			path, err := configTargetPath(global)
			if err != nil {
				return err
			}
			if err := config.SetKey(path, key, value); err != nil {
				return err
			}

			stored, err := candidate.Get(key)
			if err != nil {
				return err
			}
			result := configSetResult{Key: key, Value: stored, Path: path}
			if *structured {
				return writeStructured(result)
			}
			return writePlain("%s = %s (written to %s)\n", result.Key, result.Value, result.Path)
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write to global config (~/.digestdb.toml)")
	return cmd
}

// checkCandidateConfig builds, without opening, the engine the new settings
// would produce. A home directory that does not exist yet only warns, since
// setting home usually comes before creating it.
func checkCandidateConfig(stderr io.Writer, candidate *config.Config) error {
	_, err := newEngine(candidate, nil)
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrInvalidHomeDirectory) {
		fmt.Fprintf(stderr, "warning: %v; create it and run `digestdb init`\n", err)
		return nil
	}
	return err
}

func configTargetPath(global bool) (string, error) {
	if global {
		return config.GlobalPath()
	}
	return config.ProjectPath()
}
