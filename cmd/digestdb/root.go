package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"digestdb/internal/config"
	"digestdb/internal/format"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		structuredOutput bool
		yamlOutput       bool
		logLevel         string
		logFormat        string
	)

	cmd := &cobra.Command{
		Use:           "digestdb",
		Short:         "Digestdb is a content-addressed blob store with a SQLite index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if structuredOutput && yamlOutput {
				return errors.New("--json and --yaml are mutually exclusive")
			}
			outputFormatter = format.JSONFormatter{}
			if yamlOutput {
				outputFormatter = format.YAMLFormatter{}
				structuredOutput = true
			}

			setup, err := resolveLogging(logFlags{level: logLevel, format: logFormat}, cfg)
			if err != nil {
				return err
			}
			for _, warning := range setup.warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), warning)
			}
			installLogger(cmd.ErrOrStderr(), setup, cmd.CommandPath())
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&structuredOutput, "json", false, "output JSON")
	cmd.PersistentFlags().BoolVar(&yamlOutput, "yaml", false, "output YAML")
	cmd.PersistentFlags().StringVar(&cfg.Home, "home", cfg.Home, "home directory holding the index and data tree")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format on stderr (text, json)")
	cmd.PersistentFlags().StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write Prometheus metrics of this run to a textfile")

	cmd.AddCommand(
		newInitCmd(cfg, &structuredOutput),
		newInfoCmd(cfg, &structuredOutput),
		newCategoryCmd(cfg, &structuredOutput),
		newPutCmd(cfg, &structuredOutput),
		newGetCmd(cfg),
		newExistsCmd(cfg, &structuredOutput),
		newQueryCmd(cfg, &structuredOutput),
		newDeleteCmd(cfg, &structuredOutput),
		newReconcileCmd(cfg, &structuredOutput),
		newAuditCmd(cfg, &structuredOutput),
		newAdoptCmd(cfg, &structuredOutput),
		newVerifyCmd(cfg, &structuredOutput),
		newUnlockCmd(cfg, &structuredOutput),
		newMigrateCmd(cfg, &structuredOutput),
		newConfigCmd(cfg, &structuredOutput),
	)

	return cmd
}
