package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"digestdb/internal/config"
	"digestdb/internal/digest"
	"digestdb/internal/engine"
	"digestdb/internal/metrics"
	"digestdb/internal/models"
	"digestdb/internal/store"
)

func newReconcileCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "List blob files that have no index record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				orphans, err := eng.Reconcile(ctx)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(orphans)
				}
				for _, d := range orphans {
					if err := writePlain("%s\n", d.Hex()); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newAuditCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Compare the index with the data tree in both directions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				report, err := eng.Audit(ctx)
				if err != nil {
					return err
				}
				if *jsonOutput {
					if err := writeStructured(report); err != nil {
						return err
					}
				} else {
					writeAuditReport(report)
				}
				if !report.Clean() {
					return fmt.Errorf("audit found %d orphaned, %d missing and %d stray entries",
						len(report.Orphans), len(report.Missing), len(report.Stray))
				}
				return nil
			})
		},
	}
}

func writeAuditReport(report *engine.AuditReport) {
	_ = writePlain("files: %d\n", report.Files)
	_ = writePlain("records: %d\n", report.Records)
	for _, d := range report.Orphans {
		_ = writePlain("orphan  %s\n", d.Hex())
	}
	for _, d := range report.Missing {
		_ = writePlain("missing %s\n", d.Hex())
	}
	for _, path := range report.Stray {
		_ = writePlain("stray   %s\n", path)
	}
}

func newAdoptCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var timestamp string

	cmd := &cobra.Command{
		Use:   "adopt <category> <digest> [<digest>...]",
		Short: "Index orphaned blob files under a category",
		Args:  requireAtLeastArgs(2, "category and at least one digest are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseTimestamp("timestamp", timestamp)
			if err != nil {
				return err
			}
			digests, err := parseDigests(args[1:])
			if err != nil {
				return err
			}
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				records := make([]models.Record, 0, len(digests))
				for _, d := range digests {
					rec, err := eng.Adopt(ctx, args[0], d, ts)
					if err != nil {
						return fmt.Errorf("adopt %s: %w", d.Hex(), err)
					}
					records = append(records, *rec)
				}
				if *jsonOutput {
					return writeStructured(records)
				}
				return writeRecordList(records)
			})
		},
	}

	cmd.Flags().StringVar(&timestamp, "timestamp", "", "record timestamp (RFC 3339, default now)")
	return cmd
}

func newVerifyCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "verify [<digest>...]",
		Short: "Re-hash stored files and report corruption",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("digest is required (or use --all)")
			}
			digests, err := parseDigests(args)
			if err != nil {
				return err
			}
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				if all {
					records, err := eng.Query(ctx, store.RecordFilter{})
					if err != nil {
						return err
					}
					for _, rec := range records {
						digests = append(digests, rec.Digest)
					}
				}
				return verifyDigests(ctx, eng, digests, *jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "verify every indexed blob")
	return cmd
}

type verifyResult struct {
	Digest digest.Digest `json:"digest" yaml:"digest"`
	Result string        `json:"result" yaml:"result"`
	Error  string        `json:"error,omitempty" yaml:"error,omitempty"`
}

func verifyDigests(ctx context.Context, eng *engine.Engine, digests []digest.Digest, structured bool) error {
	results := make([]verifyResult, 0, len(digests))
	failed := 0
	for _, d := range digests {
		err := eng.Verify(ctx, d)
		result := verifyResult{Digest: d, Result: metrics.Result(err)}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			result.Error = err.Error()
			failed++
		}
		results = append(results, result)
	}

	if structured {
		if err := writeStructured(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			_ = writePlain("%s  %s\n", r.Digest.Hex(), r.Result)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d blobs failed verification", failed, len(digests))
	}
	return nil
}

func newUnlockCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Remove a stale lock left by a process that did not close",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cfg, nil)
			if err != nil {
				return err
			}
			removed, err := eng.BreakLock()
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeStructured(map[string]any{"lock_path": eng.LockPath(), "removed": removed})
			}
			if !removed {
				return writePlain("no lock at %s\n", eng.LockPath())
			}
			return writePlain("removed %s\n", eng.LockPath())
		},
	}
}
