package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"digestdb/internal/config"
	"digestdb/internal/digest"
	"digestdb/internal/engine"
	"digestdb/internal/errs"
	"digestdb/internal/store"
)

type putResult struct {
	Source string        `json:"source" yaml:"source"`
	Digest digest.Digest `json:"digest" yaml:"digest"`
}

func newPutCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var timestamp string

	cmd := &cobra.Command{
		Use:   "put <category> <file> [<file>...]",
		Short: "Store files under a category (use - for stdin)",
		Args:  requireAtLeastArgs(2, "category and at least one file are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseTimestamp("timestamp", timestamp)
			if err != nil {
				return err
			}
			category, sources := args[0], args[1:]
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				results := make([]putResult, 0, len(sources))
				for i, source := range sources {
					var d digest.Digest
					if source == "-" {
						d, err = eng.PutReader(ctx, category, cmd.InOrStdin(), ts)
					} else {
						d, err = eng.PutFile(ctx, category, source, ts)
					}
					if err != nil {
						if len(sources) > 1 {
							err = &engine.BatchError{Index: i, Err: fmt.Errorf("%s: %w", source, err)}
						}
						if !*jsonOutput {
							_ = writePutResults(results)
						}
						return err
					}
					results = append(results, putResult{Source: source, Digest: d})
				}
				if *jsonOutput {
					return writeStructured(results)
				}
				return writePutResults(results)
			})
		},
	}

	cmd.Flags().StringVar(&timestamp, "timestamp", "", "record timestamp (RFC 3339, default now)")
	return cmd
}

func writePutResults(results []putResult) error {
	for _, r := range results {
		if err := writePlain("%s  %s\n", r.Digest.Hex(), r.Source); err != nil {
			return err
		}
	}
	return nil
}

func newGetCmd(cfg *config.Config) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <digest>",
		Short: "Write stored content to stdout or a file",
		Args:  requireExactlyArgs(1, "digest is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.ParseHex(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				r, err := eng.Reader(ctx, d)
				if err != nil {
					return err
				}
				defer r.Close()

				if output == "" || output == "-" {
					return copyChunks(outputWriter, r.All())
				}
				return writeFileAtomic(output, func(w io.Writer) error {
					return copyChunks(w, r.All())
				})
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func copyChunks(w io.Writer, chunks iter.Seq2[[]byte, error]) error {
	for chunk, err := range chunks {
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes through a temp file in the target directory so a
// failed read leaves no partial output behind.
func writeFileAtomic(path string, fill func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	return nil
}

func newExistsCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <digest> [<digest>...]",
		Short: "Report whether blobs are stored",
		Args:  requireAtLeastOneDigest,
		RunE: func(cmd *cobra.Command, args []string) error {
			digests, err := parseDigests(args)
			if err != nil {
				return err
			}
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				present := make(map[string]bool, len(digests))
				for _, d := range digests {
					ok, err := eng.Exists(ctx, d)
					if err != nil {
						return err
					}
					present[d.Hex()] = ok
				}
				if *jsonOutput {
					return writeStructured(present)
				}
				for _, d := range digests {
					if err := writePlain("%s  %t\n", d.Hex(), present[d.Hex()]); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newQueryCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		category string
		since    string
		until    string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List index records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.RecordFilter{Category: category, Limit: limit}
			var err error
			if filter.Since, err = optionalTimestamp("since", since); err != nil {
				return err
			}
			if filter.Until, err = optionalTimestamp("until", until); err != nil {
				return err
			}
			if limit < 0 {
				return fmt.Errorf("%w: --limit must be >= 0", errs.ErrInvalidInput)
			}
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				records, err := eng.Query(ctx, filter)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(records)
				}
				return writeRecordList(records)
			})
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "only records in this category")
	cmd.Flags().StringVar(&since, "since", "", "records at or after this time")
	cmd.Flags().StringVar(&until, "until", "", "records before this time")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of records (0 = all)")
	return cmd
}

func newDeleteCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <digest> [<digest>...]",
		Short: "Delete blobs and their records",
		Args:  requireAtLeastOneDigest,
		RunE: func(cmd *cobra.Command, args []string) error {
			digests, err := parseDigests(args)
			if err != nil {
				return err
			}
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				var failures []error
				deleted := make([]digest.Digest, 0, len(digests))
				for _, d := range digests {
					if err := eng.Delete(ctx, d); err != nil {
						failures = append(failures, fmt.Errorf("delete %s: %w", d.Hex(), err))
						continue
					}
					deleted = append(deleted, d)
				}
				if *jsonOutput {
					if err := writeStructured(map[string]any{"deleted": deleted}); err != nil {
						return err
					}
				} else {
					for _, d := range deleted {
						_ = writePlain("deleted %s\n", d.Hex())
					}
				}
				return errors.Join(failures...)
			})
		},
	}
}
