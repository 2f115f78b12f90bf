package main

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"digestdb/internal/config"
	"digestdb/internal/engine"
)

func newInfoCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show home layout and index totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				info, err := eng.Info(ctx)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(info)
				}
				return writeInfo(info)
			})
		},
	}
}

func writeInfo(info *engine.Info) error {
	_ = writePlain("home: %s\n", info.Home)
	_ = writePlain("index_path: %s\n", info.IndexPath)
	_ = writePlain("data_root: %s\n", info.DataRoot)
	_ = writePlain("hash_algorithm: %s (%d bytes)\n", info.HashAlgorithm, info.DigestSize)
	_ = writePlain("shard_depth: %d\n", info.ShardDepth)
	_ = writePlain("chunk_size: %d\n", info.ChunkSize)
	_ = writePlain("category_delete_policy: %s\n", info.CategoryDeletePolicy)
	if info.Index == nil {
		return nil
	}
	_ = writePlain("schema_version: %d\n", info.Index.SchemaVersion)
	_ = writePlain("categories: %d\n", info.Index.Categories)
	_ = writePlain("total_records: %d\n", info.Index.TotalRecords)
	_ = writePlain("total_bytes: %d\n", info.Index.TotalBytes)

	labels := make([]string, 0, len(info.Index.RecordCounts))
	for label := range info.Index.RecordCounts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		_ = writePlain("  %s: %d\n", label, info.Index.RecordCounts[label])
	}
	if info.Index.Uncategorized > 0 {
		_ = writePlain("  (uncategorized): %d\n", info.Index.Uncategorized)
	}
	return nil
}
