package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"digestdb/internal/blobstore"
	"digestdb/internal/digest"
	"digestdb/internal/errs"
	"digestdb/internal/metrics"
	"digestdb/internal/models"
)

const (
	DefaultIndexFileName        = "digestdb.db"
	DefaultDataDirName          = "digestdb.data"
	DefaultShardDepth           = blobstore.DefaultDepth
	DefaultHashAlgorithm        = digest.DefaultAlgorithm
	DefaultChunkSize            = digest.DefaultChunkSize
	DefaultCategoryDeletePolicy = models.DeleteRestrict
)

// Options configures an Engine. Home is required; zero values elsewhere take
// the defaults above. For ShardDepth and ChunkSize that means 0 selects the
// default, so a depth of 1 or 2 has to be set explicitly; negative values are
// rejected with errs.ErrInvalidConfiguration.
type Options struct {
	Home                 string
	IndexFileName        string
	DataDirName          string
	ShardDepth           int
	HashAlgorithm        string
	ChunkSize            int
	CategoryDeletePolicy models.CategoryDeletePolicy
	Logger               *slog.Logger
	Metrics              *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.IndexFileName) == "" {
		o.IndexFileName = DefaultIndexFileName
	}
	if strings.TrimSpace(o.DataDirName) == "" {
		o.DataDirName = DefaultDataDirName
	}
	if o.ShardDepth == 0 {
		o.ShardDepth = DefaultShardDepth
	}
	if strings.TrimSpace(o.HashAlgorithm) == "" {
		o.HashAlgorithm = DefaultHashAlgorithm
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.CategoryDeletePolicy == "" {
		o.CategoryDeletePolicy = DefaultCategoryDeletePolicy
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func validateFileName(field, name string) error {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %s must be a plain name, got %q", errs.ErrInvalidConfiguration, field, name)
	}
	return nil
}

// resolveHome expands a leading ~ and returns an absolute path to an existing
// directory.
func resolveHome(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: home directory is required", errs.ErrInvalidHomeDirectory)
	}

	path, err := expandUser(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrInvalidHomeDirectory, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrInvalidHomeDirectory, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", errs.ErrInvalidHomeDirectory, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", errs.ErrInvalidHomeDirectory, abs)
	}
	return abs, nil
}

func expandUser(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
