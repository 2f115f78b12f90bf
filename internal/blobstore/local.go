package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"digestdb/internal/digest"
	"digestdb/internal/errs"
)

// StagingDirName holds in-flight writes inside the data root.
const StagingDirName = ".tmp"

// Local stores blob bytes in a sharded content-addressed directory tree.
type Local struct {
	root  string
	depth int
}

// NewLocal creates a store rooted at root. Only the root and its staging
// directory are created here; shard directories are created on first write.
func NewLocal(root string, depth int) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("%w: data root is required", errs.ErrInvalidConfiguration)
	}
	if depth < 1 {
		return nil, fmt.Errorf("%w: shard depth must be a positive integer, got %d", errs.ErrInvalidConfiguration, depth)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, StagingDirName), 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs, depth: depth}, nil
}

// Root returns the absolute data root.
func (l *Local) Root() string { return l.root }

// Locate returns the absolute file path for d.
func (l *Local) Locate(d digest.Digest) (string, error) {
	rel, err := Path(d, l.depth)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, rel), nil
}

// Write stores data under d. It fails with errs.ErrDuplicateObject if a blob
// already exists at the derived path.
func (l *Local) Write(ctx context.Context, d digest.Digest, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := l.Locate(d)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return duplicate(d)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	tmp, err := l.createStaging()
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return l.commit(tmpPath, dst, d)
}

// WriteFrom streams r into the store while hashing it with calc, so the
// source is read exactly once. It returns the digest and byte count even when
// the write is rejected as a duplicate.
func (l *Local) WriteFrom(ctx context.Context, r io.Reader, calc *digest.Calculator) (digest.Digest, int64, error) {
	if r == nil {
		return nil, 0, fmt.Errorf("%w: reader is required", errs.ErrInvalidInput)
	}
	if calc == nil {
		return nil, 0, fmt.Errorf("%w: hash calculator is required", errs.ErrInvalidConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	tmp, err := l.createStaging()
	if err != nil {
		return nil, 0, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	h := calc.NewHash()
	buf := make([]byte, calc.ChunkSize())
	n, err := io.CopyBuffer(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: r}, buf)
	if err != nil {
		cleanup()
		return nil, n, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, n, err
	}

	d := digest.Digest(h.Sum(nil))
	dst, err := l.Locate(d)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, n, err
	}
	if err := l.commit(tmpPath, dst, d); err != nil {
		return d, n, err
	}
	return d, n, nil
}

// Open returns a chunked reader over the blob. A missing blob is
// errs.ErrNotFound.
func (l *Local) Open(ctx context.Context, d digest.Digest, chunkSize int) (*ChunkReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = digest.DefaultChunkSize
	}
	path, err := l.Locate(d)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: blob %s", errs.ErrNotFound, d.Hex())
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return newChunkReader(ctx, f, info.Size(), chunkSize), nil
}

// Stat returns the stored size of the blob.
func (l *Local) Stat(ctx context.Context, d digest.Digest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := l.Locate(d)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: blob %s", errs.ErrNotFound, d.Hex())
		}
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: blob %s is not a regular file", errs.ErrCorrupt, d.Hex())
	}
	return info.Size(), nil
}

// Exists reports whether a blob file is present for d.
func (l *Local) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	_, err := l.Stat(ctx, d)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a blob. Missing files are ignored. Emptied shard
// directories are left in place for later writes.
func (l *Local) Delete(ctx context.Context, d digest.Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.Locate(d)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Walk visits every leaf file under the data root in lexical order, skipping
// the staging directory.
func (l *Local) Walk(ctx context.Context, fn func(Entry) error) error {
	return filepath.WalkDir(l.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == l.root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			if path != l.root && entry.Name() == StagingDirName && filepath.Dir(path) == l.root {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		return fn(l.classify(rel, info))
	})
}

func (l *Local) classify(rel string, info fs.FileInfo) Entry {
	out := Entry{RelPath: rel, SizeBytes: info.Size(), Stray: true}
	if !info.Mode().IsRegular() {
		return out
	}
	d, err := digest.ParseHex(info.Name())
	if err != nil || d.Hex() != info.Name() {
		return out
	}
	out.Digest = d
	expected, err := Path(d, l.depth)
	if err != nil {
		return out
	}
	out.Stray = expected != rel
	return out
}

func (l *Local) createStaging() (*os.File, error) {
	dir := filepath.Join(l.root, StagingDirName)
	tmp, err := os.CreateTemp(dir, "put-*")
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		tmp, err = os.CreateTemp(dir, "put-*")
	}
	return tmp, err
}

// commit moves a fully written staging file to dst. Hard-linking makes the
// existence check and the publish a single step; filesystems without links
// fall back to stat-then-rename.
func (l *Local) commit(tmpPath, dst string, d digest.Digest) error {
	defer os.Remove(tmpPath)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	err := os.Link(tmpPath, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		return duplicate(d)
	}

	if _, statErr := os.Stat(dst); statErr == nil {
		return duplicate(d)
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return statErr
	}
	return os.Rename(tmpPath, dst)
}

func duplicate(d digest.Digest) error {
	return fmt.Errorf("%w: blob %s already stored", errs.ErrDuplicateObject, d.Hex())
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
