// Package engine coordinates the digest calculator, the blob store and the
// metadata index behind one home directory.
//
// A blob is present only when both its index record and its file exist. Put
// writes the file first and the record second; a failure in between leaves a
// file without a record, which Exists reports as absent and Reconcile
// surfaces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"digestdb/internal/blobstore"
	"digestdb/internal/digest"
	"digestdb/internal/errs"
	"digestdb/internal/lock"
	"digestdb/internal/metrics"
	"digestdb/internal/models"
	"digestdb/internal/store"
)

// Engine owns one home directory: its index file, lock sentinel and data
// subtree.
type Engine struct {
	home      string
	indexPath string
	dataRoot  string
	lockPath  string
	depth     int
	policy    models.CategoryDeletePolicy
	calc      *digest.Calculator
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// mu guards the open/closed state. Operations hold it shared so Close
	// waits for them to drain.
	mu       sync.RWMutex
	index    store.Index
	blobs    blobstore.BlobStore
	sentinel *lock.Sentinel
}

// New validates opts and returns a closed engine.
func New(opts Options) (*Engine, error) {
	opts = opts.withDefaults()

	home, err := resolveHome(opts.Home)
	if err != nil {
		return nil, err
	}
	if err := validateFileName("index file name", opts.IndexFileName); err != nil {
		return nil, err
	}
	if err := validateFileName("data directory name", opts.DataDirName); err != nil {
		return nil, err
	}

	calc, err := digest.New(opts.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	calc, err = calc.WithChunkSize(opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	if err := blobstore.ValidateDepth(opts.ShardDepth, calc.Size()); err != nil {
		return nil, err
	}
	if !opts.CategoryDeletePolicy.Valid() {
		return nil, fmt.Errorf("%w: unknown category delete policy %q", errs.ErrInvalidConfiguration, opts.CategoryDeletePolicy)
	}

	indexPath := filepath.Join(home, opts.IndexFileName)
	return &Engine{
		home:      home,
		indexPath: indexPath,
		dataRoot:  filepath.Join(home, opts.DataDirName),
		lockPath:  lock.PathFor(indexPath),
		depth:     opts.ShardDepth,
		policy:    opts.CategoryDeletePolicy,
		calc:      calc,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// Home returns the absolute home directory.
func (e *Engine) Home() string { return e.home }

// IndexPath returns the metadata index file location.
func (e *Engine) IndexPath() string { return e.indexPath }

// DataRoot returns the blob data subtree.
func (e *Engine) DataRoot() string { return e.dataRoot }

// LockPath returns the lock sentinel location.
func (e *Engine) LockPath() string { return e.lockPath }

// Calculator returns the digest calculator bound to this home.
func (e *Engine) Calculator() *digest.Calculator { return e.calc }

// IsOpen reports whether Open has succeeded and Close has not yet run.
func (e *Engine) IsOpen() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index != nil
}

// Open acquires the lock sentinel, opens and migrates the index, and checks
// that the index was created with this engine's algorithm and shard depth.
// The sentinel is released again if any later step fails.
func (e *Engine) Open(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index != nil {
		return fmt.Errorf("%w: %s", errs.ErrAlreadyOpen, e.home)
	}

	sentinel, err := lock.Acquire(e.lockPath)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if releaseErr := sentinel.Release(); releaseErr != nil {
				e.logger.Warn("release lock after failed open", "path", e.lockPath, "error", releaseErr)
			}
		}
	}()

	st, err := store.Open(e.indexPath)
	if err != nil {
		return wrapIO(fmt.Errorf("open index %s: %w", e.indexPath, err))
	}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	if err := st.EnsureSettings(ctx, store.Settings{HashAlgorithm: e.calc.Name(), ShardDepth: e.depth}); err != nil {
		return wrapIO(err)
	}

	blobs, err := blobstore.NewLocal(e.dataRoot, e.depth)
	if err != nil {
		return wrapIO(fmt.Errorf("prepare data directory %s: %w", e.dataRoot, err))
	}

	e.index = st
	e.blobs = blobs
	e.sentinel = sentinel
	e.logger.Info("database opened", "home", e.home, "algorithm", e.calc.Name(), "shard_depth", e.depth)
	return nil
}

// Close closes the index and removes the lock sentinel. Closing a closed
// engine is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index == nil {
		return nil
	}

	var closeErr error
	if err := e.index.Close(); err != nil {
		closeErr = wrapIO(fmt.Errorf("close index: %w", err))
	}
	if err := e.sentinel.Release(); err != nil {
		closeErr = errors.Join(closeErr, err)
	}
	e.index = nil
	e.blobs = nil
	e.sentinel = nil
	e.logger.Info("database closed", "home", e.home)
	return closeErr
}

// BreakLock removes a sentinel left behind by a process that exited without
// closing. It refuses while this engine holds the lock.
func (e *Engine) BreakLock() (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index != nil {
		return false, fmt.Errorf("%w: this engine holds the lock", errs.ErrAlreadyOpen)
	}
	removed, err := lock.Break(e.lockPath)
	if err != nil {
		return false, wrapIO(err)
	}
	if removed {
		e.logger.Warn("removed stale lock", "path", e.lockPath)
	}
	return removed, nil
}

// begin takes the shared state lock and fails with errs.ErrNotOpen while the
// engine is closed. The returned func releases the lock.
func (e *Engine) begin() (func(), error) {
	e.mu.RLock()
	if e.index == nil {
		e.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", errs.ErrNotOpen, e.home)
	}
	return e.mu.RUnlock, nil
}

func (e *Engine) observe(op string, start time.Time, err *error) {
	e.metrics.Observe(op, start, *err)
}

// PutCategory registers a category label.
func (e *Engine) PutCategory(ctx context.Context, label, description string) (err error) {
	defer e.observe("put_category", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return err
	}
	defer done()
	return wrapIO(e.index.PutCategory(ctx, label, description))
}

// GetCategory returns one category or errs.ErrNotFound.
func (e *Engine) GetCategory(ctx context.Context, label string) (*models.Category, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	category, err := e.index.GetCategory(ctx, label)
	return category, wrapIO(err)
}

// QueryCategories lists categories matching filter.
func (e *Engine) QueryCategories(ctx context.Context, filter store.CategoryFilter) ([]models.Category, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	categories, err := e.index.QueryCategories(ctx, filter)
	return categories, wrapIO(err)
}

// CountCategories returns the number of registered categories.
func (e *Engine) CountCategories(ctx context.Context) (int, error) {
	done, err := e.begin()
	if err != nil {
		return 0, err
	}
	defer done()
	count, err := e.index.CountCategories(ctx)
	return count, wrapIO(err)
}

// DeleteCategory removes a category under the configured delete policy.
// Under the cascade policy the blob files of the removed records are deleted
// too and their digests returned.
func (e *Engine) DeleteCategory(ctx context.Context, label string) (removed []digest.Digest, err error) {
	defer e.observe("delete_category", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	removed, err = e.index.DeleteCategory(ctx, label, e.policy)
	if err != nil {
		return nil, wrapIO(err)
	}

	var fileErrs []error
	for _, d := range removed {
		if err := e.blobs.Delete(context.WithoutCancel(ctx), d); err != nil {
			fileErrs = append(fileErrs, fmt.Errorf("remove blob %s: %w", d.Hex(), err))
		}
	}
	e.logger.Info("category deleted", "label", label, "policy", string(e.policy), "removed", len(removed))
	return removed, wrapIO(errors.Join(fileErrs...))
}

// Put stores data under category. The digest is returned alongside
// errs.ErrDuplicateObject when identical content is already on disk.
func (e *Engine) Put(ctx context.Context, category string, data []byte, ts time.Time) (d digest.Digest, err error) {
	defer e.observe("put", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	return e.put(ctx, category, data, ts)
}

func (e *Engine) put(ctx context.Context, category string, data []byte, ts time.Time) (digest.Digest, error) {
	if err := checkCategory(category); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: data is required", errs.ErrInvalidInput)
	}

	d := e.calc.Sum(data)
	if err := e.blobs.Write(ctx, d, data); err != nil {
		if errors.Is(err, errs.ErrDuplicateObject) {
			return d, err
		}
		return nil, wrapIO(err)
	}
	e.metrics.AddWritten(int64(len(data)))

	if err := e.record(ctx, category, d, int64(len(data)), ts); err != nil {
		return nil, err
	}
	return d, nil
}

// PutFile stores the file at path. The file is read once: it is hashed while
// being staged.
func (e *Engine) PutFile(ctx context.Context, category, path string, ts time.Time) (d digest.Digest, err error) {
	defer e.observe("put_file", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if err := checkCategory(category); err != nil {
		return nil, err
	}
	f, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return e.putReader(ctx, category, f, ts)
}

// PutReader stores everything read from r.
func (e *Engine) PutReader(ctx context.Context, category string, r io.Reader, ts time.Time) (d digest.Digest, err error) {
	defer e.observe("put_reader", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if err := checkCategory(category); err != nil {
		return nil, err
	}
	return e.putReader(ctx, category, r, ts)
}

func (e *Engine) putReader(ctx context.Context, category string, r io.Reader, ts time.Time) (digest.Digest, error) {
	d, n, err := e.blobs.WriteFrom(ctx, r, e.calc)
	if err != nil {
		if errors.Is(err, errs.ErrDuplicateObject) {
			return d, err
		}
		return nil, wrapIO(err)
	}
	e.metrics.AddWritten(n)

	if err := e.record(ctx, category, d, n, ts); err != nil {
		return nil, err
	}
	return d, nil
}

// record inserts the index row for a blob this call just wrote. If the insert
// fails the file is removed again so the failure leaves nothing behind; if
// that removal fails too, the file stays for Reconcile to find.
func (e *Engine) record(ctx context.Context, category string, d digest.Digest, size int64, ts time.Time) error {
	rec := &models.Record{Digest: d, Category: category, SizeBytes: size, Timestamp: ts}
	insertErr := e.index.InsertRecord(ctx, rec)
	if insertErr == nil {
		return nil
	}
	if errors.Is(insertErr, errs.ErrAlreadyExists) {
		// The row was already there and only its file was missing.
		e.logger.Info("restored missing blob file", "digest", d.Hex(), "category", category)
		return nil
	}

	if err := e.blobs.Delete(context.WithoutCancel(ctx), d); err != nil {
		e.logger.Warn("orphaned blob after failed insert", "digest", d.Hex(), "insert_error", insertErr, "error", err)
	} else {
		e.metrics.Compensated()
		e.logger.Warn("removed blob after failed insert", "digest", d.Hex(), "error", insertErr)
	}
	return wrapIO(insertErr)
}

// Item is one entry of a PutMany batch.
type Item struct {
	Category  string
	Data      []byte
	Timestamp time.Time
}

// BatchError reports which PutMany item failed.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// PutMany stores items in order. The first failure stops the batch; the
// digests stored before it are returned with a *BatchError.
func (e *Engine) PutMany(ctx context.Context, items []Item) (digests []digest.Digest, err error) {
	defer e.observe("put_many", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	digests = make([]digest.Digest, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return digests, &BatchError{Index: i, Err: err}
		}
		d, err := e.put(ctx, item.Category, item.Data, item.Timestamp)
		if err != nil {
			return digests, &BatchError{Index: i, Err: err}
		}
		digests = append(digests, d)
	}
	return digests, nil
}

// Get returns the stored bytes. ok is false, with a nil error, when no file
// exists for d.
func (e *Engine) Get(ctx context.Context, d digest.Digest) (data []byte, ok bool, err error) {
	defer e.observe("get", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return nil, false, err
	}
	defer done()

	if err := e.calc.Check(d); err != nil {
		return nil, false, err
	}
	r, err := e.blobs.Open(ctx, d, e.calc.ChunkSize())
	if errors.Is(err, errs.ErrNotFound) {
		e.logger.Debug("get: blob not found", "digest", d.Hex())
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapIO(err)
	}
	defer r.Close()

	data, err = r.ReadAll()
	if err != nil {
		return nil, false, wrapIO(err)
	}
	e.metrics.AddRead(int64(len(data)))
	return data, true, nil
}

// Reader opens a single-pass chunk stream over the stored bytes. A missing
// file is errs.ErrNotFound. The caller closes the reader.
func (e *Engine) Reader(ctx context.Context, d digest.Digest) (*blobstore.ChunkReader, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if err := e.calc.Check(d); err != nil {
		return nil, err
	}
	r, err := e.blobs.Open(ctx, d, e.calc.ChunkSize())
	if err != nil {
		return nil, wrapIO(err)
	}
	e.metrics.AddRead(r.Size())
	return r, nil
}

// Exists reports whether both the record and the file are present.
func (e *Engine) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	done, err := e.begin()
	if err != nil {
		return false, err
	}
	defer done()
	return e.exists(ctx, d)
}

func (e *Engine) exists(ctx context.Context, d digest.Digest) (bool, error) {
	if err := e.calc.Check(d); err != nil {
		return false, err
	}
	indexed, err := e.index.RecordExists(ctx, d)
	if err != nil {
		return false, wrapIO(err)
	}
	if !indexed {
		return false, nil
	}
	onDisk, err := e.blobs.Exists(ctx, d)
	if err != nil {
		return false, wrapIO(err)
	}
	return onDisk, nil
}

// Record returns the index record for d without checking the file.
func (e *Engine) Record(ctx context.Context, d digest.Digest) (*models.Record, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	rec, err := e.index.GetRecord(ctx, d)
	return rec, wrapIO(err)
}

// Query lists index records. File presence is not checked.
func (e *Engine) Query(ctx context.Context, filter store.RecordFilter) (records []models.Record, err error) {
	defer e.observe("query", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	records, err = e.index.QueryRecords(ctx, filter)
	return records, wrapIO(err)
}

// Delete removes the record and the file. Either may already be absent. Both
// removals are attempted even if the first one fails.
func (e *Engine) Delete(ctx context.Context, d digest.Digest) (err error) {
	defer e.observe("delete", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := e.calc.Check(d); err != nil {
		return err
	}
	recordErr := e.index.DeleteRecord(ctx, d)
	fileErr := e.blobs.Delete(ctx, d)
	return wrapIO(errors.Join(recordErr, fileErr))
}

// Count returns the number of index records.
func (e *Engine) Count(ctx context.Context) (int, error) {
	done, err := e.begin()
	if err != nil {
		return 0, err
	}
	defer done()
	count, err := e.index.CountRecords(ctx)
	return count, wrapIO(err)
}

// Info describes the home layout and index contents.
type Info struct {
	Home                 string           `json:"home" yaml:"home"`
	IndexPath            string           `json:"index_path" yaml:"index_path"`
	DataRoot             string           `json:"data_root" yaml:"data_root"`
	LockPath             string           `json:"lock_path" yaml:"lock_path"`
	HashAlgorithm        string           `json:"hash_algorithm" yaml:"hash_algorithm"`
	DigestSize           int              `json:"digest_size" yaml:"digest_size"`
	ShardDepth           int              `json:"shard_depth" yaml:"shard_depth"`
	ChunkSize            int              `json:"chunk_size" yaml:"chunk_size"`
	CategoryDeletePolicy string           `json:"category_delete_policy" yaml:"category_delete_policy"`
	Index                *store.StoreInfo `json:"index" yaml:"index"`
}

// Info reports paths, layout settings and index totals.
func (e *Engine) Info(ctx context.Context) (*Info, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	stats, err := e.index.StoreInfo(ctx)
	if err != nil {
		return nil, wrapIO(err)
	}
	return &Info{
		Home:                 e.home,
		IndexPath:            e.indexPath,
		DataRoot:             e.dataRoot,
		LockPath:             e.lockPath,
		HashAlgorithm:        e.calc.Name(),
		DigestSize:           e.calc.Size(),
		ShardDepth:           e.depth,
		ChunkSize:            e.calc.ChunkSize(),
		CategoryDeletePolicy: string(e.policy),
		Index:                stats,
	}, nil
}

func checkCategory(category string) error {
	if strings.TrimSpace(category) == "" {
		return fmt.Errorf("%w: category label is required", errs.ErrInvalidInput)
	}
	return nil
}

// wrapIO tags faults that no layer classified as errs.ErrIO. Context
// cancellation passes through untouched.
func wrapIO(err error) error {
	if err == nil || errs.IsClassified(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", errs.ErrIO, err)
}
