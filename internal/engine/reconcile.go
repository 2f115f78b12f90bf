package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"digestdb/internal/blobstore"
	"digestdb/internal/digest"
	"digestdb/internal/errs"
	"digestdb/internal/models"
)

// Reconcile walks the data subtree and returns every digest that has a file
// but no index record, in lexical path order. Stray entries are skipped.
func (e *Engine) Reconcile(ctx context.Context) (orphans []digest.Digest, err error) {
	defer e.observe("reconcile", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	orphans = []digest.Digest{}
	err = e.blobs.Walk(ctx, func(entry blobstore.Entry) error {
		if entry.Stray {
			return nil
		}
		indexed, err := e.index.RecordExists(ctx, entry.Digest)
		if err != nil {
			return err
		}
		if !indexed {
			orphans = append(orphans, entry.Digest)
		}
		return nil
	})
	if err != nil {
		return nil, wrapIO(err)
	}
	return orphans, nil
}

// AuditReport compares the data subtree with the index in both directions.
type AuditReport struct {
	// Orphans have a file but no record.
	Orphans []digest.Digest `json:"orphans" yaml:"orphans"`
	// Missing have a record but no file.
	Missing []digest.Digest `json:"missing" yaml:"missing"`
	// Stray are data-tree paths that do not follow the layout, relative to the
	// data root.
	Stray   []string `json:"stray" yaml:"stray"`
	Files   int      `json:"files" yaml:"files"`
	Records int      `json:"records" yaml:"records"`
}

// Clean reports whether the audit found no divergence.
func (r *AuditReport) Clean() bool {
	return len(r.Orphans) == 0 && len(r.Missing) == 0 && len(r.Stray) == 0
}

// Audit reports orphans, missing files and stray entries.
func (e *Engine) Audit(ctx context.Context) (report *AuditReport, err error) {
	defer e.observe("audit", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	report = &AuditReport{Orphans: []digest.Digest{}, Missing: []digest.Digest{}, Stray: []string{}}
	err = e.blobs.Walk(ctx, func(entry blobstore.Entry) error {
		report.Files++
		if entry.Stray {
			e.logger.Warn("stray entry in data directory", "path", entry.RelPath)
			report.Stray = append(report.Stray, entry.RelPath)
			return nil
		}
		indexed, err := e.index.RecordExists(ctx, entry.Digest)
		if err != nil {
			return err
		}
		if !indexed {
			report.Orphans = append(report.Orphans, entry.Digest)
		}
		return nil
	})
	if err != nil {
		return nil, wrapIO(err)
	}

	err = e.index.EachRecord(ctx, func(rec models.Record) error {
		report.Records++
		onDisk, err := e.blobs.Exists(ctx, rec.Digest)
		if err != nil {
			return err
		}
		if !onDisk {
			report.Missing = append(report.Missing, rec.Digest)
		}
		return nil
	})
	if err != nil {
		return nil, wrapIO(err)
	}

	e.metrics.SetAudit(len(report.Orphans), len(report.Missing))
	return report, nil
}

// Adopt inserts the index record for a file already on disk, after checking
// the file content still hashes to d. This is the repair path for orphans
// that Reconcile reports; Put rejects such content as a duplicate.
func (e *Engine) Adopt(ctx context.Context, category string, d digest.Digest, ts time.Time) (rec *models.Record, err error) {
	defer e.observe("adopt", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if err := checkCategory(category); err != nil {
		return nil, err
	}
	if err := e.calc.Check(d); err != nil {
		return nil, err
	}
	size, err := e.verify(ctx, d)
	if err != nil {
		return nil, err
	}

	rec = &models.Record{Digest: d, Category: category, SizeBytes: size, Timestamp: ts}
	if err := e.index.InsertRecord(ctx, rec); err != nil {
		return nil, wrapIO(err)
	}
	e.logger.Info("adopted orphan blob", "digest", d.Hex(), "category", category)
	return rec, nil
}

// Verify re-hashes the stored file and fails with errs.ErrCorrupt when the
// content no longer matches d.
func (e *Engine) Verify(ctx context.Context, d digest.Digest) (err error) {
	defer e.observe("verify", time.Now(), &err)
	done, err := e.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := e.calc.Check(d); err != nil {
		return err
	}
	_, err = e.verify(ctx, d)
	return err
}

func (e *Engine) verify(ctx context.Context, d digest.Digest) (int64, error) {
	r, err := e.blobs.Open(ctx, d, e.calc.ChunkSize())
	if err != nil {
		return 0, wrapIO(err)
	}
	defer r.Close()

	h := e.calc.NewHash()
	n, err := io.Copy(h, r)
	if err != nil {
		return 0, wrapIO(err)
	}
	e.metrics.AddRead(n)

	if got := digest.Digest(h.Sum(nil)); !got.Equal(d) {
		return 0, fmt.Errorf("%w: blob %s hashes to %s", errs.ErrCorrupt, d.Hex(), got.Hex())
	}
	return n, nil
}

func openSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: source file %s", errs.ErrNotFound, path)
		}
		return nil, wrapIO(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, wrapIO(err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", errs.ErrInvalidInput, path)
	}
	return f, nil
}
