// Package lock implements the single-writer sentinel for a home directory.
//
// The sentinel is a zero-byte file whose presence alone means the home
// directory is open elsewhere. It is not an OS advisory lock: a crashed
// process leaves it behind and it must be removed explicitly (Break).
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"digestdb/internal/errs"
)

// Suffix is appended to the index file stem to name the sentinel.
const Suffix = ".lock"

// PathFor returns the sentinel path for an index file: digestdb.db maps to
// digestdb.lock in the same directory.
func PathFor(indexPath string) string {
	ext := filepath.Ext(indexPath)
	return strings.TrimSuffix(indexPath, ext) + Suffix
}

// Sentinel is a held lock. Release removes it.
type Sentinel struct {
	path string
	once sync.Once
	err  error
}

// Acquire creates the sentinel at path. It fails with errs.ErrAlreadyOpen if
// the sentinel already exists.
func Acquire(path string) (*Sentinel, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: close the database or remove the lock file %s", errs.ErrAlreadyOpen, path)
		}
		return nil, fmt.Errorf("%w: create lock file: %w", errs.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: create lock file: %w", errs.ErrIO, err)
	}
	return &Sentinel{path: path}, nil
}

// Release removes the sentinel. Repeated calls return the first result.
func (s *Sentinel) Release() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.err = fmt.Errorf("%w: remove lock file: %w", errs.ErrIO, err)
		}
	})
	return s.err
}

// Break removes a stale sentinel left by a process that did not close.
// It reports whether a sentinel was present.
func Break(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
