package main

import (
	"context"
	"errors"
	"strings"

	"digestdb/internal/engine"
	"digestdb/internal/errs"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var batchErr *engine.BatchError
	if errors.As(err, &batchErr) {
		lines = append(lines, "hint: items before the failing one were stored; rerun with the remaining inputs.")
	}

	switch {
	case errors.Is(err, errs.ErrAlreadyOpen):
		lines = append(lines,
			"hint: another digestdb process holds the lock on this home.",
			"hint: if no other process is running, remove the stale lock with: digestdb unlock",
		)
	case errors.Is(err, errs.ErrInvalidHomeDirectory):
		lines = append(lines, "hint: create the home directory with: digestdb init --home <dir>")
	case errors.Is(err, errs.ErrInvalidConfiguration):
		lines = append(lines, "hint: an existing index keeps the hash_algorithm and shard_depth it was created with; check DIGESTDB_HASH and DIGESTDB_SHARD_DEPTH.")
	case errors.Is(err, errs.ErrNotFound) && strings.Contains(err.Error(), "category"):
		lines = append(lines, "hint: register the category first with: digestdb category add <label>")
	case errors.Is(err, errs.ErrDuplicateObject):
		lines = append(lines,
			"hint: identical content is already stored.",
			"hint: if digestdb reconcile lists it, attach it with: digestdb adopt <category> <digest>",
		)
	case errors.Is(err, errs.ErrCategoryInUse):
		lines = append(lines, "hint: delete the category's blobs first, or set category_delete_policy to cascade or orphan.")
	case errors.Is(err, errs.ErrCorrupt):
		lines = append(lines, "hint: the stored file no longer matches its digest; delete it and store the content again.")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		lines = append(lines, "hint: the operation was interrupted; run digestdb audit to check the index against the data tree.")
	case errors.Is(err, errs.ErrIO):
		lines = append(lines, "hint: check permissions and free space under the home directory.")
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
