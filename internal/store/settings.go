package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"digestdb/internal/errs"
)

const (
	settingHashAlgorithm = "hash_algorithm"
	settingShardDepth    = "shard_depth"
)

// Settings pins the layout an index was created with. Every blob path is
// derived from these values, so they cannot change once blobs exist.
type Settings struct {
	HashAlgorithm string `json:"hash_algorithm" yaml:"hash_algorithm"`
	ShardDepth    int    `json:"shard_depth" yaml:"shard_depth"`
}

// LoadSettings returns the pinned settings. ok is false for an index that has
// never been pinned.
func (s *Store) LoadSettings(ctx context.Context) (Settings, bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings WHERE key IN (?, ?)", settingHashAlgorithm, settingShardDepth)
	if err != nil {
		return Settings{}, false, err
	}
	defer rows.Close()

	var out Settings
	found := 0
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Settings{}, false, err
		}
		switch key {
		case settingHashAlgorithm:
			out.HashAlgorithm = value
		case settingShardDepth:
			depth, err := strconv.Atoi(value)
			if err != nil {
				return Settings{}, false, fmt.Errorf("%w: stored shard depth %q", errs.ErrInvalidConfiguration, value)
			}
			out.ShardDepth = depth
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return Settings{}, false, err
	}
	return out, found == 2, nil
}

// EnsureSettings pins want on first use and afterwards rejects a mismatch
// with errs.ErrInvalidConfiguration.
func (s *Store) EnsureSettings(ctx context.Context, want Settings) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, kv := range [][2]string{
			{settingHashAlgorithm, want.HashAlgorithm},
			{settingShardDepth, strconv.Itoa(want.ShardDepth)},
		} {
			var current string
			err := tx.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", kv[0]).Scan(&current)
			if err == sql.ErrNoRows {
				if _, err := tx.ExecContext(ctx, "INSERT INTO settings (key, value) VALUES (?, ?)", kv[0], kv[1]); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if current != kv[1] {
				return fmt.Errorf("%w: index was created with %s=%s, configured %s", errs.ErrInvalidConfiguration, kv[0], current, kv[1])
			}
		}
		return nil
	})
}
