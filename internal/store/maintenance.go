package store

import (
	"context"
	"database/sql"
)

// StoreInfo summarizes the index contents.
type StoreInfo struct {
	SchemaVersion int            `json:"schema_version" yaml:"schema_version"`
	TotalRecords  int            `json:"total_records" yaml:"total_records"`
	TotalBytes    int64          `json:"total_bytes" yaml:"total_bytes"`
	Categories    int            `json:"categories" yaml:"categories"`
	RecordCounts  map[string]int `json:"record_counts" yaml:"record_counts"`
	Uncategorized int            `json:"uncategorized" yaml:"uncategorized"`
}

// StoreInfo returns schema version and per-category record counts.
func (s *Store) StoreInfo(ctx context.Context) (*StoreInfo, error) {
	version, err := currentVersion(s.db)
	if err != nil {
		return nil, err
	}

	info := &StoreInfo{SchemaVersion: version, RecordCounts: map[string]int{}}
	if info.Categories, err = s.CountCategories(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category_label, COUNT(*), COALESCE(SUM(byte_size), 0)
		FROM digests
		GROUP BY category_label
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			label sql.NullString
			count int
			bytes int64
		)
		if err := rows.Scan(&label, &count, &bytes); err != nil {
			return nil, err
		}
		info.TotalRecords += count
		info.TotalBytes += bytes
		if !label.Valid {
			info.Uncategorized += count
			continue
		}
		info.RecordCounts[label.String] = count
	}
	return info, rows.Err()
}
