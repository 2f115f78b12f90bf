package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"digestdb/internal/digest"
	"digestdb/internal/errs"
	"digestdb/internal/models"
)

const recordColumns = "digest, category_label, byte_size, timestamp"

// RecordFilter narrows QueryRecords. Zero values do not filter.
type RecordFilter struct {
	Category string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// InsertRecord adds one record. The primary key rejects a digest that is
// already indexed (errs.ErrAlreadyExists) and the foreign key rejects an
// unregistered category (errs.ErrNotFound). A zero timestamp means now.
func (s *Store) InsertRecord(ctx context.Context, rec *models.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: record is required", errs.ErrInvalidInput)
	}
	if len(rec.Digest) == 0 {
		return fmt.Errorf("%w: digest is required", errs.ErrInvalidInput)
	}
	if rec.SizeBytes < 0 {
		return fmt.Errorf("%w: byte size must be >= 0", errs.ErrInvalidInput)
	}
	rec.Category = normalizeLabel(rec.Category)
	if rec.Category == "" {
		return fmt.Errorf("%w: category label is required", errs.ErrInvalidInput)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO digests ("+recordColumns+") VALUES (?, ?, ?, ?)",
			[]byte(rec.Digest), rec.Category, rec.SizeBytes, dbFormatTime(rec.Timestamp))
		switch {
		case isUniqueConstraint(err):
			return fmt.Errorf("%w: record %s", errs.ErrAlreadyExists, rec.Digest.Hex())
		case isForeignKeyConstraint(err):
			return fmt.Errorf("%w: category %s", errs.ErrNotFound, rec.Category)
		default:
			return err
		}
	})
}

// GetRecord returns one record or errs.ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, d digest.Digest) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM digests WHERE digest = ?", []byte(d))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: record %s", errs.ErrNotFound, d.Hex())
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordExists checks whether a record exists for d.
func (s *Store) RecordExists(ctx context.Context, d digest.Digest) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM digests WHERE digest = ? LIMIT 1", []byte(d)).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// QueryRecords lists records ordered by timestamp, then digest.
func (s *Store) QueryRecords(ctx context.Context, filter RecordFilter) ([]models.Record, error) {
	query, args := buildRecordQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// EachRecord streams every record to fn without materializing the table.
func (s *Store) EachRecord(ctx context.Context, fn func(models.Record) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordColumns+" FROM digests ORDER BY digest")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(*rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteRecord removes a record. A missing record is not an error.
func (s *Store) DeleteRecord(ctx context.Context, d digest.Digest) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM digests WHERE digest = ?", []byte(d))
		return err
	})
}

// CountRecords returns the number of records.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM digests").Scan(&count)
	return count, err
}

func buildRecordQuery(filter RecordFilter) (string, []any) {
	query := "SELECT " + recordColumns + " FROM digests"
	var where []string
	var args []any
	if category := normalizeLabel(filter.Category); category != "" {
		where = append(where, "category_label = ?")
		args = append(args, category)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, dbFormatTime(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "timestamp < ?")
		args = append(args, dbFormatTime(*filter.Until))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC, digest ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return query, args
}

func scanRecord(scanner interface {
	Scan(dest ...any) error
}) (*models.Record, error) {
	var (
		raw       []byte
		category  sql.NullString
		size      sql.NullInt64
		timestamp sql.NullString
	)
	if err := scanner.Scan(&raw, &category, &size, &timestamp); err != nil {
		return nil, err
	}

	rec := &models.Record{
		Digest:    digest.Digest(raw),
		Category:  category.String,
		SizeBytes: size.Int64,
	}
	if timestamp.Valid && timestamp.String != "" {
		parsed, err := dbParseTime(timestamp.String)
		if err != nil {
			return nil, err
		}
		rec.Timestamp = parsed
	}
	return rec, nil
}
