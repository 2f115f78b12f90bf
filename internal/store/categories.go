package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"digestdb/internal/digest"
	"digestdb/internal/errs"
	"digestdb/internal/models"
)

// CategoryFilter narrows QueryCategories. Empty fields do not filter.
type CategoryFilter struct {
	Label               string
	DescriptionContains string
}

// normalizeLabel trims surrounding whitespace. Every path that takes a label
// goes through it so " images " and "images" name one category.
func normalizeLabel(label string) string {
	return strings.TrimSpace(label)
}

// PutCategory adds a category. It fails with errs.ErrAlreadyExists when the
// label is taken.
//
// The lookup and insert share a transaction but not a lock across processes;
// two writers racing on one label fall back on the primary key.
func (s *Store) PutCategory(ctx context.Context, label, description string) error {
	label = normalizeLabel(label)
	if label == "" {
		return fmt.Errorf("%w: category label is required", errs.ErrInvalidInput)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := categoryExistsTx(ctx, tx, label)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: category %s", errs.ErrAlreadyExists, label)
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO categories (label, description) VALUES (?, ?)", label, description)
		if isUniqueConstraint(err) {
			return fmt.Errorf("%w: category %s", errs.ErrAlreadyExists, label)
		}
		return err
	})
}

// GetCategory returns one category or errs.ErrNotFound.
func (s *Store) GetCategory(ctx context.Context, label string) (*models.Category, error) {
	label = normalizeLabel(label)
	row := s.db.QueryRowContext(ctx, "SELECT label, description FROM categories WHERE label = ?", label)
	category, err := scanCategory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: category %s", errs.ErrNotFound, label)
	}
	if err != nil {
		return nil, err
	}
	return category, nil
}

// QueryCategories lists categories ordered by label. With an empty filter every
// category is returned.
func (s *Store) QueryCategories(ctx context.Context, filter CategoryFilter) ([]models.Category, error) {
	query := "SELECT label, description FROM categories"
	var where []string
	var args []any
	if label := normalizeLabel(filter.Label); label != "" {
		where = append(where, "label = ?")
		args = append(args, label)
	}
	if filter.DescriptionContains != "" {
		where = append(where, "instr(COALESCE(description, ''), ?) > 0")
		args = append(args, filter.DescriptionContains)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY label ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *category)
	}
	return categories, rows.Err()
}

// CountCategories returns the number of categories.
func (s *Store) CountCategories(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories").Scan(&count)
	return count, err
}

// DeleteCategory removes a category according to policy. Under
// models.DeleteCascade the digests of the removed records are returned so the
// caller can remove their files.
func (s *Store) DeleteCategory(ctx context.Context, label string, policy models.CategoryDeletePolicy) ([]digest.Digest, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: unknown category delete policy %q", errs.ErrInvalidConfiguration, policy)
	}
	label = normalizeLabel(label)

	var removed []digest.Digest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := categoryExistsTx(ctx, tx, label)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: category %s", errs.ErrNotFound, label)
		}

		switch policy {
		case models.DeleteRestrict:
			var refs int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM digests WHERE category_label = ?", label).Scan(&refs); err != nil {
				return err
			}
			if refs > 0 {
				return fmt.Errorf("%w: category %s is referenced by %d records", errs.ErrCategoryInUse, label, refs)
			}
		case models.DeleteCascade:
			removed, err = digestsForCategoryTx(ctx, tx, label)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM digests WHERE category_label = ?", label); err != nil {
				return err
			}
		case models.DeleteOrphan:
			if _, err := tx.ExecContext(ctx, "UPDATE digests SET category_label = NULL WHERE category_label = ?", label); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM categories WHERE label = ?", label)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func categoryExistsTx(ctx context.Context, tx *sql.Tx, label string) (bool, error) {
	var exists int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM categories WHERE label = ? LIMIT 1", label).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func digestsForCategoryTx(ctx context.Context, tx *sql.Tx, label string) ([]digest.Digest, error) {
	rows, err := tx.QueryContext(ctx, "SELECT digest FROM digests WHERE category_label = ? ORDER BY digest", label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []digest.Digest
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, digest.Digest(raw))
	}
	return out, rows.Err()
}

func scanCategory(scanner interface {
	Scan(dest ...any) error
}) (*models.Category, error) {
	var (
		category    models.Category
		description sql.NullString
	)
	if err := scanner.Scan(&category.Label, &description); err != nil {
		return nil, err
	}
	category.Description = description.String
	return &category, nil
}
