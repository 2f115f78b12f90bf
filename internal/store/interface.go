package store

import (
	"context"

	"digestdb/internal/digest"
	"digestdb/internal/models"
)

// Index is the metadata persistence surface used by the engine.
type Index interface {
	PutCategory(ctx context.Context, label, description string) error
	GetCategory(ctx context.Context, label string) (*models.Category, error)
	QueryCategories(ctx context.Context, filter CategoryFilter) ([]models.Category, error)
	CountCategories(ctx context.Context) (int, error)
	DeleteCategory(ctx context.Context, label string, policy models.CategoryDeletePolicy) ([]digest.Digest, error)

	InsertRecord(ctx context.Context, rec *models.Record) error
	GetRecord(ctx context.Context, d digest.Digest) (*models.Record, error)
	RecordExists(ctx context.Context, d digest.Digest) (bool, error)
	QueryRecords(ctx context.Context, filter RecordFilter) ([]models.Record, error)
	EachRecord(ctx context.Context, fn func(models.Record) error) error
	DeleteRecord(ctx context.Context, d digest.Digest) error
	CountRecords(ctx context.Context) (int, error)

	LoadSettings(ctx context.Context) (Settings, bool, error)
	EnsureSettings(ctx context.Context, want Settings) error
	StoreInfo(ctx context.Context) (*StoreInfo, error)
	Close() error
}

var _ Index = (*Store)(nil)
