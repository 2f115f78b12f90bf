package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"digestdb/internal/digest"
	"digestdb/internal/errs"
	"digestdb/internal/models"
)

// testStore creates a temporary store for testing.
func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustDigest(t *testing.T, raw string) digest.Digest {
	t.Helper()
	d, err := digest.ParseHex(raw)
	if err != nil {
		t.Fatalf("parse digest: %v", err)
	}
	return d
}

func TestCategoriesPutGetQuery(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	all, err := st.QueryCategories(ctx, CategoryFilter{})
	if err != nil {
		t.Fatalf("query empty: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no categories, got %d", len(all))
	}

	if _, err := st.GetCategory(ctx, "test"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := st.PutCategory(ctx, "test", "This category is just for tests"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.PutCategory(ctx, "test", "again"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if err := st.PutCategory(ctx, "other", ""); err != nil {
		t.Fatalf("put other: %v", err)
	}
	if err := st.PutCategory(ctx, "  ", "blank"); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank label, got %v", err)
	}

	got, err := st.GetCategory(ctx, "test")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Label != "test" || got.Description != "This category is just for tests" {
		t.Fatalf("unexpected category: %+v", got)
	}

	tests := []struct {
		name   string
		filter CategoryFilter
		want   int
	}{
		{name: "all", filter: CategoryFilter{}, want: 2},
		{name: "label", filter: CategoryFilter{Label: "test"}, want: 1},
		{name: "description substring", filter: CategoryFilter{DescriptionContains: "just for"}, want: 1},
		{name: "combined mismatch", filter: CategoryFilter{Label: "other", DescriptionContains: "just for"}, want: 0},
		{name: "percent is literal", filter: CategoryFilter{DescriptionContains: "%"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := st.QueryCategories(ctx, tt.filter)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(matches) != tt.want {
				t.Fatalf("expected %d matches, got %d (%+v)", tt.want, len(matches), matches)
			}
		})
	}

	count, err := st.CountCategories(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 categories, got %d", count)
	}
}

func TestLabelsAreTrimmedOnEveryPath(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.PutCategory(ctx, " images ", "padded"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.PutCategory(ctx, "images", "again"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("expected trimmed label to collide, got %v", err)
	}
	got, err := st.GetCategory(ctx, "\timages\n")
	if err != nil {
		t.Fatalf("get padded: %v", err)
	}
	if got.Label != "images" {
		t.Fatalf("expected stored label images, got %q", got.Label)
	}
	matches, err := st.QueryCategories(ctx, CategoryFilter{Label: " images"})
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected padded filter to match, got %+v (%v)", matches, err)
	}

	rec := &models.Record{Digest: mustDigest(t, "cc01"), Category: "images ", SizeBytes: 1}
	if err := st.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("insert with padded category: %v", err)
	}
	stored, err := st.GetRecord(ctx, rec.Digest)
	if err != nil || stored.Category != "images" {
		t.Fatalf("expected record under images, got %+v (%v)", stored, err)
	}
	byCategory, err := st.QueryRecords(ctx, RecordFilter{Category: " images"})
	if err != nil || len(byCategory) != 1 {
		t.Fatalf("expected padded record filter to match, got %+v (%v)", byCategory, err)
	}

	removed, err := st.DeleteCategory(ctx, " images ", models.DeleteCascade)
	if err != nil {
		t.Fatalf("delete padded: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("expected cascade to remove 1 record, got %d", len(removed))
	}
}

func TestRecordsInsertQueryDelete(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, label := range []string{"cat1", "cat2"} {
		if err := st.PutCategory(ctx, label, ""); err != nil {
			t.Fatalf("put category %s: %v", label, err)
		}
	}

	records := []*models.Record{
		{Digest: mustDigest(t, "aa01"), Category: "cat1", SizeBytes: 10, Timestamp: base},
		{Digest: mustDigest(t, "aa02"), Category: "cat2", SizeBytes: 20, Timestamp: base.Add(time.Hour)},
		{Digest: mustDigest(t, "aa03"), Category: "cat1", SizeBytes: 30, Timestamp: base.Add(2 * time.Hour)},
	}
	for _, rec := range records {
		if err := st.InsertRecord(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", rec.Digest, err)
		}
	}

	dup := &models.Record{Digest: mustDigest(t, "aa01"), Category: "cat2", SizeBytes: 1}
	if err := st.InsertRecord(ctx, dup); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("expected already exists for duplicate digest, got %v", err)
	}
	unknown := &models.Record{Digest: mustDigest(t, "bb01"), Category: "videos", SizeBytes: 1}
	if err := st.InsertRecord(ctx, unknown); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found for unregistered category, got %v", err)
	}

	got, err := st.GetRecord(ctx, mustDigest(t, "aa02"))
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Category != "cat2" || got.SizeBytes != 20 || !got.Timestamp.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected record: %+v", got)
	}

	cat1, err := st.QueryRecords(ctx, RecordFilter{Category: "cat1"})
	if err != nil {
		t.Fatalf("query cat1: %v", err)
	}
	if len(cat1) != 2 || cat1[0].Digest.Hex() != "aa01" || cat1[1].Digest.Hex() != "aa03" {
		t.Fatalf("unexpected cat1 records: %+v", cat1)
	}

	since := base.Add(30 * time.Minute)
	until := base.Add(90 * time.Minute)
	window, err := st.QueryRecords(ctx, RecordFilter{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("query window: %v", err)
	}
	if len(window) != 1 || window[0].Digest.Hex() != "aa02" {
		t.Fatalf("unexpected window records: %+v", window)
	}

	limited, err := st.QueryRecords(ctx, RecordFilter{Limit: 2})
	if err != nil {
		t.Fatalf("query limit: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 limited records, got %d", len(limited))
	}

	if err := st.DeleteRecord(ctx, mustDigest(t, "aa01")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.DeleteRecord(ctx, mustDigest(t, "aa01")); err != nil {
		t.Fatalf("delete missing should be noop: %v", err)
	}
	exists, err := st.RecordExists(ctx, mustDigest(t, "aa01"))
	if err != nil || exists {
		t.Fatalf("expected deleted record, exists=%v err=%v", exists, err)
	}

	count, err := st.CountRecords(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 records, got %d", count)
	}
}

func TestInsertRecordDefaultsTimestamp(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.PutCategory(ctx, "cat", ""); err != nil {
		t.Fatalf("put category: %v", err)
	}

	before := time.Now().UTC().Add(-time.Second)
	rec := &models.Record{Digest: mustDigest(t, "cc01"), Category: "cat", SizeBytes: 3}
	if err := st.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := st.GetRecord(ctx, rec.Digest)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Timestamp.Before(before) {
		t.Fatalf("expected default timestamp near now, got %v", got.Timestamp)
	}
}

func TestDeleteCategoryPolicies(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *Store {
		st := testStore(t)
		if err := st.PutCategory(ctx, "busy", ""); err != nil {
			t.Fatalf("put category: %v", err)
		}
		if err := st.PutCategory(ctx, "idle", ""); err != nil {
			t.Fatalf("put category: %v", err)
		}
		for _, raw := range []string{"dd01", "dd02"} {
			if err := st.InsertRecord(ctx, &models.Record{Digest: mustDigest(t, raw), Category: "busy", SizeBytes: 1}); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		return st
	}

	t.Run("restrict", func(t *testing.T) {
		st := setup(t)
		if _, err := st.DeleteCategory(ctx, "busy", models.DeleteRestrict); !errors.Is(err, errs.ErrCategoryInUse) {
			t.Fatalf("expected category in use, got %v", err)
		}
		if _, err := st.DeleteCategory(ctx, "idle", models.DeleteRestrict); err != nil {
			t.Fatalf("delete idle: %v", err)
		}
		if _, err := st.DeleteCategory(ctx, "idle", models.DeleteRestrict); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("cascade", func(t *testing.T) {
		st := setup(t)
		removed, err := st.DeleteCategory(ctx, "busy", models.DeleteCascade)
		if err != nil {
			t.Fatalf("cascade: %v", err)
		}
		if len(removed) != 2 {
			t.Fatalf("expected 2 removed digests, got %d", len(removed))
		}
		count, _ := st.CountRecords(ctx)
		if count != 0 {
			t.Fatalf("expected no records left, got %d", count)
		}
	})

	t.Run("orphan", func(t *testing.T) {
		st := setup(t)
		removed, err := st.DeleteCategory(ctx, "busy", models.DeleteOrphan)
		if err != nil {
			t.Fatalf("orphan: %v", err)
		}
		if len(removed) != 0 {
			t.Fatalf("orphan policy should not remove records, got %d", len(removed))
		}
		rec, err := st.GetRecord(ctx, mustDigest(t, "dd01"))
		if err != nil {
			t.Fatalf("get orphaned record: %v", err)
		}
		if rec.Category != "" {
			t.Fatalf("expected cleared category, got %q", rec.Category)
		}
		info, err := st.StoreInfo(ctx)
		if err != nil {
			t.Fatalf("info: %v", err)
		}
		if info.Uncategorized != 2 {
			t.Fatalf("expected 2 uncategorized records, got %d", info.Uncategorized)
		}
	})

	t.Run("unknown policy", func(t *testing.T) {
		st := setup(t)
		if _, err := st.DeleteCategory(ctx, "busy", "nullify"); !errors.Is(err, errs.ErrInvalidConfiguration) {
			t.Fatalf("expected invalid configuration, got %v", err)
		}
	})
}

func TestSettingsPin(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if _, ok, err := st.LoadSettings(ctx); err != nil || ok {
		t.Fatalf("expected unpinned settings, ok=%v err=%v", ok, err)
	}

	want := Settings{HashAlgorithm: "sha256", ShardDepth: 3}
	if err := st.EnsureSettings(ctx, want); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if err := st.EnsureSettings(ctx, want); err != nil {
		t.Fatalf("re-pin same settings: %v", err)
	}

	got, ok, err := st.LoadSettings(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	if err := st.EnsureSettings(ctx, Settings{HashAlgorithm: "sha256", ShardDepth: 2}); !errors.Is(err, errs.ErrInvalidConfiguration) {
		t.Fatalf("expected depth mismatch rejection, got %v", err)
	}
	if err := st.EnsureSettings(ctx, Settings{HashAlgorithm: "blake3", ShardDepth: 3}); !errors.Is(err, errs.ErrInvalidConfiguration) {
		t.Fatalf("expected algorithm mismatch rejection, got %v", err)
	}
}

func TestStoreInfo(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	info, err := st.StoreInfo(ctx)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.SchemaVersion == 0 {
		t.Fatal("expected non-zero schema version")
	}
	if info.TotalRecords != 0 {
		t.Fatalf("expected 0 records, got %d", info.TotalRecords)
	}

	for _, label := range []string{"a", "b"} {
		if err := st.PutCategory(ctx, label, ""); err != nil {
			t.Fatalf("put category: %v", err)
		}
	}
	for i, rec := range []*models.Record{
		{Digest: mustDigest(t, "ee01"), Category: "a", SizeBytes: 5},
		{Digest: mustDigest(t, "ee02"), Category: "a", SizeBytes: 7},
		{Digest: mustDigest(t, "ee03"), Category: "b", SizeBytes: 11},
	} {
		if err := st.InsertRecord(ctx, rec); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	info, err = st.StoreInfo(ctx)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.TotalRecords != 3 || info.TotalBytes != 23 || info.Categories != 2 {
		t.Fatalf("unexpected totals: %+v", info)
	}
	if info.RecordCounts["a"] != 2 || info.RecordCounts["b"] != 1 {
		t.Fatalf("unexpected per-category counts: %+v", info.RecordCounts)
	}
}

func TestEachRecordStopsOnError(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.PutCategory(ctx, "cat", ""); err != nil {
		t.Fatalf("put category: %v", err)
	}
	for _, raw := range []string{"ff01", "ff02", "ff03"} {
		if err := st.InsertRecord(ctx, &models.Record{Digest: mustDigest(t, raw), Category: "cat"}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	stop := errors.New("stop")
	seen := 0
	err := st.EachRecord(ctx, func(models.Record) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if seen != 2 {
		t.Fatalf("expected iteration to stop after 2, got %d", seen)
	}
}

func TestDBTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 600, time.FixedZone("x", 3600))
	got, err := dbParseTime(dbFormatTime(ts))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(ts) {
		t.Fatalf("expected %v, got %v", ts, got)
	}

	if _, err := dbParseTime("2016-08-01 12:30:00.123456"); err != nil {
		t.Fatalf("parse legacy layout: %v", err)
	}
	if _, err := dbParseTime("yesterday"); err == nil {
		t.Fatal("expected parse error")
	}

	whole := dbFormatTime(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))
	fraction := dbFormatTime(time.Date(2024, 1, 1, 0, 0, 0, 500_000_000, time.UTC))
	if fraction >= whole {
		t.Fatalf("expected text order to follow time order: %s >= %s", fraction, whole)
	}
}
