package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"digestdb/internal/errs"
)

func TestObserveCountsByResult(t *testing.T) {
	m := New()
	start := time.Now()

	m.Observe("put", start, nil)
	m.Observe("put", start, nil)
	m.Observe("put", start, fmt.Errorf("wrap: %w", errs.ErrDuplicateObject))
	m.Observe("get", start, errs.ErrNotFound)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("put", "ok")); got != 2 {
		t.Fatalf("expected 2 ok puts, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("put", "duplicate")); got != 1 {
		t.Fatalf("expected 1 duplicate put, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("get", "not_found")); got != 1 {
		t.Fatalf("expected 1 not found get, got %v", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 2 {
		t.Fatalf("expected 2 duration series, got %d", got)
	}
}

func TestByteCountersAndAudit(t *testing.T) {
	m := New()
	m.AddWritten(10)
	m.AddWritten(-3)
	m.AddRead(4)
	m.Compensated()
	m.SetAudit(2, 1)

	if got := testutil.ToFloat64(m.bytesWritten); got != 10 {
		t.Fatalf("expected 10 bytes written, got %v", got)
	}
	if got := testutil.ToFloat64(m.bytesRead); got != 4 {
		t.Fatalf("expected 4 bytes read, got %v", got)
	}
	if got := testutil.ToFloat64(m.compensations); got != 1 {
		t.Fatalf("expected 1 compensation, got %v", got)
	}
	if testutil.ToFloat64(m.orphans) != 2 || testutil.ToFloat64(m.missing) != 1 {
		t.Fatal("audit gauges not set")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe("put", time.Now(), nil)
	m.AddWritten(1)
	m.AddRead(1)
	m.Compensated()
	m.SetAudit(1, 1)
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("nil write should be noop: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Observe("delete", time.Now(), nil)

	path := filepath.Join(t.TempDir(), "digestdb.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `digestdb_engine_operations_total{op="delete",result="ok"} 1`) {
		t.Fatalf("expected delete counter in output:\n%s", data)
	}
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: "ok"},
		{err: errs.ErrNotFound, want: "not_found"},
		{err: errs.ErrAlreadyExists, want: "duplicate"},
		{err: errs.ErrInvalidInput, want: "invalid"},
		{err: errs.ErrCorrupt, want: "corrupt"},
		{err: errors.New("disk on fire"), want: "error"},
	}
	for _, tt := range tests {
		if got := Result(tt.err); got != tt.want {
			t.Fatalf("Result(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
