package store

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/jarenums/internal/report"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createScan(t *testing.T, s *Store, run *ScanRun) *ScanRun {
	t.Helper()
	if err := s.CreateScan(run); err != nil {
		t.Fatalf("CreateScan() failed: %v", err)
	}
	return run
}

func sampleReport() *report.Report {
	return &report.Report{Enums: []report.Record{
		{ClassName: "com/foo/Color", Members: []string{"RED", "GREEN"}, Source: report.Root},
		{ClassName: "com/bar/Shape", Members: []string{}, AvroGenerated: true, Source: report.Nested("BOOT-INF/lib/shapes.jar")},
	}}
}

// ============================================================================
// Store Lifecycle Tests
// ============================================================================

func TestNew(t *testing.T) {
	store, err := New(":memory:", nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Expected db to be initialized")
	}
	if store.logger == nil {
		t.Error("Expected logger to be initialized")
	}
}

func TestNewReopensExistingDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jarenums.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := New(dbPath, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	run := createScan(t, first, &ScanRun{Archive: "app.jar", StartTime: time.Now().UTC()})
	first.Close()

	second, err := New(dbPath, logger)
	if err != nil {
		t.Fatalf("reopening failed: %v", err)
	}
	defer second.Close()

	if _, err := second.GetScan(run.ID); err != nil {
		t.Errorf("GetScan() after reopen failed: %v", err)
	}
	var version int
	if err := second.db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
		t.Fatalf("query migrations: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}
}

func TestClose(t *testing.T) {
	store, err := New(":memory:", nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if _, err := store.ListScans(0); err == nil {
		t.Error("expected error using closed store")
	}
}

// ============================================================================
// ScanRun Tests
// ============================================================================

func TestCreateScan(t *testing.T) {
	s := newTestStore(t)
	run := createScan(t, s, &ScanRun{Archive: "app.jar", SHA256: "abc", Size: 42, Filter: "accept-all"})

	if len(run.ID) != 36 {
		t.Errorf("ID = %q, want a uuid", run.ID)
	}
	if run.Status != StatusRunning {
		t.Errorf("Status = %q, want running", run.Status)
	}
	if run.StartTime.IsZero() {
		t.Error("StartTime was not defaulted")
	}

	other := createScan(t, s, &ScanRun{Archive: "app.jar"})
	if other.ID == run.ID {
		t.Error("two scans share an ID")
	}
}

func TestUpdateAndGetScan(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := createScan(t, s, &ScanRun{Archive: "app.jar", StartTime: start, Marker: "Lx/M;"})

	run.EndTime = start.Add(2 * time.Second)
	run.Status = StatusCompleted
	run.ArchivesVisited = 3
	run.ClassesParsed = 120
	run.EnumCount = 7
	if err := s.UpdateScan(run); err != nil {
		t.Fatalf("UpdateScan() failed: %v", err)
	}

	got, err := s.GetScan(run.ID)
	if err != nil {
		t.Fatalf("GetScan() failed: %v", err)
	}
	if got.Status != StatusCompleted || got.EnumCount != 7 || got.ClassesParsed != 120 || got.ArchivesVisited != 3 {
		t.Errorf("GetScan() = %+v", got)
	}
	if got.Marker != "Lx/M;" {
		t.Errorf("Marker = %q", got.Marker)
	}
	if !got.StartTime.Equal(start) || !got.EndTime.Equal(run.EndTime) {
		t.Errorf("times = %v..%v, want %v..%v", got.StartTime, got.EndTime, start, run.EndTime)
	}
}

func TestScanNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetScan("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetScan() error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateScan(&ScanRun{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateScan() error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteScan("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteScan() error = %v, want ErrNotFound", err)
	}
	if err := s.SaveReport("missing", sampleReport()); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveReport() error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetReport("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetReport() error = %v, want ErrNotFound", err)
	}
}

func TestListScansOrderingAndLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"old.jar", "new.jar", "mid.jar"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		createScan(t, s, &ScanRun{Archive: name, StartTime: base.Add(offsets[i])})
	}

	runs, err := s.ListScans(0)
	if err != nil {
		t.Fatalf("ListScans() failed: %v", err)
	}
	var names []string
	for _, r := range runs {
		names = append(names, r.Archive)
	}
	if want := []string{"new.jar", "mid.jar", "old.jar"}; !reflect.DeepEqual(names, want) {
		t.Errorf("ListScans() order = %v, want %v", names, want)
	}

	limited, err := s.ListScans(2)
	if err != nil {
		t.Fatalf("ListScans(2) failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListScans(2) returned %d scans", len(limited))
	}
}

func TestResolveScanID(t *testing.T) {
	s := newTestStore(t)
	a := createScan(t, s, &ScanRun{Archive: "a.jar"})
	b := createScan(t, s, &ScanRun{Archive: "b.jar"})

	got, err := s.ResolveScanID(a.ID)
	if err != nil || got != a.ID {
		t.Errorf("ResolveScanID(full) = %q, %v", got, err)
	}

	// Shortest prefix that tells the two apart.
	n := 1
	for a.ID[:n] == b.ID[:n] {
		n++
	}
	if got, err := s.ResolveScanID(strings.ToUpper(a.ID[:n])); err != nil || got != a.ID {
		t.Errorf("ResolveScanID(prefix) = %q, %v", got, err)
	}
	if n > 1 {
		if _, err := s.ResolveScanID(a.ID[:n-1]); !errors.Is(err, ErrAmbiguousID) {
			t.Errorf("ResolveScanID(shared prefix) error = %v, want ErrAmbiguousID", err)
		}
	}

	for _, bad := range []string{"", "zzz", "%", "ffffffff-ffff"} {
		if _, err := s.ResolveScanID(bad); !errors.Is(err, ErrNotFound) {
			t.Errorf("ResolveScanID(%q) error = %v, want ErrNotFound", bad, err)
		}
	}
}

func TestFindCompletedScan(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	const marker = "Lorg/apache/avro/specific/AvroGenerated;"

	createScan(t, s, &ScanRun{Archive: "failed.jar", SHA256: "aaa", Marker: marker, StartTime: base.Add(3 * time.Hour), Status: StatusFailed})
	older := createScan(t, s, &ScanRun{Archive: "v1.jar", SHA256: "aaa", Marker: marker, StartTime: base, Status: StatusCompleted})
	newer := createScan(t, s, &ScanRun{Archive: "v2.jar", SHA256: "aaa", Marker: marker, StartTime: base.Add(time.Hour), Status: StatusCompleted})
	createScan(t, s, &ScanRun{Archive: "other-marker.jar", SHA256: "aaa", Marker: "Lx/Y;", StartTime: base.Add(2 * time.Hour), Status: StatusCompleted})
	createScan(t, s, &ScanRun{Archive: "filtered.jar", SHA256: "aaa", Marker: marker, Filter: "pattern(Status)", StartTime: base.Add(2 * time.Hour), Status: StatusCompleted})

	got, err := s.FindCompletedScan("aaa", marker, "")
	if err != nil {
		t.Fatalf("FindCompletedScan() failed: %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("FindCompletedScan() = %s (%s), want %s; older was %s", got.ID, got.Archive, newer.ID, older.ID)
	}

	filtered, err := s.FindCompletedScan("aaa", marker, "pattern(Status)")
	if err != nil || filtered.Archive != "filtered.jar" {
		t.Errorf("FindCompletedScan(filtered) = %+v, %v", filtered, err)
	}

	if _, err := s.FindCompletedScan("bbb", marker, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindCompletedScan(unknown) error = %v, want ErrNotFound", err)
	}
}

// ============================================================================
// Enum Record Tests
// ============================================================================

func TestSaveAndGetReport(t *testing.T) {
	s := newTestStore(t)
	run := createScan(t, s, &ScanRun{Archive: "app.jar"})
	want := sampleReport()

	if err := s.SaveReport(run.ID, want); err != nil {
		t.Fatalf("SaveReport() failed: %v", err)
	}
	got, err := s.GetReport(run.ID)
	if err != nil {
		t.Fatalf("GetReport() failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetReport() = %+v, want %+v", got, want)
	}

	rows, err := s.ListEnumRows(run.ID)
	if err != nil {
		t.Fatalf("ListEnumRows() failed: %v", err)
	}
	if len(rows) != 2 || rows[1].Position != 1 || rows[1].Source != "BOOT-INF/lib/shapes.jar" {
		t.Errorf("ListEnumRows() = %+v", rows)
	}
}

func TestSaveReportReplaces(t *testing.T) {
	s := newTestStore(t)
	run := createScan(t, s, &ScanRun{Archive: "app.jar"})
	if err := s.SaveReport(run.ID, sampleReport()); err != nil {
		t.Fatalf("SaveReport() failed: %v", err)
	}
	smaller := &report.Report{Enums: []report.Record{{ClassName: "x/Only", Members: []string{"A"}, Source: report.Root}}}
	if err := s.SaveReport(run.ID, smaller); err != nil {
		t.Fatalf("second SaveReport() failed: %v", err)
	}

	got, err := s.GetReport(run.ID)
	if err != nil {
		t.Fatalf("GetReport() failed: %v", err)
	}
	if !reflect.DeepEqual(got, smaller) {
		t.Errorf("GetReport() = %+v, want %+v", got, smaller)
	}
}

func TestGetReportEmpty(t *testing.T) {
	s := newTestStore(t)
	run := createScan(t, s, &ScanRun{Archive: "empty.jar"})
	got, err := s.GetReport(run.ID)
	if err != nil {
		t.Fatalf("GetReport() failed: %v", err)
	}
	if got.Enums == nil || len(got.Enums) != 0 {
		t.Errorf("GetReport() = %#v, want empty non-nil list", got.Enums)
	}
}

func TestDeleteScan(t *testing.T) {
	s := newTestStore(t)
	run := createScan(t, s, &ScanRun{Archive: "app.jar"})
	if err := s.SaveReport(run.ID, sampleReport()); err != nil {
		t.Fatalf("SaveReport() failed: %v", err)
	}

	if err := s.DeleteScan(run.ID); err != nil {
		t.Fatalf("DeleteScan() failed: %v", err)
	}
	if _, err := s.GetScan(run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetScan() after delete = %v", err)
	}
	rows, err := s.ListEnumRows(run.ID)
	if err != nil {
		t.Fatalf("ListEnumRows() failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("%d enum rows left after delete", len(rows))
	}
}
