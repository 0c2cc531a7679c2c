package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/yairfalse/snapwarden/executor"
)

func testReport(id string, op executor.Operation, failed int) *executor.Report {
	return &executor.Report{
		RunID:           id,
		Operation:       op,
		Region:          "ap-southeast-2",
		StartTime:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:        2 * time.Minute,
		Instances:       []executor.InstanceResult{{InstanceID: "i-1", Outcome: executor.OutcomeSuccess}},
		SuccessfulCount: 1,
		FailedCount:     failed,
	}
}

func openTestStore(t *testing.T) (*RunStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history", "runs.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	return store, path
}

func TestRunStore_SaveAndGet(t *testing.T) {
	store, _ := openTestStore(t)
	defer func() { _ = store.Close() }()

	rev, err := store.SaveReport(testReport("run-aaa", executor.OpSnapshot, 0))
	if err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if rev != 1 {
		t.Errorf("Expected first revision to be 1, got %d", rev)
	}

	report, err := store.GetRun("run-aaa")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if report.Operation != executor.OpSnapshot {
		t.Errorf("Operation = %v, want snapshot", report.Operation)
	}
	if len(report.Instances) != 1 || report.Instances[0].InstanceID != "i-1" {
		t.Errorf("Instances not round-tripped: %+v", report.Instances)
	}
}

func TestRunStore_RejectsDuplicateAndEmpty(t *testing.T) {
	store, _ := openTestStore(t)
	defer func() { _ = store.Close() }()

	if _, err := store.SaveReport(testReport("run-1", executor.OpStart, 0)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if _, err := store.SaveReport(testReport("run-1", executor.OpStart, 0)); err == nil {
		t.Error("Expected duplicate run to be rejected")
	}
	if _, err := store.SaveReport(&executor.Report{}); err == nil {
		t.Error("Expected report without run ID to be rejected")
	}
	if store.CurrentRevision() != 1 {
		t.Errorf("CurrentRevision = %d, want 1", store.CurrentRevision())
	}
}

func TestRunStore_ListNewestFirst(t *testing.T) {
	store, _ := openTestStore(t)
	defer func() { _ = store.Close() }()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if _, err := store.SaveReport(testReport(id, executor.OpSnapshot, 0)); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
	}

	runs := store.ListRuns(2)
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "run-3" || runs[1].RunID != "run-2" {
		t.Errorf("Unexpected order: %s, %s", runs[0].RunID, runs[1].RunID)
	}
	if all := store.ListRuns(0); len(all) != 3 {
		t.Errorf("Expected 3 runs without limit, got %d", len(all))
	}
}

func TestRunStore_PrefixLookup(t *testing.T) {
	store, _ := openTestStore(t)
	defer func() { _ = store.Close() }()

	for _, id := range []string{"4f1c-aaaa", "4f1c-bbbb", "9e20-cccc"} {
		if _, err := store.SaveReport(testReport(id, executor.OpSnapshot, 0)); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
	}

	if id, err := store.Resolve("9e"); err != nil || id != "9e20-cccc" {
		t.Errorf("Resolve(9e) = %q, %v", id, err)
	}
	if _, err := store.Resolve("4f1c"); !errors.Is(err, ErrAmbiguousRun) {
		t.Errorf("Expected ErrAmbiguousRun, got %v", err)
	}
	if _, err := store.GetRun("zz"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
	if report, err := store.GetRun("4f1c-b"); err != nil || report.RunID != "4f1c-bbbb" {
		t.Errorf("GetRun(4f1c-b) = %v, %v", report, err)
	}
}

func TestRunStore_ReopenRebuildsIndex(t *testing.T) {
	store, path := openTestStore(t)
	if _, err := store.SaveReport(testReport("run-1", executor.OpSnapshot, 1)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if _, err := store.SaveReport(testReport("run-2", executor.OpTeardown, 0)); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if reopened.CurrentRevision() != 2 {
		t.Errorf("CurrentRevision = %d, want 2", reopened.CurrentRevision())
	}
	runs := reopened.ListRuns(0)
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs after reopen, got %d", len(runs))
	}
	if runs[1].Failed != 1 {
		t.Errorf("Failed count not restored: %+v", runs[1])
	}

	rev, err := reopened.SaveReport(testReport("run-3", executor.OpStop, 0))
	if err != nil {
		t.Fatalf("SaveReport after reopen failed: %v", err)
	}
	if rev != 3 {
		t.Errorf("Expected revision 3 after reopen, got %d", rev)
	}
}

func TestRunStore_Compact(t *testing.T) {
	store, _ := openTestStore(t)
	defer func() { _ = store.Close() }()

	for _, id := range []string{"run-1", "run-2", "run-3", "run-4"} {
		if _, err := store.SaveReport(testReport(id, executor.OpSnapshot, 0)); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
	}

	removed, err := store.Compact(2)
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if _, err := store.GetRun("run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected run-1 to be gone, got %v", err)
	}
	if runs := store.ListRuns(0); len(runs) != 2 || runs[0].RunID != "run-4" {
		t.Errorf("Unexpected runs after compact: %+v", runs)
	}
}
