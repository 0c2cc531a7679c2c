// Package storage keeps the history of completed runs in bbolt.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/snapwarden/executor"
)

// Bucket names in bbolt
var (
	bucketRuns  = []byte("runs")
	bucketIndex = []byte("index")
	bucketMeta  = []byte("meta")
)

var (
	// ErrRunNotFound is returned when no stored run matches an ID
	ErrRunNotFound = errors.New("run not found")

	// ErrAmbiguousRun is returned when an ID prefix matches several runs
	ErrAmbiguousRun = errors.New("run ID prefix is ambiguous")
)

// RunSummary is the indexed part of a stored report
type RunSummary struct {
	Revision  int64              `json:"revision"`
	RunID     string             `json:"run_id"`
	Operation executor.Operation `json:"operation"`
	Region    string             `json:"region"`
	StartTime time.Time          `json:"start_time"`
	Duration  time.Duration      `json:"duration"`
	Instances int                `json:"instances"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Skipped   int                `json:"skipped"`
	Cancelled bool               `json:"cancelled,omitempty"`
}

// RunStore stores one report per revision. Summaries are kept in two
// in-memory btrees: by revision for listing, by run ID for prefix lookup.
type RunStore struct {
	mu sync.RWMutex

	db         *bbolt.DB
	byRevision *btree.BTreeG[*RunSummary]
	byID       *btree.BTreeG[*RunSummary]
	currentRev int64
}

// Open opens or creates the run store at path
func Open(path string) (*RunStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketIndex, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &RunStore{
		db: db,
		byRevision: btree.NewG(32, func(a, b *RunSummary) bool {
			return a.Revision < b.Revision
		}),
		byID: btree.NewG(32, func(a, b *RunSummary) bool {
			return a.RunID < b.RunID
		}),
	}

	if err := store.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the store
func (s *RunStore) Close() error {
	return s.db.Close()
}

// CurrentRevision returns the revision of the last saved report
func (s *RunStore) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// SaveReport stores a report under the next revision
func (s *RunStore) SaveReport(report *executor.Report) (int64, error) {
	if report == nil || report.RunID == "" {
		return 0, fmt.Errorf("report has no run ID")
	}

	value, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("failed to encode report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.currentRev + 1
	err = s.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketIndex)
		if index.Get([]byte(report.RunID)) != nil {
			return fmt.Errorf("run %s already stored", report.RunID)
		}
		if err := tx.Bucket(bucketRuns).Put(revisionKey(rev), value); err != nil {
			return err
		}
		if err := index.Put([]byte(report.RunID), revisionKey(rev)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte("current_revision"), revisionKey(rev))
	})
	if err != nil {
		return 0, err
	}

	s.currentRev = rev
	s.insert(summarize(rev, report))
	return rev, nil
}

// ListRuns returns up to limit summaries, newest first. A limit of zero or
// less returns every run.
func (s *RunStore) ListRuns(limit int) []RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RunSummary
	s.byRevision.Descend(func(item *RunSummary) bool {
		out = append(out, *item)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Resolve expands a run ID or a unique prefix of one
func (s *RunStore) Resolve(prefix string) (string, error) {
	if prefix == "" {
		return "", ErrRunNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []string
	s.byID.AscendGreaterOrEqual(&RunSummary{RunID: prefix}, func(item *RunSummary) bool {
		if !strings.HasPrefix(item.RunID, prefix) {
			return false
		}
		matches = append(matches, item.RunID)
		return len(matches) < 2
	})

	switch {
	case len(matches) == 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, prefix)
	case len(matches) > 1 && matches[0] != prefix:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousRun, prefix)
	default:
		return matches[0], nil
	}
}

// GetRun loads the full report of a run. id may be a unique prefix.
func (s *RunStore) GetRun(id string) (*executor.Report, error) {
	runID, err := s.Resolve(id)
	if err != nil {
		return nil, err
	}

	var report executor.Report
	err = s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketIndex).Get([]byte(runID))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		data := tx.Bucket(bucketRuns).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return json.Unmarshal(data, &report)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Compact keeps only the newest keep runs and returns how many were removed
func (s *RunStore) Compact(keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []*RunSummary
	kept := 0
	s.byRevision.Descend(func(item *RunSummary) bool {
		if kept < keep {
			kept++
			return true
		}
		doomed = append(doomed, item)
		return true
	})
	if len(doomed) == 0 {
		return 0, nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		index := tx.Bucket(bucketIndex)
		for _, item := range doomed {
			if err := runs.Delete(revisionKey(item.Revision)); err != nil {
				return err
			}
			if err := index.Delete([]byte(item.RunID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to compact history: %w", err)
	}

	for _, item := range doomed {
		s.byRevision.Delete(item)
		s.byID.Delete(item)
	}
	return len(doomed), nil
}

func (s *RunStore) insert(summary *RunSummary) {
	s.byRevision.ReplaceOrInsert(summary)
	s.byID.ReplaceOrInsert(summary)
}

// rebuildIndex loads every stored summary and the current revision
func (s *RunStore) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get([]byte("current_revision")); data != nil {
			s.currentRev = parseRevision(data)
		}

		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var report executor.Report
			if err := json.Unmarshal(v, &report); err != nil {
				return fmt.Errorf("corrupt run at revision %s: %w", k, err)
			}
			s.insert(summarize(parseRevision(k), &report))
			return nil
		})
	})
}

func summarize(rev int64, report *executor.Report) *RunSummary {
	return &RunSummary{
		Revision:  rev,
		RunID:     report.RunID,
		Operation: report.Operation,
		Region:    report.Region,
		StartTime: report.StartTime,
		Duration:  report.Duration,
		Instances: len(report.Instances),
		Succeeded: report.SuccessfulCount,
		Failed:    report.FailedCount,
		Skipped:   report.SkippedCount,
		Cancelled: report.Cancelled,
	}
}

// revisionKey is zero padded so bbolt's byte order is revision order
func revisionKey(rev int64) []byte {
	return []byte(fmt.Sprintf("%016d", rev))
}

func parseRevision(b []byte) int64 {
	var n int64
	_, _ = fmt.Sscanf(string(b), "%d", &n)
	return n
}
