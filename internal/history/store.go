// Package history keeps a local record of finished runs in a bbolt
// database so trends can be compared across runs.
package history

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/rampcheck/internal/performance/engine"
)

var (
	bucketRuns  = []byte("runs")
	bucketIndex = []byte("index")
)

// ErrNotFound is returned by Get when no run matches.
var ErrNotFound = errors.New("run not found")

// Record is the compact form of a run kept in history.
type Record struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	URL       string        `json:"url"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	Passed    bool   `json:"passed"`
	Aborted   bool   `json:"aborted,omitempty"`
	AbortedBy string `json:"abortedBy,omitempty"`

	TotalRequests  int64         `json:"totalRequests"`
	FailedRequests int64         `json:"failedRequests"`
	ErrorRate      float64       `json:"errorRate"`
	RPS            float64       `json:"rps"`
	P95            time.Duration `json:"p95"`
	MaxVUs         int           `json:"maxVUs"`

	// FailedThresholds lists "metric: expression" for every failed threshold
	FailedThresholds []string `json:"failedThresholds,omitempty"`
}

// RecordFromResult builds a history record from a finished run.
func RecordFromResult(result *engine.TestResult) Record {
	r := Record{
		ID:        result.ID,
		Name:      result.Name,
		URL:       result.URL,
		StartTime: result.StartTime,
		Duration:  result.Duration,
		Passed:    result.Passed,
	}

	if m := result.Metrics; m != nil {
		r.TotalRequests = m.TotalRequests
		r.FailedRequests = m.FailedRequests
		r.ErrorRate = m.ErrorRate
		r.RPS = m.RPS
		r.P95 = m.Latency.P95
		r.MaxVUs = m.MaxVUs
	}

	if v := result.Verdict; v != nil {
		r.Aborted = v.Aborted
		r.AbortedBy = v.AbortedBy
		for _, f := range v.Failed() {
			r.FailedThresholds = append(r.FailedThresholds, f.Metric+": "+f.Expression)
		}
	}

	return r
}

// Store is a bbolt-backed run history.
//
// Runs are keyed by an increasing sequence number so iteration order is
// insertion order; a second bucket maps run IDs to their sequence key.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	// bbolt holds an exclusive file lock; fail instead of hanging when
	// another run has the database open.
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRuns); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketIndex)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save appends rec. Saving an ID that already exists replaces that run.
func (s *Store) Save(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record has no id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		index := tx.Bucket(bucketIndex)

		var key []byte
		if existing := index.Get([]byte(rec.ID)); existing != nil {
			key = append(key, existing...)
		} else {
			seq, err := runs.NextSequence()
			if err != nil {
				return err
			}
			key = seqKey(seq)
			if err := index.Put([]byte(rec.ID), key); err != nil {
				return err
			}
		}
		return runs.Put(key, data)
	})
}

// List returns up to limit runs, newest first. A limit of 0 or less
// returns every run.
func (s *Store) List(limit int) ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %x: %w", k, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Get returns the run whose ID is id, or starts with id when that prefix
// is unambiguous.
func (s *Store) Get(id string) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketIndex)

		key := index.Get([]byte(id))
		if key == nil {
			var matches []string
			c := index.Cursor()
			prefix := []byte(id)
			for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				matches = append(matches, string(k))
				key = v
			}
			switch len(matches) {
			case 0:
				return ErrNotFound
			case 1:
			default:
				return fmt.Errorf("id %q is ambiguous: %s", id, strings.Join(matches, ", "))
			}
		}

		data := tx.Bucket(bucketRuns).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Prune deletes all but the newest keep runs and returns how many were
// removed.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep cannot be negative")
	}

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		index := tx.Bucket(bucketIndex)

		var stale [][]byte
		var staleIDs []string
		seen := 0
		c := runs.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			seen++
			if seen <= keep {
				continue
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err == nil {
				staleIDs = append(staleIDs, rec.ID)
			}
			stale = append(stale, append([]byte(nil), k...))
		}

		for _, k := range stale {
			if err := runs.Delete(k); err != nil {
				return err
			}
		}
		for _, id := range staleIDs {
			if err := index.Delete([]byte(id)); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
