// Package runtimestate persists small pieces of daemon bookkeeping —
// browser poller cursors, classifier failure counters, the last
// insight-run date — that must survive a restart but don't belong in
// the user-facing vault (spec.md §6).
package runtimestate

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketCursors  = []byte("cursors")
	bucketCounters = []byte("counters")
	bucketInsight  = []byte("insight")
)

const insightLastRunKey = "last_run_date"

// Store is a handle to the bbolt-backed runtime ledger.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("runtimestate: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketCursors, bucketCounters, bucketInsight} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runtimestate: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BrowserCursor returns the last-seen visit_time cursor for browser
// (e.g. "chrome" or "safari"), or zero if none recorded yet. Chrome
// and Safari cursors are tracked independently under distinct keys
// (spec.md §4.8).
func (s *Store) BrowserCursor(browser string) (int64, error) {
	var cursor int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketCursors).Get([]byte(browser))
		if raw == nil {
			return nil
		}
		cursor = int64(binary.BigEndian.Uint64(raw))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("runtimestate: read cursor %s: %w", browser, err)
	}
	return cursor, nil
}

// SetBrowserCursor persists the cursor for browser.
func (s *Store) SetBrowserCursor(browser string, cursor int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(cursor))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCursors).Put([]byte(browser), buf)
	})
	if err != nil {
		return fmt.Errorf("runtimestate: write cursor %s: %w", browser, err)
	}
	return nil
}

// IncrementClassifierFailures bumps and returns the running count of
// classifier fallbacks recorded across restarts.
func (s *Store) IncrementClassifierFailures(delta int64) (int64, error) {
	var total int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCounters)
		raw := bucket.Get([]byte("classifier_failures"))
		if raw != nil {
			total = int64(binary.BigEndian.Uint64(raw))
		}
		total += delta
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(total))
		return bucket.Put([]byte("classifier_failures"), buf)
	})
	if err != nil {
		return 0, fmt.Errorf("runtimestate: increment classifier failures: %w", err)
	}
	return total, nil
}

// ClassifierFailures returns the persisted running count of classifier
// fallbacks across restarts, without incrementing it.
func (s *Store) ClassifierFailures() (int64, error) {
	var total int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketCounters).Get([]byte("classifier_failures"))
		if raw != nil {
			total = int64(binary.BigEndian.Uint64(raw))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("runtimestate: read classifier failures: %w", err)
	}
	return total, nil
}

// LastInsightRun returns the date (YYYY-MM-DD) the insight scheduler
// last produced a report, or "" if it has never run.
func (s *Store) LastInsightRun() (string, error) {
	var date string
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketInsight).Get([]byte(insightLastRunKey))
		date = string(raw)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("runtimestate: read last insight run: %w", err)
	}
	return date, nil
}

// SetLastInsightRun records date as the most recent insight run.
func (s *Store) SetLastInsightRun(date string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketInsight).Put([]byte(insightLastRunKey), []byte(date))
	})
	if err != nil {
		return fmt.Errorf("runtimestate: write last insight run: %w", err)
	}
	return nil
}
