// Package runlog keeps a small on-disk journal of delivery runs so repeated
// invocations of the CLI can be compared after the fact. The harness core
// itself never persists anything.
package runlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bRuns = "runs_by_ts"

	defaultTO = 2 * time.Second
)

// Record is one archived run outcome.
type Record struct {
	At       time.Time `json:"at"`
	Style    string    `json:"style"`
	Passed   bool      `json:"passed"`
	Failures []string  `json:"failures,omitempty"`
	Missing  int       `json:"missing"`
}

// Store is a BoltDB-backed run journal.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bRuns))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Append archives one record, keyed by its timestamp.
func (s *Store) Append(r Record) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}

	val, err := json.Marshal(r)
	if err != nil {
		return err
	}

	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(r.At.UnixNano()))

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bRuns)).Put(key[:], val)
	})
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bRuns)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}
