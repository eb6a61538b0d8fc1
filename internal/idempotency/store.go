// Package idempotency remembers the outcome of circulation form submissions
// so that a resubmitted form (double click, browser retry) replays the first
// outcome instead of issuing or returning a book twice.
//
// Keys live in a BoltDB file next to the library database.
package idempotency

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "submissions"

var (
	// ErrInFlight is returned when the key is claimed but its outcome is not yet recorded.
	ErrInFlight = errors.New("submission is still being processed")
	// ErrKeyMismatch is returned when a key is reused for a different operation.
	ErrKeyMismatch = errors.New("idempotency key was used for another operation")
)

// Outcome is what the first submission produced.
type Outcome struct {
	Key       string    `json:"key"`
	Op        string    `json:"op"`
	Done      bool      `json:"done"`
	OK        bool      `json:"ok"`
	Status    int       `json:"status"`
	Message   string    `json:"message"`
	Ref       string    `json:"ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps a BoltDB database of outcomes keyed by idempotency key.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error { return s.db.Close() }

// Claim reserves key for op. The first caller gets (nil, nil) and must later
// call Complete or Release. Later callers get the recorded outcome, or
// ErrInFlight while the first one is still running.
func (s *Store) Claim(key, op string) (*Outcome, error) {
	key = strings.TrimSpace(key)
	var existing *Outcome

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if v := b.Get([]byte(key)); v != nil {
			var o Outcome
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			existing = &o
			return nil
		}
		data, err := json.Marshal(Outcome{Key: key, Op: op, CreatedAt: s.now().UTC()})
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return nil, err
	}
	switch {
	case existing == nil:
		return nil, nil
	case existing.Op != op:
		return nil, ErrKeyMismatch
	case !existing.Done:
		return nil, ErrInFlight
	}
	return existing, nil
}

// Complete records the outcome of a claimed key.
func (s *Store) Complete(o Outcome) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get([]byte(o.Key))
		if v == nil {
			return errors.New("idempotency key was never claimed")
		}
		var claimed Outcome
		if err := json.Unmarshal(v, &claimed); err != nil {
			return err
		}
		o.Done = true
		o.Op = claimed.Op
		o.CreatedAt = claimed.CreatedAt
		data, err := json.Marshal(o)
		if err != nil {
			return err
		}
		return b.Put([]byte(o.Key), data)
	})
}

// Release forgets a claimed key so the submission can be retried. Releasing
// an unknown key is not an error.
func (s *Store) Release(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

// Prune drops outcomes recorded before cutoff and returns how many went.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var o Outcome
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if o.CreatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	return n, err
}
