// Package capstore persists capability snapshots of finished sessions in a
// bbolt file, so operators can see which clients connect and what they
// negotiate.
package capstore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/crystal-mush/mudtelnet/pkg/telnet"
	bbolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned by Get when no record has the requested ID.
var ErrNotFound = errors.New("capstore: record not found")

// Record is the snapshot taken when a session ends.
type Record struct {
	ID           string
	Addr         string
	Transport    string
	Connected    time.Time
	Disconnected time.Time
	Caps         telnet.Capabilities
	GMCPPackages []string
	BytesIn      int64
	BytesOut     int64
}

// Duration is how long the session lasted.
func (r *Record) Duration() time.Duration {
	return r.Disconnected.Sub(r.Connected)
}

// Store wraps a bbolt database of session records.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("capstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketSessions, bucketIDs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get(keyVersion) == nil {
			if err := meta.Put(keyVersion, seqToKey(schemaVersion)); err != nil {
				return err
			}
			created, err := time.Now().MarshalBinary()
			if err != nil {
				return err
			}
			return meta.Put(keyCreated, created)
		}
		if v := keyToSeq(meta.Get(keyVersion)); v != schemaVersion {
			return fmt.Errorf("schema version %d, want %d", v, schemaVersion)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("capstore: create buckets: %w", err)
	}

	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// Created returns when the store file was first initialised.
func (s *Store) Created() (time.Time, error) {
	var t time.Time
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return t.UnmarshalBinary(tx.Bucket(bucketMeta).Get(keyCreated))
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("capstore: read created: %w", err)
	}
	return t, nil
}

// Put appends rec. Putting an ID that already exists replaces the old
// record in place.
func (s *Store) Put(rec *Record) error {
	if rec.ID == "" {
		return errors.New("capstore: record has no ID")
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("capstore: encode record %s: %w", rec.ID, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		ids := tx.Bucket(bucketIDs)

		key := ids.Get([]byte(rec.ID))
		if key == nil {
			seq, err := sessions.NextSequence()
			if err != nil {
				return err
			}
			key = seqToKey(seq)
			if err := ids.Put([]byte(rec.ID), key); err != nil {
				return err
			}
		}
		return sessions.Put(key, data)
	})
}

// Get loads the record with the given ID.
func (s *Store) Get(id string) (*Record, error) {
	var rec *Record
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketIDs).Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		data := tx.Bucket(bucketSessions).Get(key)
		if data == nil {
			return ErrNotFound
		}
		var err error
		rec, err = decodeRecord(data)
		if err != nil {
			return fmt.Errorf("capstore: decode record %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(n int) ([]*Record, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []*Record
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSessions).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("capstore: decode record #%d: %w", keyToSeq(k), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	var n int
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketSessions).Stats().KeyN
		return nil
	})
	return n, err
}

// ClientCounts tallies stored records by client name.
func (s *Store) ClientCounts() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("capstore: decode record #%d: %w", keyToSeq(k), err)
			}
			counts[rec.Caps.ClientName]++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Backup writes a consistent copy of the database to path while the store
// stays open.
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("capstore: create backup %s: %w", path, err)
		}
		if _, err := tx.WriteTo(f); err != nil {
			f.Close()
			return fmt.Errorf("capstore: write backup: %w", err)
		}
		return f.Close()
	})
}
