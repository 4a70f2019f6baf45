// Package store persists host data that lives outside project files: the
// recovery snapshot of the open project and the list of recently used
// projects. It is backed by a bbolt database.
package store

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketRecovery = "recovery"
	bucketRecent   = "recent"
)

// ErrNoRecovery is returned when there is no recovery snapshot.
var ErrNoRecovery = errors.New("no recovery snapshot")

var initDB = map[string]func(tx *bolt.Tx) error{
	"initialize recovery table": func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRecovery))
		return err
	},
	"initialize recent projects table": func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRecent))
		return err
	},
}

// Store is a handle to the database. It is safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for name, f := range initDB {
			if err := f(tx); err != nil {
				return fmt.Errorf("failed to %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }
