package store

import (
	bolt "go.etcd.io/bbolt"
)

var (
	keySnapshot = []byte("snapshot")
	keyPath     = []byte("path")
)

// Recovery is the state of an unsaved project.
type Recovery struct {
	// Path is the file the project was loaded from or saved to, if any.
	Path string
	Data []byte
}

// SaveRecovery replaces the recovery snapshot.
func (s *Store) SaveRecovery(r Recovery) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecovery))
		if err := b.Put(keyPath, []byte(r.Path)); err != nil {
			return err
		}
		return b.Put(keySnapshot, r.Data)
	})
}

// Recovery returns the recovery snapshot, or ErrNoRecovery.
func (s *Store) Recovery() (Recovery, error) {
	var r Recovery
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecovery))
		data := b.Get(keySnapshot)
		if data == nil {
			return ErrNoRecovery
		}
		// bolt values are only valid during the transaction
		r.Data = append([]byte(nil), data...)
		r.Path = string(b.Get(keyPath))
		return nil
	})
	return r, err
}

// ClearRecovery removes the recovery snapshot, e.g. after a successful save.
func (s *Store) ClearRecovery() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecovery))
		if err := b.Delete(keyPath); err != nil {
			return err
		}
		return b.Delete(keySnapshot)
	})
}
