package store

import (
	"encoding/binary"
	"sort"

	bolt "go.etcd.io/bbolt"
)

// MaxRecent is the number of recent projects kept.
const MaxRecent = 10

// Recent is a recently used project file.
type Recent struct {
	Path string
	Seq  uint64
}

func marshalSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func unmarshalSeq(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// AddRecent marks path as the most recently used project. Only the MaxRecent
// latest paths are kept.
func (s *Store) AddRecent(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecent))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put([]byte(path), marshalSeq(seq)); err != nil {
			return err
		}
		recent := readRecent(b)
		for _, r := range recent[min(len(recent), MaxRecent):] {
			if err := b.Delete([]byte(r.Path)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentProjects lists the recent projects, most recent first.
func (s *Store) RecentProjects() ([]Recent, error) {
	var recent []Recent
	err := s.db.View(func(tx *bolt.Tx) error {
		recent = readRecent(tx.Bucket([]byte(bucketRecent)))
		return nil
	})
	return recent, err
}

// DelRecent forgets a recent project, e.g. one whose file has disappeared.
func (s *Store) DelRecent(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketRecent)).Delete([]byte(path))
	})
}

func readRecent(b *bolt.Bucket) []Recent {
	var recent []Recent
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		recent = append(recent, Recent{Path: string(k), Seq: unmarshalSeq(v)})
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].Seq > recent[j].Seq })
	return recent
}
