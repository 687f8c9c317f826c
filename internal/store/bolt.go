package store

import (
	"bytes"
	"context"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "resources"

// Bolt is a single-file BoltDB backend. It plays the role of the original
// platform's on-disk snapshot: state survives restarts without any external
// database process.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the database file at path and ensures the
// resources bucket exists.
func NewBolt(path string) (*Bolt, error) {
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

	return &Bolt{db: db}, nil
}

func (s *Bolt) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Bolt) Set(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), value)
	})
}

func (s *Bolt) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

func (s *Bolt) ScanPrefix(_ context.Context, prefix string) ([][]byte, error) {
	var values [][]byte

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			out := make([]byte, len(v))
			copy(out, v)
			values = append(values, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (s *Bolt) Flush(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}

func (s *Bolt) Close() error {
	return s.db.Close()
}
