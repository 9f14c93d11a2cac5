package storage

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

// bucketName is the single bucket all guard blobs live in.
var bucketName = []byte("webguard")

// Bolt is a durable [Store] backed by a bbolt database file.
type Bolt struct {
	db *bbolt.DB
}

// NewBolt opens or creates the bbolt database at dbPath.  The returned store
// must be closed with [Bolt.Close].
func NewBolt(dbPath string) (s *Bolt, err error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening db %q: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) (err error) {
		_, err = tx.CreateBucketIfNotExists(bucketName)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

// type check
var _ Store = (*Bolt)(nil)

// Load implements the [Store] interface for *Bolt.
func (s *Bolt) Load(_ context.Context, key string) (data []byte, err error) {
	err = s.db.View(func(tx *bbolt.Tx) (err error) {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", key, err)
	}

	return data, nil
}

// Store implements the [Store] interface for *Bolt.
func (s *Bolt) Store(_ context.Context, key string, data []byte) (err error) {
	err = s.db.Update(func(tx *bbolt.Tx) (err error) {
		return tx.Bucket(bucketName).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("storing %q: %w", key, err)
	}

	return nil
}

// Close closes the underlying database.
func (s *Bolt) Close() (err error) {
	return s.db.Close()
}
