package store

import (
	"bytes"
	"context"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("switchboard")

// Bolt is a backend over a single bucket of a bbolt database.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates a bbolt database file.
func OpenBolt(filename string) (*Bolt, error) {
	opts := &bolt.Options{
		Timeout: time.Second,
	}
	db, err := bolt.Open(filename, 0644, opts)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		// Values are only valid during the transaction.
		v = bytes.Clone(tx.Bucket(boltBucket).Get(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

func (b *Bolt) Set(ctx context.Context, key, val []byte) error {
	if val == nil {
		// bbolt treats nil values as absent on read.
		val = []byte{}
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, val)
	})
}

func (b *Bolt) Delete(ctx context.Context, key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

func (b *Bolt) Keys(ctx context.Context, prefix []byte) ([][]byte, error) {
	var r [][]byte
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			r = append(r, bytes.Clone(k))
		}
		return nil
	})
	return r, err
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
