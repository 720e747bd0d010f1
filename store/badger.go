package store

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Badger is a backend over a Badger database.
type Badger struct {
	db *badger.DB
}

// NewBadger wraps an open Badger database. Closing the backend closes db.
func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

// OpenBadger opens a Badger database in a directory.
// If dir is empty, the database is held in memory.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil).WithCompression(options.None)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := b.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get(key)
		if err != nil {
			return err
		}
		v, err = it.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (b *Badger) Set(ctx context.Context, key, val []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (b *Badger) Delete(ctx context.Context, key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *Badger) Keys(ctx context.Context, prefix []byte) ([][]byte, error) {
	var r [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			r = append(r, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return r, err
}

func (b *Badger) Close() error {
	return b.db.Close()
}
