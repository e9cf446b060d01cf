// Package badger implements the store.KV contract on an embedded badger
// database. This is the default single-node driver.
package badger

import (
	"context"
	"errors"
	"strconv"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/kailas-cloud/omnidex/internal/store"
)

// Config holds badger driver settings.
type Config struct {
	Path     string
	InMemory bool // used by tests
}

// Store is a badger-backed KV store.
type Store struct {
	db *badgerdb.DB
}

var _ store.KV = (*Store)(nil)

// NewStore opens (or creates) the badger database at cfg.Path.
func NewStore(cfg Config) (*Store, error) {
	opts := badgerdb.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, &store.Error{Op: store.OpGet, Err: err}
	}
	return &Store{db: db}, nil
}

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, store.ErrKeyNotFound
		}
		return nil, &store.Error{Op: store.OpGet, Err: err}
	}
	return out, nil
}

// Set stores a value at the given key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return &store.Error{Op: store.OpSet, Err: err}
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return &store.Error{Op: store.OpDelete, Err: err}
	}
	return nil
}

// ScanPrefix visits entries under prefix in ascending key order.
func (s *Store) ScanPrefix(_ context.Context, prefix string, fn func(store.Entry) bool) error {
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(store.Entry{Key: string(item.Key()), Value: val}) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return &store.Error{Op: store.OpScan, Err: err}
	}
	return nil
}

// IncrBy increments the decimal integer stored at key.
func (s *Store) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	var out int64
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		var cur int64
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			val, verr := item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
			cur, verr = strconv.ParseInt(string(val), 10, 64)
			if verr != nil {
				return verr
			}
		case errors.Is(err, badgerdb.ErrKeyNotFound):
			cur = 0
		default:
			return err
		}
		out = cur + delta
		return txn.Set([]byte(key), []byte(strconv.FormatInt(out, 10)))
	})
	if err != nil {
		return 0, &store.Error{Op: store.OpIncrBy, Err: err}
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WaitForReady is a no-op for the embedded driver; opening already blocked.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error {
	return nil
}
