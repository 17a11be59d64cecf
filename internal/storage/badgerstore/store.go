// Package badgerstore keeps ledger blocks in an embedded BadgerDB.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/gymchain/gymchain-ledger/internal/protocol"
	"github.com/gymchain/gymchain-ledger/internal/storage"
)

const keyPrefix = "block/"

type Options struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

type Store struct {
	db     *badger.DB
	closed atomic.Bool
}

var _ storage.BlockStore = (*Store)(nil)

func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("badger path is required")
		}
		if err := os.MkdirAll(opts.Path, 0o700); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		bopts = badger.DefaultOptions(opts.Path).WithSyncWrites(opts.SyncWrites)
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func blockKey(index int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, index))
}

func (s *Store) Load(_ context.Context) ([]protocol.Block, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	var out []protocol.Block
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(keyPrefix), PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var b protocol.Block
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger load: %w", err)
	}
	return out, nil
}

// Append writes b when its index is the next one after the stored chain.
// Keys are zero-padded so iteration order is index order.
func (s *Store) Append(_ context.Context, b protocol.Block) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	val, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Index, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(blockKey(b.Index)); err == nil {
			return storage.ErrIndexConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("badger get: %w", err)
		}
		if b.Index > 0 {
			if _, err := txn.Get(blockKey(b.Index - 1)); errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrOutOfOrder
			} else if err != nil {
				return fmt.Errorf("badger get: %w", err)
			}
		}
		return txn.Set(blockKey(b.Index), val)
	})
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
