// Package storage defines how ledger blocks are persisted. Backends live in
// subpackages and are chosen by configuration.
package storage

import (
	"context"
	"errors"

	"github.com/gymchain/gymchain-ledger/internal/protocol"
)

var (
	ErrClosed        = errors.New("block store closed")
	ErrIndexConflict = errors.New("block index already stored")
	ErrOutOfOrder    = errors.New("block index does not follow stored chain")
)

// BlockStore persists blocks in index order. Append must reject an index that
// is already stored or that does not extend the stored chain by exactly one.
type BlockStore interface {
	Load(ctx context.Context) ([]protocol.Block, error)
	Append(ctx context.Context, b protocol.Block) error
	Close() error
}
