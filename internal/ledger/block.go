package ledger

import (
	"github.com/gymchain/gymchain-ledger/internal/protocol"
)

// GenesisPrevHash marks the absence of a predecessor.
const GenesisPrevHash = "0"

// NewBlock assembles a block and derives its content hash.
func NewBlock(index int64, timestamp string, record protocol.Record, prevHash, signature string) protocol.Block {
	b := protocol.Block{
		Index:     index,
		Timestamp: timestamp,
		Record:    record,
		PrevHash:  prevHash,
		Signature: signature,
	}
	b.ContentHash = ComputeHash(b)
	return b
}

// ComputeHash digests the canonical form of every block field except the
// content hash itself. A record that cannot be encoded hashes to "", which
// never matches a stored hash.
func ComputeHash(b protocol.Block) string {
	h, err := protocol.HashCanonical(map[string]any{
		"index":     b.Index,
		"timestamp": b.Timestamp,
		"record":    b.Record,
		"prev_hash": b.PrevHash,
		"signature": b.Signature,
	})
	if err != nil {
		return ""
	}
	return h
}
