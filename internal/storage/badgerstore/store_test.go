package badgerstore

import (
	"context"
	"errors"
	"testing"

	"github.com/gymchain/gymchain-ledger/internal/protocol"
	"github.com/gymchain/gymchain-ledger/internal/storage"
)

func testBlock(index int64, id string) protocol.Block {
	return protocol.Block{
		Index:       index,
		Timestamp:   "2026-10-16T09:30:00Z",
		Record:      protocol.MembershipRecord(id, "active", nil),
		PrevHash:    "prev",
		ContentHash: "hash",
		Signature:   "sig",
	}
}

func TestAppendAndLoadInOrder(t *testing.T) {
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for i := int64(0); i < 12; i++ {
		if err := s.Append(ctx, testBlock(i, "m")); err != nil {
			t.Fatalf("Append(%d) error: %v", i, err)
		}
	}
	blocks, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(blocks) != 12 {
		t.Fatalf("expected 12 blocks, got %d", len(blocks))
	}
	for i, b := range blocks {
		if b.Index != int64(i) {
			t.Fatalf("expected index %d at position %d, got %d", i, i, b.Index)
		}
	}
	if id, _ := blocks[3].Record.MemberID(); id != "m" {
		t.Fatalf("expected record to round-trip, got %v", blocks[3].Record)
	}
	if _, ok := blocks[3].Record[protocol.FieldExpiry]; !ok {
		t.Fatalf("expected null expiry key to be preserved")
	}
}

func TestAppendRejectsDuplicateAndGap(t *testing.T) {
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Append(ctx, testBlock(0, "g")); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := s.Append(ctx, testBlock(0, "g")); !errors.Is(err, storage.ErrIndexConflict) {
		t.Fatalf("expected index conflict, got %v", err)
	}
	if err := s.Append(ctx, testBlock(2, "x")); !errors.Is(err, storage.ErrOutOfOrder) {
		t.Fatalf("expected out of order, got %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if _, err := s.Load(context.Background()); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatalf("expected missing path error")
	}
}
