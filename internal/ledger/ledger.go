// Package ledger keeps the append-only membership chain of one issuer.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gymchain/gymchain-ledger/internal/protocol"
)

const genesisInfo = "Genesis block - Gym Membership Chain"

var (
	ErrInvalidInput = errors.New("member_id and status are required")
	ErrTampered     = errors.New("ledger integrity violation")

	ErrInvalidUTF8 = fmt.Errorf("%w: fields must be valid UTF-8", ErrInvalidInput)
)

// Signer produces the issuer signature over canonical record bytes.
type Signer interface {
	Sign(payload []byte) string
}

// Store persists blocks. Append is called inside the ledger's critical
// section, before the block becomes visible to readers.
type Store interface {
	Load(ctx context.Context) ([]protocol.Block, error)
	Append(ctx context.Context, b protocol.Block) error
}

type Option func(*Ledger)

// WithClock replaces time.Now for block timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the calendar used to decide what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

type Ledger struct {
	mu     sync.RWMutex
	blocks []protocol.Block
	signer Signer
	store  Store
	now    func() time.Time
	loc    *time.Location
}

// New returns an in-memory ledger holding a freshly signed genesis block.
func New(signer Signer, opts ...Option) *Ledger {
	l := newLedger(signer, nil, opts)
	l.blocks = append(l.blocks, l.genesis())
	return l
}

// Open loads the chain from store, creating and persisting genesis when the
// store is empty. Loaded blocks are not checked here; use Verify.
func Open(ctx context.Context, signer Signer, store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return New(signer, opts...), nil
	}
	l := newLedger(signer, store, opts)
	blocks, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	if len(blocks) == 0 {
		g := l.genesis()
		if err := store.Append(ctx, g); err != nil {
			return nil, fmt.Errorf("persist genesis block: %w", err)
		}
		blocks = []protocol.Block{g}
	}
	l.blocks = blocks
	return l, nil
}

func newLedger(signer Signer, store Store, opts []Option) *Ledger {
	l := &Ledger{
		signer: signer,
		store:  store,
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) genesis() protocol.Block {
	rec := protocol.Record{protocol.FieldInfo: genesisInfo}
	return NewBlock(0, l.timestamp(), rec, GenesisPrevHash, l.Sign(rec))
}

func (l *Ledger) timestamp() string {
	return l.now().UTC().Format(time.RFC3339Nano)
}

// Sign returns the issuer signature over the canonical form of record.
func (l *Ledger) Sign(record protocol.Record) string {
	raw, err := protocol.CanonicalJSON(record)
	if err != nil {
		return ""
	}
	return l.signer.Sign(raw)
}

// AppendMembership records one membership fact. It is the only way the chain
// grows; nothing is appended when validation or persistence fails.
func (l *Ledger) AppendMembership(ctx context.Context, memberID, status string, expiry *string) (protocol.Block, error) {
	if memberID == "" || status == "" {
		return protocol.Block{}, ErrInvalidInput
	}
	// JSON encoding folds invalid bytes into U+FFFD, which would let two
	// different values share a hash and signature.
	if !utf8.ValidString(memberID) || !utf8.ValidString(status) || (expiry != nil && !utf8.ValidString(*expiry)) {
		return protocol.Block{}, ErrInvalidUTF8
	}
	rec := protocol.MembershipRecord(memberID, status, expiry)
	sig := l.Sign(rec)

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.blocks[len(l.blocks)-1]
	b := NewBlock(int64(len(l.blocks)), l.timestamp(), rec, prev.ContentHash, sig)
	if l.store != nil {
		if err := l.store.Append(ctx, b); err != nil {
			return protocol.Block{}, fmt.Errorf("persist block %d: %w", b.Index, err)
		}
	}
	l.blocks = append(l.blocks, b)
	return b.Clone(), nil
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

func (l *Ledger) Latest() protocol.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[len(l.blocks)-1].Clone()
}

// Snapshot returns up to lastN of the most recent blocks, newest first.
func (l *Ledger) Snapshot(lastN int) []protocol.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lastN <= 0 {
		return []protocol.Block{}
	}
	if lastN > len(l.blocks) {
		lastN = len(l.blocks)
	}
	out := make([]protocol.Block, 0, lastN)
	for i := len(l.blocks) - 1; i >= len(l.blocks)-lastN; i-- {
		out = append(out, l.blocks[i].Clone())
	}
	return out
}
