package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gymchain/gymchain-ledger/internal/crypto"
	"github.com/gymchain/gymchain-ledger/internal/protocol"
)

var fixedNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	iss, err := crypto.NewIssuer("gym", "super_secret_gym_key")
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}
	return New(iss, WithClock(func() time.Time { return fixedNow }), WithLocation(time.UTC))
}

func strPtr(s string) *string { return &s }

func mustAppend(t *testing.T, l *Ledger, id, status string, expiry *string) protocol.Block {
	t.Helper()
	b, err := l.AppendMembership(context.Background(), id, status, expiry)
	if err != nil {
		t.Fatalf("AppendMembership(%s) error: %v", id, err)
	}
	return b
}

func TestNewLedgerGenesis(t *testing.T) {
	l := newTestLedger(t)
	if l.Len() != 1 {
		t.Fatalf("expected one block, got %d", l.Len())
	}
	g := l.Latest()
	if g.Index != 0 || g.PrevHash != GenesisPrevHash {
		t.Fatalf("unexpected genesis block: %+v", g)
	}
	if g.Record[protocol.FieldInfo] != genesisInfo {
		t.Fatalf("unexpected genesis record: %v", g.Record)
	}
	if g.Signature != l.Sign(g.Record) {
		t.Fatalf("genesis signature does not match record")
	}
	if !l.IsValid() {
		t.Fatalf("expected fresh ledger to be valid")
	}
}

func TestSignDeterministic(t *testing.T) {
	l := newTestLedger(t)
	a := protocol.MembershipRecord("A", "active", strPtr("2099-01-01"))
	b := protocol.Record{"expiry": "2099-01-01", "status": "active", "member_id": "A"}
	if l.Sign(a) != l.Sign(a) {
		t.Fatalf("expected repeated signatures to match")
	}
	if l.Sign(a) != l.Sign(b) {
		t.Fatalf("expected signature to ignore key insertion order")
	}
}

func TestAppendMembershipLinksAndHashes(t *testing.T) {
	l := newTestLedger(t)
	prev := l.Latest()
	for i, id := range []string{"A", "B", "C"} {
		b := mustAppend(t, l, id, "active", nil)
		if b.Index != int64(i+1) {
			t.Fatalf("expected index %d, got %d", i+1, b.Index)
		}
		if b.PrevHash != prev.ContentHash {
			t.Fatalf("block %d prev hash %q, want %q", b.Index, b.PrevHash, prev.ContentHash)
		}
		if ComputeHash(b) != b.ContentHash {
			t.Fatalf("block %d hash does not round-trip", b.Index)
		}
		if b.Timestamp != fixedNow.Format(time.RFC3339Nano) {
			t.Fatalf("unexpected timestamp %q", b.Timestamp)
		}
		prev = b
	}
	if !l.IsValid() {
		t.Fatalf("expected chain to be valid after appends")
	}
}

func TestAppendMembershipRejectsMissingFields(t *testing.T) {
	l := newTestLedger(t)
	cases := []struct{ id, status string }{{"", "active"}, {"A", ""}, {"", ""}}
	for _, tc := range cases {
		_, err := l.AppendMembership(context.Background(), tc.id, tc.status, nil)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", tc, err)
		}
	}
	if l.Len() != 1 {
		t.Fatalf("expected no blocks appended, got length %d", l.Len())
	}
}

func TestAppendMembershipStoresUnknownStatus(t *testing.T) {
	l := newTestLedger(t)
	b := mustAppend(t, l, "A", "suspended", strPtr("not-a-date"))
	if b.Record.Status() != "suspended" {
		t.Fatalf("expected status to be stored verbatim, got %q", b.Record.Status())
	}
	res := l.ResolveStatus("A")
	if !res.Found() || res.Status != "suspended" {
		t.Fatalf("expected stored status, got %+v", res)
	}
}

func TestVerifyDetectsFieldMutation(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "A", "active", nil)
	mustAppend(t, l, "B", "active", nil)

	l.blocks[1].Record[protocol.FieldStatus] = "invalid"

	if l.IsValid() {
		t.Fatalf("expected mutated chain to be invalid")
	}
	var chainErr *ChainError
	if err := l.Verify(); !errors.As(err, &chainErr) || chainErr.Index != 1 || chainErr.Reason != ReasonContentHash {
		t.Fatalf("expected content hash failure at block 1, got %v", err)
	}
	if !errors.Is(l.Verify(), ErrTampered) {
		t.Fatalf("expected ChainError to wrap ErrTampered")
	}
}

func TestVerifyDetectsContentHashMutation(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "A", "active", nil)
	mustAppend(t, l, "B", "active", nil)

	l.blocks[1].ContentHash = "deadbeef"

	if l.IsValid() {
		t.Fatalf("expected chain with rewritten hash to be invalid")
	}
}

func TestVerifyDetectsRehashedBlockThroughNextLink(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "A", "active", nil)
	mustAppend(t, l, "B", "active", nil)

	forged := l.blocks[1]
	forged.Record = forged.Record.Clone()
	forged.Record[protocol.FieldStatus] = "invalid"
	forged.ContentHash = ComputeHash(forged)
	l.blocks[1] = forged

	var chainErr *ChainError
	if err := l.Verify(); !errors.As(err, &chainErr) || chainErr.Index != 2 || chainErr.Reason != ReasonPrevHash {
		t.Fatalf("expected previous hash failure at block 2, got %v", err)
	}
}

func TestVerifyDetectsReordering(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "A", "active", nil)
	mustAppend(t, l, "B", "active", nil)
	l.blocks[1], l.blocks[2] = l.blocks[2], l.blocks[1]
	if l.IsValid() {
		t.Fatalf("expected reordered chain to be invalid")
	}
}

func TestVerifySignatures(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "A", "active", nil)
	if err := l.VerifySignatures(); err != nil {
		t.Fatalf("expected signatures to verify, got %v", err)
	}
	l.blocks[1].Signature = "forged"
	var chainErr *ChainError
	if err := l.VerifySignatures(); !errors.As(err, &chainErr) || chainErr.Index != 1 || chainErr.Reason != ReasonSignature {
		t.Fatalf("expected signature failure at block 1, got %v", err)
	}
}

func TestResolveStatusLastWriteWins(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "A", "active", strPtr("2099-01-01"))
	second := mustAppend(t, l, "A", "invalid", nil)

	res := l.ResolveStatus("A")
	if !res.Found() {
		t.Fatalf("expected member to be found, got %+v", res)
	}
	if res.Status != "invalid" || res.Expiry != nil || res.BlockIndex != second.Index {
		t.Fatalf("expected second record, got %+v", res)
	}
	if res.Message != "Member A is invalid, expiry: None" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestResolveStatusExpiryOverride(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "B", "active", strPtr("2000-01-01"))

	res := l.ResolveStatus("B")
	if !res.Found() || res.Status != protocol.StatusExpired || res.StoredStatus != "active" {
		t.Fatalf("expected expired override, got %+v", res)
	}
	if res.Message != "Member B is expired, expiry: 2000-01-01" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if l.blocks[1].Record.Status() != "active" {
		t.Fatalf("expected stored block to be left unchanged")
	}
}

func TestResolveStatusExpiryBoundary(t *testing.T) {
	l := newTestLedger(t)
	today := fixedNow.Format("2006-01-02")
	yesterday := fixedNow.AddDate(0, 0, -1).Format("2006-01-02")
	mustAppend(t, l, "today", "active", &today)
	mustAppend(t, l, "yesterday", "active", &yesterday)

	if res := l.ResolveStatus("today"); res.Status != "active" {
		t.Fatalf("expected expiry today to remain active, got %+v", res)
	}
	if res := l.ResolveStatus("yesterday"); res.Status != protocol.StatusExpired {
		t.Fatalf("expected expiry yesterday to be expired, got %+v", res)
	}
}

func TestResolveStatusMalformedExpiry(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "C", "active", strPtr("31/12/1999"))
	res := l.ResolveStatus("C")
	if !res.Found() || res.Status != "active" {
		t.Fatalf("expected malformed expiry to be ignored, got %+v", res)
	}
	if res.Expiry == nil || *res.Expiry != "31/12/1999" {
		t.Fatalf("expected raw expiry to be reported, got %v", res.Expiry)
	}
}

func TestResolveStatusUnknownMember(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "A", "active", nil)
	res := l.ResolveStatus("ghost")
	if res.Found() || res.Outcome != OutcomeNotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
	if res.Message != "Member cannot be found on chain." {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestResolveStatusTamperedRecord(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "A", "invalid", nil)
	l.blocks[1].Record[protocol.FieldStatus] = "active"

	res := l.ResolveStatus("A")
	if res.Found() || res.Outcome != OutcomeTampered {
		t.Fatalf("expected tamper outcome, got %+v", res)
	}
	if res.Message != "Signature invalid (possible tampering)." {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestSnapshotNewestFirst(t *testing.T) {
	l := newTestLedger(t)
	for _, id := range []string{"A", "B", "C"} {
		mustAppend(t, l, id, "active", nil)
	}
	snap := l.Snapshot(2)
	if len(snap) != 2 || snap[0].Index != 3 || snap[1].Index != 2 {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}
	if all := l.Snapshot(50); len(all) != 4 || all[3].Index != 0 {
		t.Fatalf("expected whole chain newest first, got %d blocks", len(all))
	}
	if none := l.Snapshot(0); len(none) != 0 {
		t.Fatalf("expected empty snapshot, got %d blocks", len(none))
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "A", "active", nil)
	snap := l.Snapshot(1)
	snap[0].Record[protocol.FieldStatus] = "invalid"
	if !l.IsValid() {
		t.Fatalf("mutating a snapshot must not affect the ledger")
	}
}

func TestConcurrentAppendsKeepChainLinked(t *testing.T) {
	l := newTestLedger(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.AppendMembership(context.Background(), fmt.Sprintf("m%d", i), "active", nil); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
			_ = l.ResolveStatus("m0")
		}(i)
	}
	wg.Wait()
	if l.Len() != 33 {
		t.Fatalf("expected 33 blocks, got %d", l.Len())
	}
	if err := l.Verify(); err != nil {
		t.Fatalf("expected linked chain, got %v", err)
	}
}

type memStore struct {
	blocks    []protocol.Block
	appendErr error
}

func (s *memStore) Load(context.Context) ([]protocol.Block, error) {
	return append([]protocol.Block(nil), s.blocks...), nil
}

func (s *memStore) Append(_ context.Context, b protocol.Block) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.blocks = append(s.blocks, b.Clone())
	return nil
}

func TestOpenPersistsGenesisAndReloads(t *testing.T) {
	iss, _ := crypto.NewIssuer("gym", "k")
	store := &memStore{}
	l, err := Open(context.Background(), iss, store)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if len(store.blocks) != 1 || store.blocks[0].Index != 0 {
		t.Fatalf("expected persisted genesis, got %+v", store.blocks)
	}
	mustAppend(t, l, "A", "active", strPtr("2099-01-01"))

	reopened, err := Open(context.Background(), iss, store)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if reopened.Len() != 2 || !reopened.IsValid() {
		t.Fatalf("expected reloaded valid chain of 2, got %d", reopened.Len())
	}
	if res := reopened.ResolveStatus("A"); !res.Found() {
		t.Fatalf("expected member after reload, got %+v", res)
	}
}

func TestAppendLeavesChainUntouchedOnStoreError(t *testing.T) {
	iss, _ := crypto.NewIssuer("gym", "k")
	store := &memStore{}
	l, err := Open(context.Background(), iss, store)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	store.appendErr = errors.New("disk full")
	if _, err := l.AppendMembership(context.Background(), "A", "active", nil); err == nil {
		t.Fatalf("expected persistence error")
	}
	if l.Len() != 1 {
		t.Fatalf("expected in-memory chain unchanged, got length %d", l.Len())
	}
}

func TestAppendMembershipRejectsInvalidUTF8(t *testing.T) {
	l := newTestLedger(t)
	cases := []struct {
		id, status string
		expiry     *string
	}{
		{"a\xff", "active", nil},
		{"A", "act\xfeive", nil},
		{"A", "active", strPtr("2099-01-0\xff")},
	}
	for _, tc := range cases {
		_, err := l.AppendMembership(context.Background(), tc.id, tc.status, tc.expiry)
		if !errors.Is(err, ErrInvalidUTF8) || !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidUTF8 for %q/%q, got %v", tc.id, tc.status, err)
		}
	}
	if l.Len() != 1 {
		t.Fatalf("expected no blocks appended, got length %d", l.Len())
	}
}

func TestVerifyDetectsMemberIDSwapBetweenDistinctBytes(t *testing.T) {
	l := newTestLedger(t)
	mustAppend(t, l, "aÿ", "active", nil)
	l.blocks[1].Record[protocol.FieldMemberID] = "aþ"
	if l.IsValid() {
		t.Fatalf("expected changed member id to break the chain")
	}
	if res := l.ResolveStatus("aþ"); res.Outcome != OutcomeTampered {
		t.Fatalf("expected tampered outcome, got %+v", res)
	}
}

func TestResolveStatusUnpaddedExpiry(t *testing.T) {
	cases := []struct {
		expiry string
		want   string
	}{
		{"2000-1-1", protocol.StatusExpired},
		{"2000-01-1", protocol.StatusExpired},
		{"2000-1-01", protocol.StatusExpired},
		{"2026-10-15", protocol.StatusExpired},
		{"2026-10-16", "active"},
		{"2099-1-1", "active"},
		{"2000-2-30", "active"},
		{"2000-13-01", "active"},
		{"2000-01-01 ", "active"},
		{"2000-01-01T00:00", "active"},
		{"00-01-01", "active"},
	}
	for _, tc := range cases {
		l := newTestLedger(t)
		mustAppend(t, l, "M", "active", strPtr(tc.expiry))
		res := l.ResolveStatus("M")
		if res.Status != tc.want {
			t.Fatalf("expiry %q: expected %s, got %+v", tc.expiry, tc.want, res)
		}
		if want := fmt.Sprintf("Member M is %s, expiry: %s", tc.want, tc.expiry); res.Message != want {
			t.Fatalf("expiry %q: unexpected message %q", tc.expiry, res.Message)
		}
	}
}

func TestParseExpiry(t *testing.T) {
	cases := []struct {
		raw  string
		ok   bool
		want time.Time
	}{
		{"2024-02-29", true, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"2023-02-29", false, time.Time{}},
		{"2000-1-1", true, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2000-12- 5", true, time.Date(2000, 12, 5, 0, 0, 0, 0, time.UTC)},
		{"2000-00-10", false, time.Time{}},
		{"2000-01-32", false, time.Time{}},
		{"0000-01-01", false, time.Time{}},
		{"12000-01-01", false, time.Time{}},
		{"", false, time.Time{}},
	}
	for _, tc := range cases {
		got, ok := parseExpiry(tc.raw, time.UTC)
		if ok != tc.ok || !got.Equal(tc.want) {
			t.Fatalf("parseExpiry(%q) = %v, %v; want %v, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
