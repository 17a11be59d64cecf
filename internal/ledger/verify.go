package ledger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gymchain/gymchain-ledger/internal/crypto"
	"github.com/gymchain/gymchain-ledger/internal/protocol"
)

// expiryPattern accepts a four-digit year and a month and day with or
// without zero padding; a single-digit day may also be space padded.
var expiryPattern = regexp.MustCompile(`^(\d{4})-(1[0-2]|0[1-9]|[1-9])-(3[01]|[12]\d|0[1-9]|[1-9]| [1-9])$`)

// absentExpiry is how a missing expiry reads in resolution messages.
const absentExpiry = "None"

const (
	ReasonContentHash = "content hash mismatch"
	ReasonPrevHash    = "previous hash mismatch"
	ReasonSignature   = "signature mismatch"
)

// ChainError identifies the first block that failed an integrity check.
type ChainError struct {
	Index  int64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("block %d: %s", e.Index, e.Reason)
}

func (e *ChainError) Unwrap() error { return ErrTampered }

// Verify walks every block after genesis, checking that its stored hash
// matches a recomputation and that it links to its predecessor.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := 1; i < len(l.blocks); i++ {
		cur, prev := l.blocks[i], l.blocks[i-1]
		if cur.ContentHash != ComputeHash(cur) {
			return &ChainError{Index: int64(i), Reason: ReasonContentHash}
		}
		if cur.PrevHash != prev.ContentHash {
			return &ChainError{Index: int64(i), Reason: ReasonPrevHash}
		}
	}
	return nil
}

func (l *Ledger) IsValid() bool {
	return l.Verify() == nil
}

// VerifySignatures re-derives the issuer signature of every block,
// genesis included.
func (l *Ledger) VerifySignatures() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, b := range l.blocks {
		if !crypto.Equal(l.Sign(b.Record), b.Signature) {
			return &ChainError{Index: int64(i), Reason: ReasonSignature}
		}
	}
	return nil
}

type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeTampered Outcome = "tampered"
)

// Resolution is the effective status of a member at lookup time.
type Resolution struct {
	Outcome      Outcome
	MemberID     string
	Status       string
	StoredStatus string
	Expiry       *string
	BlockIndex   int64
	Message      string
}

func (r Resolution) Found() bool { return r.Outcome == OutcomeFound }

// ResolveStatus returns the member's status from the most recent block that
// names them. A past expiry date reports "expired" without touching the
// stored block.
func (l *Ledger) ResolveStatus(memberID string) Resolution {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.blocks) - 1; i >= 0; i-- {
		b := l.blocks[i]
		id, ok := b.Record.MemberID()
		if !ok || id != memberID {
			continue
		}
		res := Resolution{MemberID: memberID, BlockIndex: b.Index}
		if !crypto.Equal(l.Sign(b.Record), b.Signature) {
			res.Outcome = OutcomeTampered
			res.Message = "Signature invalid (possible tampering)."
			return res
		}
		res.Outcome = OutcomeFound
		res.StoredStatus = b.Record.Status()
		res.Status = res.StoredStatus
		expiryText := absentExpiry
		if raw, ok := b.Record.Expiry(); ok {
			res.Expiry = &raw
			expiryText = raw
			if l.pastExpiry(raw) {
				res.Status = protocol.StatusExpired
			}
		}
		res.Message = fmt.Sprintf("Member %s is %s, expiry: %s", memberID, res.Status, expiryText)
		return res
	}
	return Resolution{
		Outcome:  OutcomeNotFound,
		MemberID: memberID,
		Message:  "Member cannot be found on chain.",
	}
}

// parseExpiry reads a YYYY-MM-DD date as midnight in loc. Dates that do not
// exist on the calendar are rejected.
func parseExpiry(raw string, loc *time.Location) (time.Time, bool) {
	m := expiryPattern.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(strings.TrimSpace(m[3]))
	if y < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
	if t.Year() != y || t.Month() != time.Month(mo) || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// pastExpiry reports whether today is strictly after the expiry date.
// Unparseable values never expire a member.
func (l *Ledger) pastExpiry(raw string) bool {
	exp, ok := parseExpiry(raw, l.loc)
	if !ok {
		return false
	}
	y, m, d := l.now().In(l.loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, l.loc)
	return today.After(exp)
}
