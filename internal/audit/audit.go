// Package audit produces an offline integrity report for a stored chain.
package audit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gymchain/gymchain-ledger/internal/ledger"
)

type Report struct {
	GeneratedAtUTC  string         `json:"generated_at_utc"`
	Issuer          string         `json:"issuer"`
	Backend         string         `json:"backend"`
	Length          int            `json:"length"`
	LatestIndex     int64          `json:"latest_index"`
	LatestHash      string         `json:"latest_hash"`
	ChainValid      bool           `json:"chain_valid"`
	SignaturesValid bool           `json:"signatures_valid"`
	FailedIndex     *int64         `json:"failed_index,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	Members         int            `json:"members"`
	StatusCounts    map[string]int `json:"status_counts"`
}

func (r Report) OK() bool {
	return r.ChainValid && r.SignaturesValid
}

// Run checks links, hashes and signatures and tallies the effective status of
// every member named on the chain.
func Run(l *ledger.Ledger, issuer, backend string, now time.Time) Report {
	latest := l.Latest()
	r := Report{
		GeneratedAtUTC: now.UTC().Format(time.RFC3339),
		Issuer:         issuer,
		Backend:        backend,
		Length:         l.Len(),
		LatestIndex:    latest.Index,
		LatestHash:     latest.ContentHash,
		StatusCounts:   map[string]int{},
	}

	chainErr := l.Verify()
	r.ChainValid = chainErr == nil
	sigErr := l.VerifySignatures()
	r.SignaturesValid = sigErr == nil
	for _, err := range []error{chainErr, sigErr} {
		var ce *ledger.ChainError
		if errors.As(err, &ce) && (r.FailedIndex == nil || ce.Index < *r.FailedIndex) {
			idx := ce.Index
			r.FailedIndex = &idx
			r.Reason = ce.Reason
		}
	}

	seen := map[string]bool{}
	for _, b := range l.Snapshot(l.Len()) {
		id, ok := b.Record.MemberID()
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		res := l.ResolveStatus(id)
		if res.Outcome == ledger.OutcomeTampered {
			r.StatusCounts[string(ledger.OutcomeTampered)]++
			continue
		}
		r.StatusCounts[res.Status]++
	}
	r.Members = len(seen)
	return r
}

// Markdown renders the report in the layout used for archived audit summaries.
func (r Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Membership Ledger Audit\n\n")
	fmt.Fprintf(&b, "- Generated (UTC): `%s`\n", r.GeneratedAtUTC)
	fmt.Fprintf(&b, "- Issuer: `%s`\n", r.Issuer)
	fmt.Fprintf(&b, "- Backend: `%s`\n", r.Backend)
	fmt.Fprintf(&b, "- Blocks: `%d` (latest index `%d`)\n", r.Length, r.LatestIndex)
	fmt.Fprintf(&b, "- Latest hash: `%s`\n", r.LatestHash)
	fmt.Fprintf(&b, "- Chain valid: `%t`\n", r.ChainValid)
	fmt.Fprintf(&b, "- Signatures valid: `%t`\n", r.SignaturesValid)
	if r.FailedIndex != nil {
		fmt.Fprintf(&b, "- First failure: block `%d` (%s)\n", *r.FailedIndex, r.Reason)
	}
	fmt.Fprintf(&b, "- Members: `%d`\n", r.Members)
	if len(r.StatusCounts) > 0 {
		b.WriteString("\n| Status | Members |\n|---|---|\n")
		keys := make([]string, 0, len(r.StatusCounts))
		for k := range r.StatusCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "| %s | %d |\n", k, r.StatusCounts[k])
		}
	}
	return b.String()
}
