package domain

import "time"

// ─── Credit Types ───────────────────────────────────────────────────────────
// These live in domain because they represent core business rules.
// Every balance mutation is paired with exactly one LedgerEntry.

// EntryKind represents the business reason for a ledger entry.
type EntryKind string

const (
	KindInitial    EntryKind = "initial"
	KindDailyBonus EntryKind = "daily_bonus"
	KindSpend      EntryKind = "spend"
	KindEarn       EntryKind = "earn"
	KindAdjust     EntryKind = "adjust"
)

// Valid reports whether k is one of the known kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindInitial, KindDailyBonus, KindSpend, KindEarn, KindAdjust:
		return true
	}
	return false
}

// Ledger reasons written by the service itself.
const (
	ReasonInitial    = "Initial credits"
	ReasonDailyBonus = "Daily bonus"
	ReasonAdjust     = "Manual adjustment"
)

// MaxReasonLength bounds caller-supplied ledger reasons.
const MaxReasonLength = 200

// CreditsAccount holds the spendable balance of one anonymous id.
// Balance may be negative; see the spend floor in the credits engine.
type CreditsAccount struct {
	AnonymousID string    `json:"anonymousId"`
	Balance     int64     `json:"balance"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LedgerEntry is a single immutable row in the append-only credit ledger.
type LedgerEntry struct {
	ID          string    `json:"id"`
	AnonymousID string    `json:"anonymousId"`
	Amount      int64     `json:"amount"`
	Kind        EntryKind `json:"kind"`
	Reason      *string   `json:"reason"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewLedgerEntry is a ledger entry before the store assigns id and timestamp.
type NewLedgerEntry struct {
	AnonymousID string
	Amount      int64
	Kind        EntryKind
	Reason      *string
}

// CreditsSnapshot is the read model returned by GET /api/credits.
type CreditsSnapshot struct {
	Balance int64         `json:"balance"`
	Ledger  []LedgerEntry `json:"ledger"`
}

// SumLedger totals the amounts of entries.
func SumLedger(entries []LedgerEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	return total
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
