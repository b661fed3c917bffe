// Package credits is the single chokepoint for balance mutations. Every
// change writes the new balance and appends exactly one matching ledger
// entry in the same transaction, so balance always equals the ledger sum.
package credits

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/tutu-network/anoncredits/internal/domain"
	"github.com/tutu-network/anoncredits/internal/infra/observability"
)

// DefaultLedgerLimit is the most ledger entries a snapshot returns.
const DefaultLedgerLimit = 50

// Engine applies credit deltas and serves balance snapshots.
type Engine struct {
	store       domain.Store
	ledgerLimit int
	log         *slog.Logger
}

// NewEngine creates an Engine. ledgerLimit <= 0 selects DefaultLedgerLimit.
func NewEngine(store domain.Store, ledgerLimit int, log *slog.Logger) *Engine {
	if ledgerLimit <= 0 {
		ledgerLimit = DefaultLedgerLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, ledgerLimit: ledgerLimit, log: log}
}

// LedgerLimit returns the snapshot size cap.
func (e *Engine) LedgerLimit() int { return e.ledgerLimit }

// ApplyDelta changes the balance of anonID by amount and records it.
func (e *Engine) ApplyDelta(ctx context.Context, anonID string, amount int64, kind domain.EntryKind, reason string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := e.store.RunInTx(ctx, func(tx domain.Tx) error {
		var err error
		entry, _, err = ApplyDeltaTx(ctx, tx, anonID, amount, kind, domain.StringPtr(reason))
		return err
	})
	if err != nil {
		return nil, err
	}
	observability.RecordLedgerEntry(string(kind), amount)
	e.log.Info("credits applied",
		"anon_id", anonID, "amount", amount, "kind", string(kind), "entry_id", entry.ID)
	return entry, nil
}

// ApplyDeltaTx is the body of ApplyDelta for callers composing it into a
// larger transaction. A missing credits account is created at zero first.
// Spend deltas may not take the balance below zero; other kinds are not
// floor-checked.
func ApplyDeltaTx(ctx context.Context, tx domain.Tx, anonID string, amount int64, kind domain.EntryKind, reason *string) (*domain.LedgerEntry, int64, error) {
	if !kind.Valid() {
		return nil, 0, domain.Validationf("unknown ledger kind %q", kind)
	}

	acct, err := tx.GetCredits(ctx, anonID)
	if errors.Is(err, domain.ErrNotFound) {
		acct, err = tx.CreateCredits(ctx, anonID, 0)
	}
	if err != nil {
		return nil, 0, err
	}

	if overflows(acct.Balance, amount) {
		return nil, acct.Balance, domain.Validationf("amount would overflow the balance")
	}
	newBalance := acct.Balance + amount
	if kind == domain.KindSpend && newBalance < 0 {
		return nil, acct.Balance, domain.ErrInsufficientCredits
	}
	if _, err := tx.SetCreditsBalance(ctx, anonID, newBalance); err != nil {
		return nil, 0, err
	}
	entry, err := tx.AppendLedgerEntry(ctx, domain.NewLedgerEntry{
		AnonymousID: anonID,
		Amount:      amount,
		Kind:        kind,
		Reason:      reason,
	})
	if err != nil {
		return nil, 0, err
	}
	return entry, newBalance, nil
}

func overflows(balance, amount int64) bool {
	return (amount > 0 && balance > math.MaxInt64-amount) ||
		(amount < 0 && balance < math.MinInt64-amount)
}

// Snapshot returns the balance and up to limit most recent ledger entries.
// limit <= 0 or above the engine cap selects the cap.
func (e *Engine) Snapshot(ctx context.Context, anonID string, limit int) (*domain.CreditsSnapshot, error) {
	if limit <= 0 || limit > e.ledgerLimit {
		limit = e.ledgerLimit
	}
	acct, err := e.store.GetCredits(ctx, anonID)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListLedger(ctx, anonID, limit)
	if err != nil {
		return nil, err
	}
	return &domain.CreditsSnapshot{Balance: acct.Balance, Ledger: entries}, nil
}

// ─── Typed operations ───────────────────────────────────────────────────────

// Adjust applies an administrative delta of any sign and magnitude.
func (e *Engine) Adjust(ctx context.Context, anonID string, amount int64, reason string) (*domain.LedgerEntry, error) {
	if amount == 0 {
		return nil, domain.Validationf("amount must be a non-zero integer")
	}
	reason, err := normalizeReason(reason, domain.ReasonAdjust)
	if err != nil {
		return nil, err
	}
	return e.ApplyDelta(ctx, anonID, amount, domain.KindAdjust, reason)
}

// Spend debits amount (> 0). It fails with ErrInsufficientCredits rather
// than driving the balance negative.
func (e *Engine) Spend(ctx context.Context, anonID string, amount int64, reason string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.Validationf("amount must be a positive integer")
	}
	reason, err := normalizeReason(reason, "")
	if err != nil {
		return nil, err
	}
	return e.ApplyDelta(ctx, anonID, -amount, domain.KindSpend, reason)
}

// Earn credits amount (> 0).
func (e *Engine) Earn(ctx context.Context, anonID string, amount int64, reason string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, domain.Validationf("amount must be a positive integer")
	}
	reason, err := normalizeReason(reason, "")
	if err != nil {
		return nil, err
	}
	return e.ApplyDelta(ctx, anonID, amount, domain.KindEarn, reason)
}

func normalizeReason(reason, fallback string) (string, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > domain.MaxReasonLength {
		return "", domain.Validationf("reason must be at most %d characters", domain.MaxReasonLength)
	}
	if reason == "" {
		reason = fallback
	}
	return reason, nil
}
