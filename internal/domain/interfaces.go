package domain

import (
	"context"
	"time"
)

// ─── Persistence Interfaces ─────────────────────────────────────────────────
// Infrastructure implements them; application layer depends on them.

// Tx is the set of storage primitives. Every method is usable both on a
// Store directly and inside Store.RunInTx.
//
// Absent records are reported as ErrNotFound. Creating a record that already
// exists returns ErrConflict and writes nothing.
type Tx interface {
	GetUser(ctx context.Context, anonID string) (*UserProfile, error)
	CreateUser(ctx context.Context, anonID string) (*UserProfile, error)
	UpdateUser(ctx context.Context, anonID string, upd ProfileUpdate) (*UserProfile, error)

	GetCredits(ctx context.Context, anonID string) (*CreditsAccount, error)
	CreateCredits(ctx context.Context, anonID string, initialBalance int64) (*CreditsAccount, error)
	SetCreditsBalance(ctx context.Context, anonID string, balance int64) (*CreditsAccount, error)

	// ListLedger returns at most limit entries, newest first.
	ListLedger(ctx context.Context, anonID string, limit int) ([]LedgerEntry, error)
	// AppendLedgerEntry assigns id and timestamp.
	AppendLedgerEntry(ctx context.Context, entry NewLedgerEntry) (*LedgerEntry, error)

	// GetLastBonusClaim returns ok=false when the identity never claimed.
	GetLastBonusClaim(ctx context.Context, anonID string) (t time.Time, ok bool, err error)
	SetLastBonusClaim(ctx context.Context, anonID string, t time.Time) error
}

// Store is a storage backend. RunInTx is all-or-nothing: when fn returns an
// error, every write made through the Tx is discarded. fn must only use the
// Tx it is given.
type Store interface {
	Tx
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	HealthCheck(ctx context.Context) error
	Close() error
}
