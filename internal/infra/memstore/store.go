// Package memstore is the ephemeral, map-backed domain.Store.
// It has no cross-process durability and is meant for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/anoncredits/internal/domain"
)

// Store keeps every record in process memory behind a single mutex.
// Transactions hold the mutex for their whole duration and roll back
// through an undo log.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	users   map[string]domain.UserProfile
	credits map[string]domain.CreditsAccount
	ledger  map[string][]domain.LedgerEntry // append order
	claims  map[string]time.Time
}

var _ domain.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		users:   make(map[string]domain.UserProfile),
		credits: make(map[string]domain.CreditsAccount),
		ledger:  make(map[string][]domain.LedgerEntry),
		claims:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn with the store locked. If fn fails, its writes are undone.
func (s *Store) RunInTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &txn{s: s}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// HealthCheck always succeeds; there is nothing to reach.
func (s *Store) HealthCheck(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ─── Non-transactional access ───────────────────────────────────────────────
// Each call is its own single-statement transaction.

func (s *Store) GetUser(ctx context.Context, anonID string) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{s: s}).GetUser(ctx, anonID)
}

func (s *Store) CreateUser(ctx context.Context, anonID string) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{s: s}).CreateUser(ctx, anonID)
}

func (s *Store) UpdateUser(ctx context.Context, anonID string, upd domain.ProfileUpdate) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{s: s}).UpdateUser(ctx, anonID, upd)
}

func (s *Store) GetCredits(ctx context.Context, anonID string) (*domain.CreditsAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{s: s}).GetCredits(ctx, anonID)
}

func (s *Store) CreateCredits(ctx context.Context, anonID string, initialBalance int64) (*domain.CreditsAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{s: s}).CreateCredits(ctx, anonID, initialBalance)
}

func (s *Store) SetCreditsBalance(ctx context.Context, anonID string, balance int64) (*domain.CreditsAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{s: s}).SetCreditsBalance(ctx, anonID, balance)
}

func (s *Store) ListLedger(ctx context.Context, anonID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{s: s}).ListLedger(ctx, anonID, limit)
}

func (s *Store) AppendLedgerEntry(ctx context.Context, entry domain.NewLedgerEntry) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{s: s}).AppendLedgerEntry(ctx, entry)
}

func (s *Store) GetLastBonusClaim(ctx context.Context, anonID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{s: s}).GetLastBonusClaim(ctx, anonID)
}

func (s *Store) SetLastBonusClaim(ctx context.Context, anonID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&txn{s: s}).SetLastBonusClaim(ctx, anonID, t)
}

// ─── txn ────────────────────────────────────────────────────────────────────

// txn operates on the maps of a locked Store and records how to undo
// every write it makes.
type txn struct {
	s    *Store
	undo []func()
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *txn) GetUser(_ context.Context, anonID string) (*domain.UserProfile, error) {
	u, ok := t.s.users[anonID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (t *txn) CreateUser(_ context.Context, anonID string) (*domain.UserProfile, error) {
	if _, ok := t.s.users[anonID]; ok {
		return nil, domain.ErrConflict
	}
	now := t.s.now()
	u := domain.UserProfile{AnonymousID: anonID, CreatedAt: now, UpdatedAt: now}
	t.s.users[anonID] = u
	t.undo = append(t.undo, func() { delete(t.s.users, anonID) })
	return &u, nil
}

func (t *txn) UpdateUser(_ context.Context, anonID string, upd domain.ProfileUpdate) (*domain.UserProfile, error) {
	prev, ok := t.s.users[anonID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u := prev
	upd.Apply(&u, t.s.now())
	t.s.users[anonID] = u
	t.undo = append(t.undo, func() { t.s.users[anonID] = prev })
	return &u, nil
}

func (t *txn) GetCredits(_ context.Context, anonID string) (*domain.CreditsAccount, error) {
	c, ok := t.s.credits[anonID]
	if !ok {
		return nil, domain.ErrCreditsNotFound
	}
	return &c, nil
}

func (t *txn) CreateCredits(_ context.Context, anonID string, initialBalance int64) (*domain.CreditsAccount, error) {
	if _, ok := t.s.credits[anonID]; ok {
		return nil, domain.ErrConflict
	}
	c := domain.CreditsAccount{AnonymousID: anonID, Balance: initialBalance, UpdatedAt: t.s.now()}
	t.s.credits[anonID] = c
	t.undo = append(t.undo, func() { delete(t.s.credits, anonID) })
	return &c, nil
}

func (t *txn) SetCreditsBalance(_ context.Context, anonID string, balance int64) (*domain.CreditsAccount, error) {
	prev, ok := t.s.credits[anonID]
	if !ok {
		return nil, domain.ErrCreditsNotFound
	}
	c := prev
	c.Balance = balance
	c.UpdatedAt = t.s.now()
	t.s.credits[anonID] = c
	t.undo = append(t.undo, func() { t.s.credits[anonID] = prev })
	return &c, nil
}

func (t *txn) ListLedger(_ context.Context, anonID string, limit int) ([]domain.LedgerEntry, error) {
	entries := t.s.ledger[anonID]
	out := make([]domain.LedgerEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	// Reverse append order first so equal timestamps keep newest-first.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txn) AppendLedgerEntry(_ context.Context, entry domain.NewLedgerEntry) (*domain.LedgerEntry, error) {
	if !entry.Kind.Valid() {
		return nil, domain.Validationf("unknown ledger kind %q", entry.Kind)
	}
	e := domain.LedgerEntry{
		ID:          uuid.NewString(),
		AnonymousID: entry.AnonymousID,
		Amount:      entry.Amount,
		Kind:        entry.Kind,
		Reason:      entry.Reason,
		CreatedAt:   t.s.now(),
	}
	anonID := entry.AnonymousID
	prevLen := len(t.s.ledger[anonID])
	t.s.ledger[anonID] = append(t.s.ledger[anonID], e)
	t.undo = append(t.undo, func() {
		if prevLen == 0 {
			delete(t.s.ledger, anonID)
			return
		}
		t.s.ledger[anonID] = t.s.ledger[anonID][:prevLen]
	})
	return &e, nil
}

func (t *txn) GetLastBonusClaim(_ context.Context, anonID string) (time.Time, bool, error) {
	ts, ok := t.s.claims[anonID]
	return ts, ok, nil
}

func (t *txn) SetLastBonusClaim(_ context.Context, anonID string, ts time.Time) error {
	prev, had := t.s.claims[anonID]
	t.s.claims[anonID] = ts
	t.undo = append(t.undo, func() {
		if had {
			t.s.claims[anonID] = prev
		} else {
			delete(t.s.claims, anonID)
		}
	})
	return nil
}
