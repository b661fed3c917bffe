package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/anoncredits/internal/domain"
)

// timeFormat sorts lexically in the same order as the instants it encodes.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements domain.Tx on top of a querier.
type queries struct {
	q   querier
	now func() time.Time
}

// ─── Users ──────────────────────────────────────────────────────────────────

func (s *queries) GetUser(ctx context.Context, anonID string) (*domain.UserProfile, error) {
	var (
		u                  domain.UserProfile
		linked, name, url  sql.NullString
		createdAt, updated string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT anon_id, linked_account_id, display_name, avatar_url, created_at, updated_at
		FROM users WHERE anon_id = ?
	`, anonID).Scan(&u.AnonymousID, &linked, &name, &url, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.LinkedAccountID = nullString(linked)
	u.DisplayName = nullString(name)
	u.AvatarURL = nullString(url)
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *queries) CreateUser(ctx context.Context, anonID string) (*domain.UserProfile, error) {
	now := s.now()
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO users (anon_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(anon_id) DO NOTHING
	`, anonID, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrConflict
	}
	return &domain.UserProfile{AnonymousID: anonID, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *queries) UpdateUser(ctx context.Context, anonID string, upd domain.ProfileUpdate) (*domain.UserProfile, error) {
	upd = upd.Normalized()
	res, err := s.q.ExecContext(ctx, `
		UPDATE users SET
			display_name = NULLIF(COALESCE(?, display_name), ''),
			avatar_url   = NULLIF(COALESCE(?, avatar_url), ''),
			updated_at   = ?
		WHERE anon_id = ?
	`, toNullString(upd.DisplayName), toNullString(upd.AvatarURL), formatTime(s.now()), anonID)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrUserNotFound
	}
	return s.GetUser(ctx, anonID)
}

// ─── Credits ────────────────────────────────────────────────────────────────

func (s *queries) GetCredits(ctx context.Context, anonID string) (*domain.CreditsAccount, error) {
	var (
		c       domain.CreditsAccount
		updated string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT anon_id, balance, updated_at FROM credits WHERE anon_id = ?
	`, anonID).Scan(&c.AnonymousID, &c.Balance, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCreditsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credits: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *queries) CreateCredits(ctx context.Context, anonID string, initialBalance int64) (*domain.CreditsAccount, error) {
	now := s.now()
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO credits (anon_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(anon_id) DO NOTHING
	`, anonID, initialBalance, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create credits: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrConflict
	}
	return &domain.CreditsAccount{AnonymousID: anonID, Balance: initialBalance, UpdatedAt: now}, nil
}

func (s *queries) SetCreditsBalance(ctx context.Context, anonID string, balance int64) (*domain.CreditsAccount, error) {
	now := s.now()
	res, err := s.q.ExecContext(ctx, `
		UPDATE credits SET balance = ?, updated_at = ? WHERE anon_id = ?
	`, balance, formatTime(now), anonID)
	if err != nil {
		return nil, fmt.Errorf("set balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrCreditsNotFound
	}
	return &domain.CreditsAccount{AnonymousID: anonID, Balance: balance, UpdatedAt: now}, nil
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func (s *queries) ListLedger(ctx context.Context, anonID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, anon_id, amount, kind, reason, created_at
		FROM credit_ledger WHERE anon_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, anonID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		var (
			e       domain.LedgerEntry
			kind    string
			reason  sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.AnonymousID, &e.Amount, &kind, &reason, &created); err != nil {
			return nil, err
		}
		e.Kind = domain.EntryKind(kind)
		e.Reason = nullString(reason)
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *queries) AppendLedgerEntry(ctx context.Context, entry domain.NewLedgerEntry) (*domain.LedgerEntry, error) {
	if !entry.Kind.Valid() {
		return nil, domain.Validationf("unknown ledger kind %q", entry.Kind)
	}
	e := domain.LedgerEntry{
		ID:          uuid.NewString(),
		AnonymousID: entry.AnonymousID,
		Amount:      entry.Amount,
		Kind:        entry.Kind,
		Reason:      entry.Reason,
		CreatedAt:   s.now(),
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO credit_ledger (id, anon_id, amount, kind, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.AnonymousID, e.Amount, string(e.Kind), toNullString(e.Reason), formatTime(e.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("append ledger: %w", err)
	}
	return &e, nil
}

// ─── Bonus Claims ───────────────────────────────────────────────────────────

func (s *queries) GetLastBonusClaim(ctx context.Context, anonID string) (time.Time, bool, error) {
	var last string
	err := s.q.QueryRowContext(ctx, `
		SELECT last_claimed_at FROM bonus_claims WHERE anon_id = ?
	`, anonID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get bonus claim: %w", err)
	}
	t, err := parseTime(last)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *queries) SetLastBonusClaim(ctx context.Context, anonID string, t time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO bonus_claims (anon_id, last_claimed_at)
		VALUES (?, ?)
		ON CONFLICT(anon_id) DO UPDATE SET last_claimed_at = excluded.last_claimed_at
	`, anonID, formatTime(t))
	if err != nil {
		return fmt.Errorf("set bonus claim: %w", err)
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
