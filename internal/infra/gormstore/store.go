// Package gormstore is the production relational domain.Store, built on
// gorm with the PostgreSQL driver. Any gorm dialector works; tests use an
// in-memory SQLite database.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tutu-network/anoncredits/internal/domain"
)

// Store is a gorm-backed domain.Store.
type Store struct {
	*queries
	db *gorm.DB
}

var _ domain.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(dsn string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("database connection: %w", err)
	}
	return New(db, opts...)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	s := &Store{db: db, queries: &queries{db: db, now: time.Now}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunInTx runs fn inside a gorm transaction. The credits row read through
// the Tx is locked FOR UPDATE until commit.
func (s *Store) RunInTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&queries{db: tx, now: s.now, inTx: true})
	})
}

// HealthCheck pings the underlying connection pool.
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ─── queries ────────────────────────────────────────────────────────────────

type queries struct {
	db   *gorm.DB
	now  func() time.Time
	inTx bool
}

func (q *queries) GetUser(ctx context.Context, anonID string) (*domain.UserProfile, error) {
	var row userRow
	if err := q.db.WithContext(ctx).Take(&row, "anon_id = ?", anonID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return row.toDomain(), nil
}

func (q *queries) CreateUser(ctx context.Context, anonID string) (*domain.UserProfile, error) {
	now := q.now().UTC()
	row := userRow{AnonID: anonID, CreatedAt: now, UpdatedAt: now}
	res := q.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("create user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrConflict
	}
	return row.toDomain(), nil
}

func (q *queries) UpdateUser(ctx context.Context, anonID string, upd domain.ProfileUpdate) (*domain.UserProfile, error) {
	upd = upd.Normalized()
	fields := map[string]any{"updated_at": q.now().UTC()}
	// An empty value clears the column.
	if upd.DisplayName != nil {
		fields["display_name"] = nullIfEmpty(*upd.DisplayName)
	}
	if upd.AvatarURL != nil {
		fields["avatar_url"] = nullIfEmpty(*upd.AvatarURL)
	}
	res := q.db.WithContext(ctx).Model(&userRow{}).Where("anon_id = ?", anonID).Updates(fields)
	if res.Error != nil {
		return nil, fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrUserNotFound
	}
	return q.GetUser(ctx, anonID)
}

func (q *queries) GetCredits(ctx context.Context, anonID string) (*domain.CreditsAccount, error) {
	db := q.db.WithContext(ctx)
	if q.inTx {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row creditsRow
	if err := db.Take(&row, "anon_id = ?", anonID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCreditsNotFound
		}
		return nil, fmt.Errorf("get credits: %w", err)
	}
	return row.toDomain(), nil
}

func (q *queries) CreateCredits(ctx context.Context, anonID string, initialBalance int64) (*domain.CreditsAccount, error) {
	row := creditsRow{AnonID: anonID, Balance: initialBalance, UpdatedAt: q.now().UTC()}
	res := q.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("create credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrConflict
	}
	return row.toDomain(), nil
}

func (q *queries) SetCreditsBalance(ctx context.Context, anonID string, balance int64) (*domain.CreditsAccount, error) {
	now := q.now().UTC()
	res := q.db.WithContext(ctx).Model(&creditsRow{}).Where("anon_id = ?", anonID).
		Updates(map[string]any{"balance": balance, "updated_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("set balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrCreditsNotFound
	}
	return &domain.CreditsAccount{AnonymousID: anonID, Balance: balance, UpdatedAt: now}, nil
}

func (q *queries) ListLedger(ctx context.Context, anonID string, limit int) ([]domain.LedgerEntry, error) {
	db := q.db.WithContext(ctx).Where("anon_id = ?", anonID).Order("created_at DESC").Order("seq DESC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	var rows []ledgerRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	entries := make([]domain.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toDomain())
	}
	return entries, nil
}

func (q *queries) AppendLedgerEntry(ctx context.Context, entry domain.NewLedgerEntry) (*domain.LedgerEntry, error) {
	if !entry.Kind.Valid() {
		return nil, domain.Validationf("unknown ledger kind %q", entry.Kind)
	}
	row := ledgerRow{
		EntryID:   uuid.NewString(),
		AnonID:    entry.AnonymousID,
		Amount:    entry.Amount,
		Kind:      string(entry.Kind),
		Reason:    entry.Reason,
		CreatedAt: q.now().UTC(),
	}
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("append ledger: %w", err)
	}
	e := row.toDomain()
	return &e, nil
}

func (q *queries) GetLastBonusClaim(ctx context.Context, anonID string) (time.Time, bool, error) {
	var row bonusClaimRow
	if err := q.db.WithContext(ctx).Take(&row, "anon_id = ?", anonID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("get bonus claim: %w", err)
	}
	return row.LastClaimedAt, true, nil
}

func (q *queries) SetLastBonusClaim(ctx context.Context, anonID string, t time.Time) error {
	row := bonusClaimRow{AnonID: anonID, LastClaimedAt: t.UTC()}
	err := q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "anon_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_claimed_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set bonus claim: %w", err)
	}
	return nil
}

// ─── Row conversion ─────────────────────────────────────────────────────────

func (r userRow) toDomain() *domain.UserProfile {
	return &domain.UserProfile{
		AnonymousID:     r.AnonID,
		LinkedAccountID: r.LinkedAccountID,
		DisplayName:     r.DisplayName,
		AvatarURL:       r.AvatarURL,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (r creditsRow) toDomain() *domain.CreditsAccount {
	return &domain.CreditsAccount{AnonymousID: r.AnonID, Balance: r.Balance, UpdatedAt: r.UpdatedAt}
}

func (r ledgerRow) toDomain() domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:          r.EntryID,
		AnonymousID: r.AnonID,
		Amount:      r.Amount,
		Kind:        domain.EntryKind(r.Kind),
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt,
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
