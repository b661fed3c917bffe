// Package bonus grants the daily credit bonus. A claim passes two gates: a
// per-identity sliding-window limiter that dampens retry storms, and a
// calendar-day check against the last successful claim.
package bonus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tutu-network/anoncredits/internal/app/credits"
	"github.com/tutu-network/anoncredits/internal/domain"
	"github.com/tutu-network/anoncredits/internal/infra/observability"
)

// DefaultAmount is the credits granted per daily claim.
const DefaultAmount = 10

// sweepThreshold is the tracked-identity count above which idle limiter
// entries are dropped.
const sweepThreshold = 4096

// Config tunes the coordinator.
type Config struct {
	Amount      int64
	Window      time.Duration
	MaxAttempts int
	// Location defines where the day boundary falls. Nil means time.Local.
	Location *time.Location
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator runs daily bonus claims.
type Coordinator struct {
	store   domain.Store
	limiter *SlidingWindow
	amount  int64
	loc     *time.Location
	now     func() time.Time
	log     *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store domain.Store, cfg Config, log *slog.Logger, opts ...Option) *Coordinator {
	if cfg.Amount <= 0 {
		cfg.Amount = DefaultAmount
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		store:   store,
		limiter: NewSlidingWindow(cfg.Window, cfg.MaxAttempts),
		amount:  cfg.Amount,
		loc:     cfg.Location,
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Claim grants the daily bonus to anonID.
//
// It returns ErrBonusRateLimited when the identity already attempted a claim
// within the limiter window, and ErrAlreadyClaimed when the last successful
// claim falls on or after today's local midnight. The ledger entry, balance
// and claim timestamp are written in one transaction.
func (c *Coordinator) Claim(ctx context.Context, anonID string) (*domain.LedgerEntry, error) {
	now := c.now()
	if c.limiter.Len() > sweepThreshold {
		c.limiter.Sweep(now)
	}
	if !c.limiter.Allow(anonID, now) {
		observability.BonusClaims.WithLabelValues("rate_limited").Inc()
		return nil, domain.ErrBonusRateLimited
	}

	var entry *domain.LedgerEntry
	err := c.store.RunInTx(ctx, func(tx domain.Tx) error {
		// Lock the account row before reading the claim marker so two
		// concurrent claims serialize on durable backends.
		if _, err := tx.GetCredits(ctx, anonID); err != nil {
			return err
		}
		last, ok, err := tx.GetLastBonusClaim(ctx, anonID)
		if err != nil {
			return err
		}
		if ok && !last.Before(StartOfDay(now, c.loc)) {
			return domain.ErrAlreadyClaimed
		}
		entry, _, err = credits.ApplyDeltaTx(ctx, tx, anonID, c.amount,
			domain.KindDailyBonus, domain.StringPtr(domain.ReasonDailyBonus))
		if err != nil {
			return err
		}
		return tx.SetLastBonusClaim(ctx, anonID, now)
	})

	switch {
	case errors.Is(err, domain.ErrAlreadyClaimed):
		observability.BonusClaims.WithLabelValues("already_claimed").Inc()
		return nil, err
	case err != nil:
		observability.BonusClaims.WithLabelValues("error").Inc()
		return nil, err
	}

	observability.BonusClaims.WithLabelValues("granted").Inc()
	observability.RecordLedgerEntry(string(domain.KindDailyBonus), c.amount)
	c.log.Info("daily bonus granted", "anon_id", anonID, "amount", c.amount)
	return entry, nil
}

// StartOfDay returns local midnight of the day containing t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
