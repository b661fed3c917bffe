package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tutu-network/anoncredits/internal/domain"
	"github.com/tutu-network/anoncredits/internal/infra/observability"
)

// errBootstrapped aborts a bootstrap transaction that found the profile
// already present.
var errBootstrapped = errors.New("identity already bootstrapped")

// Manager owns the profile lifecycle: lazy bootstrap on first sight, reads
// and partial updates of display fields.
type Manager struct {
	store          domain.Store
	initialCredits int64
	log            *slog.Logger
}

// NewManager creates a Manager that seeds new accounts with initialCredits.
func NewManager(store domain.Store, initialCredits int64, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, initialCredits: initialCredits, log: log}
}

// ResolveOrCreate returns the anonymous id to use for a request. With no
// candidate a fresh id is minted. The profile, credits account and initial
// ledger entry are created once, atomically; concurrent first touches of the
// same id leave exactly one of each.
func (m *Manager) ResolveOrCreate(ctx context.Context, candidate string) (anonID string, created bool, err error) {
	anonID = candidate
	if anonID == "" {
		anonID = NewAnonID()
		observability.IdentitiesMinted.Inc()
	} else if !domain.ValidAnonID(anonID) {
		return "", false, domain.ErrInvalidAnonID
	}

	_, err = m.store.GetUser(ctx, anonID)
	if err == nil {
		return anonID, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", false, err
	}

	created, err = m.bootstrap(ctx, anonID)
	if err != nil {
		return "", false, err
	}
	return anonID, created, nil
}

func (m *Manager) bootstrap(ctx context.Context, anonID string) (bool, error) {
	err := m.store.RunInTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.GetUser(ctx, anonID); err == nil {
			return errBootstrapped
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if _, err := tx.CreateUser(ctx, anonID); err != nil {
			return err
		}
		if _, err := tx.CreateCredits(ctx, anonID, m.initialCredits); err != nil {
			return err
		}
		_, err := tx.AppendLedgerEntry(ctx, domain.NewLedgerEntry{
			AnonymousID: anonID,
			Amount:      m.initialCredits,
			Kind:        domain.KindInitial,
			Reason:      domain.StringPtr(domain.ReasonInitial),
		})
		return err
	})
	switch {
	case errors.Is(err, errBootstrapped), errors.Is(err, domain.ErrConflict):
		observability.BootstrapRaces.Inc()
		return false, nil
	case err != nil:
		return false, err
	}

	observability.IdentitiesBootstrapped.Inc()
	observability.RecordLedgerEntry(string(domain.KindInitial), m.initialCredits)
	m.log.Info("identity bootstrapped", "anon_id", anonID, "initial_credits", m.initialCredits)
	return true, nil
}

// Profile returns the profile for anonID.
func (m *Manager) Profile(ctx context.Context, anonID string) (*domain.UserProfile, error) {
	return m.store.GetUser(ctx, anonID)
}

// UpdateProfile applies a partial update of the display fields.
func (m *Manager) UpdateProfile(ctx context.Context, anonID string, upd domain.ProfileUpdate) (*domain.UserProfile, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if upd.Empty() {
		return m.store.GetUser(ctx, anonID)
	}
	return m.store.UpdateUser(ctx, anonID, upd)
}
