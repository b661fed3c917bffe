package identity

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tutu-network/anoncredits/internal/domain"
	"github.com/tutu-network/anoncredits/internal/infra/memstore"
	"github.com/tutu-network/anoncredits/internal/infra/observability"
)

func newTestManager(t *testing.T) (*Manager, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return NewManager(store, 100, observability.NewTestLogger(io.Discard)), store
}

func TestManager_BootstrapsNewIdentity(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	id, created, err := m.ResolveOrCreate(ctx, "fresh-1")
	if err != nil {
		t.Fatalf("ResolveOrCreate() error: %v", err)
	}
	if id != "fresh-1" || !created {
		t.Errorf("ResolveOrCreate() = (%q, %v), want (fresh-1, true)", id, created)
	}

	p, err := m.Profile(ctx, id)
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if p.DisplayName != nil || p.AvatarURL != nil || p.LinkedAccountID != nil {
		t.Errorf("new profile should have null display fields, got %+v", p)
	}

	c, err := store.GetCredits(ctx, id)
	if err != nil {
		t.Fatalf("GetCredits() error: %v", err)
	}
	if c.Balance != 100 {
		t.Errorf("Balance = %d, want 100", c.Balance)
	}

	entries, _ := store.ListLedger(ctx, id, 50)
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Kind != domain.KindInitial || e.Amount != 100 || e.Reason == nil || *e.Reason != "Initial credits" {
		t.Errorf("initial entry = %+v", e)
	}
}

func TestManager_SecondResolveIsPureRead(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	if _, _, err := m.ResolveOrCreate(ctx, "twice"); err != nil {
		t.Fatal(err)
	}
	before, _ := store.ListLedger(ctx, "twice", 50)
	p1, _ := m.Profile(ctx, "twice")

	id, created, err := m.ResolveOrCreate(ctx, "twice")
	if err != nil {
		t.Fatal(err)
	}
	if created || id != "twice" {
		t.Errorf("second ResolveOrCreate() = (%q, %v), want (twice, false)", id, created)
	}

	after, _ := store.ListLedger(ctx, "twice", 50)
	p2, _ := m.Profile(ctx, "twice")
	if len(after) != len(before) {
		t.Errorf("ledger grew from %d to %d entries", len(before), len(after))
	}
	if !p1.UpdatedAt.Equal(p2.UpdatedAt) {
		t.Error("profile was modified by a read")
	}
}

func TestManager_MintsWhenMissing(t *testing.T) {
	m, _ := newTestManager(t)
	before := testutil.ToFloat64(observability.IdentitiesMinted)

	id, created, err := m.ResolveOrCreate(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || !created {
		t.Errorf("ResolveOrCreate(\"\") = (%q, %v), want minted id and created", id, created)
	}
	if got := testutil.ToFloat64(observability.IdentitiesMinted) - before; got != 1 {
		t.Errorf("minted counter delta = %v, want 1", got)
	}
}

func TestManager_RejectsInvalidID(t *testing.T) {
	m, _ := newTestManager(t)
	_, _, err := m.ResolveOrCreate(context.Background(), strings.Repeat("x", 200))
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("ResolveOrCreate(long) error = %v, want ErrValidation", err)
	}
}

func TestManager_ConcurrentFirstTouch(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := m.ResolveOrCreate(ctx, "racy")
			if err != nil {
				t.Errorf("ResolveOrCreate() error: %v", err)
				return
			}
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if creates != 1 {
		t.Errorf("created reported %d times, want 1", creates)
	}
	entries, _ := store.ListLedger(ctx, "racy", 50)
	if len(entries) != 1 {
		t.Errorf("ledger has %d entries, want exactly 1 initial", len(entries))
	}
}

func TestManager_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	if _, _, err := m.ResolveOrCreate(ctx, "ann"); err != nil {
		t.Fatal(err)
	}

	name := "Ann"
	p, err := m.UpdateProfile(ctx, "ann", domain.ProfileUpdate{DisplayName: &name})
	if err != nil {
		t.Fatalf("UpdateProfile() error: %v", err)
	}
	if p.DisplayName == nil || *p.DisplayName != "Ann" {
		t.Errorf("DisplayName = %v, want Ann", p.DisplayName)
	}
	if p.AvatarURL != nil {
		t.Errorf("AvatarURL = %v, want nil", *p.AvatarURL)
	}

	// Empty update is a read.
	p2, err := m.UpdateProfile(ctx, "ann", domain.ProfileUpdate{})
	if err != nil {
		t.Fatal(err)
	}
	if !p2.UpdatedAt.Equal(p.UpdatedAt) {
		t.Error("empty update should not touch updatedAt")
	}

	_, err = m.UpdateProfile(ctx, "nobody", domain.ProfileUpdate{DisplayName: &name})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateProfile(nobody) error = %v, want ErrNotFound", err)
	}

	long := strings.Repeat("n", domain.MaxDisplayNameLength+1)
	_, err = m.UpdateProfile(ctx, "ann", domain.ProfileUpdate{DisplayName: &long})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("UpdateProfile(long) error = %v, want ErrValidation", err)
	}
}
