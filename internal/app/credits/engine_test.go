package credits

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/anoncredits/internal/domain"
	"github.com/tutu-network/anoncredits/internal/infra/memstore"
	"github.com/tutu-network/anoncredits/internal/infra/observability"
	"github.com/tutu-network/anoncredits/internal/infra/storetest"
)

// newFundedEngine returns an engine over a store holding one identity with
// the given starting balance, recorded as its initial ledger entry.
func newFundedEngine(t *testing.T, anonID string, balance int64) (*Engine, domain.Store) {
	t.Helper()
	ctx := context.Background()
	clock := storetest.StepClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC), time.Second)
	store := memstore.New(memstore.WithClock(clock))
	if _, err := store.CreateUser(ctx, anonID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateCredits(ctx, anonID, balance); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendLedgerEntry(ctx, domain.NewLedgerEntry{AnonymousID: anonID, Amount: balance, Kind: domain.KindInitial}); err != nil {
		t.Fatal(err)
	}
	return NewEngine(store, 0, observability.NewTestLogger(io.Discard)), store
}

// assertInvariant checks balance == Σ ledger for anonID.
func assertInvariant(t *testing.T, store domain.Store, anonID string) {
	t.Helper()
	ctx := context.Background()
	c, err := store.GetCredits(ctx, anonID)
	if err != nil {
		t.Fatalf("GetCredits() error: %v", err)
	}
	entries, err := store.ListLedger(ctx, anonID, 0)
	if err != nil {
		t.Fatalf("ListLedger() error: %v", err)
	}
	if sum := domain.SumLedger(entries); sum != c.Balance {
		t.Errorf("balance %d != ledger sum %d", c.Balance, sum)
	}
}

func TestEngine_AdjustUnrestricted(t *testing.T) {
	ctx := context.Background()
	e, store := newFundedEngine(t, "adj", 110)

	if _, err := e.Adjust(ctx, "adj", 25, "bonus"); err != nil {
		t.Fatalf("Adjust(+25) error: %v", err)
	}
	assertInvariant(t, store, "adj")
	if _, err := e.Adjust(ctx, "adj", -150, "penalty"); err != nil {
		t.Fatalf("Adjust(-150) error: %v", err)
	}
	assertInvariant(t, store, "adj")

	snap, err := e.Snapshot(ctx, "adj", 0)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Balance != -15 {
		t.Errorf("Balance = %d, want -15", snap.Balance)
	}
	var adjusts int
	for _, entry := range snap.Ledger {
		if entry.Kind == domain.KindAdjust {
			adjusts++
		}
	}
	if adjusts != 2 {
		t.Errorf("adjust entries = %d, want 2", adjusts)
	}
	if *snap.Ledger[0].Reason != "penalty" || snap.Ledger[0].Amount != -150 {
		t.Errorf("newest entry = %+v, want penalty -150", snap.Ledger[0])
	}
}

func TestEngine_AdjustValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newFundedEngine(t, "v", 0)

	if _, err := e.Adjust(ctx, "v", 0, "nothing"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Adjust(0) error = %v, want ErrValidation", err)
	}
	if _, err := e.Adjust(ctx, "v", 1, strings.Repeat("r", domain.MaxReasonLength+1)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Adjust(long reason) error = %v, want ErrValidation", err)
	}

	entry, err := e.Adjust(ctx, "v", 3, "  ")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Reason == nil || *entry.Reason != domain.ReasonAdjust {
		t.Errorf("blank reason = %v, want %q", entry.Reason, domain.ReasonAdjust)
	}
}

func TestEngine_SpendFloor(t *testing.T) {
	ctx := context.Background()
	e, store := newFundedEngine(t, "sp", 30)

	entry, err := e.Spend(ctx, "sp", 20, "image generation")
	if err != nil {
		t.Fatalf("Spend(20) error: %v", err)
	}
	if entry.Amount != -20 || entry.Kind != domain.KindSpend {
		t.Errorf("spend entry = %+v, want -20 spend", entry)
	}

	_, err = e.Spend(ctx, "sp", 11, "too much")
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Errorf("Spend(11) on 10 error = %v, want ErrInsufficientCredits", err)
	}
	assertInvariant(t, store, "sp")

	if _, err := e.Spend(ctx, "sp", 10, "exact"); err != nil {
		t.Errorf("Spend to exactly zero error: %v", err)
	}
	if _, err := e.Spend(ctx, "sp", -5, "negative"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Spend(-5) error = %v, want ErrValidation", err)
	}
	assertInvariant(t, store, "sp")
}

func TestEngine_Earn(t *testing.T) {
	ctx := context.Background()
	e, store := newFundedEngine(t, "earn", 5)

	if _, err := e.Earn(ctx, "earn", 7, "referral"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Earn(ctx, "earn", 0, "zero"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Earn(0) error = %v, want ErrValidation", err)
	}
	snap, _ := e.Snapshot(ctx, "earn", 0)
	if snap.Balance != 12 {
		t.Errorf("Balance = %d, want 12", snap.Balance)
	}
	assertInvariant(t, store, "earn")
}

func TestEngine_BalanceOverflow(t *testing.T) {
	ctx := context.Background()
	e, store := newFundedEngine(t, "big", 100)

	tests := []struct {
		name   string
		amount int64
	}{
		{"max positive", math.MaxInt64},
		{"just past max", math.MaxInt64 - 99},
		{"min negative", math.MinInt64},
	}
	for _, tt := range tests {
		if tt.amount < 0 {
			// Drive the balance deep negative first so the floor is reachable.
			if _, err := e.Adjust(ctx, "big", -math.MaxInt64, "sink"); err != nil {
				t.Fatalf("Adjust(sink) error: %v", err)
			}
		}
		before, _ := e.Snapshot(ctx, "big", 0)
		_, err := e.Adjust(ctx, "big", tt.amount, tt.name)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: Adjust(%d) error = %v, want ErrValidation", tt.name, tt.amount, err)
		}
		after, _ := e.Snapshot(ctx, "big", 0)
		if after.Balance != before.Balance || len(after.Ledger) != len(before.Ledger) {
			t.Errorf("%s: balance %d -> %d, entries %d -> %d, want unchanged",
				tt.name, before.Balance, after.Balance, len(before.Ledger), len(after.Ledger))
		}
		assertInvariant(t, store, "big")
	}

	// Balance is MinInt64+101 here; landing exactly on MinInt64 is allowed.
	if _, err := e.Adjust(ctx, "big", -101, "to the floor"); err != nil {
		t.Errorf("Adjust to MinInt64 error: %v", err)
	}
	if snap, _ := e.Snapshot(ctx, "big", 0); snap.Balance != math.MinInt64 {
		t.Errorf("Balance = %d, want %d", snap.Balance, int64(math.MinInt64))
	}
	assertInvariant(t, store, "big")
}

func TestEngine_ApplyDelta_CreatesMissingAccount(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	if _, err := store.CreateUser(ctx, "orphan"); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(store, 0, observability.NewTestLogger(io.Discard))

	if _, err := e.ApplyDelta(ctx, "orphan", 40, domain.KindEarn, "found"); err != nil {
		t.Fatalf("ApplyDelta() error: %v", err)
	}
	c, err := store.GetCredits(ctx, "orphan")
	if err != nil {
		t.Fatal(err)
	}
	if c.Balance != 40 {
		t.Errorf("Balance = %d, want 40", c.Balance)
	}
	assertInvariant(t, store, "orphan")
}

func TestEngine_ApplyDelta_UnknownKind(t *testing.T) {
	e, store := newFundedEngine(t, "k", 10)
	_, err := e.ApplyDelta(context.Background(), "k", 1, "refund", "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("ApplyDelta(refund) error = %v, want ErrValidation", err)
	}
	assertInvariant(t, store, "k")
}

func TestEngine_SnapshotLimit(t *testing.T) {
	ctx := context.Background()
	e, _ := newFundedEngine(t, "lim", 100)
	for i := 0; i < 60; i++ {
		if _, err := e.Earn(ctx, "lim", 1, ""); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, 50},
		{1, 1},
		{10, 10},
		{500, 50},
	}
	for _, tt := range tests {
		snap, err := e.Snapshot(ctx, "lim", tt.limit)
		if err != nil {
			t.Fatal(err)
		}
		if len(snap.Ledger) != tt.want {
			t.Errorf("Snapshot(limit=%d) returned %d entries, want %d", tt.limit, len(snap.Ledger), tt.want)
		}
	}

	snap, _ := e.Snapshot(ctx, "lim", 1)
	if snap.Balance != 160 {
		t.Errorf("Balance = %d, want 160", snap.Balance)
	}
	if snap.Ledger[0].Kind != domain.KindEarn {
		t.Errorf("newest entry kind = %q, want earn", snap.Ledger[0].Kind)
	}
}

func TestEngine_SnapshotNotFound(t *testing.T) {
	e := NewEngine(memstore.New(), 0, nil)
	_, err := e.Snapshot(context.Background(), "ghost", 0)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Snapshot(ghost) error = %v, want ErrNotFound", err)
	}
}
