package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tutu-network/anoncredits/internal/domain"
	"github.com/tutu-network/anoncredits/internal/infra/storetest"
)

func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "anoncredits.db"), opts...)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) domain.Store {
		return newTestDB(t, WithClock(now))
	})
}

func TestDB_InMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}
	defer db.Close()

	if _, err := db.CreateUser(context.Background(), "m1"); err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	if _, err := db.GetUser(context.Background(), "m1"); err != nil {
		t.Errorf("GetUser() after create error: %v", err)
	}
}

func TestDB_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if _, err := db.CreateUser(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateCredits(ctx, "p1", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AppendLedgerEntry(ctx, domain.NewLedgerEntry{AnonymousID: "p1", Amount: 100, Kind: domain.KindInitial, Reason: domain.StringPtr(domain.ReasonInitial)}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()

	c, err := db.GetCredits(ctx, "p1")
	if err != nil {
		t.Fatalf("GetCredits() error: %v", err)
	}
	if c.Balance != 100 {
		t.Errorf("Balance = %d, want 100", c.Balance)
	}
	entries, err := db.ListLedger(ctx, "p1", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Reason == nil || *entries[0].Reason != domain.ReasonInitial {
		t.Errorf("ledger = %+v, want one initial entry", entries)
	}
}

func TestDB_ForeignKeys(t *testing.T) {
	db := newTestDB(t)
	_, err := db.CreateCredits(context.Background(), "ghost", 10)
	if err == nil {
		t.Error("CreateCredits() for a missing user should violate the foreign key")
	}
}

func TestDB_MigrateIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate() error: %v", err)
	}
}

func TestTimeFormat_SortsLexically(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 5, 100_000_000, time.UTC)
	b := time.Date(2026, 1, 1, 0, 0, 5, 120_000_000, time.UTC)
	if !(formatTime(a) < formatTime(b)) {
		t.Errorf("formatTime(%v)=%s should sort before %s", a, formatTime(a), formatTime(b))
	}
	got, err := parseTime(formatTime(b))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(b) {
		t.Errorf("round trip = %v, want %v", got, b)
	}
}
