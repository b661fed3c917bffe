package gormstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tutu-network/anoncredits/internal/domain"
	"github.com/tutu-network/anoncredits/internal/infra/storetest"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// SQLite has no row locks; one connection serializes transactions.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) domain.Store {
		s, err := New(setupTestDB(t), WithClock(now))
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		return s
	})
}

func TestStore_MigrateTwice(t *testing.T) {
	db := setupTestDB(t)
	if _, err := New(db); err != nil {
		t.Fatalf("first New() error: %v", err)
	}
	if _, err := New(db); err != nil {
		t.Errorf("second New() error: %v", err)
	}
}

func TestStore_LedgerSeqAssigned(t *testing.T) {
	ctx := context.Background()
	s, err := New(setupTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateUser(ctx, "seq"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.AppendLedgerEntry(ctx, domain.NewLedgerEntry{AnonymousID: "seq", Amount: 1, Kind: domain.KindEarn}); err != nil {
			t.Fatal(err)
		}
	}
	var rows []ledgerRow
	if err := s.db.Order("seq ASC").Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Seq >= rows[1].Seq {
		t.Errorf("seq not increasing: %+v", rows)
	}
	if rows[0].EntryID == rows[1].EntryID {
		t.Error("entry ids must differ")
	}
}
