// Package storetest is the conformance suite every domain.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tutu-network/anoncredits/internal/domain"
)

// Factory opens a fresh, empty store whose timestamps come from now.
type Factory func(t *testing.T, now func() time.Time) domain.Store

// StepClock returns a clock that advances by step on every call.
func StepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

var epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// Run executes the whole suite against stores built by open.
func Run(t *testing.T, open Factory) {
	t.Run("UserLifecycle", func(t *testing.T) { testUserLifecycle(t, open) })
	t.Run("CreditsLifecycle", func(t *testing.T) { testCreditsLifecycle(t, open) })
	t.Run("LedgerOrdering", func(t *testing.T) { testLedgerOrdering(t, open) })
	t.Run("LedgerIsolation", func(t *testing.T) { testLedgerIsolation(t, open) })
	t.Run("BonusClaim", func(t *testing.T) { testBonusClaim(t, open) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, open) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, open) })
	t.Run("ConcurrentBootstrap", func(t *testing.T) { testConcurrentBootstrap(t, open) })
	t.Run("HealthCheck", func(t *testing.T) {
		s := open(t, time.Now)
		require.NoError(t, s.HealthCheck(context.Background()))
	})
}

// mustCreateUsers bootstraps bare profiles; durable stores enforce the
// foreign keys from credits, ledger and claims to users.
func mustCreateUsers(t *testing.T, s domain.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := s.CreateUser(context.Background(), id)
		require.NoError(t, err)
	}
}

func testUserLifecycle(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, StepClock(epoch, time.Second))

	_, err := s.GetUser(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	u, err := s.CreateUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", u.AnonymousID)
	require.Nil(t, u.LinkedAccountID)
	require.Nil(t, u.DisplayName)
	require.Nil(t, u.AvatarURL)

	_, err = s.CreateUser(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrConflict)

	name := "Ann"
	u, err = s.UpdateUser(ctx, "u1", domain.ProfileUpdate{DisplayName: &name})
	require.NoError(t, err)
	require.NotNil(t, u.DisplayName)
	require.Equal(t, "Ann", *u.DisplayName)
	require.Nil(t, u.AvatarURL)
	require.True(t, u.UpdatedAt.After(u.CreatedAt))

	avatar := "https://cdn.example.com/ann.png"
	u, err = s.UpdateUser(ctx, "u1", domain.ProfileUpdate{AvatarURL: &avatar})
	require.NoError(t, err)
	require.Equal(t, "Ann", *u.DisplayName, "omitted field must be left unchanged")
	require.Equal(t, avatar, *u.AvatarURL)

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Ann", *got.DisplayName)
	require.Equal(t, avatar, *got.AvatarURL)

	empty := ""
	u, err = s.UpdateUser(ctx, "u1", domain.ProfileUpdate{AvatarURL: &empty})
	require.NoError(t, err)
	require.Nil(t, u.AvatarURL, "empty avatarUrl clears the field")
	require.Equal(t, "Ann", *u.DisplayName)

	blank := "   "
	u, err = s.UpdateUser(ctx, "u1", domain.ProfileUpdate{DisplayName: &blank})
	require.NoError(t, err)
	require.Nil(t, u.DisplayName, "blank displayName clears the field")

	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, got.DisplayName)
	require.Nil(t, got.AvatarURL)

	_, err = s.UpdateUser(ctx, "missing", domain.ProfileUpdate{DisplayName: &name})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testCreditsLifecycle(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, StepClock(epoch, time.Second))
	mustCreateUsers(t, s, "c1")

	_, err := s.GetCredits(ctx, "c1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.SetCreditsBalance(ctx, "c1", 5)
	require.ErrorIs(t, err, domain.ErrNotFound)

	c, err := s.CreateCredits(ctx, "c1", 100)
	require.NoError(t, err)
	require.EqualValues(t, 100, c.Balance)

	_, err = s.CreateCredits(ctx, "c1", 7)
	require.ErrorIs(t, err, domain.ErrConflict)

	c, err = s.SetCreditsBalance(ctx, "c1", -15)
	require.NoError(t, err)
	require.EqualValues(t, -15, c.Balance)

	c, err = s.GetCredits(ctx, "c1")
	require.NoError(t, err)
	require.EqualValues(t, -15, c.Balance)
}

func testLedgerOrdering(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, StepClock(epoch, time.Second))
	mustCreateUsers(t, s, "l1")

	amounts := []int64{100, 10, 25, -150}
	kinds := []domain.EntryKind{domain.KindInitial, domain.KindDailyBonus, domain.KindAdjust, domain.KindAdjust}
	ids := make(map[string]bool)
	for i, amt := range amounts {
		e, err := s.AppendLedgerEntry(ctx, domain.NewLedgerEntry{
			AnonymousID: "l1",
			Amount:      amt,
			Kind:        kinds[i],
			Reason:      domain.StringPtr(fmt.Sprintf("r%d", i)),
		})
		require.NoError(t, err)
		require.NotEmpty(t, e.ID)
		require.False(t, ids[e.ID], "ledger ids must be unique")
		ids[e.ID] = true
		require.False(t, e.CreatedAt.IsZero())
	}

	all, err := s.ListLedger(ctx, "l1", 50)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := range all {
		require.EqualValues(t, amounts[len(amounts)-1-i], all[i].Amount, "entry %d out of order", i)
	}
	for i := 1; i < len(all); i++ {
		require.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "entries must be newest first")
	}
	require.Equal(t, domain.KindAdjust, all[0].Kind)
	require.Equal(t, "r3", *all[0].Reason)
	require.EqualValues(t, -15, domain.SumLedger(all))

	one, err := s.ListLedger(ctx, "l1", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, all[0].ID, one[0].ID)

	_, err = s.AppendLedgerEntry(ctx, domain.NewLedgerEntry{AnonymousID: "l1", Amount: 1, Kind: "bogus"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func testLedgerIsolation(t *testing.T, open Factory) {
	ctx := context.Background()
	// A frozen clock forces identical timestamps; insertion order must break ties.
	frozen := func() time.Time { return epoch }
	s := open(t, frozen)
	mustCreateUsers(t, s, "a", "b")

	for i := 1; i <= 3; i++ {
		_, err := s.AppendLedgerEntry(ctx, domain.NewLedgerEntry{AnonymousID: "a", Amount: int64(i), Kind: domain.KindEarn})
		require.NoError(t, err)
	}
	_, err := s.AppendLedgerEntry(ctx, domain.NewLedgerEntry{AnonymousID: "b", Amount: 99, Kind: domain.KindEarn})
	require.NoError(t, err)

	a, err := s.ListLedger(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, a, 3)
	require.EqualValues(t, 3, a[0].Amount)
	require.EqualValues(t, 1, a[2].Amount)
	require.Nil(t, a[0].Reason)

	none, err := s.ListLedger(ctx, "nobody", 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func testBonusClaim(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, time.Now)
	mustCreateUsers(t, s, "b1")

	_, ok, err := s.GetLastBonusClaim(ctx, "b1")
	require.NoError(t, err)
	require.False(t, ok)

	first := time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)
	require.NoError(t, s.SetLastBonusClaim(ctx, "b1", first))
	got, ok, err := s.GetLastBonusClaim(ctx, "b1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(first), "got %v, want %v", got, first)

	second := first.Add(26 * time.Hour)
	require.NoError(t, s.SetLastBonusClaim(ctx, "b1", second))
	got, _, err = s.GetLastBonusClaim(ctx, "b1")
	require.NoError(t, err)
	require.True(t, got.Equal(second))
}

func testTxCommit(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, StepClock(epoch, time.Second))

	err := s.RunInTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.CreateUser(ctx, "t1"); err != nil {
			return err
		}
		if _, err := tx.CreateCredits(ctx, "t1", 100); err != nil {
			return err
		}
		c, err := tx.GetCredits(ctx, "t1")
		if err != nil {
			return err
		}
		if _, err := tx.SetCreditsBalance(ctx, "t1", c.Balance+10); err != nil {
			return err
		}
		_, err = tx.AppendLedgerEntry(ctx, domain.NewLedgerEntry{AnonymousID: "t1", Amount: 110, Kind: domain.KindInitial})
		return err
	})
	require.NoError(t, err)

	c, err := s.GetCredits(ctx, "t1")
	require.NoError(t, err)
	require.EqualValues(t, 110, c.Balance)
	entries, err := s.ListLedger(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func testTxRollback(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, StepClock(epoch, time.Second))

	_, err := s.CreateUser(ctx, "r1")
	require.NoError(t, err)
	_, err = s.CreateCredits(ctx, "r1", 100)
	require.NoError(t, err)

	boom := errors.New("boom")
	name := "Zed"
	err = s.RunInTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.CreateUser(ctx, "r2"); err != nil {
			return err
		}
		if _, err := tx.CreateCredits(ctx, "r2", 50); err != nil {
			return err
		}
		if _, err := tx.UpdateUser(ctx, "r1", domain.ProfileUpdate{DisplayName: &name}); err != nil {
			return err
		}
		if _, err := tx.SetCreditsBalance(ctx, "r1", 1); err != nil {
			return err
		}
		if _, err := tx.AppendLedgerEntry(ctx, domain.NewLedgerEntry{AnonymousID: "r1", Amount: -99, Kind: domain.KindAdjust}); err != nil {
			return err
		}
		if err := tx.SetLastBonusClaim(ctx, "r1", epoch); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetUser(ctx, "r2")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetCredits(ctx, "r2")
	require.ErrorIs(t, err, domain.ErrNotFound)

	u, err := s.GetUser(ctx, "r1")
	require.NoError(t, err)
	require.Nil(t, u.DisplayName)
	c, err := s.GetCredits(ctx, "r1")
	require.NoError(t, err)
	require.EqualValues(t, 100, c.Balance)
	entries, err := s.ListLedger(ctx, "r1", 10)
	require.NoError(t, err)
	require.Empty(t, entries)
	_, ok, err := s.GetLastBonusClaim(ctx, "r1")
	require.NoError(t, err)
	require.False(t, ok)
}

// errExists aborts a bootstrap that lost the race.
var errExists = errors.New("exists")

func testConcurrentBootstrap(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, time.Now)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunInTx(ctx, func(tx domain.Tx) error {
				if _, err := tx.GetUser(ctx, "race"); err == nil {
					return errExists
				} else if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				if _, err := tx.CreateUser(ctx, "race"); err != nil {
					return err
				}
				if _, err := tx.CreateCredits(ctx, "race", 100); err != nil {
					return err
				}
				_, err := tx.AppendLedgerEntry(ctx, domain.NewLedgerEntry{AnonymousID: "race", Amount: 100, Kind: domain.KindInitial})
				return err
			})
			if err != nil && !errors.Is(err, errExists) && !errors.Is(err, domain.ErrConflict) {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := s.ListLedger(ctx, "race", 50)
	require.NoError(t, err)
	require.Len(t, entries, 1, "exactly one initial entry")
	c, err := s.GetCredits(ctx, "race")
	require.NoError(t, err)
	require.Equal(t, domain.SumLedger(entries), c.Balance)
}
