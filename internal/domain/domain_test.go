package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// ─── Identity Tests ─────────────────────────────────────────────────────────

func TestValidAnonID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"uuid", "3f2a9c1e-8d4b-4c6a-9e0f-1a2b3c4d5e6f", true},
		{"opaque token", "anon_abc.123~XYZ", true},
		{"empty", "", false},
		{"space", "abc def", false},
		{"newline", "abc\n", false},
		{"non-ascii", "abcé", false},
		{"max length", strings.Repeat("a", MaxAnonIDLength), true},
		{"too long", strings.Repeat("a", MaxAnonIDLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidAnonID(tt.id); got != tt.want {
				t.Errorf("ValidAnonID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

// ─── Profile Tests ──────────────────────────────────────────────────────────

func TestProfileUpdate_Apply_EmptyClears(t *testing.T) {
	avatar := "https://cdn.example.com/a.png"
	name := "Ann"
	p := UserProfile{AnonymousID: "a", DisplayName: &name, AvatarURL: &avatar}
	empty, blank := "", "  "

	ProfileUpdate{DisplayName: &blank, AvatarURL: &empty}.Apply(&p, time.Now())

	if p.DisplayName != nil {
		t.Errorf("DisplayName = %q, want nil", *p.DisplayName)
	}
	if p.AvatarURL != nil {
		t.Errorf("AvatarURL = %q, want nil", *p.AvatarURL)
	}
}

func TestProfileUpdate_Apply_Partial(t *testing.T) {
	avatar := "https://cdn.example.com/a.png"
	p := UserProfile{AnonymousID: "a", AvatarURL: &avatar}
	name := "  Ann  "
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ProfileUpdate{DisplayName: &name}.Apply(&p, now)

	if p.DisplayName == nil || *p.DisplayName != "Ann" {
		t.Errorf("DisplayName = %v, want %q", p.DisplayName, "Ann")
	}
	if p.AvatarURL == nil || *p.AvatarURL != avatar {
		t.Errorf("AvatarURL changed to %v, want untouched", p.AvatarURL)
	}
	if !p.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", p.UpdatedAt, now)
	}
}

func TestProfileUpdate_Validate(t *testing.T) {
	long := strings.Repeat("x", MaxDisplayNameLength+1)
	ok := "Ann"
	longURL := "https://e.com/" + strings.Repeat("a", MaxAvatarURLLength)

	if err := (ProfileUpdate{DisplayName: &ok}).Validate(); err != nil {
		t.Errorf("Validate(ok) = %v, want nil", err)
	}
	if err := (ProfileUpdate{DisplayName: &long}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("Validate(long name) = %v, want ErrValidation", err)
	}
	if err := (ProfileUpdate{AvatarURL: &longURL}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("Validate(long url) = %v, want ErrValidation", err)
	}
	if !(ProfileUpdate{}).Empty() {
		t.Error("zero ProfileUpdate should be Empty")
	}
}

// ─── Credit Tests ───────────────────────────────────────────────────────────

func TestEntryKind_Valid(t *testing.T) {
	for _, k := range []EntryKind{KindInitial, KindDailyBonus, KindSpend, KindEarn, KindAdjust} {
		if !k.Valid() {
			t.Errorf("%q.Valid() = false, want true", k)
		}
	}
	if EntryKind("refund").Valid() {
		t.Error(`"refund".Valid() = true, want false`)
	}
}

func TestSumLedger(t *testing.T) {
	entries := []LedgerEntry{{Amount: 100}, {Amount: 10}, {Amount: -150}, {Amount: 25}}
	if got := SumLedger(entries); got != -15 {
		t.Errorf("SumLedger() = %d, want -15", got)
	}
	if got := SumLedger(nil); got != 0 {
		t.Errorf("SumLedger(nil) = %d, want 0", got)
	}
}

func TestStringPtr(t *testing.T) {
	if StringPtr("") != nil {
		t.Error("StringPtr(\"\") should be nil")
	}
	if p := StringPtr("promo"); p == nil || *p != "promo" {
		t.Errorf("StringPtr(promo) = %v", p)
	}
}

// ─── Error Tests ────────────────────────────────────────────────────────────

func TestErrors_Classes(t *testing.T) {
	tests := []struct {
		err   error
		class error
		msg   string
	}{
		{ErrAlreadyClaimed, ErrValidation, "already claimed today"},
		{ErrInsufficientCredits, ErrValidation, "insufficient credits"},
		{ErrInvalidAnonID, ErrValidation, "invalid anonymous id"},
		{ErrUserNotFound, ErrNotFound, "user not found"},
		{ErrCreditsNotFound, ErrNotFound, "credits account not found"},
		{ErrBonusRateLimited, ErrRateLimited, "too many claim attempts, try again later"},
		{Validationf("amount must be %s", "non-zero"), ErrValidation, "amount must be non-zero"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tt.err)
			if !errors.Is(wrapped, tt.class) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.class)
			}
			if tt.err.Error() != tt.msg {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.msg)
			}
		})
	}

	if errors.Is(ErrAlreadyClaimed, ErrNotFound) {
		t.Error("ErrAlreadyClaimed must not match ErrNotFound")
	}
}
