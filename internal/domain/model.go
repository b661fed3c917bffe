// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture: it depends on nothing.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ─── Identity ───────────────────────────────────────────────────────────────

// MaxAnonIDLength bounds the textual form of an anonymous id.
const MaxAnonIDLength = 128

// ValidAnonID reports whether id is usable as a primary key: non-empty,
// at most MaxAnonIDLength bytes, printable ASCII with no spaces.
func ValidAnonID(id string) bool {
	if id == "" || len(id) > MaxAnonIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c <= ' ' || c >= 0x7f {
			return false
		}
	}
	return true
}

// ─── Profile Types ──────────────────────────────────────────────────────────

// UserProfile is created exactly once, the first time an anonymous id is seen.
type UserProfile struct {
	AnonymousID     string    `json:"anonymousId"`
	LinkedAccountID *string   `json:"linkedAccountId"` // reserved, always nil
	DisplayName     *string   `json:"displayName"`
	AvatarURL       *string   `json:"avatarUrl"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ProfileUpdate is a partial update. Nil fields are left unchanged; an empty
// string clears the field back to null.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

// Empty reports whether the update touches no field.
func (u ProfileUpdate) Empty() bool {
	return u.DisplayName == nil && u.AvatarURL == nil
}

const (
	MaxDisplayNameLength = 100
	MaxAvatarURLLength   = 2048
)

// Validate checks field limits. It does not parse the avatar URL; that is a
// transport concern handled at the HTTP boundary.
func (u ProfileUpdate) Validate() error {
	if u.DisplayName != nil {
		name := strings.TrimSpace(*u.DisplayName)
		if utf8.RuneCountInString(name) > MaxDisplayNameLength {
			return Validationf("displayName must be at most %d characters", MaxDisplayNameLength)
		}
	}
	if u.AvatarURL != nil && len(*u.AvatarURL) > MaxAvatarURLLength {
		return Validationf("avatarUrl must be at most %d characters", MaxAvatarURLLength)
	}
	return nil
}

// Normalized returns u with the display name trimmed.
func (u ProfileUpdate) Normalized() ProfileUpdate {
	if u.DisplayName != nil {
		name := strings.TrimSpace(*u.DisplayName)
		u.DisplayName = &name
	}
	return u
}

// Apply copies the set fields of u onto p and stamps UpdatedAt.
func (u ProfileUpdate) Apply(p *UserProfile, now time.Time) {
	u = u.Normalized()
	if u.DisplayName != nil {
		p.DisplayName = nonEmpty(*u.DisplayName)
	}
	if u.AvatarURL != nil {
		p.AvatarURL = nonEmpty(*u.AvatarURL)
	}
	p.UpdatedAt = now
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
