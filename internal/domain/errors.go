package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.
// The HTTP boundary maps each class to a status code with errors.Is.

var (
	// Classes
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrConflict    = errors.New("already exists")

	// Business rules (each belongs to a class)
	ErrAlreadyClaimed      error = &detailError{class: ErrValidation, msg: "already claimed today"}
	ErrInsufficientCredits error = &detailError{class: ErrValidation, msg: "insufficient credits"}
	ErrInvalidAnonID       error = &detailError{class: ErrValidation, msg: "invalid anonymous id"}
	ErrUserNotFound        error = &detailError{class: ErrNotFound, msg: "user not found"}
	ErrCreditsNotFound     error = &detailError{class: ErrNotFound, msg: "credits account not found"}
	ErrBonusRateLimited    error = &detailError{class: ErrRateLimited, msg: "too many claim attempts, try again later"}
)

// Validationf returns an ErrValidation carrying a formatted detail message.
func Validationf(format string, args ...any) error {
	return &detailError{class: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// detailError keeps the caller-facing message free of the class prefix.
type detailError struct {
	class error
	msg   string
}

func (e *detailError) Error() string { return e.msg }
func (e *detailError) Unwrap() error { return e.class }
