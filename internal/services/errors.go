// Package services defines the admission and reuse logic: the ban store,
// the dual-window activity limiter, ban reason generation, the dedup store
// and the gate that composes them. This file centralizes service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAdmissionDenied matches every *DeniedError: the caller is banned.
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrBanNotPersisted is returned when a ban decision could not be
	// written after retries. The triggering request must fail.
	ErrBanNotPersisted = errors.New("ban not persisted")

	// ErrDedupMiss signals that no reusable artifact exists for a URL.
	// It is a "go extract" signal, not a failure.
	ErrDedupMiss = errors.New("dedup miss")

	// ErrMissingArtifact is returned when recording a delivery without an
	// artifact reference.
	ErrMissingArtifact = errors.New("artifact reference is required")

	// ErrInvalidUserID is returned for an empty or oversized user id.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrInvalidURL is returned for an empty source URL.
	ErrInvalidURL = errors.New("invalid url")

	// ErrEmptyReason is returned by manual bans without a reason.
	ErrEmptyReason = errors.New("ban reason is empty")

	// ErrUserNotFound indicates that the requested user is unknown.
	ErrUserNotFound = errors.New("user not found")
)

// DeniedError is returned when a user is refused admission. Reason is the
// stored (or freshly generated) ban reason.
type DeniedError struct {
	UserID string
	Reason string
	Until  *time.Time // nil for a permanent ban
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("user %s is banned: %s", e.UserID, e.Reason)
}

// Is reports ErrAdmissionDenied as the sentinel for errors.Is.
func (e *DeniedError) Is(target error) bool { return target == ErrAdmissionDenied }
