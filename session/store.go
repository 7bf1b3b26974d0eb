package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session matches both subject and token.
	ErrNotFound = errors.New("session not found")
	// ErrStoreUnavailable wraps every backend failure.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Record is the persisted refresh session of one subject.
type Record struct {
	Subject       string
	RefreshToken  string
	RefreshExpiry time.Time
}

// Store holds at most one live session per subject.
//
// Implementations must be safe for concurrent use. Save overwrites any
// previous session of the subject; Clear is idempotent; SweepExpired clears
// every session whose expiry is at or before now and reports how many it
// cleared.
type Store interface {
	Save(ctx context.Context, subject, refreshToken string, expiry time.Time) error
	FindByRefreshToken(ctx context.Context, subject, refreshToken string) (*Record, error)
	Clear(ctx context.Context, subject string) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

func validateSave(subject, refreshToken string, expiry time.Time) error {
	if subject == "" {
		return errors.New("session subject is required")
	}
	if refreshToken == "" {
		return errors.New("session refresh token is required")
	}
	if expiry.IsZero() {
		return errors.New("session expiry is required")
	}
	return nil
}
