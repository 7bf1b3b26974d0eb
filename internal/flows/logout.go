package flows

import (
	"context"
	"errors"
	"time"
)

type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureUserNotFound
	LogoutFailureUserLookup
	LogoutFailureStore
)

// SessionClearer removes a subject's session.
type SessionClearer interface {
	Clear(ctx context.Context, subject string) error
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	UserExists   func(ctx context.Context, subject string) error
	UserNotFound error
	Sessions     SessionClearer
	StoreTimeout time.Duration
}

type LogoutResult struct {
	Failure LogoutFailureKind
	Err     error
}

// RunLogout clears the session of an existing subject. Clearing a subject
// with no live session succeeds.
func RunLogout(ctx context.Context, subject string, deps LogoutDeps) LogoutResult {
	ctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	defer cancel()

	if deps.UserExists != nil {
		if err := deps.UserExists(ctx, subject); err != nil {
			if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
				return LogoutResult{Failure: LogoutFailureUserNotFound, Err: err}
			}
			return LogoutResult{Failure: LogoutFailureUserLookup, Err: err}
		}
	}

	if err := deps.Sessions.Clear(ctx, subject); err != nil {
		return LogoutResult{Failure: LogoutFailureStore, Err: err}
	}
	return LogoutResult{}
}
