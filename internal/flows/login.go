package flows

import (
	"context"
	"errors"
	"time"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureUserNotFound
	LoginFailureUserLookup
	LoginFailurePasswordMismatch
	LoginFailurePasswordVerify
	LoginFailureIssueRefresh
	LoginFailurePersist
	LoginFailureIssueAccess
)

func (k LoginFailureKind) String() string {
	switch k {
	case LoginFailureNone:
		return "none"
	case LoginFailureUserNotFound:
		return "user_not_found"
	case LoginFailureUserLookup:
		return "user_lookup"
	case LoginFailurePasswordMismatch:
		return "password_mismatch"
	case LoginFailurePasswordVerify:
		return "password_verify"
	case LoginFailureIssueRefresh:
		return "issue_refresh"
	case LoginFailurePersist:
		return "persist_session"
	case LoginFailureIssueAccess:
		return "issue_access"
	default:
		return "unknown"
	}
}

// BadCredentials reports whether the failure is the caller's fault.
func (k LoginFailureKind) BadCredentials() bool {
	return k == LoginFailureUserNotFound || k == LoginFailurePasswordMismatch
}

// LoginUser is the slice of a user record the login flow needs.
type LoginUser struct {
	Subject      string
	PasswordHash string
}

// SessionSaver persists the refresh session created at login.
type SessionSaver interface {
	Save(ctx context.Context, subject, refreshToken string, expiry time.Time) error
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	LookupUser     func(ctx context.Context, identifier string) (LoginUser, error)
	UserNotFound   error
	VerifyPassword func(password, encodedHash string) (bool, error)
	Tokens         Tokens
	Sessions       SessionSaver
	StoreTimeout   time.Duration
}

// LoginResult carries either the issued token pair or failure metadata.
type LoginResult struct {
	Failure       LoginFailureKind
	Err           error
	Subject       string
	PasswordHash  string
	AccessToken   string
	RefreshToken  string
	RefreshExpiry time.Time
}

// RunLogin verifies credentials, persists a fresh refresh session (replacing
// any previous one) and only then issues the access token.
func RunLogin(ctx context.Context, identifier, password string, deps LoginDeps) LoginResult {
	lookupCtx, cancel := withTimeout(ctx, deps.StoreTimeout)
	user, err := deps.LookupUser(lookupCtx, identifier)
	cancel()
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return LoginResult{Failure: LoginFailureUserNotFound, Err: err}
		}
		return LoginResult{Failure: LoginFailureUserLookup, Err: err}
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return LoginResult{Failure: LoginFailurePasswordVerify, Err: err, Subject: user.Subject}
	}
	if !ok {
		return LoginResult{Failure: LoginFailurePasswordMismatch, Subject: user.Subject}
	}

	refresh, expiry, err := deps.Tokens.IssueRefreshToken(user.Subject)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssueRefresh, Err: err, Subject: user.Subject}
	}

	saveCtx, cancel := withTimeout(ctx, deps.StoreTimeout)
	err = deps.Sessions.Save(saveCtx, user.Subject, refresh, expiry)
	cancel()
	if err != nil {
		return LoginResult{Failure: LoginFailurePersist, Err: err, Subject: user.Subject}
	}

	access, err := deps.Tokens.IssueAccessToken(user.Subject)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssueAccess, Err: err, Subject: user.Subject}
	}

	return LoginResult{
		Subject:       user.Subject,
		PasswordHash:  user.PasswordHash,
		AccessToken:   access,
		RefreshToken:  refresh,
		RefreshExpiry: expiry,
	}
}
