package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/crowdauth/jwt"
	"github.com/MrEthical07/crowdauth/session"
)

// AuthFailureKind classifies why a request was not authenticated.
type AuthFailureKind int

const (
	AuthFailureNone AuthFailureKind = iota
	AuthFailureAccessInvalid
	AuthFailureSubjectMismatch
	AuthFailureRefreshMissing
	AuthFailureRefreshInvalid
	AuthFailureSessionNotFound
	AuthFailureStore
	AuthFailureIssueAccess
)

func (k AuthFailureKind) String() string {
	switch k {
	case AuthFailureNone:
		return "none"
	case AuthFailureAccessInvalid:
		return "access_invalid"
	case AuthFailureSubjectMismatch:
		return "subject_mismatch"
	case AuthFailureRefreshMissing:
		return "refresh_missing"
	case AuthFailureRefreshInvalid:
		return "refresh_invalid"
	case AuthFailureSessionNotFound:
		return "session_not_found"
	case AuthFailureStore:
		return "store_unavailable"
	case AuthFailureIssueAccess:
		return "issue_access"
	default:
		return "unknown"
	}
}

// Fatal reports whether the failure must surface as an error rather than a
// plain "not authenticated" verdict.
func (k AuthFailureKind) Fatal() bool {
	return k == AuthFailureStore || k == AuthFailureIssueAccess
}

// AuthenticateInput is what a request presents.
type AuthenticateInput struct {
	AccessToken    string
	RefreshToken   string
	ClaimedSubject string
}

// AuthenticateResult is the outcome of one authentication attempt.
type AuthenticateResult struct {
	Failure     AuthFailureKind
	Err         error
	Subject     string
	Renewed     bool
	AccessToken string
}

// Authenticated reports whether the request is logged in.
func (r AuthenticateResult) Authenticated() bool {
	return r.Failure == AuthFailureNone && r.Subject != ""
}

// SessionFinder looks up the persisted session for a refresh token.
type SessionFinder interface {
	FindByRefreshToken(ctx context.Context, subject, refreshToken string) (*session.Record, error)
}

// AuthenticateDeps captures authenticate flow dependencies.
type AuthenticateDeps struct {
	Tokens       Tokens
	Sessions     SessionFinder
	StoreTimeout time.Duration
}

// RunAuthenticate validates the access token and, only when it has expired,
// falls back to the refresh token and the persisted session to issue a new
// access token. The refresh token itself is never replaced here.
func RunAuthenticate(ctx context.Context, in AuthenticateInput, deps AuthenticateDeps) AuthenticateResult {
	subject, err := deps.Tokens.Verify(in.AccessToken, jwt.KindAccess)
	switch {
	case err == nil:
		if err := verifyClaimedSubject(in.ClaimedSubject, subject); err != nil {
			return AuthenticateResult{Failure: AuthFailureSubjectMismatch, Err: err}
		}
		return AuthenticateResult{Subject: subject}
	case errors.Is(err, jwt.ErrExpired):
		return runRenewal(ctx, in, deps)
	default:
		return AuthenticateResult{Failure: AuthFailureAccessInvalid, Err: err}
	}
}

func runRenewal(ctx context.Context, in AuthenticateInput, deps AuthenticateDeps) AuthenticateResult {
	if in.RefreshToken == "" {
		return AuthenticateResult{Failure: AuthFailureRefreshMissing}
	}

	subject, err := deps.Tokens.Verify(in.RefreshToken, jwt.KindRefresh)
	if err != nil {
		return AuthenticateResult{Failure: AuthFailureRefreshInvalid, Err: err}
	}

	storeCtx, cancel := withTimeout(ctx, deps.StoreTimeout)
	defer cancel()
	if _, err := deps.Sessions.FindByRefreshToken(storeCtx, subject, in.RefreshToken); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return AuthenticateResult{Failure: AuthFailureSessionNotFound, Err: err}
		}
		return AuthenticateResult{Failure: AuthFailureStore, Err: err}
	}

	access, err := deps.Tokens.IssueAccessToken(subject)
	if err != nil {
		return AuthenticateResult{Failure: AuthFailureIssueAccess, Err: err}
	}

	return AuthenticateResult{
		Subject:     subject,
		Renewed:     true,
		AccessToken: access,
	}
}

// ErrSubjectMismatch is returned when the caller-claimed subject does not
// match the verified token subject.
var ErrSubjectMismatch = errors.New("claimed subject does not match token subject")

// verifyClaimedSubject requires the caller to name the subject its access
// token was issued to. An absent claim never matches.
func verifyClaimedSubject(claimed, verified string) error {
	if claimed == "" || claimed != verified {
		return ErrSubjectMismatch
	}
	return nil
}
