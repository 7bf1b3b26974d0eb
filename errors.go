package crowdauth

import (
	"errors"

	"github.com/MrEthical07/crowdauth/jwt"
	"github.com/MrEthical07/crowdauth/session"
)

var (
	// ErrExpired is returned by token verification for a correctly signed
	// token past its expiry.
	ErrExpired = jwt.ErrExpired
	// ErrInvalidSignature covers every other token verification failure.
	ErrInvalidSignature = jwt.ErrInvalidSignature
	// ErrSessionNotFound means no session matches the subject and token.
	ErrSessionNotFound = session.ErrNotFound
	// ErrStoreUnavailable wraps session and user store failures.
	ErrStoreUnavailable = session.ErrStoreUnavailable
	// ErrHeaderMalformed is returned when the Authorization header is
	// missing or not a bearer token.
	ErrHeaderMalformed = errors.New("authorization header malformed")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrSignupInvalid      = errors.New("invalid signup request")
	ErrSignupUnavailable  = errors.New("signup not configured")
	ErrEngineNotReady     = errors.New("engine not initialized")
	ErrTokenIssue         = errors.New("token issuance failed")

	// ErrPasswordResetUnavailable means the engine was built without a reset
	// code store or mailer.
	ErrPasswordResetUnavailable = errors.New("password reset not configured")
	ErrPasswordResetRateLimited = errors.New("password reset rate limited")
	// ErrResetCodeInvalid covers wrong, expired and already used codes.
	ErrResetCodeInvalid      = errors.New("reset code invalid")
	ErrResetAttemptsExceeded = errors.New("reset code attempts exceeded")
	ErrResetDelivery         = errors.New("reset code delivery failed")
	ErrPasswordPolicy        = errors.New("password rejected by policy")
)
