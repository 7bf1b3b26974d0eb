package flows

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/MrEthical07/crowdauth/internal/stores"
)

type ResetFailureKind int

const (
	ResetFailureNone ResetFailureKind = iota
	ResetFailureRateLimited
	ResetFailureUserNotFound
	ResetFailureUserLookup
	ResetFailureCodeGenerate
	ResetFailureStore
	ResetFailureDelivery
	ResetFailureCodeInvalid
	ResetFailureAttemptsExceeded
	ResetFailurePasswordPolicy
	ResetFailureUpdate
	ResetFailureRevoke
)

func (k ResetFailureKind) String() string {
	switch k {
	case ResetFailureNone:
		return "none"
	case ResetFailureRateLimited:
		return "rate_limited"
	case ResetFailureUserNotFound:
		return "user_not_found"
	case ResetFailureUserLookup:
		return "user_lookup"
	case ResetFailureCodeGenerate:
		return "code_generate"
	case ResetFailureStore:
		return "store"
	case ResetFailureDelivery:
		return "delivery"
	case ResetFailureCodeInvalid:
		return "code_invalid"
	case ResetFailureAttemptsExceeded:
		return "attempts_exceeded"
	case ResetFailurePasswordPolicy:
		return "password_policy"
	case ResetFailureUpdate:
		return "update_password"
	case ResetFailureRevoke:
		return "revoke_session"
	default:
		return "unknown"
	}
}

// ResetCodes stores outstanding reset codes. *stores.PasswordResetStore
// implements it.
type ResetCodes interface {
	Save(ctx context.Context, identifier string, rec stores.ResetRecord, ttl time.Duration) error
	Check(ctx context.Context, identifier string, codeHash [32]byte, now time.Time, maxAttempts int) (*stores.ResetRecord, error)
	Consume(ctx context.Context, identifier string, codeHash [32]byte, now time.Time, maxAttempts int) (*stores.ResetRecord, error)
}

// ResetThrottle bounds code mails and code checks. *rate.ResetLimiter
// implements it.
type ResetThrottle interface {
	CheckRequest(ctx context.Context, identifier, ip string) error
	CheckConfirm(ctx context.Context, identifier, ip string) error
}

// PasswordResetDeps captures the dependencies of the three reset steps.
type PasswordResetDeps struct {
	// LookupUser returns the subject allowed to reset identifier's password.
	// Accounts that may not reset must report UserNotFound.
	LookupUser     func(ctx context.Context, identifier string) (string, error)
	UserNotFound   error
	Codes          ResetCodes
	Throttle       ResetThrottle
	RateLimited    error
	NewCode        func() (string, error)
	Send           func(ctx context.Context, to, code string, expiresAt time.Time) error
	HashPassword   func(password string) (string, error)
	UpdatePassword func(ctx context.Context, subject, encodedHash string) error
	Sessions       SessionClearer
	CodeTTL        time.Duration
	MaxAttempts    int
	Now            func() time.Time
	StoreTimeout   time.Duration
}

type PasswordResetResult struct {
	Failure ResetFailureKind
	Err     error
	Subject string
}

func (d PasswordResetDeps) throttle(ctx context.Context, confirm bool, identifier, ip string) *PasswordResetResult {
	if d.Throttle == nil {
		return nil
	}
	var err error
	if confirm {
		err = d.Throttle.CheckConfirm(ctx, identifier, ip)
	} else {
		err = d.Throttle.CheckRequest(ctx, identifier, ip)
	}
	switch {
	case err == nil:
		return nil
	case d.RateLimited != nil && errors.Is(err, d.RateLimited):
		return &PasswordResetResult{Failure: ResetFailureRateLimited, Err: err}
	default:
		return &PasswordResetResult{Failure: ResetFailureStore, Err: err}
	}
}

// RunRequestPasswordReset mails a fresh code to identifier, replacing any
// code sent earlier. The code is stored before it is sent. StoreTimeout
// bounds the store calls only, not delivery.
func RunRequestPasswordReset(ctx context.Context, identifier, ip string, deps PasswordResetDeps) PasswordResetResult {
	mailCtx := ctx
	ctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	defer cancel()

	if res := deps.throttle(ctx, false, identifier, ip); res != nil {
		return *res
	}

	subject, err := deps.LookupUser(ctx, identifier)
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return PasswordResetResult{Failure: ResetFailureUserNotFound, Err: err}
		}
		return PasswordResetResult{Failure: ResetFailureUserLookup, Err: err}
	}

	code, err := deps.NewCode()
	if err != nil {
		return PasswordResetResult{Failure: ResetFailureCodeGenerate, Err: err, Subject: subject}
	}
	expiresAt := deps.Now().Add(deps.CodeTTL)
	rec := stores.ResetRecord{
		Subject:   subject,
		CodeHash:  sha256.Sum256([]byte(code)),
		ExpiresAt: expiresAt,
	}
	if err := deps.Codes.Save(ctx, identifier, rec, deps.CodeTTL); err != nil {
		return PasswordResetResult{Failure: ResetFailureStore, Err: err, Subject: subject}
	}

	if err := deps.Send(mailCtx, identifier, code, expiresAt); err != nil {
		return PasswordResetResult{Failure: ResetFailureDelivery, Err: err, Subject: subject}
	}
	return PasswordResetResult{Subject: subject}
}

// RunVerifyResetCode reports whether code is the live code for identifier.
// The code stays usable; wrong guesses count against its attempts.
func RunVerifyResetCode(ctx context.Context, identifier, ip, code string, deps PasswordResetDeps) PasswordResetResult {
	ctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	defer cancel()

	if res := deps.throttle(ctx, true, identifier, ip); res != nil {
		return *res
	}

	rec, err := deps.Codes.Check(ctx, identifier, sha256.Sum256([]byte(code)), deps.Now(), deps.MaxAttempts)
	if err != nil {
		return codeFailure(err)
	}
	return PasswordResetResult{Subject: rec.Subject}
}

// RunConfirmPasswordReset consumes code, stores the new password hash and
// clears the user's refresh session. The password is hashed first so a
// policy rejection leaves the code usable.
func RunConfirmPasswordReset(ctx context.Context, identifier, ip, code, newPassword string, deps PasswordResetDeps) PasswordResetResult {
	ctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	defer cancel()

	if res := deps.throttle(ctx, true, identifier, ip); res != nil {
		return *res
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return PasswordResetResult{Failure: ResetFailurePasswordPolicy, Err: err}
	}

	rec, err := deps.Codes.Consume(ctx, identifier, sha256.Sum256([]byte(code)), deps.Now(), deps.MaxAttempts)
	if err != nil {
		return codeFailure(err)
	}

	if err := deps.UpdatePassword(ctx, rec.Subject, hash); err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return PasswordResetResult{Failure: ResetFailureUserNotFound, Err: err, Subject: rec.Subject}
		}
		return PasswordResetResult{Failure: ResetFailureUpdate, Err: err, Subject: rec.Subject}
	}

	if err := deps.Sessions.Clear(ctx, rec.Subject); err != nil {
		return PasswordResetResult{Failure: ResetFailureRevoke, Err: err, Subject: rec.Subject}
	}
	return PasswordResetResult{Subject: rec.Subject}
}

func codeFailure(err error) PasswordResetResult {
	switch {
	case errors.Is(err, stores.ErrResetNotFound), errors.Is(err, stores.ErrResetCodeMismatch):
		return PasswordResetResult{Failure: ResetFailureCodeInvalid, Err: err}
	case errors.Is(err, stores.ErrResetAttemptsExceeded):
		return PasswordResetResult{Failure: ResetFailureAttemptsExceeded, Err: err}
	default:
		return PasswordResetResult{Failure: ResetFailureStore, Err: err}
	}
}
