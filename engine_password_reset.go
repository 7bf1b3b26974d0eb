package crowdauth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/MrEthical07/crowdauth/internal/flows"
	"github.com/MrEthical07/crowdauth/internal/rate"
	"go.uber.org/zap"
)

func (e *Engine) passwordResetDeps() flows.PasswordResetDeps {
	hasher, _ := e.passwords.(PasswordHasher)
	updater, _ := e.users.(PasswordUpdater)
	digits := e.config.PasswordReset.CodeDigits

	return flows.PasswordResetDeps{
		LookupUser: func(ctx context.Context, identifier string) (string, error) {
			user, err := e.users.GetUserByIdentifier(ctx, identifier)
			if err != nil {
				return "", err
			}
			// Administrators reset their passwords out of band.
			if user.IsAdmin() {
				return "", ErrUserNotFound
			}
			return user.Subject, nil
		},
		UserNotFound: ErrUserNotFound,
		Codes:        e.resets,
		Throttle:     e.resetLimiter,
		RateLimited:  rate.ErrRateLimited,
		NewCode:      func() (string, error) { return newResetCode(digits) },
		Send:         e.mailer.SendPasswordResetCode,
		HashPassword: hasher.Hash,
		UpdatePassword: func(ctx context.Context, subject, encodedHash string) error {
			return updater.UpdatePasswordHash(ctx, subject, encodedHash)
		},
		Sessions:     e.sessions,
		CodeTTL:      e.config.PasswordReset.CodeTTL,
		MaxAttempts:  e.config.PasswordReset.MaxAttempts,
		Now:          e.now,
		StoreTimeout: e.config.StoreTimeout,
	}
}

// newResetCode returns a uniformly random decimal code of the given length.
func newResetCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

func (e *Engine) resetReady() bool {
	return e != nil && e.resets != nil && e.mailer != nil
}

// RequestPasswordReset mails a new reset code to identifier. Any code sent
// before stops working.
//
// Unknown identifiers and administrator accounts return ErrUserNotFound.
// Too many requests for one identifier return ErrPasswordResetRateLimited.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	if !e.resetReady() {
		return ErrPasswordResetUnavailable
	}
	id := normalizeIdentifier(identifier)
	if id == "" {
		return ErrUserNotFound
	}

	res := flows.RunRequestPasswordReset(ctx, id, ClientIPFromContext(ctx), e.flowDeps.PasswordReset)
	err := e.resetError("request", id, res)
	e.emitAudit(ctx, AuditPasswordResetRequested, res.Subject, err == nil, reasonOf(res))
	return err
}

// VerifyPasswordResetCode checks code without using it up. Each wrong code
// counts toward the configured attempts; the last one invalidates the code
// and returns ErrResetAttemptsExceeded.
func (e *Engine) VerifyPasswordResetCode(ctx context.Context, identifier, code string) error {
	if !e.resetReady() {
		return ErrPasswordResetUnavailable
	}
	id := normalizeIdentifier(identifier)
	code = strings.TrimSpace(code)
	if id == "" || code == "" {
		return ErrResetCodeInvalid
	}

	res := flows.RunVerifyResetCode(ctx, id, ClientIPFromContext(ctx), code, e.flowDeps.PasswordReset)
	return e.resetError("verify", id, res)
}

// ResetPassword consumes code and replaces the account password. The user's
// refresh session is cleared, so every device has to log in again.
func (e *Engine) ResetPassword(ctx context.Context, identifier, code, newPassword string) error {
	if !e.resetReady() {
		return ErrPasswordResetUnavailable
	}
	id := normalizeIdentifier(identifier)
	code = strings.TrimSpace(code)
	if id == "" || code == "" {
		return ErrResetCodeInvalid
	}

	res := flows.RunConfirmPasswordReset(ctx, id, ClientIPFromContext(ctx), code, newPassword, e.flowDeps.PasswordReset)
	err := e.resetError("confirm", id, res)
	if res.Failure != flows.ResetFailurePasswordPolicy {
		e.emitAudit(ctx, AuditPasswordResetCompleted, res.Subject, err == nil, reasonOf(res))
	}
	return err
}

func (e *Engine) resetError(step, identifier string, res flows.PasswordResetResult) error {
	if res.Failure == flows.ResetFailureNone {
		e.metrics.passwordReset(step, "success")
		return nil
	}
	e.metrics.passwordReset(step, res.Failure.String())

	switch res.Failure {
	case flows.ResetFailureRateLimited:
		return ErrPasswordResetRateLimited
	case flows.ResetFailureUserNotFound:
		return ErrUserNotFound
	case flows.ResetFailureCodeInvalid:
		return ErrResetCodeInvalid
	case flows.ResetFailureAttemptsExceeded:
		return ErrResetAttemptsExceeded
	case flows.ResetFailurePasswordPolicy:
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, res.Err)
	case flows.ResetFailureDelivery:
		e.log.Error("reset code delivery failed", zap.String("identifier", identifier), zap.Error(res.Err))
		return fmt.Errorf("%w: %v", ErrResetDelivery, res.Err)
	case flows.ResetFailureCodeGenerate:
		e.log.Error("reset code generation failed", zap.Error(res.Err))
		return fmt.Errorf("reset code: %w", res.Err)
	default:
		e.log.Error("password reset failed",
			zap.String("step", step),
			zap.String("failure", res.Failure.String()),
			zap.String("subject", res.Subject),
			zap.Error(res.Err),
		)
		return storeError(res.Err)
	}
}

func reasonOf(res flows.PasswordResetResult) string {
	if res.Failure == flows.ResetFailureNone {
		return ""
	}
	return res.Failure.String()
}
