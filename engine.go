package crowdauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/crowdauth/internal/audit"
	"github.com/MrEthical07/crowdauth/internal/flows"
	"github.com/MrEthical07/crowdauth/internal/rate"
	"github.com/MrEthical07/crowdauth/internal/stores"
	"github.com/MrEthical07/crowdauth/jwt"
	"github.com/MrEthical07/crowdauth/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine is the authentication authority. Build one with [New]; all methods
// are safe for concurrent use.
type Engine struct {
	config    Config
	codec     *jwt.Codec
	sessions  session.Store
	users     UserProvider
	passwords PasswordVerifier
	audit     *audit.Dispatcher
	metrics   *Metrics
	log       *zap.Logger
	now       func() time.Time
	flowDeps  flows.Deps

	resets       *stores.PasswordResetStore
	resetLimiter *rate.ResetLimiter
	mailer       Mailer
}

func (e *Engine) initFlowDeps() {
	e.flowDeps = flows.Deps{
		Authenticate: flows.AuthenticateDeps{
			Tokens:       e.codec,
			Sessions:     e.sessions,
			StoreTimeout: e.config.StoreTimeout,
		},
		Login: flows.LoginDeps{
			UserNotFound:   ErrUserNotFound,
			VerifyPassword: e.passwords.Verify,
			Tokens:         e.codec,
			Sessions:       e.sessions,
			StoreTimeout:   e.config.StoreTimeout,
		},
		Logout: flows.LogoutDeps{
			UserExists: func(ctx context.Context, subject string) error {
				_, err := e.users.GetUserByID(ctx, subject)
				return err
			},
			UserNotFound: ErrUserNotFound,
			Sessions:     e.sessions,
			StoreTimeout: e.config.StoreTimeout,
		},
	}
	if e.resets != nil {
		e.flowDeps.PasswordReset = e.passwordResetDeps()
	}
}

// Login checks credentials and opens a new session for the user, replacing
// any previous one. The session is persisted before Login returns.
//
// Unknown identifiers and wrong passwords both yield ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}

	var user *UserRecord
	deps := e.flowDeps.Login
	deps.LookupUser = func(ctx context.Context, id string) (flows.LoginUser, error) {
		u, err := e.users.GetUserByIdentifier(ctx, id)
		if err != nil {
			return flows.LoginUser{}, err
		}
		user = u
		return flows.LoginUser{Subject: u.Subject, PasswordHash: u.PasswordHash}, nil
	}

	res := flows.RunLogin(ctx, normalizeIdentifier(identifier), password, deps)
	if res.Failure != flows.LoginFailureNone {
		reason := res.Failure.String()
		e.emitAudit(ctx, AuditLoginFailure, res.Subject, false, reason)
		if res.Failure.BadCredentials() {
			e.metrics.login("bad_credentials")
			e.log.Debug("login rejected", zap.String("reason", reason))
			return nil, ErrInvalidCredentials
		}
		e.metrics.login("error")
		e.log.Error("login failed", zap.String("reason", reason), zap.Error(res.Err))
		return nil, e.mapLoginError(res)
	}

	e.maybeRehash(ctx, user, password, res.PasswordHash)

	e.metrics.login("success")
	e.emitAudit(ctx, AuditLoginSuccess, res.Subject, true, "")
	e.log.Info("login succeeded", zap.String("subject", res.Subject))

	return &LoginResult{
		User:          user,
		AccessToken:   res.AccessToken,
		RefreshToken:  res.RefreshToken,
		RefreshExpiry: res.RefreshExpiry,
	}, nil
}

func (e *Engine) mapLoginError(res flows.LoginResult) error {
	switch res.Failure {
	case flows.LoginFailureUserLookup, flows.LoginFailurePersist:
		return storeError(res.Err)
	case flows.LoginFailureIssueRefresh, flows.LoginFailureIssueAccess:
		return fmt.Errorf("%w: %v", ErrTokenIssue, res.Err)
	default:
		return fmt.Errorf("login: %w", res.Err)
	}
}

func (e *Engine) maybeRehash(ctx context.Context, user *UserRecord, password, encoded string) {
	hasher, ok := e.passwords.(PasswordHasher)
	if !ok || user == nil || !hasher.NeedsRehash(encoded) {
		return
	}
	updater, ok := e.users.(PasswordUpdater)
	if !ok {
		return
	}
	fresh, err := hasher.Hash(password)
	if err != nil {
		e.log.Warn("password rehash failed", zap.String("subject", user.Subject), zap.Error(err))
		return
	}
	if err := updater.UpdatePasswordHash(ctx, user.Subject, fresh); err != nil {
		e.log.Warn("password rehash not stored", zap.String("subject", user.Subject), zap.Error(err))
		return
	}
	user.PasswordHash = fresh
}

// Logout clears the session of subject. It returns ErrUserNotFound for an
// unknown subject and succeeds when the user has no live session.
func (e *Engine) Logout(ctx context.Context, subject string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if subject == "" {
		return ErrUserNotFound
	}

	res := flows.RunLogout(ctx, subject, e.flowDeps.Logout)
	switch res.Failure {
	case flows.LogoutFailureNone:
		e.metrics.logout("success")
		e.emitAudit(ctx, AuditLogout, subject, true, "")
		return nil
	case flows.LogoutFailureUserNotFound:
		e.metrics.logout("unknown_user")
		return ErrUserNotFound
	default:
		e.metrics.logout("error")
		e.log.Error("logout failed", zap.String("subject", subject), zap.Error(res.Err))
		return storeError(res.Err)
	}
}

// Authenticate decides whether a request is logged in.
//
// A valid access token must belong to creds.ClaimedSubject. An expired
// access token falls back to the refresh token, which must verify and match
// the persisted session; a new access token is then returned in the verdict.
// The refresh token is not rotated on renewal, so a stolen refresh token
// stays usable until it expires or the user logs out.
//
// Token and lookup failures produce a negative verdict with a nil error; only
// store unavailability and signing failures return an error.
func (e *Engine) Authenticate(ctx context.Context, creds Credentials) (Verdict, error) {
	if e == nil || e.codec == nil {
		return Verdict{}, ErrEngineNotReady
	}

	res := flows.RunAuthenticate(ctx, flows.AuthenticateInput{
		AccessToken:    creds.AccessToken,
		RefreshToken:   creds.RefreshToken,
		ClaimedSubject: creds.ClaimedSubject,
	}, e.flowDeps.Authenticate)

	switch {
	case res.Authenticated() && res.Renewed:
		e.metrics.decision("renewed", "none")
		e.emitAudit(ctx, AuditAuthRenewed, res.Subject, true, "")
		return Verdict{Authenticated: true, Subject: res.Subject, RenewedAccessToken: res.AccessToken}, nil
	case res.Authenticated():
		e.metrics.decision("fast_path", "none")
		return Verdict{Authenticated: true, Subject: res.Subject}, nil
	case res.Failure.Fatal():
		reason := res.Failure.String()
		e.metrics.decision("error", reason)
		e.log.Error("authentication aborted", zap.String("reason", reason), zap.Error(res.Err))
		if res.Failure == flows.AuthFailureStore {
			return Verdict{}, storeError(res.Err)
		}
		return Verdict{}, fmt.Errorf("%w: %v", ErrTokenIssue, res.Err)
	default:
		reason := res.Failure.String()
		e.metrics.decision("rejected", reason)
		e.emitAudit(ctx, AuditAuthRejected, "", false, reason)
		e.log.Debug("request not authenticated", zap.String("reason", reason))
		return Verdict{}, nil
	}
}

// Signup creates a user with an argon2id password hash. The user provider
// must implement UserCreator and the password verifier PasswordHasher.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*UserRecord, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	creator, ok := e.users.(UserCreator)
	if !ok {
		return nil, ErrSignupUnavailable
	}
	hasher, ok := e.passwords.(PasswordHasher)
	if !ok {
		return nil, ErrSignupUnavailable
	}

	identifier := normalizeIdentifier(req.Identifier)
	if identifier == "" || !strings.Contains(identifier, "@") {
		e.metrics.signup("invalid")
		return nil, fmt.Errorf("%w: identifier must be an email address", ErrSignupInvalid)
	}
	hash, err := hasher.Hash(req.Password)
	if err != nil {
		e.metrics.signup("invalid")
		return nil, fmt.Errorf("%w: %v", ErrSignupInvalid, err)
	}

	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	created, err := creator.CreateUser(ctx, UserRecord{
		Subject:      uuid.NewString(),
		Identifier:   identifier,
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metrics.signup("duplicate")
			return nil, ErrAccountExists
		}
		e.metrics.signup("error")
		e.log.Error("signup failed", zap.Error(err))
		return nil, storeError(err)
	}

	e.metrics.signup("success")
	e.emitAudit(ctx, AuditSignup, created.Subject, true, "")
	return created, nil
}

// IdentifierAvailable reports whether no account uses identifier yet.
func (e *Engine) IdentifierAvailable(ctx context.Context, identifier string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	id := normalizeIdentifier(identifier)
	if id == "" {
		return false, ErrSignupInvalid
	}

	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	_, err := e.users.GetUserByIdentifier(ctx, id)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return true, nil
	case err != nil:
		return false, storeError(err)
	default:
		return false, nil
	}
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.StoreTimeout)
}

func storeError(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
