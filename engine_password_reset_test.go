package crowdauth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
	sends int
	err   error
}

func (m *captureMailer) SendPasswordResetCode(_ context.Context, to, code string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.codes == nil {
		m.codes = map[string]string{}
	}
	m.codes[to] = code
	m.sends++
	return nil
}

func (m *captureMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

func withPasswordReset(m Mailer, tune ...func(*PasswordResetConfig)) func(*Builder) {
	return func(b *Builder) {
		cfg := testConfig()
		cfg.PasswordReset.Enabled = true
		cfg.PasswordReset.KeyPrefix = "test"
		for _, f := range tune {
			f(&cfg.PasswordReset)
		}
		b.WithConfig(cfg).WithMailer(m)
	}
}

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

func TestPasswordResetEndToEnd(t *testing.T) {
	mailer := &captureMailer{}
	env := newTestEnv(t, withPasswordReset(mailer))
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	login, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.engine.RequestPasswordReset(ctx, " Alice@Example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := mailer.code("alice@example.com")
	if !sixDigits.MatchString(code) {
		t.Fatalf("expected a six digit code, got %q", code)
	}
	if !env.mr.Exists("test:pwreset:alice@example.com") {
		t.Fatal("expected the code to be stored in redis")
	}

	if err := env.engine.VerifyPasswordResetCode(ctx, "alice@example.com", code); err != nil {
		t.Fatalf("VerifyPasswordResetCode failed: %v", err)
	}
	// Verification does not consume the code.
	if err := env.engine.ResetPassword(ctx, "alice@example.com", code, "a-brand-new-password"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	if _, err := env.store.FindByRefreshToken(ctx, "u-1", login.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected the refresh session to be cleared, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", "a-brand-new-password"); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}

	if err := env.engine.ResetPassword(ctx, "alice@example.com", code, "yet-another-password"); !errors.Is(err, ErrResetCodeInvalid) {
		t.Fatalf("expected a used code to be rejected, got %v", err)
	}
}

func TestPasswordResetUnknownAndAdminAccounts(t *testing.T) {
	mailer := &captureMailer{}
	env := newTestEnv(t, withPasswordReset(mailer))
	env.users.add(UserRecord{Subject: "admin-1", Identifier: "root@example.com", Role: 1})

	for _, id := range []string{"ghost@example.com", "root@example.com", "  "} {
		if err := env.engine.RequestPasswordReset(context.Background(), id); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("%q: expected ErrUserNotFound, got %v", id, err)
		}
	}
	if mailer.sends != 0 {
		t.Fatalf("expected no mail, got %d", mailer.sends)
	}
}

func TestPasswordResetWrongCodesExhaustAttempts(t *testing.T) {
	mailer := &captureMailer{}
	env := newTestEnv(t, withPasswordReset(mailer, func(c *PasswordResetConfig) {
		c.MaxAttempts = 3
		c.MaxRequests = 10
	}))
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := mailer.code("alice@example.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 2; i++ {
		if err := env.engine.VerifyPasswordResetCode(ctx, "alice@example.com", wrong); !errors.Is(err, ErrResetCodeInvalid) {
			t.Fatalf("attempt %d: expected ErrResetCodeInvalid, got %v", i, err)
		}
	}
	if err := env.engine.VerifyPasswordResetCode(ctx, "alice@example.com", wrong); !errors.Is(err, ErrResetAttemptsExceeded) {
		t.Fatalf("expected ErrResetAttemptsExceeded, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, "alice@example.com", code, "a-brand-new-password"); !errors.Is(err, ErrResetCodeInvalid) {
		t.Fatalf("expected the code to be gone, got %v", err)
	}
}

func TestPasswordResetCodeExpires(t *testing.T) {
	mailer := &captureMailer{}
	env := newTestEnv(t, withPasswordReset(mailer))
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	env.clock.Advance(10 * time.Minute)

	err := env.engine.ResetPassword(ctx, "alice@example.com", mailer.code("alice@example.com"), "a-brand-new-password")
	if !errors.Is(err, ErrResetCodeInvalid) {
		t.Fatalf("expected expired code to be rejected, got %v", err)
	}
}

func TestPasswordResetPolicyKeepsCode(t *testing.T) {
	mailer := &captureMailer{}
	env := newTestEnv(t, withPasswordReset(mailer))
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := mailer.code("alice@example.com")

	if err := env.engine.ResetPassword(ctx, "alice@example.com", code, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if env.users.updates != 0 {
		t.Fatal("password must not change on a policy failure")
	}
	if err := env.engine.ResetPassword(ctx, "alice@example.com", code, "a-brand-new-password"); err != nil {
		t.Fatalf("expected the code to survive a policy failure: %v", err)
	}
}

func TestPasswordResetRequestsAreThrottled(t *testing.T) {
	mailer := &captureMailer{}
	env := newTestEnv(t, withPasswordReset(mailer, func(c *PasswordResetConfig) { c.MaxRequests = 2 }))
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	if err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); !errors.Is(err, ErrPasswordResetRateLimited) {
		t.Fatalf("expected ErrPasswordResetRateLimited, got %v", err)
	}
	if mailer.sends != 2 {
		t.Fatalf("expected 2 mails, got %d", mailer.sends)
	}
}

func TestPasswordResetDeliveryFailure(t *testing.T) {
	mailer := &captureMailer{err: errors.New("smtp timeout")}
	env := newTestEnv(t, withPasswordReset(mailer))
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")

	if err := env.engine.RequestPasswordReset(context.Background(), "alice@example.com"); !errors.Is(err, ErrResetDelivery) {
		t.Fatalf("expected ErrResetDelivery, got %v", err)
	}
}

func TestPasswordResetStoreDown(t *testing.T) {
	mailer := &captureMailer{}
	env := newTestEnv(t, withPasswordReset(mailer))
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	env.mr.Close()

	if err := env.engine.RequestPasswordReset(context.Background(), "alice@example.com"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if mailer.sends != 0 {
		t.Fatal("no code may be mailed when it could not be stored")
	}
}

func TestPasswordResetNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.RequestPasswordReset(context.Background(), "alice@example.com"); !errors.Is(err, ErrPasswordResetUnavailable) {
		t.Fatalf("expected ErrPasswordResetUnavailable, got %v", err)
	}
	if err := env.engine.ResetPassword(context.Background(), "alice@example.com", "123456", "a-brand-new-password"); !errors.Is(err, ErrPasswordResetUnavailable) {
		t.Fatalf("expected ErrPasswordResetUnavailable, got %v", err)
	}
}

func TestBuildRejectsPasswordResetWithoutMailer(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordReset.Enabled = true
	_, err := New().
		WithConfig(cfg).
		WithSessionStore(newTestEnv(t).store).
		WithUserProvider(newMockUserProvider()).
		Build()
	if err == nil {
		t.Fatal("expected Build to fail without redis and mailer")
	}
}

func TestNewResetCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := newResetCode(6)
		if err != nil {
			t.Fatalf("newResetCode failed: %v", err)
		}
		if !sixDigits.MatchString(code) {
			t.Fatalf("unexpected code %q", code)
		}
	}
}

func TestLogMailerWritesCode(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewLogMailer(zap.New(core))

	at := time.Unix(1_700_000_600, 0)
	if err := m.SendPasswordResetCode(context.Background(), "alice@example.com", "042917", at); err != nil {
		t.Fatalf("SendPasswordResetCode failed: %v", err)
	}
	entries := logs.FilterMessage("password reset code").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["to"] != "alice@example.com" || fields["code"] != "042917" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
