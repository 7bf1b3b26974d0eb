package crowdauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"
)

func TestLoginThenAuthenticateFastPath(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "  Alice@Example.com ", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if res.User == nil || res.User.Subject != "u-1" {
		t.Fatalf("expected user u-1, got %+v", res.User)
	}
	if want := env.clock.Now().Add(10 * time.Minute); !res.RefreshExpiry.Equal(want) {
		t.Fatalf("expected refresh expiry %v, got %v", want, res.RefreshExpiry)
	}

	// The session is persisted before Login returns.
	if _, err := env.store.FindByRefreshToken(ctx, "u-1", res.RefreshToken); err != nil {
		t.Fatalf("expected stored session: %v", err)
	}

	v, err := env.engine.Authenticate(ctx, Credentials{
		AccessToken:    res.AccessToken,
		RefreshToken:   res.RefreshToken,
		ClaimedSubject: "u-1",
	})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !v.Authenticated || v.Subject != "u-1" || v.RenewedAccessToken != "" {
		t.Fatalf("unexpected verdict %+v", v)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	if _, err := env.engine.Login(ctx, "alice@example.com", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "nobody@example.com", "correct-horse-battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	if env.mr.Exists("test:sess:u-1") {
		t.Fatal("failed login must not create a session")
	}
}

func TestAuthenticateRenewsExpiredAccessToken(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	env.clock.Advance(61 * time.Second)

	v, err := env.engine.Authenticate(ctx, Credentials{
		AccessToken:    res.AccessToken,
		RefreshToken:   res.RefreshToken,
		ClaimedSubject: "u-1",
	})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !v.Authenticated || v.Subject != "u-1" {
		t.Fatalf("expected renewal, got %+v", v)
	}
	if v.RenewedAccessToken == "" || v.RenewedAccessToken == res.AccessToken {
		t.Fatal("expected a fresh access token")
	}

	// The renewed token is accepted on the fast path.
	v, err = env.engine.Authenticate(ctx, Credentials{AccessToken: v.RenewedAccessToken, ClaimedSubject: "u-1"})
	if err != nil || !v.Authenticated || v.RenewedAccessToken != "" {
		t.Fatalf("expected fast path with renewed token, got %+v err=%v", v, err)
	}

	// The refresh token is not rotated and keeps working.
	if _, err := env.store.FindByRefreshToken(ctx, "u-1", res.RefreshToken); err != nil {
		t.Fatalf("expected refresh session to remain: %v", err)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	tampered := res.AccessToken[:len(res.AccessToken)-2] + "xx"

	cases := []struct {
		name    string
		creds   Credentials
		advance time.Duration
	}{
		{"empty access token", Credentials{RefreshToken: res.RefreshToken, ClaimedSubject: "u-1"}, 0},
		{"tampered access with valid refresh", Credentials{AccessToken: tampered, RefreshToken: res.RefreshToken, ClaimedSubject: "u-1"}, 0},
		{"claimed subject mismatch", Credentials{AccessToken: res.AccessToken, ClaimedSubject: "u-2"}, 0},
		{"claimed subject absent", Credentials{AccessToken: res.AccessToken}, 0},
		{"refresh used as access", Credentials{AccessToken: res.RefreshToken, ClaimedSubject: "u-1"}, 0},
		{"expired access without refresh", Credentials{AccessToken: res.AccessToken, ClaimedSubject: "u-1"}, 61 * time.Second},
		{"expired access with access as refresh", Credentials{AccessToken: res.AccessToken, RefreshToken: res.AccessToken, ClaimedSubject: "u-1"}, 0},
		{"refresh expired", Credentials{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken, ClaimedSubject: "u-1"}, 10 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env.clock.Advance(tc.advance)
			v, err := env.engine.Authenticate(ctx, tc.creds)
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if v.Authenticated {
				t.Fatalf("expected rejection, got %+v", v)
			}
		})
	}
}

func TestLogoutRevokesRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := env.engine.Logout(ctx, "u-1"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	// Access tokens stay valid until they expire.
	v, err := env.engine.Authenticate(ctx, Credentials{AccessToken: res.AccessToken, ClaimedSubject: "u-1"})
	if err != nil || !v.Authenticated {
		t.Fatalf("expected access token to outlive logout, got %+v err=%v", v, err)
	}

	env.clock.Advance(61 * time.Second)
	v, err = env.engine.Authenticate(ctx, Credentials{
		AccessToken:    res.AccessToken,
		RefreshToken:   res.RefreshToken,
		ClaimedSubject: "u-1",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if v.Authenticated {
		t.Fatal("expected renewal to fail after logout")
	}

	// Logging out again without a session is fine.
	if err := env.engine.Logout(ctx, "u-1"); err != nil {
		t.Fatalf("second Logout failed: %v", err)
	}
	if err := env.engine.Logout(ctx, "u-404"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSecondLoginReplacesSession(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	first, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.clock.Advance(time.Second)
	second, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	env.clock.Advance(61 * time.Second)
	v, err := env.engine.Authenticate(ctx, Credentials{AccessToken: first.AccessToken, RefreshToken: first.RefreshToken, ClaimedSubject: "u-1"})
	if err != nil || v.Authenticated {
		t.Fatalf("expected first session to be replaced, got %+v err=%v", v, err)
	}
	v, err = env.engine.Authenticate(ctx, Credentials{AccessToken: second.AccessToken, RefreshToken: second.RefreshToken, ClaimedSubject: "u-1"})
	if err != nil || !v.Authenticated {
		t.Fatalf("expected second session to renew, got %+v err=%v", v, err)
	}
}

func TestStoreUnavailableSurfacesAsError(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")
	ctx := context.Background()

	res, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.mr.Close()

	// Fast path never touches the store.
	v, err := env.engine.Authenticate(ctx, Credentials{AccessToken: res.AccessToken, ClaimedSubject: "u-1"})
	if err != nil || !v.Authenticated {
		t.Fatalf("expected fast path without store, got %+v err=%v", v, err)
	}

	env.clock.Advance(61 * time.Second)
	_, err = env.engine.Authenticate(ctx, Credentials{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken, ClaimedSubject: "u-1"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable on renewal, got %v", err)
	}

	if _, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable on login, got %v", err)
	}
	if err := env.engine.Logout(ctx, "u-1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable on logout, got %v", err)
	}
}

func TestSignupCreatesLoginableUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.engine.Signup(ctx, SignupRequest{
		Identifier: " Bob@Example.com",
		Password:   "bob-password-123",
		Name:       " Bob ",
		Phone:      "0100",
		Address:    "Main St",
	})
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	if user.Subject == "" || user.Identifier != "bob@example.com" || user.Name != "Bob" {
		t.Fatalf("unexpected user %+v", user)
	}
	if !strings.HasPrefix(user.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id hash, got %q", user.PasswordHash)
	}

	if _, err := env.engine.Login(ctx, "bob@example.com", "bob-password-123"); err != nil {
		t.Fatalf("Login after signup failed: %v", err)
	}

	free, err := env.engine.IdentifierAvailable(ctx, "BOB@example.com")
	if err != nil || free {
		t.Fatalf("expected identifier to be taken, free=%v err=%v", free, err)
	}
	free, err = env.engine.IdentifierAvailable(ctx, "dave@example.com")
	if err != nil || !free {
		t.Fatalf("expected identifier to be free, free=%v err=%v", free, err)
	}

	_, err = env.engine.Signup(ctx, SignupRequest{Identifier: "bob@example.com", Password: "another-password"})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	_, err = env.engine.Signup(ctx, SignupRequest{Identifier: "not-an-email", Password: "another-password"})
	if !errors.Is(err, ErrSignupInvalid) {
		t.Fatalf("expected ErrSignupInvalid, got %v", err)
	}
	_, err = env.engine.Signup(ctx, SignupRequest{Identifier: "carol@example.com", Password: "short"})
	if !errors.Is(err, ErrSignupInvalid) {
		t.Fatalf("expected ErrSignupInvalid for short password, got %v", err)
	}
}

func TestLoginRehashesLegacyBcrypt(t *testing.T) {
	env := newTestEnv(t)
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password-1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	env.users.add(UserRecord{Subject: "u-old", Identifier: "old@example.com", PasswordHash: string(legacy)})

	res, err := env.engine.Login(context.Background(), "old@example.com", "legacy-password-1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if env.users.updates != 1 {
		t.Fatalf("expected one hash update, got %d", env.users.updates)
	}
	stored, _ := env.users.GetUserByID(context.Background(), "u-old")
	if !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id hash after login, got %q", stored.PasswordHash)
	}
	if res.User.PasswordHash != stored.PasswordHash {
		t.Fatal("expected login result to carry the new hash")
	}
}

func TestAuditAndMetrics(t *testing.T) {
	sink := NewChannelAuditSink(16)
	reg := prometheus.NewRegistry()
	env := newTestEnv(t, func(b *Builder) {
		cfg := testConfig()
		cfg.Audit.Enabled = true
		b.WithConfig(cfg).WithAuditSink(sink).WithMetricsRegisterer(reg)
	})
	env.addUser(t, "u-1", "alice@example.com", "correct-horse-battery")

	ctx := WithRequestID(WithClientIP(context.Background(), "203.0.113.9"), "req-1")
	if _, err := env.engine.Login(ctx, "alice@example.com", "correct-horse-battery"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice@example.com", "nope-nope-nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	env.engine.Close()

	var got []AuditEvent
	for len(sink.Events()) > 0 {
		got = append(got, <-sink.Events())
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(got))
	}
	if got[0].EventType != AuditLoginSuccess || got[0].Subject != "u-1" {
		t.Fatalf("unexpected first event %+v", got[0])
	}
	if got[0].Metadata["ip"] != "203.0.113.9" || got[0].Metadata["request_id"] != "req-1" {
		t.Fatalf("expected request metadata, got %v", got[0].Metadata)
	}
	if got[1].EventType != AuditLoginFailure || got[1].Reason != "password_mismatch" {
		t.Fatalf("unexpected second event %+v", got[1])
	}

	if n := testutil.ToFloat64(env.engine.metrics.logins.WithLabelValues("success")); n != 1 {
		t.Fatalf("expected 1 successful login, got %v", n)
	}
	if n := testutil.ToFloat64(env.engine.metrics.logins.WithLabelValues("bad_credentials")); n != 1 {
		t.Fatalf("expected 1 rejected login, got %v", n)
	}
}

func TestBuildValidation(t *testing.T) {
	users := newMockUserProvider()

	if _, err := New().WithUserProvider(users).WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected missing session store to fail")
	}

	cfg := testConfig()
	cfg.JWT.RefreshSecret = cfg.JWT.AccessSecret
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected shared secret to fail")
	}

	cfg = testConfig()
	cfg.JWT.AccessSecret = []byte("too-short")
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected short secret to fail")
	}

	env := newTestEnv(t)
	b := New().WithConfig(testConfig()).WithSessionStore(env.store).WithUserProvider(users).WithPasswordVerifier(env.hasher)
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}
