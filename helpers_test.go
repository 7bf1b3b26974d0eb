package crowdauth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/crowdauth/password"
	"github.com/MrEthical07/crowdauth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Unix(1_700_000_000, 0)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockUserProvider struct {
	mu      sync.Mutex
	users   map[string]UserRecord
	nextID  int64
	updates int
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{users: map[string]UserRecord{}}
}

func (m *mockUserProvider) add(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u.PublicID = m.nextID
	m.users[u.Subject] = u
}

func (m *mockUserProvider) GetUserByIdentifier(_ context.Context, identifier string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Identifier == identifier {
			out := u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockUserProvider) GetUserByID(_ context.Context, subject string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[subject]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *mockUserProvider) CreateUser(_ context.Context, user UserRecord) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Identifier, user.Identifier) {
			return nil, ErrAccountExists
		}
	}
	m.nextID++
	user.PublicID = m.nextID
	m.users[user.Subject] = user
	return &user, nil
}

func (m *mockUserProvider) UpdatePasswordHash(_ context.Context, subject, encodedHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[subject]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = encodedHash
	m.users[subject] = u
	m.updates++
	return nil
}

func testHasher(t *testing.T) *password.Hasher {
	t.Helper()
	h, err := password.NewHasher(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessSecret = []byte("access-secret-for-tests-0123456789")
	cfg.JWT.RefreshSecret = []byte("refresh-secret-for-tests-0123456789")
	cfg.Audit.Enabled = false
	return cfg
}

type testEnv struct {
	engine *Engine
	clock  *testClock
	users  *mockUserProvider
	store  *session.RedisStore
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	hasher *password.Hasher
}

func newTestEnv(t *testing.T, opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		clock:  newTestClock(),
		users:  newMockUserProvider(),
		store:  session.NewRedisStore(rdb, "test"),
		mr:     mr,
		rdb:    rdb,
		hasher: testHasher(t),
	}

	b := New().
		WithConfig(testConfig()).
		WithSessionStore(env.store).
		WithUserProvider(env.users).
		WithPasswordVerifier(env.hasher).
		WithRedis(rdb).
		WithClock(env.clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) addUser(t *testing.T, subject, identifier, plain string) {
	t.Helper()
	hash, err := env.hasher.Hash(plain)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	env.users.add(UserRecord{
		Subject:      subject,
		Identifier:   identifier,
		PasswordHash: hash,
		Name:         "Test User",
	})
}
