package session

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldRefreshToken = "rt"
	fieldExpiry       = "exp"

	defaultSweepBatch = 500
)

// KEYS[1] expiry index, ARGV[1] now (unix ms), ARGV[2] batch size,
// ARGV[3] session key prefix. Returns {scanned, cleared, unindexed}.
const sweepExpiredScript = `
local now = tonumber(ARGV[1])
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
local cleared = 0
local unindexed = 0
for _, id in ipairs(ids) do
  local key = ARGV[3] .. id
  local exp = tonumber(redis.call("HGET", key, "exp") or "")
  if exp == nil then
    redis.call("ZREM", KEYS[1], id)
    unindexed = unindexed + 1
  elseif exp <= now then
    redis.call("DEL", key)
    redis.call("ZREM", KEYS[1], id)
    cleared = cleared + 1
    unindexed = unindexed + 1
  end
end
return {#ids, cleared, unindexed}
`

var sweepExpiredLua = redis.NewScript(sweepExpiredScript)

// RedisStore keeps each session in a hash keyed by subject and indexes
// expiries in a sorted set so sweeps never scan the keyspace.
//
// Keys carry no Redis TTL; expiry is enforced by SweepExpired so that the
// janitor remains the single place sessions disappear.
type RedisStore struct {
	redis      redis.UniversalClient
	prefix     string
	sweepBatch int
}

// NewRedisStore creates a [RedisStore]. prefix namespaces every key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "crowdauth"
	}
	return &RedisStore{
		redis:      client,
		prefix:     prefix,
		sweepBatch: defaultSweepBatch,
	}
}

func (s *RedisStore) keyPrefix() string {
	return s.prefix + ":sess:"
}

func (s *RedisStore) key(subject string) string {
	return s.keyPrefix() + subject
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":sess-exp"
}

// Save overwrites the subject's session.
func (s *RedisStore) Save(ctx context.Context, subject, refreshToken string, expiry time.Time) error {
	if err := validateSave(subject, refreshToken, expiry); err != nil {
		return err
	}
	expMillis := expiry.UnixMilli()

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(subject), fieldRefreshToken, refreshToken, fieldExpiry, expMillis)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(expMillis), Member: subject})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// FindByRefreshToken returns the session only when the stored token equals
// refreshToken exactly.
func (s *RedisStore) FindByRefreshToken(ctx context.Context, subject, refreshToken string) (*Record, error) {
	if subject == "" || refreshToken == "" {
		return nil, ErrNotFound
	}

	values, err := s.redis.HMGet(ctx, s.key(subject), fieldRefreshToken, fieldExpiry).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	stored, _ := values[0].(string)
	rawExp, _ := values[1].(string)
	if stored == "" || rawExp == "" {
		return nil, ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		return nil, ErrNotFound
	}
	expMillis, err := strconv.ParseInt(rawExp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt expiry for subject", ErrStoreUnavailable)
	}

	return &Record{
		Subject:       subject,
		RefreshToken:  stored,
		RefreshExpiry: time.UnixMilli(expMillis),
	}, nil
}

// Clear removes the subject's session. Clearing an absent session is not an
// error.
func (s *RedisStore) Clear(ctx context.Context, subject string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(subject))
		pipe.ZRem(ctx, s.indexKey(), subject)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// SweepExpired clears every session with expiry <= now in batches. Each
// batch runs as one script, so a session saved again between the index read
// and the delete is left alone.
func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	total := 0
	nowMillis := strconv.FormatInt(now.UnixMilli(), 10)
	for {
		res, err := sweepExpiredLua.Run(ctx, s.redis,
			[]string{s.indexKey()},
			nowMillis, s.sweepBatch, s.keyPrefix(),
		).Int64Slice()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if len(res) != 3 {
			return total, fmt.Errorf("%w: invalid sweep script response", ErrStoreUnavailable)
		}
		total += int(res[1])
		if res[0] < int64(s.sweepBatch) || res[2] == 0 {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
}

// Ping reports Redis availability.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
