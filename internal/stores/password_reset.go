package stores

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrResetNotFound         = errors.New("reset code not found")
	ErrResetCodeMismatch     = errors.New("reset code mismatch")
	ErrResetAttemptsExceeded = errors.New("reset attempts exceeded")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// ResetRecord is one outstanding password reset code. Only the SHA-256 of
// the code is stored.
type ResetRecord struct {
	Subject   string
	CodeHash  [32]byte
	ExpiresAt time.Time
	Attempts  int
}

// PasswordResetStore keeps at most one reset code per identifier in a Redis
// hash that expires with the code.
type PasswordResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string) *PasswordResetStore {
	if prefix == "" {
		prefix = "crowdauth"
	}
	return &PasswordResetStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PasswordResetStore) key(identifier string) string {
	return s.prefix + ":pwreset:" + identifier
}

// Save replaces any earlier code for identifier.
func (s *PasswordResetStore) Save(ctx context.Context, identifier string, rec ResetRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("reset ttl must be positive")
	}
	key := s.key(identifier)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"sub", rec.Subject,
			"code", hex.EncodeToString(rec.CodeHash[:]),
			"exp", rec.ExpiresAt.UnixMilli(),
			"att", rec.Attempts,
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

// Check compares codeHash with the stored code without consuming it. A
// mismatch counts against maxAttempts and the record is deleted once they
// run out.
func (s *PasswordResetStore) Check(ctx context.Context, identifier string, codeHash [32]byte, now time.Time, maxAttempts int) (*ResetRecord, error) {
	return s.compare(ctx, identifier, codeHash, now, maxAttempts, false)
}

// Consume is Check that deletes the record on a match, so a code resets the
// password at most once.
func (s *PasswordResetStore) Consume(ctx context.Context, identifier string, codeHash [32]byte, now time.Time, maxAttempts int) (*ResetRecord, error) {
	return s.compare(ctx, identifier, codeHash, now, maxAttempts, true)
}

// Get returns the stored record, mostly for tests and diagnostics.
func (s *PasswordResetStore) Get(ctx context.Context, identifier string) (*ResetRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(identifier)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return decodeResetRecord(fields)
}

func (s *PasswordResetStore) compare(ctx context.Context, identifier string, codeHash [32]byte, now time.Time, maxAttempts int, consume bool) (*ResetRecord, error) {
	const maxRetries = 4
	key := s.key(identifier)

	for i := 0; i < maxRetries; i++ {
		var matched *ResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			rec, err := decodeResetRecord(fields)
			if err != nil {
				return err
			}

			if !now.Before(rec.ExpiresAt) {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrResetNotFound
			}

			if subtle.ConstantTimeCompare(rec.CodeHash[:], codeHash[:]) != 1 {
				if rec.Attempts+1 >= maxAttempts {
					if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					}); err != nil {
						return err
					}
					return ErrResetAttemptsExceeded
				}
				// HINCRBY keeps the key's TTL.
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.HIncrBy(ctx, key, "att", 1)
					return nil
				}); err != nil {
					return err
				}
				return ErrResetCodeMismatch
			}

			if consume {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
			}
			matched = rec
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrResetNotFound),
				errors.Is(err, ErrResetCodeMismatch),
				errors.Is(err, ErrResetAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
		}
		return matched, nil
	}

	return nil, fmt.Errorf("%w: too much contention on %s", ErrResetRedisUnavailable, identifier)
}

func decodeResetRecord(fields map[string]string) (*ResetRecord, error) {
	if len(fields) == 0 {
		return nil, ErrResetNotFound
	}
	raw, err := hex.DecodeString(fields["code"])
	if err != nil || len(raw) != 32 {
		return nil, errors.New("corrupt reset record: code")
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt reset record: exp: %w", err)
	}
	att, err := strconv.Atoi(fields["att"])
	if err != nil {
		return nil, fmt.Errorf("corrupt reset record: att: %w", err)
	}

	rec := &ResetRecord{
		Subject:   fields["sub"],
		ExpiresAt: time.UnixMilli(exp),
		Attempts:  att,
	}
	copy(rec.CodeHash[:], raw)
	return rec, nil
}
