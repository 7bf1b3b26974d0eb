package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResetConfig tunes the password reset throttle. Every call counts, so a
// window allows MaxRequests code mails and MaxRequests code checks per key.
type ResetConfig struct {
	Prefix      string
	MaxRequests int
	Window      time.Duration
	PerIP       bool
}

// ResetLimiter bounds how often reset codes are mailed and checked.
type ResetLimiter struct {
	redis  redis.UniversalClient
	config ResetConfig
}

func NewResetLimiter(redisClient redis.UniversalClient, cfg ResetConfig) (*ResetLimiter, error) {
	if redisClient == nil {
		return nil, errors.New("rate: redis client is required")
	}
	if cfg.MaxRequests <= 0 || cfg.Window <= 0 {
		return nil, errors.New("rate: reset max requests and window must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "crowdauth"
	}
	return &ResetLimiter{redis: redisClient, config: cfg}, nil
}

// CheckRequest counts one code mail for identifier and ip.
func (l *ResetLimiter) CheckRequest(ctx context.Context, identifier, ip string) error {
	return l.enforce(ctx, "pwreset-req", identifier, ip)
}

// CheckConfirm counts one code check for identifier and ip.
func (l *ResetLimiter) CheckConfirm(ctx context.Context, identifier, ip string) error {
	return l.enforce(ctx, "pwreset-try", identifier, ip)
}

func (l *ResetLimiter) enforce(ctx context.Context, scope, identifier, ip string) error {
	keys := []string{l.config.Prefix + ":" + scope + ":" + strings.ToLower(strings.TrimSpace(identifier))}
	if l.config.PerIP && ip != "" {
		keys = append(keys, l.config.Prefix+":"+scope+"-ip:"+ip)
	}
	for _, key := range keys {
		count, err := fixedWindow(ctx, l.redis, key, l.config.Window)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxRequests) {
			return ErrRateLimited
		}
	}
	return nil
}

// fixedWindow increments key and starts its window on the first hit.
func fixedWindow(ctx context.Context, rdb redis.UniversalClient, key string, window time.Duration) (int64, error) {
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
