package crowdauth

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/crowdauth/internal/audit"
	"github.com/MrEthical07/crowdauth/internal/rate"
	"github.com/MrEthical07/crowdauth/jwt"
)

const minSecretBytes = 32

// Config is the full engine configuration. Build it with [DefaultConfig] and
// override fields; secrets have no default.
type Config struct {
	JWT           JWTConfig
	StoreTimeout  time.Duration
	Audit         AuditConfig
	PasswordReset PasswordResetConfig
}

// JWTConfig holds the two independent signing secrets and token lifetimes.
type JWTConfig struct {
	AccessSecret      []byte
	RefreshSecret     []byte
	AccessKeyID       string
	RefreshKeyID      string
	AccessVerifyKeys  map[string][]byte
	RefreshVerifyKeys map[string][]byte
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	Leeway            time.Duration
	MaxFutureIAT      time.Duration
}

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// PasswordResetConfig controls mailed reset codes. Enabling it requires
// [Builder.WithRedis] and [Builder.WithMailer].
type PasswordResetConfig struct {
	Enabled    bool
	CodeDigits int
	CodeTTL    time.Duration
	// MaxAttempts wrong guesses invalidate a code.
	MaxAttempts int
	// MaxRequests bounds code mails, and separately code checks, per
	// identifier within Window.
	MaxRequests int
	Window      time.Duration
	PerIP       bool
	KeyPrefix   string
}

// DefaultConfig returns a one-minute access / ten-minute refresh setup.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:       "crowdauth",
			AccessTTL:    time.Minute,
			RefreshTTL:   10 * time.Minute,
			MaxFutureIAT: time.Minute,
		},
		StoreTimeout: 2 * time.Second,
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		PasswordReset: PasswordResetConfig{
			CodeDigits:  6,
			CodeTTL:     10 * time.Minute,
			MaxAttempts: 5,
			MaxRequests: 5,
			Window:      15 * time.Minute,
			KeyPrefix:   "crowdauth",
		},
	}
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	if len(c.JWT.AccessSecret) < minSecretBytes {
		return fmt.Errorf("access secret must be at least %d bytes", minSecretBytes)
	}
	if len(c.JWT.RefreshSecret) < minSecretBytes {
		return fmt.Errorf("refresh secret must be at least %d bytes", minSecretBytes)
	}
	if bytes.Equal(c.JWT.AccessSecret, c.JWT.RefreshSecret) {
		return errors.New("access and refresh secrets must differ")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("access TTL must be shorter than refresh TTL")
	}
	if c.StoreTimeout < 0 {
		return errors.New("store timeout must not be negative")
	}
	if c.Audit.BufferSize < 0 {
		return errors.New("audit buffer size must not be negative")
	}
	if pr := c.PasswordReset; pr.Enabled {
		if pr.CodeDigits < 6 || pr.CodeDigits > 12 {
			return errors.New("password reset code digits must be between 6 and 12")
		}
		if pr.CodeTTL <= 0 || pr.MaxAttempts <= 0 {
			return errors.New("password reset code TTL and max attempts must be positive")
		}
		if pr.MaxRequests <= 0 || pr.Window <= 0 {
			return errors.New("password reset max requests and window must be positive")
		}
	}
	return nil
}

func (c Config) codecConfig(now func() time.Time) jwt.Config {
	return jwt.Config{
		Access: jwt.KeySet{
			Secret:     c.JWT.AccessSecret,
			KeyID:      c.JWT.AccessKeyID,
			VerifyKeys: c.JWT.AccessVerifyKeys,
		},
		Refresh: jwt.KeySet{
			Secret:     c.JWT.RefreshSecret,
			KeyID:      c.JWT.RefreshKeyID,
			VerifyKeys: c.JWT.RefreshVerifyKeys,
		},
		AccessTTL:    c.JWT.AccessTTL,
		RefreshTTL:   c.JWT.RefreshTTL,
		Issuer:       c.JWT.Issuer,
		Leeway:       c.JWT.Leeway,
		MaxFutureIAT: c.JWT.MaxFutureIAT,
		Now:          now,
	}
}

func (c Config) auditConfig() audit.Config {
	return audit.Config{
		Enabled:    c.Audit.Enabled,
		BufferSize: c.Audit.BufferSize,
		DropIfFull: c.Audit.DropIfFull,
	}
}

func (c Config) resetLimiterConfig() rate.ResetConfig {
	return rate.ResetConfig{
		Prefix:      c.PasswordReset.KeyPrefix,
		MaxRequests: c.PasswordReset.MaxRequests,
		Window:      c.PasswordReset.Window,
		PerIP:       c.PasswordReset.PerIP,
	}
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.AccessSecret = bytes.Clone(c.JWT.AccessSecret)
	out.JWT.RefreshSecret = bytes.Clone(c.JWT.RefreshSecret)
	out.JWT.AccessVerifyKeys = cloneKeys(c.JWT.AccessVerifyKeys)
	out.JWT.RefreshVerifyKeys = cloneKeys(c.JWT.RefreshVerifyKeys)
	return out
}

func cloneKeys(in map[string][]byte) map[string][]byte {
	if in == nil {
		return nil
	}
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = bytes.Clone(v)
	}
	return out
}
