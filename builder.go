package crowdauth

import (
	"errors"
	"time"

	"github.com/MrEthical07/crowdauth/internal/audit"
	"github.com/MrEthical07/crowdauth/internal/rate"
	"github.com/MrEthical07/crowdauth/internal/stores"
	"github.com/MrEthical07/crowdauth/jwt"
	"github.com/MrEthical07/crowdauth/password"
	"github.com/MrEthical07/crowdauth/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config     Config
	sessions   session.Store
	users      UserProvider
	passwords  PasswordVerifier
	auditSink  AuditSink
	logger     *zap.Logger
	registerer prometheus.Registerer
	now        func() time.Time
	redis      redis.UniversalClient
	mailer     Mailer

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration. Secret slices are copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSessionStore sets the refresh session backend. Required.
func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.sessions = s
	return b
}

// WithUserProvider sets the user lookup backend. Required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.users = up
	return b
}

// WithPasswordVerifier overrides the default argon2id/bcrypt hasher.
func (b *Builder) WithPasswordVerifier(pv PasswordVerifier) *Builder {
	b.passwords = pv
	return b
}

// WithRedis sets the client holding password reset codes and counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets how password reset codes reach the user.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetricsRegisterer enables Prometheus metrics on reg.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// WithClock overrides the time source used for token issuance, verification
// and audit timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a ready engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.sessions == nil {
		return nil, errors.New("session store required")
	}
	if b.users == nil {
		return nil, errors.New("user provider required")
	}
	if cfg.PasswordReset.Enabled {
		if b.redis == nil {
			return nil, errors.New("password reset requires a redis client")
		}
		if b.mailer == nil {
			return nil, errors.New("password reset requires a mailer")
		}
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	codec, err := jwt.NewCodec(cfg.codecConfig(now))
	if err != nil {
		return nil, err
	}

	passwords := b.passwords
	if passwords == nil {
		hasher, err := password.NewHasher(password.DefaultConfig())
		if err != nil {
			return nil, err
		}
		passwords = hasher
	}

	if cfg.PasswordReset.Enabled {
		if _, ok := passwords.(PasswordHasher); !ok {
			return nil, errors.New("password reset requires a password hasher")
		}
		if _, ok := b.users.(PasswordUpdater); !ok {
			return nil, errors.New("password reset requires a user provider that can update passwords")
		}
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(logger)
	}

	engine := &Engine{
		config:    cfg,
		codec:     codec,
		sessions:  b.sessions,
		users:     b.users,
		passwords: passwords,
		log:       logger.With(zap.String("component", "crowdauth")),
		now:       now,
	}
	if cfg.PasswordReset.Enabled {
		limiter, err := rate.NewResetLimiter(b.redis, cfg.resetLimiterConfig())
		if err != nil {
			return nil, err
		}
		engine.resets = stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.KeyPrefix)
		engine.resetLimiter = limiter
		engine.mailer = b.mailer
	}
	engine.audit = audit.NewDispatcher(cfg.auditConfig(), sink, logger)
	engine.metrics = NewMetrics(b.registerer)
	engine.metrics.registerAuditLoss(b.registerer, engine.audit.Dropped)
	engine.initFlowDeps()

	b.built = true

	return engine, nil
}
