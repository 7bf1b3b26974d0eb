package main

import (
	"context"
	"net/http"

	"github.com/MrEthical07/crowdauth"
	"github.com/MrEthical07/crowdauth/internal/config"
	"github.com/MrEthical07/crowdauth/internal/httpapi"
	"github.com/MrEthical07/crowdauth/internal/obs"
	"github.com/MrEthical07/crowdauth/internal/postgres"
	"github.com/MrEthical07/crowdauth/internal/rate"
	"github.com/MrEthical07/crowdauth/janitor"
	"github.com/MrEthical07/crowdauth/middleware"
	"github.com/MrEthical07/crowdauth/password"
	"github.com/MrEthical07/crowdauth/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type sessionBackend interface {
	session.Store
	janitor.SessionSweeper
	httpapi.Pinger
}

type app struct {
	engine  *crowdauth.Engine
	server  *http.Server
	janitor *janitor.Runner
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(cfg *config.Config, l *zap.Logger, db *postgres.DB) (*app, error) {
	a := &app{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var rdb *redis.Client
	if cfg.Session.Backend == config.BackendRedis || cfg.Throttle.Enable || cfg.PasswordReset.Enable {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	var sessions sessionBackend
	switch cfg.Session.Backend {
	case config.BackendRedis:
		sessions = session.NewRedisStore(rdb, cfg.Redis.Prefix)
	default:
		sessions = postgres.NewSessionStore(db)
	}

	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		a.close()
		return nil, err
	}

	users := postgres.NewUserRepo(db)
	b := crowdauth.New().
		WithConfig(cfg.EngineConfig()).
		WithSessionStore(sessions).
		WithUserProvider(users).
		WithPasswordVerifier(hasher).
		WithLogger(l).
		WithMetricsRegisterer(reg)

	if cfg.PasswordReset.Enable {
		b = b.WithRedis(rdb).WithMailer(crowdauth.NewLogMailer(l))
	}

	if cfg.Audit.Enable && cfg.Audit.Sink == config.AuditSinkKafka {
		sink := crowdauth.NewKafkaAuditSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, l)
		a.closers = append(a.closers, func() { _ = sink.Close() })
		b = b.WithAuditSink(sink)
	}

	engine, err := b.Build()
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = engine
	// Engine.Close flushes audit events, so it must run before the sink closes.
	a.closers = append(a.closers, engine.Close)

	var throttle httpapi.LoginThrottle
	if cfg.Throttle.Enable {
		limiter, err := rate.New(rdb, cfg.Throttle.AsRateConfig(cfg.Redis.Prefix))
		if err != nil {
			a.close()
			return nil, err
		}
		throttle = limiter
	}

	health := map[string]httpapi.Pinger{
		"postgres": db,
		"sessions": sessions,
	}
	if rdb != nil {
		health["redis"] = redisPinger{rdb}
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		a.close()
		return nil, err
	}

	router := httpapi.NewRouter(httpapi.Options{
		Auth: engine,
		Cookie: httpapi.CookieConfig{
			Name:     cfg.Cookie.Name,
			Domain:   cfg.Cookie.Domain,
			Path:     cfg.Cookie.Path,
			Secure:   cfg.Cookie.Secure,
			SameSite: cfg.Cookie.SameSiteMode(),
		},
		Throttle:       throttle,
		Logger:         l,
		Health:         health,
		Gatherer:       reg,
		TrustedProxies: proxies,
	})

	a.server = &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      obs.HTTPHandler(router, "crowdauth"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Janitor.Enable {
		a.janitor = janitor.New(l, sessions, postgres.NewCampaignRepo(db), cfg.Janitor.AsJanitorConfig(), reg)
	}

	return a, nil
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }
