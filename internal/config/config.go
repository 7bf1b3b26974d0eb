package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/crowdauth"
	"github.com/MrEthical07/crowdauth/internal/obs"
	"github.com/MrEthical07/crowdauth/internal/postgres"
	"github.com/MrEthical07/crowdauth/internal/rate"
	"github.com/MrEthical07/crowdauth/janitor"
	"github.com/MrEthical07/crowdauth/middleware"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	// TrustedProxies lists CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type DB struct {
	DSN               string        `mapstructure:"dsn"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

func (d *DB) AsPostgresConfig() postgres.Config {
	return postgres.Config{
		URL:               d.DSN,
		MaxConns:          d.MaxConns,
		MinConns:          d.MinConns,
		MaxConnLifetime:   d.MaxConnLifetime,
		MaxConnIdleTime:   d.MaxConnIdleTime,
		HealthCheckPeriod: d.HealthCheckPeriod,
		QueryTimeout:      d.QueryTimeout,
	}
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Session selects where refresh sessions live: "postgres" keeps them on the
// user row, "redis" in a separate keyspace.
type Session struct {
	Backend string `mapstructure:"backend"`
}

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Auth struct {
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	AccessKeyID   string        `mapstructure:"access_key_id"`
	RefreshKeyID  string        `mapstructure:"refresh_key_id"`
	Issuer        string        `mapstructure:"issuer"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	Leeway        time.Duration `mapstructure:"leeway"`
	StoreTimeout  time.Duration `mapstructure:"store_timeout"`
}

// Throttle limits failed logins; it needs Redis regardless of the session
// backend.
type Throttle struct {
	Enable      bool          `mapstructure:"enable"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
	PerIP       bool          `mapstructure:"per_ip"`
}

func (t *Throttle) AsRateConfig(prefix string) rate.Config {
	return rate.Config{Prefix: prefix, MaxAttempts: t.MaxAttempts, Window: t.Window, PerIP: t.PerIP}
}

// PasswordReset enables the mailed-code reset routes. Codes and counters
// live in Redis. Only the "log" mailer ships; it writes codes to the log.
type PasswordReset struct {
	Enable      bool          `mapstructure:"enable"`
	Mailer      string        `mapstructure:"mailer"`
	CodeDigits  int           `mapstructure:"code_digits"`
	CodeTTL     time.Duration `mapstructure:"code_ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
	PerIP       bool          `mapstructure:"per_ip"`
}

const MailerLog = "log"

type Cookie struct {
	Name     string `mapstructure:"name"`
	Domain   string `mapstructure:"domain"`
	Path     string `mapstructure:"path"`
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"`
}

// SameSiteMode maps the configured value; anything unknown is Lax.
func (c *Cookie) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

type Janitor struct {
	Enable       bool          `mapstructure:"enable"`
	Interval     time.Duration `mapstructure:"interval"`
	SweepTimeout time.Duration `mapstructure:"sweep_timeout"`
}

func (j *Janitor) AsJanitorConfig() janitor.Config {
	return janitor.Config{Interval: j.Interval, SweepTimeout: j.SweepTimeout}
}

type Audit struct {
	Enable       bool     `mapstructure:"enable"`
	Sink         string   `mapstructure:"sink"`
	BufferSize   int      `mapstructure:"buffer_size"`
	DropIfFull   bool     `mapstructure:"drop_if_full"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

const (
	AuditSinkLog   = "log"
	AuditSinkKafka = "kafka"
)

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

type Config struct {
	App      App      `mapstructure:"app"`
	Server   Server   `mapstructure:"server"`
	DB       DB       `mapstructure:"db"`
	Redis    Redis    `mapstructure:"redis"`
	Session  Session  `mapstructure:"session"`
	Auth     Auth     `mapstructure:"auth"`
	Cookie   Cookie   `mapstructure:"cookie"`
	Throttle Throttle `mapstructure:"throttle"`
	Janitor  Janitor  `mapstructure:"janitor"`
	Audit    Audit    `mapstructure:"audit"`
	Log      Log      `mapstructure:"log"`
	OTEL     OTEL     `mapstructure:"otel"`

	PasswordReset PasswordReset `mapstructure:"password_reset"`
}

func (c *Config) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		App:    c.App.Name,
		Env:    c.App.Env,
		Ver:    c.App.Version,
	}
}

func (c *Config) AsOTELConfig() obs.OTELConfig {
	return obs.OTELConfig{
		Enable:      c.OTEL.Enable,
		Endpoint:    c.OTEL.OTLPEndpoint,
		ServiceName: c.OTEL.ServiceName,
		SampleRatio: c.OTEL.SampleRatio,
	}
}

// EngineConfig converts the auth and audit sections into the engine's
// configuration.
func (c *Config) EngineConfig() crowdauth.Config {
	ec := crowdauth.DefaultConfig()
	ec.JWT.AccessSecret = []byte(c.Auth.AccessSecret)
	ec.JWT.RefreshSecret = []byte(c.Auth.RefreshSecret)
	ec.JWT.AccessKeyID = c.Auth.AccessKeyID
	ec.JWT.RefreshKeyID = c.Auth.RefreshKeyID
	ec.JWT.Issuer = c.Auth.Issuer
	ec.JWT.AccessTTL = c.Auth.AccessTTL
	ec.JWT.RefreshTTL = c.Auth.RefreshTTL
	ec.JWT.Leeway = c.Auth.Leeway
	ec.StoreTimeout = c.Auth.StoreTimeout
	ec.Audit = crowdauth.AuditConfig{
		Enabled:    c.Audit.Enable,
		BufferSize: c.Audit.BufferSize,
		DropIfFull: c.Audit.DropIfFull,
	}
	ec.PasswordReset = crowdauth.PasswordResetConfig{
		Enabled:     c.PasswordReset.Enable,
		CodeDigits:  c.PasswordReset.CodeDigits,
		CodeTTL:     c.PasswordReset.CodeTTL,
		MaxAttempts: c.PasswordReset.MaxAttempts,
		MaxRequests: c.PasswordReset.MaxRequests,
		Window:      c.PasswordReset.Window,
		PerIP:       c.PasswordReset.PerIP,
		KeyPrefix:   c.Redis.Prefix,
	}
	return ec
}

// Validate checks cross-field rules that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Session.Backend {
	case BackendPostgres, BackendRedis:
	default:
		return ErrConfig(fmt.Sprintf("session.backend must be %q or %q", BackendPostgres, BackendRedis))
	}
	if c.DB.DSN == "" {
		return ErrConfig("db.dsn is required")
	}
	if _, err := middleware.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return ErrConfig("server.trusted_proxies: " + err.Error())
	}
	if c.Session.Backend == BackendRedis && c.Redis.Addr == "" {
		return ErrConfig("redis.addr is required for the redis session backend")
	}
	if c.Throttle.Enable {
		if c.Redis.Addr == "" {
			return ErrConfig("redis.addr is required for the login throttle")
		}
		if c.Throttle.MaxAttempts <= 0 || c.Throttle.Window <= 0 {
			return ErrConfig("throttle.max_attempts and throttle.window must be > 0")
		}
	}
	if c.PasswordReset.Enable {
		if c.Redis.Addr == "" {
			return ErrConfig("redis.addr is required for password reset")
		}
		if c.PasswordReset.Mailer != MailerLog {
			return ErrConfig(fmt.Sprintf("password_reset.mailer must be %q", MailerLog))
		}
	}
	if c.Audit.Enable && c.Audit.Sink == AuditSinkKafka && (len(c.Audit.KafkaBrokers) == 0 || c.Audit.KafkaTopic == "") {
		return ErrConfig("audit.kafka_brokers and audit.kafka_topic are required for the kafka audit sink")
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return ErrConfig("auth: " + err.Error())
	}
	return nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
