package httpapi

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/MrEthical07/crowdauth"
	"github.com/MrEthical07/crowdauth/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Auth is the engine surface the HTTP handlers use.
type Auth interface {
	middleware.Authenticator
	Login(ctx context.Context, identifier, password string) (*crowdauth.LoginResult, error)
	Logout(ctx context.Context, subject string) error
	Signup(ctx context.Context, req crowdauth.SignupRequest) (*crowdauth.UserRecord, error)
	IdentifierAvailable(ctx context.Context, identifier string) (bool, error)
	RequestPasswordReset(ctx context.Context, identifier string) error
	VerifyPasswordResetCode(ctx context.Context, identifier, code string) error
	ResetPassword(ctx context.Context, identifier, code, newPassword string) error
}

var _ Auth = (*crowdauth.Engine)(nil)

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LoginThrottle limits repeated failed logins. *rate.Limiter implements it.
type LoginThrottle interface {
	CheckLogin(ctx context.Context, identifier, ip string) error
	FailLogin(ctx context.Context, identifier, ip string) error
	ResetLogin(ctx context.Context, identifier string) error
}

type CookieConfig struct {
	Name     string
	Domain   string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

type Options struct {
	Auth     Auth
	Cookie   CookieConfig
	Throttle LoginThrottle
	Logger   *zap.Logger
	Health   map[string]Pinger
	Gatherer prometheus.Gatherer
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix
}

type handlers struct {
	auth     Auth
	cookie   CookieConfig
	throttle LoginThrottle
	log      *zap.Logger
	health   map[string]Pinger
}

// NewRouter wires the authentication endpoints.
func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cookie := opts.Cookie
	if cookie.Name == "" {
		cookie.Name = middleware.DefaultRefreshCookie
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	if cookie.SameSite == 0 {
		cookie.SameSite = http.SameSiteLaxMode
	}

	h := &handlers{
		auth:     opts.Auth,
		cookie:   cookie,
		throttle: opts.Throttle,
		log:      log.With(zap.String("component", "httpapi")),
		health:   opts.Health,
	}

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(log, middleware.WithTrustedProxies(opts.TrustedProxies...)))

	r.HandleFunc("/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	r.HandleFunc("/signup", h.signup).Methods(http.MethodPost)
	r.HandleFunc("/signup/userMailCheck", h.mailCheck).Methods(http.MethodPost)

	r.HandleFunc("/pwCodeMailSend", h.sendResetCode).Methods(http.MethodPost)
	r.HandleFunc("/verifiCode", h.verifyResetCode).Methods(http.MethodPost)
	r.HandleFunc("/newPassword", h.newPassword).Methods(http.MethodPost)

	authn := middleware.Authenticate(opts.Auth,
		middleware.WithRefreshCookie(cookie.Name),
		middleware.WithLogger(log),
	)
	r.Handle("/auth", authn(http.HandlerFunc(h.authStatus))).Methods(http.MethodGet)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return r
}
