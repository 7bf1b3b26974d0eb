package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrEthical07/crowdauth"
	"go.uber.org/zap"
)

const (
	DefaultRefreshHeader = "X-Refresh-Token"
	DefaultRefreshCookie = "refreshToken"
	DefaultSubjectParam  = "_id"
)

// Authenticator decides whether presented credentials are logged in.
// *crowdauth.Engine implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, creds crowdauth.Credentials) (crowdauth.Verdict, error)
}

var _ Authenticator = (*crowdauth.Engine)(nil)

// AuthState is attached to every request that passes the bearer check.
type AuthState struct {
	IsAuthenticated    bool
	Subject            string
	RenewedAccessToken string
}

type authStateContextKey struct{}

func AuthStateFromContext(ctx context.Context) (AuthState, bool) {
	st, ok := ctx.Value(authStateContextKey{}).(AuthState)
	return st, ok
}

type options struct {
	refreshHeader string
	refreshCookie string
	subjectParam  string
	logger        *zap.Logger
}

type Option func(*options)

func WithRefreshHeader(name string) Option {
	return func(o *options) { o.refreshHeader = name }
}

// WithRefreshCookie sets the cookie consulted when the refresh header is
// absent. An empty name disables the cookie fallback.
func WithRefreshCookie(name string) Option {
	return func(o *options) { o.refreshCookie = name }
}

// WithSubjectParam sets the query parameter carrying the claimed subject.
func WithSubjectParam(name string) Option {
	return func(o *options) { o.subjectParam = name }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Authenticate requires a bearer access token and runs the authentication
// decision for every request.
//
// A missing or non-bearer Authorization header is rejected with 401. Past
// that check the request always reaches next with an AuthState in its
// context, authenticated or not; handlers decide whether anonymous callers
// are acceptable. Store failures are answered with 500.
func Authenticate(a Authenticator, opts ...Option) func(http.Handler) http.Handler {
	o := options{
		refreshHeader: DefaultRefreshHeader,
		refreshCookie: DefaultRefreshCookie,
		subjectParam:  DefaultSubjectParam,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	log := o.logger.With(zap.String("component", "middleware.authenticate"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			token, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				log.Debug("bearer rejected",
					zap.String("request_id", crowdauth.RequestIDFromContext(r.Context())),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			verdict, err := a.Authenticate(r.Context(), crowdauth.Credentials{
				AccessToken:    token,
				RefreshToken:   o.refreshToken(r),
				ClaimedSubject: r.URL.Query().Get(o.subjectParam),
			})
			if err != nil {
				log.Error("authentication failed",
					zap.String("request_id", crowdauth.RequestIDFromContext(r.Context())),
					zap.Error(err),
				)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			st := AuthState{
				IsAuthenticated:    verdict.Authenticated,
				Subject:            verdict.Subject,
				RenewedAccessToken: verdict.RenewedAccessToken,
			}
			ctx := context.WithValue(r.Context(), authStateContextKey{}, st)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthenticated rejects requests whose AuthState is missing or
// unauthenticated. Mount it behind Authenticate on routes that must not
// serve anonymous callers.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := AuthStateFromContext(r.Context())
		if !ok || !st.IsAuthenticated {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (o *options) refreshToken(r *http.Request) string {
	if o.refreshHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(o.refreshHeader)); v != "" {
			return v
		}
	}
	if o.refreshCookie != "" {
		if c, err := r.Cookie(o.refreshCookie); err == nil {
			return c.Value
		}
	}
	return ""
}

func bearerToken(value string) (string, error) {
	const bearer = "Bearer "
	if value == "" {
		return "", fmt.Errorf("%w: missing", crowdauth.ErrHeaderMalformed)
	}
	if !strings.HasPrefix(value, bearer) {
		return "", fmt.Errorf("%w: not a bearer credential", crowdauth.ErrHeaderMalformed)
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", fmt.Errorf("%w: empty token", crowdauth.ErrHeaderMalformed)
	}

	return token, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
