package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/crowdauth"
	"github.com/MrEthical07/crowdauth/internal/obs"
	"github.com/MrEthical07/crowdauth/internal/rate"
	"github.com/MrEthical07/crowdauth/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

type loginRequest struct {
	UserMail     string `json:"userMail"`
	UserPassword string `json:"userPassword"`
}

type loginResponse struct {
	LoginSuccess bool   `json:"loginSuccess"`
	Message      string `json:"message,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	UserName     string `json:"userName,omitempty"`
	UserAddr     string `json:"userAddr,omitempty"`
	UserPhoneNum string `json:"userPhoneNum,omitempty"`
	UserMail     string `json:"userMail,omitempty"`
	ID           string `json:"_id,omitempty"`
	UserID       int64  `json:"userId,omitempty"`
	IsAdmin      bool   `json:"isAdmin"`
	IsLogin      bool   `json:"isLogin"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.UserMail == "" || req.UserPassword == "" {
		writeJSON(w, http.StatusBadRequest, loginResponse{Message: "invalid request"})
		return
	}

	ctx := r.Context()
	ip := crowdauth.ClientIPFromContext(ctx)
	if h.throttled(ctx, req.UserMail, ip) {
		writeJSON(w, http.StatusTooManyRequests, loginResponse{Message: "too many attempts"})
		return
	}

	res, err := h.auth.Login(ctx, req.UserMail, req.UserPassword)
	switch {
	case errors.Is(err, crowdauth.ErrInvalidCredentials):
		h.recordFailure(ctx, req.UserMail, ip)
		writeJSON(w, http.StatusOK, loginResponse{Message: "invalid email or password"})
		return
	case err != nil:
		obs.WithTrace(ctx, h.log).Error("login failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, loginResponse{Message: "server error"})
		return
	}

	h.resetFailures(ctx, req.UserMail)
	http.SetCookie(w, h.refreshCookie(res.RefreshToken, res.RefreshExpiry))
	u := res.User
	writeJSON(w, http.StatusOK, loginResponse{
		LoginSuccess: true,
		Message:      "login succeeded",
		AccessToken:  res.AccessToken,
		UserName:     u.Name,
		UserAddr:     u.Address,
		UserPhoneNum: u.Phone,
		UserMail:     u.Identifier,
		ID:           u.Subject,
		UserID:       u.PublicID,
		IsAdmin:      u.IsAdmin(),
		IsLogin:      true,
	})
}

// throttled fails open when the throttle backend is down.
func (h *handlers) throttled(ctx context.Context, identifier, ip string) bool {
	if h.throttle == nil {
		return false
	}
	err := h.throttle.CheckLogin(ctx, identifier, ip)
	switch {
	case err == nil:
		return false
	case errors.Is(err, rate.ErrRateLimited):
		return true
	default:
		h.log.Warn("login throttle unavailable", zap.Error(err))
		return false
	}
}

func (h *handlers) recordFailure(ctx context.Context, identifier, ip string) {
	if h.throttle == nil {
		return
	}
	if err := h.throttle.FailLogin(ctx, identifier, ip); err != nil {
		h.log.Warn("login throttle unavailable", zap.Error(err))
	}
}

func (h *handlers) resetFailures(ctx context.Context, identifier string) {
	if h.throttle == nil {
		return
	}
	if err := h.throttle.ResetLogin(ctx, identifier); err != nil {
		h.log.Warn("login throttle unavailable", zap.Error(err))
	}
}

type logoutRequest struct {
	ID string `json:"_id"`
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]bool{"logoutSuccess": false})
			return
		}
	}
	if req.ID == "" {
		req.ID = r.URL.Query().Get(middleware.DefaultSubjectParam)
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]bool{"logoutSuccess": false})
		return
	}

	err := h.auth.Logout(r.Context(), req.ID)
	switch {
	case errors.Is(err, crowdauth.ErrUserNotFound):
		writeJSON(w, http.StatusOK, map[string]bool{"logoutSuccess": false})
		return
	case err != nil:
		obs.WithTrace(r.Context(), h.log).Error("logout failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]bool{"logoutSuccess": false})
		return
	}

	http.SetCookie(w, h.expiredCookie())
	writeJSON(w, http.StatusOK, map[string]bool{"logoutSuccess": true})
}

type authResponse struct {
	IsLogin     bool   `json:"isLogin"`
	AccessToken string `json:"accessToken"`
}

func (h *handlers) authStatus(w http.ResponseWriter, r *http.Request) {
	st, _ := middleware.AuthStateFromContext(r.Context())
	writeJSON(w, http.StatusOK, authResponse{
		IsLogin:     st.IsAuthenticated,
		AccessToken: st.RenewedAccessToken,
	})
}

type signupRequest struct {
	UserName     string `json:"userName"`
	UserMail     string `json:"userMail"`
	UserPassword string `json:"userPassword"`
	UserPhoneNum string `json:"userPhoneNum"`
	UserAddr     string `json:"userAddr"`
}

type signupResponse struct {
	SignupSuccess bool   `json:"signupSuccess"`
	Message       string `json:"message,omitempty"`
}

func (h *handlers) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, signupResponse{Message: "invalid request"})
		return
	}

	_, err := h.auth.Signup(r.Context(), crowdauth.SignupRequest{
		Identifier: req.UserMail,
		Password:   req.UserPassword,
		Name:       req.UserName,
		Phone:      req.UserPhoneNum,
		Address:    req.UserAddr,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, signupResponse{SignupSuccess: true})
	case errors.Is(err, crowdauth.ErrAccountExists):
		writeJSON(w, http.StatusConflict, signupResponse{Message: "email already registered"})
	case errors.Is(err, crowdauth.ErrSignupInvalid):
		writeJSON(w, http.StatusBadRequest, signupResponse{Message: err.Error()})
	default:
		obs.WithTrace(r.Context(), h.log).Error("signup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, signupResponse{Message: "server error"})
	}
}

type mailCheckRequest struct {
	UserMail string `json:"userMail"`
}

// mailCheck answers userMailCheck=true when the address is still free.
func (h *handlers) mailCheck(w http.ResponseWriter, r *http.Request) {
	var req mailCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]bool{"userMailCheck": false})
		return
	}
	free, err := h.auth.IdentifierAvailable(r.Context(), req.UserMail)
	switch {
	case errors.Is(err, crowdauth.ErrSignupInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]bool{"userMailCheck": false})
	case err != nil:
		obs.WithTrace(r.Context(), h.log).Error("mail check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]bool{"userMailCheck": false})
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"userMailCheck": free})
	}
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	for name, p := range h.health {
		if err := p.Ping(ctx); err != nil {
			h.log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "dependency": name})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) refreshCookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.SameSite,
	}
}

func (h *handlers) expiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.SameSite,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
