package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/crowdauth"
	"github.com/MrEthical07/crowdauth/internal/obs"
	"go.uber.org/zap"
)

type resetRequest struct {
	UserMail     string `json:"userMail"`
	VerifiCode   string `json:"verifiCode"`
	UserPassword string `json:"userPassword"`
}

type sendCodeResponse struct {
	SendMailSuccess bool   `json:"sendMailSuccess"`
	Message         string `json:"message"`
}

type verifyCodeResponse struct {
	VerificationSuccess bool   `json:"verificationSuccess"`
	Message             string `json:"message"`
}

type newPasswordResponse struct {
	NewPasswordSuccess bool   `json:"newPasswordSuccess"`
	Message            string `json:"message"`
}

// resetStatus maps reset errors that are not the caller's fault.
func (h *handlers) resetStatus(r *http.Request, op string, err error) (int, string) {
	switch {
	case errors.Is(err, crowdauth.ErrPasswordResetRateLimited):
		return http.StatusTooManyRequests, "too many attempts"
	case errors.Is(err, crowdauth.ErrPasswordResetUnavailable):
		return http.StatusNotImplemented, "password reset is not enabled"
	default:
		obs.WithTrace(r.Context(), h.log).Error(op+" failed", zap.Error(err))
		return http.StatusInternalServerError, "server error"
	}
}

// sendResetCode mails a verification code to a registered address.
func (h *handlers) sendResetCode(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil || req.UserMail == "" {
		writeJSON(w, http.StatusBadRequest, sendCodeResponse{Message: "invalid request"})
		return
	}

	err := h.auth.RequestPasswordReset(r.Context(), req.UserMail)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sendCodeResponse{SendMailSuccess: true, Message: "verification code sent"})
	case errors.Is(err, crowdauth.ErrUserNotFound):
		writeJSON(w, http.StatusOK, sendCodeResponse{Message: "email is not registered"})
	default:
		status, msg := h.resetStatus(r, "reset code request", err)
		writeJSON(w, status, sendCodeResponse{Message: msg})
	}
}

func (h *handlers) verifyResetCode(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil || req.UserMail == "" || req.VerifiCode == "" {
		writeJSON(w, http.StatusBadRequest, verifyCodeResponse{Message: "invalid request"})
		return
	}

	err := h.auth.VerifyPasswordResetCode(r.Context(), req.UserMail, req.VerifiCode)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, verifyCodeResponse{VerificationSuccess: true, Message: "verification code matches"})
	case errors.Is(err, crowdauth.ErrResetCodeInvalid), errors.Is(err, crowdauth.ErrResetAttemptsExceeded):
		writeJSON(w, http.StatusOK, verifyCodeResponse{Message: "check the verification code"})
	default:
		status, msg := h.resetStatus(r, "reset code check", err)
		writeJSON(w, status, verifyCodeResponse{Message: msg})
	}
}

// newPassword requires the mailed code again, so the last step cannot be
// called on its own.
func (h *handlers) newPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil || req.UserMail == "" || req.VerifiCode == "" || req.UserPassword == "" {
		writeJSON(w, http.StatusBadRequest, newPasswordResponse{Message: "invalid request"})
		return
	}

	err := h.auth.ResetPassword(r.Context(), req.UserMail, req.VerifiCode, req.UserPassword)
	switch {
	case err == nil:
		http.SetCookie(w, h.expiredCookie())
		writeJSON(w, http.StatusOK, newPasswordResponse{NewPasswordSuccess: true, Message: "password changed"})
	case errors.Is(err, crowdauth.ErrPasswordPolicy):
		writeJSON(w, http.StatusBadRequest, newPasswordResponse{Message: err.Error()})
	case errors.Is(err, crowdauth.ErrResetCodeInvalid),
		errors.Is(err, crowdauth.ErrResetAttemptsExceeded),
		errors.Is(err, crowdauth.ErrUserNotFound):
		writeJSON(w, http.StatusOK, newPasswordResponse{Message: "password change failed"})
	default:
		status, msg := h.resetStatus(r, "password reset", err)
		writeJSON(w, status, newPasswordResponse{Message: msg})
	}
}
