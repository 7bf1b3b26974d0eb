package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordResetRoutes(t *testing.T) {
	s := newServer(t)
	access, cookie := s.login(t)

	rec := s.do(t, http.MethodPost, "/pwCodeMailSend", map[string]string{"userMail": testMail})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["sendMailSuccess"])
	code := s.mailer.code(testMail)
	require.Len(t, code, 6)

	rec = s.do(t, http.MethodPost, "/verifiCode", map[string]string{"userMail": testMail, "verifiCode": "not-it"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["verificationSuccess"])

	rec = s.do(t, http.MethodPost, "/verifiCode", map[string]string{"userMail": testMail, "verifiCode": code})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["verificationSuccess"])

	rec = s.do(t, http.MethodPost, "/newPassword", map[string]string{
		"userMail": testMail, "verifiCode": code, "userPassword": "a-brand-new-password",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["newPasswordSuccess"])
	cleared := refreshCookie(t, rec)
	assert.Equal(t, -1, cleared.MaxAge)

	// the old refresh session is gone, so an expired access token cannot renew
	assert.False(t, s.mr.Exists("test:sess:u-1"))
	s.clock.Advance(61 * time.Second)
	rec = s.do(t, http.MethodGet, "/auth?_id=u-1", nil, bearer(access), withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["isLogin"])

	rec = s.do(t, http.MethodPost, "/login", map[string]string{"userMail": testMail, "userPassword": testPassword})
	assert.Equal(t, false, decode(t, rec)["loginSuccess"])
	rec = s.do(t, http.MethodPost, "/login", map[string]string{"userMail": testMail, "userPassword": "a-brand-new-password"})
	assert.Equal(t, true, decode(t, rec)["loginSuccess"])
}

func TestPasswordResetUnknownMail(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/pwCodeMailSend", map[string]string{"userMail": "ghost@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["sendMailSuccess"])
	assert.Equal(t, "email is not registered", body["message"])
	assert.Empty(t, s.mailer.code("ghost@example.com"))
}

func TestNewPasswordRequiresCode(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/newPassword", map[string]string{"userMail": testMail, "userPassword": "a-brand-new-password"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/newPassword", map[string]string{
		"userMail": testMail, "verifiCode": "123456", "userPassword": "a-brand-new-password",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["newPasswordSuccess"])

	rec = s.do(t, http.MethodPost, "/login", map[string]string{"userMail": testMail, "userPassword": testPassword})
	assert.Equal(t, true, decode(t, rec)["loginSuccess"], "password must be unchanged")
}

func TestNewPasswordPolicyIs400(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/pwCodeMailSend", map[string]string{"userMail": testMail}).Code)

	rec := s.do(t, http.MethodPost, "/newPassword", map[string]string{
		"userMail": testMail, "verifiCode": s.mailer.code(testMail), "userPassword": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["newPasswordSuccess"])
}

func TestPasswordResetMailThrottle(t *testing.T) {
	s := newServer(t)

	for i := 0; i < 5; i++ {
		rec := s.do(t, http.MethodPost, "/pwCodeMailSend", map[string]string{"userMail": testMail})
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec := s.do(t, http.MethodPost, "/pwCodeMailSend", map[string]string{"userMail": testMail})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, false, decode(t, rec)["sendMailSuccess"])
}

func TestPasswordResetStoreDownIs500(t *testing.T) {
	s := newServer(t)
	s.mr.Close()

	rec := s.do(t, http.MethodPost, "/pwCodeMailSend", map[string]string{"userMail": testMail})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "server error", decode(t, rec)["message"])
}
