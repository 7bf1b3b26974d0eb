package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/crowdauth/jwt"
)

// Tokens is the codec surface the flows use.
type Tokens interface {
	IssueAccessToken(subject string) (string, error)
	IssueRefreshToken(subject string) (string, time.Time, error)
	Verify(token string, kind jwt.Kind) (string, error)
}

// Deps groups flow dependency sets. The engine builds this once and delegates
// each operation to the matching flow.
type Deps struct {
	Authenticate AuthenticateDeps
	Login        LoginDeps
	Logout       LogoutDeps
	// PasswordReset is zero when the engine has no reset code store.
	PasswordReset PasswordResetDeps
}

var _ Tokens = (*jwt.Codec)(nil)

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
