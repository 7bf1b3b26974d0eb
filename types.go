package crowdauth

import (
	"context"
	"time"
)

// Credentials is what a request presents for authentication. ClaimedSubject
// is the subject the caller says it is acting as.
type Credentials struct {
	AccessToken    string
	RefreshToken   string
	ClaimedSubject string
}

// Verdict is the outcome of Authenticate. RenewedAccessToken is set only when
// the access token had expired and a new one was issued from the refresh
// session.
type Verdict struct {
	Authenticated      bool
	Subject            string
	RenewedAccessToken string
}

// UserRecord is the user identity as seen by the auth core.
type UserRecord struct {
	Subject      string
	PublicID     int64
	Identifier   string
	PasswordHash string
	Name         string
	Phone        string
	Address      string
	Role         int
}

// IsAdmin reports whether the user holds any non-default role.
func (u *UserRecord) IsAdmin() bool {
	return u != nil && u.Role != 0
}

// UserProvider resolves users. Both methods return ErrUserNotFound for
// unknown users and wrap backend failures with ErrStoreUnavailable.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (*UserRecord, error)
	GetUserByID(ctx context.Context, subject string) (*UserRecord, error)
}

// UserCreator is implemented by user providers that support signup.
type UserCreator interface {
	CreateUser(ctx context.Context, user UserRecord) (*UserRecord, error)
}

// PasswordUpdater is implemented by user providers that can store a new
// password hash, either rehashed after login or set by a password reset.
type PasswordUpdater interface {
	UpdatePasswordHash(ctx context.Context, subject, encodedHash string) error
}

// Mailer delivers password reset codes to the account's email address.
type Mailer interface {
	SendPasswordResetCode(ctx context.Context, to, code string, expiresAt time.Time) error
}

// PasswordVerifier checks a plaintext password against a stored hash.
type PasswordVerifier interface {
	Verify(password, encodedHash string) (bool, error)
}

// PasswordHasher additionally produces new hashes.
type PasswordHasher interface {
	PasswordVerifier
	Hash(password string) (string, error)
	NeedsRehash(encodedHash string) bool
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User          *UserRecord
	AccessToken   string
	RefreshToken  string
	RefreshExpiry time.Time
}

// SignupRequest carries the fields accepted at account creation.
type SignupRequest struct {
	Identifier string
	Password   string
	Name       string
	Phone      string
	Address    string
}
