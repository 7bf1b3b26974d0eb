package jwt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind selects which key set signs and verifies a token.
type Kind string

const (
	// KindAccess marks short-lived tokens presented on every request.
	KindAccess Kind = "access"
	// KindRefresh marks long-lived tokens that are persisted server-side.
	KindRefresh Kind = "refresh"
)

var (
	// ErrExpired is returned when a token is well-formed and correctly signed
	// but its expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalidSignature covers every other verification failure: malformed
	// input, wrong key, tampered payload, wrong kind or issuer.
	ErrInvalidSignature = errors.New("invalid token signature")
)

// KeySet holds the HMAC material for one token kind.
//
// Secret signs new tokens. When KeyID is set it is written to the kid header,
// and VerifyKeys (if non-empty) is consulted by kid during verification so
// tokens signed by a retired key keep verifying until they expire.
type KeySet struct {
	Secret     []byte
	KeyID      string
	VerifyKeys map[string][]byte
}

// Config is the explicitly constructed signing configuration. Access and
// Refresh must use different secrets.
type Config struct {
	Access       KeySet
	Refresh      KeySet
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Issuer       string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	Now          func() time.Time
}

// Claims is the payload carried by both token kinds. Only the subject
// identifies the caller; no role or permission data is embedded.
type Claims struct {
	Kind Kind `json:"knd"`
	jwt.RegisteredClaims
}

// Codec issues and verifies access and refresh tokens.
type Codec struct {
	config Config
}

const minSecretLen = 16

// NewCodec validates cfg and returns a ready codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, errors.New("access TTL must be shorter than refresh TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	for _, ks := range []struct {
		name string
		set  *KeySet
	}{{"access", &cfg.Access}, {"refresh", &cfg.Refresh}} {
		if err := validateKeySet(ks.set); err != nil {
			return nil, fmt.Errorf("%s keys: %w", ks.name, err)
		}
	}
	if bytes.Equal(cfg.Access.Secret, cfg.Refresh.Secret) {
		return nil, errors.New("access and refresh secrets must differ")
	}

	return &Codec{config: cfg}, nil
}

func validateKeySet(ks *KeySet) error {
	ks.KeyID = strings.TrimSpace(ks.KeyID)
	if len(ks.Secret) < minSecretLen {
		return fmt.Errorf("secret must be at least %d bytes", minSecretLen)
	}
	for kid, key := range ks.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return errors.New("verify key map contains empty kid")
		}
		if len(key) < minSecretLen {
			return fmt.Errorf("verify key for kid %q is too short", kid)
		}
	}
	if len(ks.VerifyKeys) > 0 {
		if ks.KeyID == "" {
			return errors.New("KeyID is required when VerifyKeys is set")
		}
		active, ok := ks.VerifyKeys[ks.KeyID]
		if !ok {
			return errors.New("KeyID is not present in VerifyKeys")
		}
		if !bytes.Equal(active, ks.Secret) {
			return errors.New("VerifyKeys entry for KeyID must equal Secret")
		}
	}
	return nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.config.RefreshTTL }

// IssueAccessToken signs a short-lived token for subject.
func (c *Codec) IssueAccessToken(subject string) (string, error) {
	token, _, err := c.issue(subject, KindAccess)
	return token, err
}

// IssueRefreshToken signs a long-lived token for subject and returns the
// expiry that must be persisted alongside it.
func (c *Codec) IssueRefreshToken(subject string) (string, time.Time, error) {
	return c.issue(subject, KindRefresh)
}

func (c *Codec) issue(subject string, kind Kind) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	ks, ttl := c.keys(kind)

	now := c.config.Now()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(ttl))
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.config.Issuer,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if ks.KeyID != "" {
		token.Header["kid"] = ks.KeyID
	}
	signed, err := token.SignedString(ks.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expiresAt.Time, nil
}

// Verify checks tokenStr against the key set of kind and returns its subject.
//
// The signature is checked first, so a tampered token that is also past its
// expiry yields ErrInvalidSignature, never ErrExpired.
func (c *Codec) Verify(tokenStr string, kind Kind) (string, error) {
	ks, _ := c.keys(kind)
	if ks == nil {
		return "", fmt.Errorf("%w: unknown token kind %q", ErrInvalidSignature, kind)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return verifyKey(ks, t)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidSignature
	}

	if claims.Kind != kind {
		return "", fmt.Errorf("%w: token kind %q", ErrInvalidSignature, claims.Kind)
	}
	if claims.Issuer != c.config.Issuer {
		return "", fmt.Errorf("%w: unexpected issuer", ErrInvalidSignature)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidSignature)
	}
	if claims.ExpiresAt == nil {
		return "", fmt.Errorf("%w: missing expiry", ErrInvalidSignature)
	}

	now := c.config.Now()
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(now.Add(c.config.MaxFutureIAT)) {
		return "", fmt.Errorf("%w: iat too far in the future", ErrInvalidSignature)
	}
	if !now.Before(claims.ExpiresAt.Time.Add(c.config.Leeway)) {
		return "", ErrExpired
	}

	return claims.Subject, nil
}

func (c *Codec) keys(kind Kind) (*KeySet, time.Duration) {
	switch kind {
	case KindAccess:
		return &c.config.Access, c.config.AccessTTL
	case KindRefresh:
		return &c.config.Refresh, c.config.RefreshTTL
	default:
		return nil, 0
	}
}

func verifyKey(ks *KeySet, t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(ks.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := ks.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if ks.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != ks.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	return ks.Secret, nil
}
