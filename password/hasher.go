package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnknownHashFormat is returned for stored hashes that are neither argon2id
// PHC strings nor bcrypt.
var ErrUnknownHashFormat = errors.New("unknown password hash format")

// Hasher creates argon2id hashes and verifies both argon2id and the bcrypt
// hashes carried over from accounts created before argon2id was adopted.
type Hasher struct {
	argon *Argon2
}

// NewHasher builds a Hasher whose new hashes use cfg.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a}, nil
}

// Hash always produces an argon2id hash.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify dispatches on the stored hash format.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$"+algorithmID+"$"):
		return h.argon.Verify(password, encodedHash)
	case IsBcrypt(encodedHash):
		if len(password) > h.argon.config.MaxPasswordBytes {
			return false, ErrPasswordTooLong
		}
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
			return false, nil
		default:
			return false, err
		}
	default:
		return false, ErrUnknownHashFormat
	}
}

// NeedsRehash reports whether a successfully verified hash should be
// replaced: every bcrypt hash, and argon2id hashes below current cost.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	if IsBcrypt(encodedHash) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encodedHash)
	return err == nil && upgrade
}

// IsBcrypt reports whether encodedHash uses a bcrypt prefix.
func IsBcrypt(encodedHash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encodedHash, prefix) {
			return true
		}
	}
	return false
}
