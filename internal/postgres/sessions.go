package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/crowdauth/session"
	"github.com/jackc/pgx/v5"
)

var _ session.Store = (*SessionStore)(nil)

// SessionStore keeps the refresh session on the user's own row. A CHECK
// constraint keeps refresh_token and refresh_expiry both set or both null.
type SessionStore struct {
	db *DB
}

func NewSessionStore(db *DB) *SessionStore { return &SessionStore{db: db} }

const (
	qSessionSave = `
UPDATE users
SET refresh_token  = $2,
    refresh_expiry = $3,
    updated_at     = NOW()
WHERE id = $1;`

	qSessionFind = `
SELECT refresh_token, refresh_expiry
FROM users
WHERE id = $1 AND refresh_token = $2;`

	qSessionClear = `
UPDATE users
SET refresh_token  = NULL,
    refresh_expiry = NULL,
    updated_at     = NOW()
WHERE id = $1 AND refresh_token IS NOT NULL;`

	qSessionSweep = `
UPDATE users
SET refresh_token  = NULL,
    refresh_expiry = NULL,
    updated_at     = NOW()
WHERE refresh_expiry <= $1;`
)

// Save overwrites the session of subject. An unknown subject yields
// session.ErrNotFound.
func (s *SessionStore) Save(ctx context.Context, subject, refreshToken string, expiry time.Time) error {
	if subject == "" || refreshToken == "" || expiry.IsZero() {
		return errors.New("session save: subject, token and expiry are required")
	}
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Pool.Exec(ctx, qSessionSave, subject, refreshToken, expiry.UTC())
	if err != nil {
		return fmt.Errorf("%w: session save: %v", session.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) FindByRefreshToken(ctx context.Context, subject, refreshToken string) (*session.Record, error) {
	if subject == "" || refreshToken == "" {
		return nil, session.ErrNotFound
	}
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	rec := session.Record{Subject: subject}
	if err := s.db.Pool.QueryRow(ctx, qSessionFind, subject, refreshToken).
		Scan(&rec.RefreshToken, &rec.RefreshExpiry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("%w: session find: %v", session.ErrStoreUnavailable, err)
	}
	return &rec, nil
}

func (s *SessionStore) Clear(ctx context.Context, subject string) error {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.Pool.Exec(ctx, qSessionClear, subject); err != nil {
		return fmt.Errorf("%w: session clear: %v", session.ErrStoreUnavailable, err)
	}
	return nil
}

// SweepExpired clears every session whose expiry is at or before now in a
// single conditional update.
func (s *SessionStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Pool.Exec(ctx, qSessionSweep, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: session sweep: %v", session.ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", session.ErrStoreUnavailable, err)
	}
	return nil
}
