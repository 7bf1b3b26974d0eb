package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/crowdauth"
	"github.com/jackc/pgx/v5"
)

var (
	_ crowdauth.UserProvider    = (*UserRepo)(nil)
	_ crowdauth.UserCreator     = (*UserRepo)(nil)
	_ crowdauth.PasswordUpdater = (*UserRepo)(nil)
)

// UserRepo reads and writes the users table for the auth engine.
type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const (
	userColumns = `id, user_id, email, password_hash, name, phone, address, role`

	qUserInsert = `
INSERT INTO users (id, email, password_hash, name, phone, address, role)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + userColumns + `;`

	qUserByID = `
SELECT ` + userColumns + `
FROM users
WHERE id = $1;`

	qUserByEmail = `
SELECT ` + userColumns + `
FROM users
WHERE email = $1;`

	qUserUpdatePassword = `
UPDATE users
SET password_hash = $2,
    updated_at    = NOW()
WHERE id = $1;`
)

func (r *UserRepo) GetUserByIdentifier(ctx context.Context, identifier string) (*crowdauth.UserRecord, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u crowdauth.UserRecord
	if err := scanUser(r.db.Pool.QueryRow(ctx, qUserByEmail, identifier), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, subject string) (*crowdauth.UserRecord, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u crowdauth.UserRecord
	if err := scanUser(r.db.Pool.QueryRow(ctx, qUserByID, subject), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts user; the public numeric id is assigned by the database.
func (r *UserRepo) CreateUser(ctx context.Context, user crowdauth.UserRecord) (*crowdauth.UserRecord, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var out crowdauth.UserRecord
	row := r.db.Pool.QueryRow(ctx, qUserInsert,
		user.Subject, user.Identifier, user.PasswordHash,
		user.Name, user.Phone, user.Address, user.Role,
	)
	if err := scanUser(row, &out); err != nil {
		if isUniqueViolation(err) {
			return nil, crowdauth.ErrAccountExists
		}
		return nil, err
	}
	return &out, nil
}

func (r *UserRepo) UpdatePasswordHash(ctx context.Context, subject, encodedHash string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, qUserUpdatePassword, subject, encodedHash)
	if err != nil {
		return fmt.Errorf("%w: user update: %v", crowdauth.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return crowdauth.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row, out *crowdauth.UserRecord) error {
	var role int16
	if err := row.Scan(
		&out.Subject, &out.PublicID, &out.Identifier, &out.PasswordHash,
		&out.Name, &out.Phone, &out.Address, &role,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crowdauth.ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("%w: scan user: %v", crowdauth.ErrStoreUnavailable, err)
	}
	out.Role = int(role)
	return nil
}
