package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/warden-core/internal/security/hasher"
)

// CredentialStore is the read side the login flow needs.
type CredentialStore interface {
	FindUserByUserName(ctx context.Context, userName string) (*User, error)
	GetCredential(ctx context.Context, userID string) (hasher.Credential, error)
}

// UserRepository persists user accounts and their password credentials.
type UserRepository interface {
	CredentialStore
	Create(ctx context.Context, user *User, cred hasher.Credential) error
	GetByID(ctx context.Context, id string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, user *User) error
	UpdateCredential(ctx context.Context, id string, cred hasher.Credential) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

const (
	userColumns       = "id, username, name, email, is_active, created_at, updated_at"
	credentialColumns = "password_hash, password_salt, hash_algorithm, hash_iterations"
)

// SQLiteUserRepository is the users table. Credentials live on the same
// row but are only read through GetCredential.
type SQLiteUserRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewUserRepository wraps db.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db, now: time.Now}
}

// Create inserts user with cred, generating the ID when it is empty.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User, cred hasher.Credential) error {
	if !IsValidUsername(user.UserName) {
		return ErrInvalidUsername
	}
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}
	created, ts := stamp(r.now())

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+", "+credentialColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.UserName, user.Name, nullString(user.Email), boolToInt(user.IsActive), ts, ts,
		cred.Hash, cred.Salt, cred.Algorithm, cred.Iterations,
	)
	switch {
	case isUniqueViolation(err):
		return ErrUsernameExists
	case err != nil:
		return fmt.Errorf("creating user: %w", err)
	}
	user.CreatedAt, user.UpdatedAt = created, created
	return nil
}

func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getOne(ctx, "id", id)
}

func (r *SQLiteUserRepository) FindUserByUserName(ctx context.Context, userName string) (*User, error) {
	return r.getOne(ctx, "username", userName)
}

func (r *SQLiteUserRepository) getOne(ctx context.Context, column, value string) (*User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+" = ?", value) //nolint:gosec // column is a constant
	return scanUser(row)
}

// GetCredential loads the stored password credential for userID.
func (r *SQLiteUserRepository) GetCredential(ctx context.Context, userID string) (hasher.Credential, error) {
	var cred hasher.Credential
	err := r.db.QueryRowContext(ctx, "SELECT "+credentialColumns+" FROM users WHERE id = ?", userID).
		Scan(&cred.Hash, &cred.Salt, &cred.Algorithm, &cred.Iterations)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return hasher.Credential{}, ErrUserNotFound
	case err != nil:
		return hasher.Credential{}, fmt.Errorf("getting credential: %w", err)
	}
	return cred, nil
}

// List returns every account, oldest first.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, username")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Update writes the profile fields: name, email and is_active.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User) error {
	updated, ts := stamp(r.now())
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET name = ?, email = ?, is_active = ?, updated_at = ? WHERE id = ?",
		user.Name, nullString(user.Email), boolToInt(user.IsActive), ts, user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if err := expectOneRow(res, ErrUserNotFound); err != nil {
		return err
	}
	user.UpdatedAt = updated
	return nil
}

// UpdateCredential replaces the password credential. cred must carry a
// freshly generated salt.
func (r *SQLiteUserRepository) UpdateCredential(ctx context.Context, id string, cred hasher.Credential) error {
	_, ts := stamp(r.now())
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, password_salt = ?, hash_algorithm = ?, hash_iterations = ?, updated_at = ? WHERE id = ?",
		cred.Hash, cred.Salt, cred.Algorithm, cred.Iterations, ts, id,
	)
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	return expectOneRow(res, ErrUserNotFound)
}

// Delete removes the account. Role links, grants and refresh tokens cascade.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return expectOneRow(res, ErrUserNotFound)
}

func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func scanUser(s scanner) (*User, error) {
	var (
		u                    User
		email                sql.NullString
		active               int
		createdAt, updatedAt string
	)
	err := s.Scan(&u.ID, &u.UserName, &u.Name, &email, &active, &createdAt, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Email = email.String
	u.IsActive = active != 0
	u.CreatedAt = parseSQLTime(createdAt)
	u.UpdatedAt = parseSQLTime(updatedAt)
	return &u, nil
}
