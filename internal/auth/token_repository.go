package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/warden-core/internal/infrastructure/database"
)

// TokenRepository defines the interface for refresh token persistence.
type TokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByID(ctx context.Context, id string) (*RefreshToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	RevokeFamily(ctx context.Context, familyID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	RotateRefreshToken(ctx context.Context, oldID string, newToken *RefreshToken) error
	ListActiveByUser(ctx context.Context, userID string) ([]RefreshToken, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewTokenRepository creates a new SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db, now: time.Now}
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
// Raw refresh tokens are never stored.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

const refreshTokenColumns = "id, user_id, family_id, token_hash, device_info, expires_at, revoked, created_at"

// Create inserts a new refresh token. The ID and family are generated if empty.
func (r *SQLiteTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	if err := insertRefreshToken(ctx, r.db, token, r.now()); err != nil {
		return fmt.Errorf("creating refresh token: %w", err)
	}
	return nil
}

// GetByID retrieves a refresh token by its ID (the token's jti).
func (r *SQLiteTokenRepository) GetByID(ctx context.Context, id string) (*RefreshToken, error) {
	return scanRefreshToken(r.db.QueryRowContext(ctx,
		"SELECT "+refreshTokenColumns+" FROM refresh_tokens WHERE id = ?", id))
}

// GetByTokenHash retrieves a refresh token by its SHA-256 hash.
func (r *SQLiteTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	return scanRefreshToken(r.db.QueryRowContext(ctx,
		"SELECT "+refreshTokenColumns+" FROM refresh_tokens WHERE token_hash = ?", tokenHash))
}

// RevokeFamily marks all tokens in a family as revoked. Used on logout and
// when a consumed token is presented again.
func (r *SQLiteTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE family_id = ?", familyID)
	if err != nil {
		return fmt.Errorf("revoking token family: %w", err)
	}
	return nil
}

// RevokeAllForUser marks all refresh tokens for a user as revoked.
// Used after a password change.
func (r *SQLiteTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("revoking all tokens for user: %w", err)
	}
	return nil
}

// RotateRefreshToken revokes oldID and inserts newToken in one transaction.
// If oldID was already revoked by a concurrent rotation nothing is written
// and ErrTokenReuse is returned.
func (r *SQLiteTokenRepository) RotateRefreshToken(ctx context.Context, oldID string, newToken *RefreshToken) error {
	now := r.now()
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked = 1 WHERE id = ? AND revoked = 0", oldID)
		if err != nil {
			return fmt.Errorf("revoking old token: %w", err)
		}
		if err := expectOneRow(result, ErrTokenReuse); err != nil {
			return err
		}
		if err := insertRefreshToken(ctx, tx, newToken, now); err != nil {
			return fmt.Errorf("creating new token: %w", err)
		}
		return nil
	})
}

// ListActiveByUser returns all non-revoked, non-expired tokens for a user.
func (r *SQLiteTokenRepository) ListActiveByUser(ctx context.Context, userID string) ([]RefreshToken, error) {
	now := sqlTime(r.now())

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+refreshTokenColumns+`
		 FROM refresh_tokens
		 WHERE user_id = ? AND revoked = 0 AND expires_at > ?
		 ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("listing active tokens: %w", err)
	}
	defer rows.Close()

	tokens := []RefreshToken{}
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tokens: %w", err)
	}
	return tokens, nil
}

// DeleteExpired removes tokens that have expired and returns how many went.
func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := sqlTime(r.now())

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, ex execer, token *RefreshToken, now time.Time) error {
	if token.ID == "" {
		token.ID = "rt-" + uuid.NewString()
	}
	if token.FamilyID == "" {
		token.FamilyID = uuid.NewString()
	}

	createdAt, created := stamp(now)
	token.CreatedAt = createdAt

	_, err := ex.ExecContext(ctx,
		`INSERT INTO refresh_tokens (`+refreshTokenColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID, token.UserID, token.FamilyID, token.TokenHash,
		nullString(token.DeviceInfo),
		sqlTime(token.ExpiresAt),
		boolToInt(token.Revoked), created,
	)
	return err
}

func scanRefreshToken(s scanner) (*RefreshToken, error) {
	var t RefreshToken
	var deviceInfo sql.NullString
	var revoked int
	var expiresAt, createdAt string

	err := s.Scan(&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash, &deviceInfo,
		&expiresAt, &revoked, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshNotFound
		}
		return nil, fmt.Errorf("scanning refresh token: %w", err)
	}

	t.Revoked = revoked != 0
	t.DeviceInfo = deviceInfo.String
	t.ExpiresAt = parseSQLTime(expiresAt)
	t.CreatedAt = parseSQLTime(createdAt)

	return &t, nil
}
