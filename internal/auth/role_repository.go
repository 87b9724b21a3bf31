package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/warden-core/internal/infrastructure/database"
)

// RoleRepository defines role persistence and role assignment.
type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, id string) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	Delete(ctx context.Context, id string) error
	SetUserRoles(ctx context.Context, userID string, roleIDs []string) error
	SetMenuRoles(ctx context.Context, menuID int64, roleIDs []string) error
}

// SQLiteRoleRepository implements RoleRepository using SQLite.
type SQLiteRoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new SQLite-backed role repository.
func NewRoleRepository(db *sql.DB) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db}
}

// Create inserts a role. The ID is generated if empty.
func (r *SQLiteRoleRepository) Create(ctx context.Context, role *Role) error {
	if role.RoleName == "" {
		return fmt.Errorf("creating role: empty role name")
	}
	if role.ID == "" {
		role.ID = "rol-" + uuid.NewString()[:8]
	}

	created, now := stamp(time.Now())
	role.CreatedAt = created

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO roles (id, role_name, comment, created_at) VALUES (?, ?, ?, ?)",
		role.ID, role.RoleName, role.Comment, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRoleExists
		}
		return fmt.Errorf("creating role: %w", err)
	}
	return nil
}

// GetByID retrieves a role by ID.
func (r *SQLiteRoleRepository) GetByID(ctx context.Context, id string) (*Role, error) {
	return scanRole(r.db.QueryRowContext(ctx,
		"SELECT id, role_name, comment, created_at FROM roles WHERE id = ?", id))
}

// GetByName retrieves a role by its unique name.
func (r *SQLiteRoleRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	return scanRole(r.db.QueryRowContext(ctx,
		"SELECT id, role_name, comment, created_at FROM roles WHERE role_name = ?", name))
}

// List returns all roles ordered by name.
func (r *SQLiteRoleRepository) List(ctx context.Context) ([]Role, error) {
	return queryRoles(ctx, r.db, "SELECT id, role_name, comment, created_at FROM roles ORDER BY role_name")
}

// Delete removes a role. Its user and menu links cascade.
func (r *SQLiteRoleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM roles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	return expectOneRow(result, ErrRoleNotFound)
}

// SetUserRoles replaces the user's role set. Unknown role ids yield
// ErrRoleNotFound and leave the previous set in place.
func (r *SQLiteRoleRepository) SetUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "SELECT 1 FROM users WHERE id = ?", userID, ErrUserNotFound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("clearing user roles: %w", err)
		}
		for _, roleID := range dedupe(roleIDs) {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)", userID, roleID); err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
				}
				return fmt.Errorf("assigning role %s: %w", roleID, err)
			}
		}
		return nil
	})
}

// SetMenuRoles replaces the set of roles that may see menuID.
func (r *SQLiteRoleRepository) SetMenuRoles(ctx context.Context, menuID int64, roleIDs []string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "SELECT 1 FROM menus WHERE id = ?", menuID, ErrMenuNotFound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM menu_roles WHERE menu_id = ?", menuID); err != nil {
			return fmt.Errorf("clearing menu roles: %w", err)
		}
		for _, roleID := range dedupe(roleIDs) {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO menu_roles (menu_id, role_id) VALUES (?, ?)", menuID, roleID); err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
				}
				return fmt.Errorf("granting menu to role %s: %w", roleID, err)
			}
		}
		return nil
	})
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryRoles(ctx context.Context, q queryer, query string, args ...any) ([]Role, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return roles, nil
}

func scanRole(s scanner) (*Role, error) {
	var role Role
	var createdAt string
	if err := s.Scan(&role.ID, &role.RoleName, &role.Comment, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("scanning role: %w", err)
	}
	role.CreatedAt = parseSQLTime(createdAt)
	return &role, nil
}

// requireRow returns notFound when query yields no row.
func requireRow(ctx context.Context, q queryer, query string, arg any, notFound error) error {
	var one int
	if err := q.QueryRowContext(ctx, query, arg).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound
		}
		return fmt.Errorf("checking existence: %w", err)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
