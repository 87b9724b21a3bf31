package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nerrad567/warden-core/internal/menu"
)

// PermissionStore is the read side of the role, menu and UI element tables.
type PermissionStore interface {
	ListRolesForUser(ctx context.Context, userID string) ([]Role, error)
	// ListMenuRoleGrants returns the ids of menus granted to any of roleIDs.
	ListMenuRoleGrants(ctx context.Context, roleIDs []string) ([]int64, error)
	ListUIElementGrantsForUser(ctx context.Context, userID string) ([]UIElement, error)
	ListAllMenus(ctx context.Context) ([]menu.Menu, error)
}

// SQLitePermissionStore implements PermissionStore using SQLite.
type SQLitePermissionStore struct {
	db *sql.DB
}

// NewPermissionStore creates a new SQLite-backed permission store.
func NewPermissionStore(db *sql.DB) *SQLitePermissionStore {
	return &SQLitePermissionStore{db: db}
}

// ListRolesForUser returns the user's roles ordered by name.
func (s *SQLitePermissionStore) ListRolesForUser(ctx context.Context, userID string) ([]Role, error) {
	return queryRoles(ctx, s.db,
		`SELECT r.id, r.role_name, r.comment, r.created_at
		 FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = ?
		 ORDER BY r.role_name`, userID)
}

// ListMenuRoleGrants returns distinct menu ids visible to roleIDs.
func (s *SQLitePermissionStore) ListMenuRoleGrants(ctx context.Context, roleIDs []string) ([]int64, error) {
	if len(roleIDs) == 0 {
		return []int64{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roleIDs)), ",")
	args := make([]any, len(roleIDs))
	for i, id := range roleIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT menu_id FROM menu_roles WHERE role_id IN ("+placeholders+") ORDER BY menu_id", args...)
	if err != nil {
		return nil, fmt.Errorf("listing menu grants: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning menu grant: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating menu grants: %w", err)
	}
	return ids, nil
}

// ListUIElementGrantsForUser returns the elements granted directly to userID.
func (s *SQLitePermissionStore) ListUIElementGrantsForUser(ctx context.Context, userID string) ([]UIElement, error) {
	return queryElements(ctx, s.db,
		`SELECT e.id, e.element_key, e.name, e.type, e.description
		 FROM ui_elements e JOIN ui_element_user_permissions p ON p.element_id = e.id
		 WHERE p.user_id = ?
		 ORDER BY e.element_key`, userID)
}

// ListAllMenus returns the whole menu table.
func (s *SQLitePermissionStore) ListAllMenus(ctx context.Context) ([]menu.Menu, error) {
	return listMenus(ctx, s.db)
}
