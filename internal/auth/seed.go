package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nerrad567/warden-core/internal/menu"
)

// seedPasswordBytes is the number of random bytes for a generated admin password.
const seedPasswordBytes = 16

// SeedDeps is what SeedAdmin writes through.
type SeedDeps struct {
	Service *Service
	Users   UserRepository
	Roles   RoleRepository
	Menus   MenuRepository
	Logger  *slog.Logger
}

// adminMenus is the menu tree granted to the admin role on first boot.
var adminMenus = []menu.Menu{
	{MenuKey: "admin", URL: "/admin", Title: "Administration"},
	{MenuKey: "admin.users", URL: "/admin/users", Title: "Users"},
	{MenuKey: "admin.roles", URL: "/admin/roles", Title: "Roles"},
	{MenuKey: "admin.menus", URL: "/admin/menus", Title: "Menus"},
}

// SeedAdmin creates the admin role, an admin account and the administration
// menu when the user table is empty. An empty password is replaced by a
// random one. It returns the password used, or "" if seeding was skipped.
func SeedAdmin(ctx context.Context, deps SeedDeps, userName, password string) (string, error) {
	count, err := deps.Users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		deps.Logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	if password == "" {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating seed password: %w", err)
		}
		password = hex.EncodeToString(b)
	}

	role, err := deps.Roles.GetByName(ctx, RoleAdmin)
	if errors.Is(err, ErrRoleNotFound) {
		role = &Role{RoleName: RoleAdmin, Comment: "Full administrative access"}
		if err := deps.Roles.Create(ctx, role); err != nil {
			return "", fmt.Errorf("creating admin role: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("loading admin role: %w", err)
	}

	admin := &User{UserName: userName, Name: "Administrator", IsActive: true}
	if err := deps.Service.CreateUser(ctx, admin, password); err != nil {
		return "", fmt.Errorf("creating admin user: %w", err)
	}
	if err := deps.Roles.SetUserRoles(ctx, admin.ID, []string{role.ID}); err != nil {
		return "", fmt.Errorf("assigning admin role: %w", err)
	}

	if err := seedAdminMenus(ctx, deps, role.ID); err != nil {
		return "", err
	}

	deps.Logger.Warn("seed admin account created",
		"user_name", userName,
		"action_required", "change this password immediately",
	)
	return password, nil
}

func seedAdminMenus(ctx context.Context, deps SeedDeps, roleID string) error {
	existing, err := deps.Menus.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	var rootID int64
	for i, tmpl := range adminMenus {
		m := tmpl
		order := i
		m.Order = &order
		if i > 0 {
			m.ParentID = &rootID
		}
		if err := deps.Menus.Create(ctx, &m); err != nil {
			return fmt.Errorf("creating menu %s: %w", m.MenuKey, err)
		}
		if i == 0 {
			rootID = m.ID
		}
		if err := deps.Roles.SetMenuRoles(ctx, m.ID, []string{roleID}); err != nil {
			return fmt.Errorf("granting menu %s: %w", m.MenuKey, err)
		}
	}
	return nil
}
