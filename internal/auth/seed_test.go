package auth

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/nerrad567/warden-core/internal/security/hasher"
)

func newSeedDeps(t *testing.T, db *sql.DB) SeedDeps {
	t.Helper()

	h, _ := sharedCredential(t)
	resolver := NewResolver(NewPermissionStore(db))
	svc, err := NewService(ServiceDeps{
		Users:  NewUserRepository(db),
		Tokens: NewTokenRepository(db),
		Issuer: newTestIssuer(t, &fakeClock{now: time.Now().UTC()}, resolver, time.Minute),
		Roles:  resolver,
		Hasher: hasher.NewPool(h, 1),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return SeedDeps{
		Service: svc,
		Users:   NewUserRepository(db),
		Roles:   NewRoleRepository(db),
		Menus:   NewMenuRepository(db),
		Logger:  slog.Default(),
	}
}

func TestSeedAdmin_CreatesOnEmptyDB(t *testing.T) {
	db := testDB(t)
	deps := newSeedDeps(t, db)
	ctx := context.Background()

	password, err := SeedAdmin(ctx, deps, "admin", "")
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if len(password) != 2*seedPasswordBytes {
		t.Fatalf("generated password length = %d, want %d", len(password), 2*seedPasswordBytes)
	}

	if _, err := deps.Service.Login(ctx, "admin", password, ""); err != nil {
		t.Fatalf("generated password should log in: %v", err)
	}

	admin, err := deps.Users.FindUserByUserName(ctx, "admin")
	if err != nil {
		t.Fatalf("FindUserByUserName() error = %v", err)
	}
	resolver := NewResolver(NewPermissionStore(db))
	perms, err := resolver.Resolve(ctx, admin.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(perms.Roles) != 1 || perms.Roles[0].RoleName != RoleAdmin {
		t.Errorf("admin roles = %+v", perms.Roles)
	}
	if len(perms.Menus) != 1 || perms.Menus[0].MenuKey != "admin" {
		t.Fatalf("admin menu roots = %+v", perms.Menus)
	}
	if n := len(perms.Menus[0].Children); n != len(adminMenus)-1 {
		t.Errorf("admin menu children = %d, want %d", n, len(adminMenus)-1)
	}
}

func TestSeedAdmin_UsesGivenPassword(t *testing.T) {
	db := testDB(t)
	deps := newSeedDeps(t, db)
	ctx := context.Background()

	password, err := SeedAdmin(ctx, deps, "root", "chosen-password")
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password != "chosen-password" {
		t.Errorf("SeedAdmin() = %q, want the given password", password)
	}
	if _, err := deps.Service.Login(ctx, "root", "chosen-password", ""); err != nil {
		t.Errorf("Login() error = %v", err)
	}
}

func TestSeedAdmin_SkipsWhenUsersExist(t *testing.T) {
	db := testDB(t)
	deps := newSeedDeps(t, db)
	ctx := context.Background()

	seedTestUser(t, db, "existing")

	password, err := SeedAdmin(ctx, deps, "admin", "")
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password != "" {
		t.Error("SeedAdmin() should return empty password when users exist")
	}

	count, _ := deps.Users.Count(ctx)
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
	menus, _ := deps.Menus.ListAll(ctx)
	if len(menus) != 0 {
		t.Errorf("menus seeded despite skip: %d", len(menus))
	}
}

func TestSeedAdmin_ReusesExistingRole(t *testing.T) {
	db := testDB(t)
	deps := newSeedDeps(t, db)
	ctx := context.Background()

	existing := seedTestRole(t, db, RoleAdmin)

	if _, err := SeedAdmin(ctx, deps, "admin", "chosen-password"); err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	roles, _ := deps.Roles.List(ctx)
	if len(roles) != 1 || roles[0].ID != existing.ID {
		t.Errorf("roles = %+v, want only the existing admin role", roles)
	}
}

func TestSeedAdmin_UniquePasswords(t *testing.T) {
	ctx := context.Background()

	db1, db2 := testDB(t), testDB(t)
	pw1, _ := SeedAdmin(ctx, newSeedDeps(t, db1), "admin", "")
	pw2, _ := SeedAdmin(ctx, newSeedDeps(t, db2), "admin", "")

	if pw1 == pw2 {
		t.Error("seed passwords should be unique across instances")
	}
}
