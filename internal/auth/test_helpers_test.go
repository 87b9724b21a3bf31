package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nerrad567/warden-core/internal/infrastructure/database"
	"github.com/nerrad567/warden-core/internal/menu"
	"github.com/nerrad567/warden-core/internal/security/hasher"
	"github.com/nerrad567/warden-core/migrations"
)

const testPassword = "test-password"

var (
	testHasherOnce sync.Once
	testHasher     *hasher.Hasher
	testCred       hasher.Credential
)

// sharedCredential hashes testPassword once per test binary.
func sharedCredential(t testing.TB) (*hasher.Hasher, hasher.Credential) {
	t.Helper()

	testHasherOnce.Do(func() {
		h, err := hasher.New(hasher.MinIterations)
		if err != nil {
			panic(err)
		}
		cred, err := h.NewCredential(testPassword)
		if err != nil {
			panic(err)
		}
		testHasher, testCred = h, cred
	})
	return testHasher, testCred
}

// testDB creates a temporary SQLite database with all migrations applied.
// The database file is cleaned up when the test completes.
func testDB(t testing.TB) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "warden-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// seedTestUser inserts an active user whose password is testPassword.
func seedTestUser(t testing.TB, db *sql.DB, username string) *User {
	t.Helper()

	_, cred := sharedCredential(t)
	user := &User{UserName: username, Name: username, IsActive: true}
	if err := NewUserRepository(db).Create(t.Context(), user, cred); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

func seedTestRole(t testing.TB, db *sql.DB, name string) *Role {
	t.Helper()

	role := &Role{RoleName: name}
	if err := NewRoleRepository(db).Create(t.Context(), role); err != nil {
		t.Fatalf("creating role %s: %v", name, err)
	}
	return role
}

func seedTestMenu(t testing.TB, db *sql.DB, id int64, key string, parent *int64) {
	t.Helper()

	m := &menu.Menu{ID: id, MenuKey: key, Title: key, URL: "/" + key, ParentID: parent}
	if err := NewMenuRepository(db).Create(t.Context(), m); err != nil {
		t.Fatalf("creating menu %s: %v", key, err)
	}
}

func seedTestElement(t testing.TB, db *sql.DB, key string) *UIElement {
	t.Helper()

	el := &UIElement{ElementKey: key, Name: key}
	if err := NewElementRepository(db).Create(t.Context(), el); err != nil {
		t.Fatalf("creating element %s: %v", key, err)
	}
	return el
}

func ptr[T any](v T) *T { return &v }
