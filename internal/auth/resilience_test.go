package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nerrad567/warden-core/internal/ratelimit"
	"github.com/nerrad567/warden-core/internal/security/hasher"
)

// Resilience tests cover storage failures and cancellation. They use the
// TestResilience_ prefix for easy filtering:
//
//	go test -run TestResilience -race ./internal/auth/...

var errStorageDown = errors.New("disk I/O error")

type downLimiter struct{}

func (downLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errStorageDown
}

func (downLimiter) Reset(context.Context, string) error { return errStorageDown }

// TestResilience_StorageErrorIsNotInvalidCredentials verifies that a failing
// user store surfaces as an internal error rather than a login denial.
func TestResilience_StorageErrorIsNotInvalidCredentials(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT .* FROM users WHERE username = \\?").
		WithArgs("alice").
		WillReturnError(errStorageDown)

	h, _ := sharedCredential(t)
	resolver := NewResolver(NewPermissionStore(db))
	svc, err := NewService(ServiceDeps{
		Users:  NewUserRepository(db),
		Tokens: NewTokenRepository(db),
		Issuer: newTestIssuer(t, newFakeClock(), resolver, time.Minute),
		Roles:  resolver,
		Hasher: hasher.NewPool(h, 1),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Login(context.Background(), "alice", testPassword, "")
	if !errors.Is(err, errStorageDown) {
		t.Fatalf("Login() error = %v, want wrapped storage error", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Error("storage failure must not look like bad credentials")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestResilience_RotationRollsBack verifies that a failed insert of the
// successor token rolls back the revocation of its predecessor.
func TestResilience_RotationRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = 1").
		WithArgs("rt-old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WillReturnError(errStorageDown)
	mock.ExpectRollback()

	repo := NewTokenRepository(db)
	next := &RefreshToken{ID: "rt-new", UserID: "usr-1", FamilyID: "fam-1", TokenHash: HashToken("new"), ExpiresAt: time.Now().Add(time.Hour)}

	err = repo.RotateRefreshToken(context.Background(), "rt-old", next)
	if !errors.Is(err, errStorageDown) {
		t.Fatalf("RotateRefreshToken() error = %v, want storage error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestResilience_RotationOfRevokedRowWritesNothing verifies that a lost race
// on the conditional revoke never reaches the insert.
func TestResilience_RotationOfRevokedRowWritesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = 1").
		WithArgs("rt-old").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	next := &RefreshToken{ID: "rt-new", UserID: "usr-1", FamilyID: "fam-1", TokenHash: HashToken("new"), ExpiresAt: time.Now().Add(time.Hour)}
	err = NewTokenRepository(db).RotateRefreshToken(context.Background(), "rt-old", next)
	if !errors.Is(err, ErrTokenReuse) {
		t.Fatalf("RotateRefreshToken() error = %v, want ErrTokenReuse", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestResilience_ResolverPropagatesStoreErrors verifies that a failed grant
// lookup is an error and never an empty (allow-nothing or allow-all) answer.
func TestResilience_ResolverPropagatesStoreErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("FROM roles").WillReturnError(errStorageDown)
	mock.ExpectQuery("FROM ui_elements").WillReturnError(errStorageDown)

	r := NewResolver(NewPermissionStore(db))
	p, err := r.Resolve(context.Background(), "usr-1")
	if !errors.Is(err, errStorageDown) {
		t.Fatalf("Resolve() error = %v, want storage error", err)
	}
	if p != nil {
		t.Errorf("Resolve() returned partial permissions: %+v", p)
	}
}

// TestResilience_LimiterDownFailsOpen verifies that logins continue while the
// rate limiter backend is unavailable.
func TestResilience_LimiterDownFailsOpen(t *testing.T) {
	h := newServiceHarness(t, downLimiter{})
	h.userWithRoles(t, "alice", "staff")

	if _, err := h.svc.Login(context.Background(), "alice", testPassword, ""); err != nil {
		t.Fatalf("Login() error = %v, want success with limiter down", err)
	}
}

// TestResilience_ContextCancellation_RepositoryOps verifies that repository
// operations respect context cancellation and return clean errors rather
// than panicking or leaving partial state.
func TestResilience_ContextCancellation_RepositoryOps(t *testing.T) {
	db := testDB(t)
	users := NewUserRepository(db)
	roles := NewRoleRepository(db)
	resolver := NewResolver(NewPermissionStore(db))
	_, cred := sharedCredential(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := users.List(ctx); err == nil {
		t.Error("List with cancelled context should return error")
	}
	if _, err := users.FindUserByUserName(ctx, "nonexistent"); err == nil || errors.Is(err, ErrUserNotFound) {
		t.Errorf("FindUserByUserName with cancelled context error = %v", err)
	}
	if _, err := users.Count(ctx); err == nil {
		t.Error("Count with cancelled context should return error")
	}
	if err := users.Create(ctx, &User{UserName: "cancel-test", IsActive: true}, cred); err == nil {
		t.Error("Create with cancelled context should return error")
	}
	if err := roles.SetUserRoles(ctx, "usr-any", nil); err == nil {
		t.Error("SetUserRoles with cancelled context should return error")
	}
	if _, err := resolver.Resolve(ctx, "usr-any"); err == nil {
		t.Error("Resolve with cancelled context should return error")
	}

	count, err := users.Count(context.Background())
	if err != nil || count != 0 {
		t.Errorf("cancelled Create left state behind: count=%d err=%v", count, err)
	}
}

// TestResilience_HashingHonoursCancellation verifies that a login waiting
// for a hashing slot gives up when its context ends.
func TestResilience_HashingHonoursCancellation(t *testing.T) {
	h := newServiceHarness(t, nil)
	h.userWithRoles(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Login(ctx, "alice", testPassword, "")
	if err == nil {
		t.Fatal("Login() with cancelled context should fail")
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("cancelled login reported as bad credentials: %v", err)
	}
}
