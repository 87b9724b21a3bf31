package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestRefreshToken(userID, raw string, ttl time.Duration) *RefreshToken {
	return &RefreshToken{
		UserID:    userID,
		TokenHash: HashToken(raw),
		ExpiresAt: time.Now().Add(ttl),
	}
}

func TestTokenRepository_CreateAndGet(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "tokenuser")
	repo := NewTokenRepository(db)
	ctx := context.Background()

	token := newTestRefreshToken(user.ID, "raw-refresh-token", 7*24*time.Hour)
	token.DeviceInfo = "Chrome on macOS"
	if err := repo.Create(ctx, token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if token.ID == "" || token.FamilyID == "" {
		t.Fatalf("Create() should generate ID and FamilyID, got %+v", token)
	}

	got, err := repo.GetByID(ctx, token.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.UserID != user.ID || got.DeviceInfo != "Chrome on macOS" || got.Revoked {
		t.Errorf("GetByID() = %+v", got)
	}

	byHash, err := repo.GetByTokenHash(ctx, HashToken("raw-refresh-token"))
	if err != nil {
		t.Fatalf("GetByTokenHash() error = %v", err)
	}
	if byHash.ID != token.ID {
		t.Errorf("GetByTokenHash() ID = %q, want %q", byHash.ID, token.ID)
	}

	if _, err := repo.GetByID(ctx, "rt-missing"); !errors.Is(err, ErrRefreshNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrRefreshNotFound", err)
	}
}

func TestTokenRepository_RevokeFamily(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "familyuser")
	repo := NewTokenRepository(db)
	ctx := context.Background()

	first := newTestRefreshToken(user.ID, "fam-1", time.Hour)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second := newTestRefreshToken(user.ID, "fam-2", time.Hour)
	second.FamilyID = first.FamilyID
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	other := newTestRefreshToken(user.ID, "other", time.Hour)
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.RevokeFamily(ctx, first.FamilyID); err != nil {
		t.Fatalf("RevokeFamily() error = %v", err)
	}

	for _, id := range []string{first.ID, second.ID} {
		got, _ := repo.GetByID(ctx, id)
		if !got.Revoked {
			t.Errorf("token %s should be revoked", id)
		}
	}
	got, _ := repo.GetByID(ctx, other.ID)
	if got.Revoked {
		t.Error("token from another family should not be revoked")
	}
}

func TestTokenRepository_RevokeAllForUser(t *testing.T) {
	db := testDB(t)
	alice := seedTestUser(t, db, "alice")
	bob := seedTestUser(t, db, "bob")
	repo := NewTokenRepository(db)
	ctx := context.Background()

	for i, u := range []*User{alice, alice, bob} {
		if err := repo.Create(ctx, newTestRefreshToken(u.ID, string(rune('a'+i)), time.Hour)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	if err := repo.RevokeAllForUser(ctx, alice.ID); err != nil {
		t.Fatalf("RevokeAllForUser() error = %v", err)
	}

	active, _ := repo.ListActiveByUser(ctx, alice.ID)
	if len(active) != 0 {
		t.Errorf("alice has %d active tokens, want 0", len(active))
	}
	active, _ = repo.ListActiveByUser(ctx, bob.ID)
	if len(active) != 1 {
		t.Errorf("bob has %d active tokens, want 1", len(active))
	}
}

func TestTokenRepository_RotateRefreshToken(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "rotator")
	repo := NewTokenRepository(db)
	ctx := context.Background()

	old := newTestRefreshToken(user.ID, "old", time.Hour)
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	next := newTestRefreshToken(user.ID, "next", time.Hour)
	next.FamilyID = old.FamilyID
	if err := repo.RotateRefreshToken(ctx, old.ID, next); err != nil {
		t.Fatalf("RotateRefreshToken() error = %v", err)
	}

	gotOld, _ := repo.GetByID(ctx, old.ID)
	if !gotOld.Revoked {
		t.Error("old token should be revoked after rotation")
	}
	gotNext, err := repo.GetByID(ctx, next.ID)
	if err != nil {
		t.Fatalf("new token not stored: %v", err)
	}
	if gotNext.Revoked || gotNext.FamilyID != old.FamilyID {
		t.Errorf("new token = %+v", gotNext)
	}

	// Rotating the consumed token again is reuse and writes nothing.
	again := newTestRefreshToken(user.ID, "again", time.Hour)
	again.FamilyID = old.FamilyID
	if err := repo.RotateRefreshToken(ctx, old.ID, again); !errors.Is(err, ErrTokenReuse) {
		t.Fatalf("second rotation error = %v, want ErrTokenReuse", err)
	}
	if _, err := repo.GetByTokenHash(ctx, HashToken("again")); !errors.Is(err, ErrRefreshNotFound) {
		t.Errorf("rejected rotation left a row behind: %v", err)
	}
}

func TestTokenRepository_ConcurrentRotation(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "concurrent-user")
	repo := NewTokenRepository(db)
	ctx := context.Background()

	initial := newTestRefreshToken(user.ID, "initial", time.Hour)
	if err := repo.Create(ctx, initial); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const attempts = 4
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := newTestRefreshToken(user.ID, "next-"+string(rune('a'+i)), time.Hour)
			next.FamilyID = initial.FamilyID
			results <- repo.RotateRefreshToken(ctx, initial.ID, next)
		}()
	}
	wg.Wait()
	close(results)

	var ok, reused int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTokenReuse):
			reused++
		default:
			t.Errorf("unexpected rotation error: %v", err)
		}
	}
	if ok != 1 || reused != attempts-1 {
		t.Errorf("successes = %d, reuse = %d; want 1 and %d", ok, reused, attempts-1)
	}
}

func TestTokenRepository_ListActiveAndDeleteExpired(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "expiry")
	repo := NewTokenRepository(db)
	ctx := context.Background()

	live := newTestRefreshToken(user.ID, "live", time.Hour)
	expired := newTestRefreshToken(user.ID, "expired", -time.Hour)
	for _, tok := range []*RefreshToken{live, expired} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	active, err := repo.ListActiveByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListActiveByUser() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != live.ID {
		t.Errorf("ListActiveByUser() = %+v, want only the live token", active)
	}

	n, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}
	if _, err := repo.GetByID(ctx, expired.ID); !errors.Is(err, ErrRefreshNotFound) {
		t.Errorf("expired token still present: %v", err)
	}
}

func TestTokenRepository_UserDeleteCascades(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "cascade-user")
	repo := NewTokenRepository(db)
	ctx := context.Background()

	tok := newTestRefreshToken(user.ID, "cascade", time.Hour)
	if err := repo.Create(ctx, tok); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := NewUserRepository(db).Delete(ctx, user.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, tok.ID); !errors.Is(err, ErrRefreshNotFound) {
		t.Errorf("token should cascade with its user, got %v", err)
	}
}

func TestHashToken(t *testing.T) {
	a := HashToken("token-a")
	if len(a) != 64 {
		t.Errorf("HashToken() length = %d, want 64 hex chars", len(a))
	}
	if a != HashToken("token-a") {
		t.Error("HashToken() should be deterministic")
	}
	if a == HashToken("token-b") {
		t.Error("different tokens should hash differently")
	}
}
