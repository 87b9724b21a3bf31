package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	testAccessSecret  = "test-access-secret-for-jwt-signing!!"
	testRefreshSecret = "test-refresh-secret-for-jwt-signing!"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// staticRoles is a RoleSource backed by a map.
type staticRoles struct {
	mu    sync.Mutex
	roles map[string][]string
	err   error
}

func (s *staticRoles) EffectiveRoleNames(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.roles[userID]), nil
}

func newTestIssuer(t *testing.T, clock *fakeClock, roles RoleSource, ttl time.Duration) *Issuer {
	t.Helper()
	iss, err := NewIssuer(IssuerConfig{
		AccessSecret:  []byte(testAccessSecret),
		RefreshSecret: []byte(testRefreshSecret),
		Issuer:        "warden-test",
		AccessTTL:     ttl,
		RefreshTTL:    time.Hour,
	}, roles, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return iss
}

func TestNewIssuer_RequiresDistinctSecrets(t *testing.T) {
	tests := []struct {
		name string
		cfg  IssuerConfig
	}{
		{name: "missing access", cfg: IssuerConfig{RefreshSecret: []byte("r")}},
		{name: "missing refresh", cfg: IssuerConfig{AccessSecret: []byte("a")}},
		{name: "shared secret", cfg: IssuerConfig{AccessSecret: []byte("same"), RefreshSecret: []byte("same")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewIssuer(tt.cfg, nil); err == nil {
				t.Error("NewIssuer() expected error")
			}
		})
	}
}

func TestIssueAndValidate(t *testing.T) {
	clock := newFakeClock()
	iss := newTestIssuer(t, clock, nil, 15*time.Minute)

	pair, err := iss.Issue("usr-001", []string{"admin", "editor"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("Issue() returned empty token")
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", pair.TokenType)
	}
	if want := clock.Now().Add(15 * time.Minute); !pair.AccessExpiresAt.Equal(want) {
		t.Errorf("AccessExpiresAt = %v, want %v", pair.AccessExpiresAt, want)
	}

	claims, err := iss.Validate(pair.AccessToken)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.Subject != "usr-001" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "usr-001")
	}
	if !slices.Equal(claims.Roles, []string{"admin", "editor"}) {
		t.Errorf("Roles = %v, want [admin editor]", claims.Roles)
	}
	if !claims.HasRole("admin") || claims.HasRole("owner") {
		t.Error("HasRole() mismatch")
	}
	if claims.Kind != KindAccess {
		t.Errorf("Kind = %q, want access", claims.Kind)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}

	refresh, err := iss.ValidateRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("ValidateRefresh() error = %v", err)
	}
	if refresh.ID != pair.RefreshID || refresh.FamilyID != pair.FamilyID {
		t.Errorf("refresh claims = {jti:%s fam:%s}, want {%s %s}",
			refresh.ID, refresh.FamilyID, pair.RefreshID, pair.FamilyID)
	}
	if len(refresh.Roles) != 0 {
		t.Errorf("refresh token should not carry roles, got %v", refresh.Roles)
	}
	id, ok := strings.CutPrefix(refresh.ID, "rt-")
	if _, err := uuid.Parse(id); !ok || err != nil {
		t.Errorf("refresh jti = %q, want rt- and a full UUID", refresh.ID)
	}
}

func TestValidate_Expired(t *testing.T) {
	clock := newFakeClock()
	iss := newTestIssuer(t, clock, nil, time.Second)

	pair, err := iss.Issue("usr-001", nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	clock.Advance(2 * time.Second)

	_, err = iss.Validate(pair.AccessToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Validate() error = %v, want ErrTokenExpired", err)
	}
	if errors.Is(err, ErrTokenInvalidSignature) || errors.Is(err, ErrTokenMalformed) {
		t.Errorf("expired token must map to a single error kind, got %v", err)
	}
}

func TestValidate_ErrorKinds(t *testing.T) {
	clock := newFakeClock()
	iss := newTestIssuer(t, clock, nil, time.Minute)

	pair, err := iss.Issue("usr-001", []string{"viewer"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	otherKey, err := NewIssuer(IssuerConfig{
		AccessSecret:  []byte("some-other-access-secret-0123456789"),
		RefreshSecret: []byte("some-other-refresh-secret-012345678"),
		Issuer:        "warden-test",
	}, nil, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	forged, err := otherKey.Issue("usr-001", []string{"admin"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	otherIssuer, err := NewIssuer(IssuerConfig{
		AccessSecret:  []byte(testAccessSecret),
		RefreshSecret: []byte(testRefreshSecret),
		Issuer:        "someone-else",
	}, nil, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	foreign, err := otherIssuer.Issue("usr-001", nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr-001",
			Issuer:    "warden-test",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
		Kind: KindAccess,
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	// Payload of one token under the signature of another.
	parts := strings.Split(pair.AccessToken, ".")
	forgedParts := strings.Split(forged.AccessToken, ".")
	swapped := parts[0] + "." + forgedParts[1] + "." + parts[2]

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "wrong secret", token: forged.AccessToken, want: ErrTokenInvalidSignature},
		{name: "refresh token as access", token: pair.RefreshToken, want: ErrTokenInvalidSignature},
		{name: "foreign issuer", token: foreign.AccessToken, want: ErrTokenInvalidSignature},
		{name: "alg none", token: unsigned, want: ErrTokenInvalidSignature},
		{name: "empty", token: "", want: ErrTokenMalformed},
		{name: "garbage", token: "not-a-valid-jwt", want: ErrTokenMalformed},
		{name: "two segments", token: "abc.def", want: ErrTokenMalformed},
		{name: "swapped payload", token: swapped, want: ErrTokenInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iss.Validate(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateRefresh_RejectsAccessToken(t *testing.T) {
	iss := newTestIssuer(t, newFakeClock(), nil, time.Minute)

	pair, err := iss.Issue("usr-001", nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := iss.ValidateRefresh(pair.AccessToken); !errors.Is(err, ErrTokenInvalidSignature) {
		t.Errorf("ValidateRefresh(access) error = %v, want ErrTokenInvalidSignature", err)
	}
}

func TestRefresh_RequeriesRoles(t *testing.T) {
	clock := newFakeClock()
	roles := &staticRoles{roles: map[string][]string{"usr-001": {"admin", "editor"}}}
	iss := newTestIssuer(t, clock, roles, time.Minute)

	pair, err := iss.Issue("usr-001", []string{"admin", "editor"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Role revoked between issue and refresh.
	roles.mu.Lock()
	roles.roles["usr-001"] = []string{"editor"}
	roles.mu.Unlock()

	clock.Advance(30 * time.Second)
	next, err := iss.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	claims, err := iss.Validate(next.AccessToken)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.HasRole("admin") {
		t.Error("refreshed token still carries the revoked admin role")
	}
	if !claims.HasRole("editor") {
		t.Error("refreshed token lost the editor role")
	}
	if next.FamilyID != pair.FamilyID {
		t.Errorf("FamilyID = %s, want %s (same family)", next.FamilyID, pair.FamilyID)
	}
	if next.RefreshID == pair.RefreshID {
		t.Error("refresh should mint a new jti")
	}
}

func TestRefresh_Errors(t *testing.T) {
	clock := newFakeClock()
	roles := &staticRoles{roles: map[string][]string{}}
	iss := newTestIssuer(t, clock, roles, time.Minute)

	pair, err := iss.Issue("usr-001", nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	t.Run("role source failure", func(t *testing.T) {
		roles.mu.Lock()
		roles.err = errors.New("db down")
		roles.mu.Unlock()
		defer func() {
			roles.mu.Lock()
			roles.err = nil
			roles.mu.Unlock()
		}()

		if _, err := iss.Refresh(context.Background(), pair.RefreshToken); err == nil {
			t.Error("Refresh() expected error when roles cannot be loaded")
		}
	})

	t.Run("expired refresh token", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		_, err := iss.Refresh(context.Background(), pair.RefreshToken)
		if !errors.Is(err, ErrTokenExpired) {
			t.Errorf("Refresh() error = %v, want ErrTokenExpired", err)
		}
	})
}

func TestIssue_EmptySubject(t *testing.T) {
	iss := newTestIssuer(t, newFakeClock(), nil, time.Minute)
	if _, err := iss.Issue("", nil); err == nil {
		t.Error("Issue() expected error for empty subject")
	}
}

func TestNewIssuer_DefaultTTL(t *testing.T) {
	clock := newFakeClock()
	iss, err := NewIssuer(IssuerConfig{
		AccessSecret:  []byte(testAccessSecret),
		RefreshSecret: []byte(testRefreshSecret),
	}, nil, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	pair, err := iss.Issue("usr-001", nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if got := pair.AccessExpiresAt.Sub(clock.Now()); got != DefaultAccessTTL {
		t.Errorf("access TTL = %v, want %v", got, DefaultAccessTTL)
	}
	if got := pair.RefreshExpiresAt.Sub(clock.Now()); got != DefaultRefreshTTL {
		t.Errorf("refresh TTL = %v, want %v", got, DefaultRefreshTTL)
	}
}
