package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/menu"
	"github.com/nerrad567/warden-core/internal/ratelimit"
)

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "alice", "staff")

	sess := env.login(t, "alice")

	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatal("login returned empty tokens")
	}
	if sess.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", sess.TokenType)
	}
	if sess.ExpiresIn <= 0 || sess.ExpiresIn > int((5*time.Minute).Seconds()) {
		t.Errorf("expires_in = %d", sess.ExpiresIn)
	}
	if sess.RefreshExpiresIn <= sess.ExpiresIn {
		t.Errorf("refresh_expires_in = %d should exceed expires_in", sess.RefreshExpiresIn)
	}
	if sess.User == nil || sess.User.ID != u.ID {
		t.Errorf("user = %+v, want %s", sess.User, u.ID)
	}
	if len(sess.Roles) != 1 || sess.Roles[0] != "staff" {
		t.Errorf("roles = %v, want [staff]", sess.Roles)
	}
}

func TestLogin_FailuresLookIdentical(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice")

	inactive := env.createUser(t, "bob")
	inactive.IsActive = false
	if err := env.users.Update(context.Background(), inactive); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	var bodies []string
	for _, req := range []loginRequest{
		{Username: "alice", Password: "wrong-password"},
		{Username: "nobody", Password: testPassword},
		{Username: "bob", Password: testPassword},
	} {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", req)
		assertUnauthorized(t, w)
		bodies = append(bodies, w.Body.String())
	}
	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Errorf("failure body %d = %s, want %s", i, bodies[i], bodies[0])
		}
	}
}

func TestLogin_BadRequest(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"not json", "{"},
		{"missing password", loginRequest{Username: "alice"}},
		{"missing username", loginRequest{Password: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestLogin_RateLimited(t *testing.T) {
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{MaxAttempts: 2, Window: time.Minute})
	if err != nil {
		t.Fatalf("NewMemoryLimiter() error = %v", err)
	}
	env := newTestEnv(t, withLimiter(limiter))
	env.createUser(t, "alice")

	bad := loginRequest{Username: "alice", Password: "wrong-password"}
	for i := range 2 {
		if w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", bad); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, w.Code)
		}
	}

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: "alice", Password: testPassword})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice", "staff")
	first := env.login(t, "alice")

	w := env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", w.Code, w.Body)
	}
	var second sessionResponse
	decode(t, w, &second)
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// Replaying the consumed token revokes the family, including second.
	assertUnauthorized(t, env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken}))
	assertUnauthorized(t, env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: second.RefreshToken}))

	res, err := env.audit.List(context.Background(), audit.Filter{Action: auth.ActionTokenReuse})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	// Both replays present a revoked token.
	if res.Total != 2 {
		t.Errorf("token_reuse audit entries = %d, want 2", res.Total)
	}
}

func TestRefresh_PicksUpRoleChanges(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "alice", "staff")
	sess := env.login(t, "alice")

	if err := env.roles.SetUserRoles(context.Background(), u.ID, []string{env.role(t, "auditor").ID}); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: sess.RefreshToken})
	var next sessionResponse
	decode(t, w, &next)
	if len(next.Roles) != 1 || next.Roles[0] != "auditor" {
		t.Errorf("roles after refresh = %v, want [auditor]", next.Roles)
	}
}

func TestRefresh_Rejects(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice")
	sess := env.login(t, "alice")

	assertUnauthorized(t, env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: sess.AccessToken}))
	assertUnauthorized(t, env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: "garbage"}))

	if w := env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty refresh status = %d, want 400", w.Code)
	}
}

func TestLogout_RevokesRefreshOnly(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice")
	sess := env.login(t, "alice")

	w := env.do(t, http.MethodPost, "/api/v1/auth/logout", "", refreshRequest{RefreshToken: sess.RefreshToken})
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, body = %s", w.Code, w.Body)
	}

	assertUnauthorized(t, env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: sess.RefreshToken}))

	// Access tokens are not revocable and keep working until they expire.
	if w := env.do(t, http.MethodGet, "/api/v1/auth/me", sess.AccessToken, nil); w.Code != http.StatusOK {
		t.Errorf("me after logout status = %d, want 200", w.Code)
	}
}

func TestLogout_InvalidToken(t *testing.T) {
	env := newTestEnv(t)
	assertUnauthorized(t, env.do(t, http.MethodPost, "/api/v1/auth/logout", "", refreshRequest{RefreshToken: "garbage"}))
}

func TestMe_ReturnsResolvedPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice", "staff")
	staff := env.role(t, "staff")

	root := &menu.Menu{MenuKey: "reports", Title: "Reports"}
	if err := env.menus.Create(ctx, root); err != nil {
		t.Fatal(err)
	}
	child := &menu.Menu{MenuKey: "reports.daily", Title: "Daily", ParentID: &root.ID}
	if err := env.menus.Create(ctx, child); err != nil {
		t.Fatal(err)
	}
	hidden := &menu.Menu{MenuKey: "billing", Title: "Billing"}
	if err := env.menus.Create(ctx, hidden); err != nil {
		t.Fatal(err)
	}
	if err := env.roles.SetMenuRoles(ctx, child.ID, []string{staff.ID}); err != nil {
		t.Fatal(err)
	}

	el := &auth.UIElement{ElementKey: "reports.export", Name: "Export"}
	if err := env.elements.Create(ctx, el); err != nil {
		t.Fatal(err)
	}
	if err := env.elements.SetUserElements(ctx, u.ID, []string{el.ID}); err != nil {
		t.Fatal(err)
	}

	sess := env.login(t, "alice")
	w := env.do(t, http.MethodGet, "/api/v1/auth/me", sess.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var resp struct {
		User        auth.User        `json:"user"`
		Permissions auth.Permissions `json:"permissions"`
	}
	decode(t, w, &resp)

	if resp.User.ID != u.ID {
		t.Errorf("user = %s, want %s", resp.User.ID, u.ID)
	}
	menus := resp.Permissions.Menus
	if len(menus) != 1 || menus[0].MenuKey != "reports" {
		t.Fatalf("menu roots = %+v, want the ancestor of the granted menu only", menus)
	}
	if len(menus[0].Children) != 1 || menus[0].Children[0].MenuKey != "reports.daily" {
		t.Errorf("children = %+v", menus[0].Children)
	}
	if len(resp.Permissions.Elements) != 1 || resp.Permissions.Elements[0].ElementKey != "reports.export" {
		t.Errorf("elements = %+v", resp.Permissions.Elements)
	}
}

func TestMe_DeletedUser(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "alice")
	sess := env.login(t, "alice")

	if err := env.users.Delete(context.Background(), u.ID); err != nil {
		t.Fatal(err)
	}
	assertUnauthorized(t, env.do(t, http.MethodGet, "/api/v1/auth/me", sess.AccessToken, nil))
}

func TestCheckElement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice", "staff")

	granted := &auth.UIElement{ElementKey: "users.delete", Name: "Delete user"}
	other := &auth.UIElement{ElementKey: "users.create", Name: "Create user"}
	for _, el := range []*auth.UIElement{granted, other} {
		if err := env.elements.Create(ctx, el); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.elements.SetUserElements(ctx, u.ID, []string{granted.ID}); err != nil {
		t.Fatal(err)
	}
	sess := env.login(t, "alice")

	tests := []struct {
		key  string
		want bool
	}{
		{"users.delete", true},
		{"users.create", false},
		{"does.not.exist", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/auth/elements/"+tt.key, sess.AccessToken, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp struct {
				ElementKey string `json:"element_key"`
				Permitted  bool   `json:"permitted"`
			}
			decode(t, w, &resp)
			if resp.ElementKey != tt.key || resp.Permitted != tt.want {
				t.Errorf("response = %+v, want permitted=%v", resp, tt.want)
			}
		})
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice")
	sess := env.login(t, "alice")
	path := "/api/v1/auth/password"

	if w := env.do(t, http.MethodPut, path, sess.AccessToken, changePasswordRequest{CurrentPassword: testPassword, NewPassword: "short"}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("weak password status = %d, want 422", w.Code)
	}
	assertUnauthorized(t, env.do(t, http.MethodPut, path, sess.AccessToken, changePasswordRequest{CurrentPassword: "wrong-password", NewPassword: "a-new-long-password"}))

	w := env.do(t, http.MethodPut, path, sess.AccessToken, changePasswordRequest{CurrentPassword: testPassword, NewPassword: "a-new-long-password"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("change status = %d, body = %s", w.Code, w.Body)
	}

	// Every refresh session is gone and the old password no longer works.
	assertUnauthorized(t, env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{RefreshToken: sess.RefreshToken}))
	assertUnauthorized(t, env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: "alice", Password: testPassword}))
	if w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: "alice", Password: "a-new-long-password"}); w.Code != http.StatusOK {
		t.Errorf("login with new password status = %d", w.Code)
	}
}
