package auth

import (
	"errors"
	"regexp"
	"time"

	"github.com/nerrad567/warden-core/internal/menu"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// MinPasswordLength is enforced on password change and account creation.
const MinPasswordLength = 8

// RoleAdmin is the role name that unlocks the administration endpoints.
const RoleAdmin = "admin"

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// User is an account that can authenticate. Credentials are stored beside
// the row but never loaded into this struct.
type User struct {
	ID        string    `json:"id"`
	UserName  string    `json:"username"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role groups menu grants. Users hold any number of roles.
type Role struct {
	ID        string    `json:"id"`
	RoleName  string    `json:"role_name"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UIElement is an interactive control (button, field, action) that is
// granted to users individually rather than through roles.
type UIElement struct {
	ID          string `json:"id"`
	ElementKey  string `json:"element_key"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// RefreshToken is the server-side record of an issued refresh token.
// Tokens rotated from one login share a FamilyID.
type RefreshToken struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	FamilyID   string    `json:"family_id"`
	TokenHash  string    `json:"-"` // never serialised
	DeviceInfo string    `json:"device_info,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	CreatedAt  time.Time `json:"created_at"`
}

// Permissions is everything a consumer needs to render a user's session.
type Permissions struct {
	UserID   string           `json:"user_id"`
	Roles    []Role           `json:"roles"`
	Menus    []*menu.TreeNode `json:"menus"`
	Elements []UIElement      `json:"elements"`
}

// AuthResult is returned by a successful login or refresh.
type AuthResult struct {
	User   *User      `json:"user"`
	Roles  []string   `json:"roles"`
	Tokens *TokenPair `json:"tokens"`
}

// Sentinel errors for auth operations.
var (
	// ErrInvalidCredentials covers unknown user, inactive user and wrong
	// password alike so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenInvalidSignature = errors.New("token signature is invalid")
	ErrTokenMalformed        = errors.New("token is malformed")

	ErrSessionExpired = errors.New("session has expired")
	ErrSessionInvalid = errors.New("session is invalid")
	ErrTokenReuse     = errors.New("refresh token reuse detected")

	ErrRateLimited = errors.New("too many attempts")

	ErrUserNotFound     = errors.New("user not found")
	ErrUsernameExists   = errors.New("username already exists")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrWeakPassword     = errors.New("password too short")
	ErrRoleNotFound     = errors.New("role not found")
	ErrRoleExists       = errors.New("role already exists")
	ErrMenuNotFound     = errors.New("menu not found")
	ErrMenuKeyExists    = errors.New("menu key already exists")
	ErrElementNotFound  = errors.New("ui element not found")
	ErrElementKeyExists = errors.New("ui element key already exists")
	ErrRefreshNotFound  = errors.New("refresh token not found")
	ErrMenuHasChildren  = errors.New("menu still has children")
)

// RateLimitedError carries the wait before the next attempt is allowed.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return ErrRateLimited.Error() + ", retry after " + e.RetryAfter.String()
}

// Is makes errors.Is(err, ErrRateLimited) true.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
