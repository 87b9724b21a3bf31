package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes access tokens from refresh tokens. Each kind is
// signed with its own secret and the kind is also carried as a claim.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Default lifetimes, used when IssuerConfig leaves a TTL at zero.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenClaims extends JWT standard claims with Warden-specific fields.
// Roles are only present on access tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	Kind     TokenKind `json:"kind"`
	Roles    []string  `json:"roles,omitempty"`
	FamilyID string    `json:"fam,omitempty"`
}

// HasRole reports whether the token carries role.
func (c *TokenClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenPair is what a client receives after login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`

	// RefreshID is the refresh token's jti, the key of its refresh_tokens row.
	RefreshID string `json:"-"`
	FamilyID  string `json:"-"`
}

// RoleSource returns a user's current role names. The issuer calls it on
// refresh so that revoked roles drop out of the next access token.
type RoleSource interface {
	EffectiveRoleNames(ctx context.Context, userID string) ([]string, error)
}

// IssuerConfig holds signing keys and lifetimes. Secrets are copied by NewIssuer.
type IssuerConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// IssuerOption customises an Issuer.
type IssuerOption func(*Issuer)

// WithClock replaces time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// Issuer mints and validates HS256 access and refresh tokens.
// It holds no mutable state and is safe for concurrent use.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	roles         RoleSource
	now           func() time.Time
}

// NewIssuer validates cfg and returns an Issuer. roles may be nil if
// Refresh is never called.
func NewIssuer(cfg IssuerConfig, roles RoleSource, opts ...IssuerOption) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("issuer: access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("issuer: access and refresh secrets must differ")
	}

	i := &Issuer{
		accessSecret:  append([]byte(nil), cfg.AccessSecret...),
		refreshSecret: append([]byte(nil), cfg.RefreshSecret...),
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		roles:         roles,
		now:           time.Now,
	}
	if i.accessTTL <= 0 {
		i.accessTTL = DefaultAccessTTL
	}
	if i.refreshTTL <= 0 {
		i.refreshTTL = DefaultRefreshTTL
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue mints a new token pair for userID, starting a new refresh family.
func (i *Issuer) Issue(userID string, roles []string) (*TokenPair, error) {
	return i.issue(userID, roles, uuid.NewString())
}

func (i *Issuer) issue(userID string, roles []string, familyID string) (*TokenPair, error) {
	if userID == "" {
		return nil, errors.New("issuing token: empty subject")
	}
	if roles == nil {
		roles = []string{}
	}

	now := i.now()
	accessExp := now.Add(i.accessTTL)
	refreshExp := now.Add(i.refreshTTL)

	access := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        uuid.NewString(),
		},
		Kind:  KindAccess,
		Roles: roles,
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(i.accessSecret)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	refreshID := "rt-" + uuid.NewString()
	refresh := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
			ID:        refreshID,
		},
		Kind:     KindRefresh,
		FamilyID: familyID,
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(i.refreshSecret)
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  access.ExpiresAt.Time,
		RefreshExpiresAt: refresh.ExpiresAt.Time,
		RefreshID:        refreshID,
		FamilyID:         familyID,
	}, nil
}

// Validate checks an access token's signature, expiry, issuer and kind.
//
// Errors wrap exactly one of ErrTokenExpired, ErrTokenInvalidSignature or
// ErrTokenMalformed.
func (i *Issuer) Validate(token string) (*TokenClaims, error) {
	return i.parse(token, KindAccess, i.accessSecret)
}

// ValidateRefresh is Validate for refresh tokens.
func (i *Issuer) ValidateRefresh(token string) (*TokenClaims, error) {
	return i.parse(token, KindRefresh, i.refreshSecret)
}

// Refresh validates a refresh token and issues a new pair in the same
// family. Roles are re-read from the RoleSource, never copied from the
// old token.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := i.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	if i.roles == nil {
		return nil, errors.New("refreshing token: no role source configured")
	}

	roles, err := i.roles.EffectiveRoleNames(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("loading current roles: %w", err)
	}
	return i.issue(claims.Subject, roles, claims.FamilyID)
}

func (i *Issuer) parse(token string, kind TokenKind, secret []byte) (*TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(_ *jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	// A token signed with the right key but the wrong kind can only come
	// from key reuse; treat it like a bad signature.
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrTokenInvalidSignature, kind, claims.Kind)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	if kind == KindRefresh && (claims.ID == "" || claims.FamilyID == "") {
		return nil, fmt.Errorf("%w: refresh token missing jti or family", ErrTokenMalformed)
	}
	return claims, nil
}

// classifyTokenError maps jwt/v5 validation errors onto the auth sentinels.
// jwt verifies the signature before time claims, so an expired result
// always comes from a genuine token.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %w", ErrTokenInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
}
