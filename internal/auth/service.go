package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
	"github.com/nerrad567/warden-core/internal/ratelimit"
	"github.com/nerrad567/warden-core/internal/security/hasher"
)

// Outcome labels passed to Observer.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRateLimited = "rate_limited"
	OutcomeExpired     = "expired"
	OutcomeInvalid     = "invalid"
	OutcomeReuse       = "reuse"
)

// Audit actions recorded by the service.
const (
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionLoginThrottled = "login_rate_limited"
	ActionRefresh        = "token_refresh"
	ActionTokenReuse     = "token_reuse"
	ActionLogout         = "logout"
	ActionPasswordChange = "password_change"
	ActionMenuCycle      = "menu_cycle"

	auditSource = "auth"
)

// RateLimiter throttles login attempts per username.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
	Reset(ctx context.Context, key string) error
}

// AuditRecorder stores security events. Recording is best effort and
// never fails the operation being audited.
type AuditRecorder interface {
	Record(ctx context.Context, entry *audit.AuditLog)
}

// Observer receives counters and timings.
type Observer interface {
	ObserveLogin(outcome string)
	ObserveRefresh(outcome string)
	ObserveHash(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveLogin(string)       {}
func (nopObserver) ObserveRefresh(string)     {}
func (nopObserver) ObserveHash(time.Duration) {}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *audit.AuditLog) {}

// ServiceDeps wires a Service. Limiter, Audit, Observer and Logger are optional.
type ServiceDeps struct {
	Users    UserRepository
	Tokens   TokenRepository
	Issuer   *Issuer
	Roles    RoleSource
	Hasher   *hasher.Pool
	Limiter  RateLimiter
	Audit    AuditRecorder
	Observer Observer
	Logger   *logging.Logger
}

// Service runs the login, refresh, logout and password change protocols.
type Service struct {
	users    UserRepository
	tokens   TokenRepository
	issuer   *Issuer
	roles    RoleSource
	pool     *hasher.Pool
	limiter  RateLimiter
	audit    AuditRecorder
	observer Observer
	logger   *logging.Logger

	dummyOnce sync.Once
	dummy     hasher.Credential
	dummyErr  error
}

// NewService validates deps and returns a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("auth service: user repository is required")
	case deps.Tokens == nil:
		return nil, errors.New("auth service: token repository is required")
	case deps.Issuer == nil:
		return nil, errors.New("auth service: issuer is required")
	case deps.Roles == nil:
		return nil, errors.New("auth service: role source is required")
	case deps.Hasher == nil:
		return nil, errors.New("auth service: hasher pool is required")
	}

	s := &Service{
		users:    deps.Users,
		tokens:   deps.Tokens,
		issuer:   deps.Issuer,
		roles:    deps.Roles,
		pool:     deps.Hasher,
		limiter:  deps.Limiter,
		audit:    deps.Audit,
		observer: deps.Observer,
		logger:   deps.Logger,
	}
	if s.audit == nil {
		s.audit = nopRecorder{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	return s, nil
}

// Issuer returns the token issuer, for validating access tokens.
func (s *Service) Issuer() *Issuer { return s.issuer }

// Login authenticates userName/password and starts a new session.
//
// Unknown users, inactive users and wrong passwords all return
// ErrInvalidCredentials after the same amount of hashing work.
func (s *Service) Login(ctx context.Context, userName, password, deviceInfo string) (*AuthResult, error) {
	limitKey := "login:" + strings.ToLower(userName)
	if err := s.checkRate(ctx, limitKey, userName); err != nil {
		return nil, err
	}

	user, cred, err := s.lookup(ctx, userName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ok, err := s.pool.VerifyCredential(ctx, password, cred)
	s.observer.ObserveHash(time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// Corrupt stored credential. Log it, deny like any other failure.
		s.logger.Error("stored credential unusable", "user_name", userName, "error", err)
		ok = false
	}

	if user == nil || !ok || !user.IsActive {
		s.loginFailed(ctx, user, userName)
		return nil, ErrInvalidCredentials
	}

	if s.pool.Hasher().NeedsRehash(cred) {
		s.rehash(ctx, user.ID, password)
	}

	roles, err := s.roles.EffectiveRoleNames(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("loading roles: %w", err)
	}

	pair, err := s.issuer.Issue(user.ID, roles)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Create(ctx, &RefreshToken{
		ID:         pair.RefreshID,
		UserID:     user.ID,
		FamilyID:   pair.FamilyID,
		TokenHash:  HashToken(pair.RefreshToken),
		DeviceInfo: deviceInfo,
		ExpiresAt:  pair.RefreshExpiresAt,
	}); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, limitKey); err != nil {
			s.logger.Warn("resetting login rate limit", "error", err)
		}
	}

	s.observer.ObserveLogin(OutcomeSuccess)
	s.record(ctx, ActionLogin, "user", user.ID, user.ID, map[string]any{"device": deviceInfo})
	s.logger.Info("user logged in", "user_id", user.ID)

	return &AuthResult{User: user, Roles: roles, Tokens: pair}, nil
}

// RefreshSession exchanges a refresh token for a new pair in the same
// session family. Roles are re-read, so revoked roles do not carry over.
//
// Errors are ErrSessionExpired or ErrSessionInvalid. Presenting an already
// rotated token revokes the whole family.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.issuer.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, s.refreshFailed(err)
	}

	stored, err := s.tokens.GetByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrRefreshNotFound) {
			return nil, s.refreshFailed(err)
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored.TokenHash), []byte(HashToken(refreshToken))) != 1 ||
		stored.UserID != claims.Subject {
		return nil, s.refreshFailed(ErrTokenInvalidSignature)
	}
	if stored.Revoked {
		return nil, s.reuseDetected(ctx, stored)
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user == nil || !user.IsActive {
		if err := s.tokens.RevokeFamily(ctx, stored.FamilyID); err != nil {
			return nil, err
		}
		return nil, s.refreshFailed(ErrUserNotFound)
	}

	pair, err := s.issuer.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalidSignature) || errors.Is(err, ErrTokenMalformed) {
			return nil, s.refreshFailed(err)
		}
		return nil, err
	}

	next := &RefreshToken{
		ID:         pair.RefreshID,
		UserID:     user.ID,
		FamilyID:   pair.FamilyID,
		TokenHash:  HashToken(pair.RefreshToken),
		DeviceInfo: stored.DeviceInfo,
		ExpiresAt:  pair.RefreshExpiresAt,
	}
	if err := s.tokens.RotateRefreshToken(ctx, stored.ID, next); err != nil {
		if errors.Is(err, ErrTokenReuse) {
			return nil, s.reuseDetected(ctx, stored)
		}
		return nil, fmt.Errorf("rotating session: %w", err)
	}

	access, err := s.issuer.Validate(pair.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("reading issued token: %w", err)
	}

	s.observer.ObserveRefresh(OutcomeSuccess)
	s.record(ctx, ActionRefresh, "session", pair.FamilyID, user.ID, nil)

	return &AuthResult{User: user, Roles: access.Roles, Tokens: pair}, nil
}

// Logout revokes the session family of refreshToken. Access tokens already
// handed out stay valid until they expire. An expired refresh token is a
// no-op.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.issuer.ValidateRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	}

	stored, err := s.tokens.GetByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrRefreshNotFound) {
			return fmt.Errorf("%w: %w", ErrSessionInvalid, err)
		}
		return fmt.Errorf("loading session: %w", err)
	}
	if err := s.tokens.RevokeFamily(ctx, stored.FamilyID); err != nil {
		return err
	}

	s.record(ctx, ActionLogout, "session", stored.FamilyID, claims.Subject, nil)
	return nil
}

// ChangePassword replaces the user's credential with a freshly salted one
// and revokes every session the user holds.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}

	cred, err := s.users.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	ok, err := s.pool.VerifyCredential(ctx, oldPassword, cred)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.Error("stored credential unusable", "user_id", userID, "error", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	next, err := s.pool.NewCredential(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("hashing new password: %w", err)
	}
	if err := s.users.UpdateCredential(ctx, userID, next); err != nil {
		return err
	}
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}

	s.record(ctx, ActionPasswordChange, "user", userID, userID, nil)
	return nil
}

// CreateUser hashes password and stores a new account.
func (s *Service) CreateUser(ctx context.Context, user *User, password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	cred, err := s.pool.NewCredential(ctx, password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return s.users.Create(ctx, user, cred)
}

func (s *Service) checkRate(ctx context.Context, key, userName string) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.Allow(ctx, key)
	if err != nil {
		// Fail open while the limiter backend is down.
		s.logger.Warn("login rate limiter unavailable", "error", err)
		return nil
	}
	if res.Allowed {
		return nil
	}
	s.observer.ObserveLogin(OutcomeRateLimited)
	s.record(ctx, ActionLoginThrottled, "user", "", "", map[string]any{"user_name": userName})
	return &RateLimitedError{RetryAfter: res.RetryAfter}
}

// lookup returns the user and credential, or a nil user and a dummy
// credential so that unknown names cost the same hashing work.
func (s *Service) lookup(ctx context.Context, userName string) (*User, hasher.Credential, error) {
	user, err := s.users.FindUserByUserName(ctx, userName)
	if err == nil {
		cred, credErr := s.users.GetCredential(ctx, user.ID)
		if credErr == nil {
			return user, cred, nil
		}
		if !errors.Is(credErr, ErrUserNotFound) {
			return nil, hasher.Credential{}, fmt.Errorf("loading credential: %w", credErr)
		}
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, hasher.Credential{}, fmt.Errorf("looking up user: %w", err)
	}

	s.dummyOnce.Do(func() {
		s.dummy, s.dummyErr = s.pool.Hasher().NewCredential("warden-dummy-password")
	})
	if s.dummyErr != nil {
		return nil, hasher.Credential{}, s.dummyErr
	}
	return nil, s.dummy, nil
}

func (s *Service) rehash(ctx context.Context, userID, password string) {
	next, err := s.pool.NewCredential(ctx, password)
	if err == nil {
		err = s.users.UpdateCredential(ctx, userID, next)
	}
	if err != nil {
		s.logger.Warn("upgrading password hash", "user_id", userID, "error", err)
	}
}

func (s *Service) loginFailed(ctx context.Context, user *User, userName string) {
	userID := ""
	if user != nil {
		userID = user.ID
	}
	s.observer.ObserveLogin(OutcomeFailure)
	s.record(ctx, ActionLoginFailed, "user", userID, "", map[string]any{"user_name": userName})
}

// refreshFailed maps issuer and store errors onto the two session errors.
func (s *Service) refreshFailed(err error) error {
	if errors.Is(err, ErrTokenExpired) {
		s.observer.ObserveRefresh(OutcomeExpired)
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	s.observer.ObserveRefresh(OutcomeInvalid)
	return fmt.Errorf("%w: %w", ErrSessionInvalid, err)
}

func (s *Service) reuseDetected(ctx context.Context, stored *RefreshToken) error {
	if err := s.tokens.RevokeFamily(ctx, stored.FamilyID); err != nil {
		return err
	}
	s.observer.ObserveRefresh(OutcomeReuse)
	s.record(ctx, ActionTokenReuse, "session", stored.FamilyID, stored.UserID, map[string]any{"token_id": stored.ID})
	s.logger.Warn("refresh token reuse, session family revoked", "user_id", stored.UserID, "family_id", stored.FamilyID)
	return fmt.Errorf("%w: %w", ErrSessionInvalid, ErrTokenReuse)
}

func (s *Service) record(ctx context.Context, action, entityType, entityID, userID string, details map[string]any) {
	s.audit.Record(ctx, &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     auditSource,
		Details:    details,
	})
}
