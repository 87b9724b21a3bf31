package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/warden-core/internal/auth"
)

// maxDeviceInfoLength caps the device label stored with a session.
const maxDeviceInfoLength = 200

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceInfo string `json:"device_info,omitempty"`
}

// refreshRequest is the request body for POST /auth/refresh and /auth/logout.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// changePasswordRequest is the request body for PUT /auth/password.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// sessionResponse is returned by login and refresh.
type sessionResponse struct {
	AccessToken      string     `json:"access_token"`
	RefreshToken     string     `json:"refresh_token"`
	TokenType        string     `json:"token_type"`
	ExpiresIn        int        `json:"expires_in"`
	RefreshExpiresIn int        `json:"refresh_expires_in"`
	User             *auth.User `json:"user"`
	Roles            []string   `json:"roles"`
}

func newSessionResponse(res *auth.AuthResult) sessionResponse {
	now := time.Now()
	roles := res.Roles
	if roles == nil {
		roles = []string{}
	}
	return sessionResponse{
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		TokenType:        res.Tokens.TokenType,
		ExpiresIn:        int(res.Tokens.AccessExpiresAt.Sub(now).Seconds()),
		RefreshExpiresIn: int(res.Tokens.RefreshExpiresAt.Sub(now).Seconds()),
		User:             res.User,
		Roles:            roles,
	}
}

// handleLogin authenticates a user and starts a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	device := req.DeviceInfo
	if device == "" {
		device = r.UserAgent()
	}
	if len(device) > maxDeviceInfoLength {
		device = device[:maxDeviceInfoLength]
	}

	res, err := s.service.Login(r.Context(), req.Username, req.Password, device)
	if err != nil {
		var limited *auth.RateLimitedError
		switch {
		case errors.As(err, &limited):
			writeTooManyRequests(w, limited.RetryAfter)
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeUnauthorized(w)
		default:
			s.logger.Error("login failed", "error", err, "request_id", requestIDFrom(r.Context()))
			writeInternalError(w, "login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(res))
}

// handleRefresh rotates a refresh token into a new token pair.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	res, err := s.service.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) || errors.Is(err, auth.ErrSessionInvalid) {
			writeUnauthorized(w)
			return
		}
		s.logger.Error("refresh failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeInternalError(w, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(res))
}

// handleLogout revokes the session family of the presented refresh token.
// Access tokens already issued stay valid until they expire.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	if err := s.service.Logout(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, auth.ErrSessionInvalid) {
			writeUnauthorized(w)
			return
		}
		s.logger.Error("logout failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeInternalError(w, "logout failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the caller's account and resolved permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	user, err := s.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeUnauthorized(w)
			return
		}
		s.logger.Error("get current user failed", "error", err)
		writeInternalError(w, "failed to load user")
		return
	}
	if !user.IsActive {
		writeUnauthorized(w)
		return
	}

	perms, err := s.resolver.Resolve(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("resolving permissions failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to resolve permissions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": perms,
	})
}

// handleCheckElement reports whether the caller may use a UI element.
// Unknown keys are simply not permitted.
func (s *Server) handleCheckElement(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	key := chi.URLParam(r, "key")

	ok, err := s.resolver.IsPermitted(r.Context(), claims.Subject, key)
	if err != nil {
		s.logger.Error("element check failed", "element_key", key, "error", err)
		writeInternalError(w, "failed to check element")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"element_key": key,
		"permitted":   ok,
	})
}

// handleChangePassword replaces the caller's password and revokes every
// refresh session they hold.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeBadRequest(w, "current_password and new_password are required")
		return
	}

	err := s.service.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, auth.ErrWeakPassword):
		writeValidation(w, "new password is too short")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w)
	default:
		s.logger.Error("change password failed", "user_id", claims.Subject, "error", err)
		writeInternalError(w, "failed to change password")
	}
}
