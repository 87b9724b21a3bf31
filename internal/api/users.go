package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/warden-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Email    string   `json:"email,omitempty"`
	Password string   `json:"password"`
	RoleIDs  []string `json:"role_ids,omitempty"`
}

type setRolesRequest struct {
	RoleIDs []string `json:"role_ids"`
}

type setElementsRequest struct {
	ElementIDs []string `json:"element_ids"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates an account and optionally assigns its roles.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" || req.Name == "" {
		writeBadRequest(w, "username, password, and name are required")
		return
	}

	user := &auth.User{
		UserName: req.Username,
		Name:     req.Name,
		Email:    req.Email,
		IsActive: true,
	}
	if err := s.service.CreateUser(r.Context(), user, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeValidation(w, "password is too short")
		case errors.Is(err, auth.ErrInvalidUsername):
			writeValidation(w, "username may contain letters, digits, '.', '-' and '_' only")
		case errors.Is(err, auth.ErrUsernameExists):
			writeConflict(w, "username already exists")
		default:
			s.logger.Error("create user failed", "error", err)
			writeInternalError(w, "failed to create user")
		}
		return
	}

	if len(req.RoleIDs) > 0 {
		if err := s.roles.SetUserRoles(r.Context(), user.ID, req.RoleIDs); err != nil {
			if errors.Is(err, auth.ErrRoleNotFound) {
				writeValidation(w, err.Error())
				return
			}
			s.logger.Error("assign roles to new user failed", "user_id", user.ID, "error", err)
			writeInternalError(w, "user created but roles could not be assigned")
			return
		}
	}

	s.logger.Info("user created", "user_id", user.ID, "created_by", claims.Subject)
	s.record(r, "user_create", "user", user.ID, map[string]any{
		"username": user.UserName,
		"role_ids": req.RoleIDs,
	})

	writeJSON(w, http.StatusCreated, user)
}

// handleSetUserRoles replaces the roles held by a user. The change is seen
// by the next resolve and the next token refresh; outstanding access
// tokens keep their old roles until they expire.
func (s *Server) handleSetUserRoles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setRolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.roles.SetUserRoles(r.Context(), id, req.RoleIDs); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			writeNotFound(w, "user not found")
		case errors.Is(err, auth.ErrRoleNotFound):
			writeValidation(w, err.Error())
		default:
			s.logger.Error("set user roles failed", "user_id", id, "error", err)
			writeInternalError(w, "failed to set roles")
		}
		return
	}

	s.record(r, "user_roles_update", "user", id, map[string]any{"role_ids": req.RoleIDs})

	roles, err := s.resolver.EffectiveRoles(r.Context(), id)
	if err != nil {
		s.logger.Error("get updated roles failed", "user_id", id, "error", err)
		writeInternalError(w, "roles updated but failed to retrieve")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
		"count": len(roles),
	})
}

// handleSetUserElements replaces the UI elements granted directly to a user.
// An empty list revokes every element.
func (s *Server) handleSetUserElements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setElementsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.elements.SetUserElements(r.Context(), id, req.ElementIDs); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			writeNotFound(w, "user not found")
		case errors.Is(err, auth.ErrElementNotFound):
			writeValidation(w, err.Error())
		default:
			s.logger.Error("set user elements failed", "user_id", id, "error", err)
			writeInternalError(w, "failed to set elements")
		}
		return
	}

	s.record(r, "user_elements_update", "user", id, map[string]any{"element_ids": req.ElementIDs})

	elements, err := s.resolver.AccessibleUIElements(r.Context(), id)
	if err != nil {
		s.logger.Error("get updated elements failed", "user_id", id, "error", err)
		writeInternalError(w, "elements updated but failed to retrieve")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"elements": elements,
		"count":    len(elements),
	})
}

// handleListRoles returns every role.
func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.roles.List(r.Context())
	if err != nil {
		s.logger.Error("list roles failed", "error", err)
		writeInternalError(w, "failed to list roles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
		"count": len(roles),
	})
}

// handleListElements returns every UI element.
func (s *Server) handleListElements(w http.ResponseWriter, r *http.Request) {
	elements, err := s.elements.List(r.Context())
	if err != nil {
		s.logger.Error("list elements failed", "error", err)
		writeInternalError(w, "failed to list elements")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"elements": elements,
		"count":    len(elements),
	})
}
