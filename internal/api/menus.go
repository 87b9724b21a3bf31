package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/menu"
)

type createMenuRequest struct {
	MenuKey  string   `json:"menu_key"`
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	ParentID *int64   `json:"parent_id,omitempty"`
	Order    *int     `json:"order,omitempty"`
	Level    *int     `json:"level,omitempty"`
	RoleIDs  []string `json:"role_ids,omitempty"`
}

// updateMenuRequest patches a menu. A parent_id of 0 detaches the menu
// to the root.
type updateMenuRequest struct {
	MenuKey  *string `json:"menu_key,omitempty"`
	URL      *string `json:"url,omitempty"`
	Title    *string `json:"title,omitempty"`
	ParentID *int64  `json:"parent_id,omitempty"`
	Order    *int    `json:"order,omitempty"`
	Level    *int    `json:"level,omitempty"`
}

// handleListMenus returns every menu, flat and as a tree.
func (s *Server) handleListMenus(w http.ResponseWriter, r *http.Request) {
	flat, err := s.menus.ListAll(r.Context())
	if err != nil {
		s.logger.Error("list menus failed", "error", err)
		writeInternalError(w, "failed to list menus")
		return
	}
	forest, err := menu.Build(flat)
	if err != nil {
		s.logger.Error("stored menu table is inconsistent", "error", err)
		writeInternalError(w, "menu hierarchy is inconsistent")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"menus": flat,
		"tree":  forest.Tree(),
		"count": len(flat),
	})
}

// handleCreateMenu adds a menu and, if role_ids is given, grants it.
func (s *Server) handleCreateMenu(w http.ResponseWriter, r *http.Request) {
	var req createMenuRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.MenuKey == "" || req.Title == "" {
		writeBadRequest(w, "menu_key and title are required")
		return
	}

	m := &menu.Menu{
		MenuKey:  req.MenuKey,
		URL:      req.URL,
		Title:    req.Title,
		ParentID: req.ParentID,
		Order:    req.Order,
		Level:    req.Level,
	}
	if err := s.menus.Create(r.Context(), m); err != nil {
		s.writeMenuError(w, "create", err)
		return
	}

	if len(req.RoleIDs) > 0 {
		if err := s.roles.SetMenuRoles(r.Context(), m.ID, req.RoleIDs); err != nil {
			if errors.Is(err, auth.ErrRoleNotFound) {
				writeValidation(w, err.Error())
				return
			}
			s.logger.Error("grant new menu failed", "menu_id", m.ID, "error", err)
			writeInternalError(w, "menu created but roles could not be granted")
			return
		}
	}

	s.record(r, "menu_create", "menu", strconv.FormatInt(m.ID, 10), map[string]any{
		"menu_key": m.MenuKey,
		"role_ids": req.RoleIDs,
	})
	writeJSON(w, http.StatusCreated, m)
}

// handleUpdateMenu patches a menu. Moves that would close a parent cycle
// are rejected with 422 and leave the table unchanged.
func (s *Server) handleUpdateMenu(w http.ResponseWriter, r *http.Request) {
	id, ok := menuID(w, r)
	if !ok {
		return
	}

	var req updateMenuRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	m, err := s.menus.GetByID(r.Context(), id)
	if err != nil {
		s.writeMenuError(w, "update", err)
		return
	}

	if req.MenuKey != nil {
		m.MenuKey = *req.MenuKey
	}
	if req.URL != nil {
		m.URL = *req.URL
	}
	if req.Title != nil {
		m.Title = *req.Title
	}
	if req.ParentID != nil {
		if *req.ParentID == 0 {
			m.ParentID = nil
		} else {
			m.ParentID = req.ParentID
		}
	}
	if req.Order != nil {
		m.Order = req.Order
	}
	if req.Level != nil {
		m.Level = req.Level
	}
	if m.MenuKey == "" || m.Title == "" {
		writeBadRequest(w, "menu_key and title cannot be empty")
		return
	}

	if err := s.menus.Update(r.Context(), m); err != nil {
		s.writeMenuError(w, "update", err)
		return
	}

	s.record(r, "menu_update", "menu", strconv.FormatInt(id, 10), map[string]any{"menu_key": m.MenuKey})
	writeJSON(w, http.StatusOK, m)
}

// handleDeleteMenu removes a leaf menu.
func (s *Server) handleDeleteMenu(w http.ResponseWriter, r *http.Request) {
	id, ok := menuID(w, r)
	if !ok {
		return
	}
	if err := s.menus.Delete(r.Context(), id); err != nil {
		s.writeMenuError(w, "delete", err)
		return
	}

	s.record(r, "menu_delete", "menu", strconv.FormatInt(id, 10), nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetMenuRoles replaces the roles a menu is granted to.
func (s *Server) handleSetMenuRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := menuID(w, r)
	if !ok {
		return
	}

	var req setRolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.roles.SetMenuRoles(r.Context(), id, req.RoleIDs); err != nil {
		if errors.Is(err, auth.ErrRoleNotFound) {
			writeValidation(w, err.Error())
			return
		}
		s.writeMenuError(w, "grant", err)
		return
	}

	s.record(r, "menu_roles_update", "menu", strconv.FormatInt(id, 10), map[string]any{"role_ids": req.RoleIDs})
	writeJSON(w, http.StatusOK, map[string]any{
		"menu_id":  id,
		"role_ids": req.RoleIDs,
	})
}

func (s *Server) writeMenuError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, menu.ErrCycleDetected):
		writeValidation(w, err.Error())
	case errors.Is(err, auth.ErrMenuKeyExists):
		writeConflict(w, "menu key already exists")
	case errors.Is(err, auth.ErrMenuHasChildren):
		writeConflict(w, "menu still has children")
	case errors.Is(err, auth.ErrMenuNotFound):
		writeNotFound(w, err.Error())
	default:
		s.logger.Error("menu "+op+" failed", "error", err)
		writeInternalError(w, "failed to "+op+" menu")
	}
}

// menuID parses the {id} path parameter, writing a 400 on failure.
func menuID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "menu id must be a positive integer")
		return 0, false
	}
	return id, true
}
