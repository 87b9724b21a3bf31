package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/warden-core/internal/audit"
)

// auditSource tags entries written for administration requests.
const auditSource = "api"

// record writes an audit entry for an administration change made by the
// caller. Recording never fails the request.
func (s *Server) record(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.recorder == nil {
		return
	}
	userID := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		userID = claims.Subject
	}
	if details == nil {
		details = map[string]any{}
	}
	if id := requestIDFrom(r.Context()); id != "" {
		details["request_id"] = id
	}

	s.recorder.Record(r.Context(), &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     auditSource,
		Details:    details,
	})
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by action type (login, login_failed, token_reuse, menu_update, ...)
//   - entity_type: filter by entity type (user, session, menu)
//   - entity_id: filter by specific entity ID
//   - user_id: filter by acting user
//   - since: RFC 3339 lower bound on created_at
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
