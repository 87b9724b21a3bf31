// Package audit stores the security audit trail and fans entries out to
// the message bus and time-series telemetry.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200

	// timeLayout is fixed width so created_at sorts correctly as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"

	auditColumns = "id, action, entity_type, entity_id, user_id, source, details, created_at"
)

// AuditLog is one entry in the security trail.
type AuditLog struct { //nolint:revive // audit.AuditLog reads better than audit.Log at call sites
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Since      time.Time
	Limit      int
	Offset     int
}

// ListResult is one page of entries plus the unpaged total.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository persists and queries audit entries.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository is the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create stores entry, assigning an ID and timestamp when they are unset.
func (r *SQLiteRepository) Create(ctx context.Context, entry *AuditLog) error {
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	details, err := encodeDetails(entry.Details)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO audit_logs ("+auditColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		entry.ID, entry.Action, entry.EntityType,
		nullIfEmpty(entry.EntityID), nullIfEmpty(entry.UserID),
		entry.Source, details, entry.CreatedAt.Format(timeLayout),
	); err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// List returns the page of entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.normalised()
	where, args := filter.where()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+auditColumns+" FROM audit_logs"+where+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{Logs: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (f Filter) normalised() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultPageSize
	case f.Limit > maxPageSize:
		f.Limit = maxPageSize
	}
	f.Offset = max(f.Offset, 0)
	return f
}

// where renders the filter as a parameterised WHERE clause with a leading
// space, or an empty string when nothing is filtered.
func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	eq := func(column, value string) {
		if value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	eq("action", f.Action)
	eq("entity_type", f.EntityType)
	eq("entity_id", f.EntityID)
	eq("user_id", f.UserID)
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanAuditLog(rows *sql.Rows) (AuditLog, error) {
	var (
		entry                     AuditLog
		entityID, userID, details sql.NullString
		createdAt                 string
	)
	if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType,
		&entityID, &userID, &entry.Source, &details, &createdAt); err != nil {
		return AuditLog{}, fmt.Errorf("scanning audit log: %w", err)
	}
	entry.EntityID = entityID.String
	entry.UserID = userID.String

	// A corrupt details blob loses the details, not the entry.
	if details.String != "" {
		_ = json.Unmarshal([]byte(details.String), &entry.Details) //nolint:errcheck // best effort
	}

	t, err := parseTimestamp(createdAt)
	if err != nil {
		return AuditLog{}, err
	}
	entry.CreatedAt = t
	return entry, nil
}

// parseTimestamp accepts the fixed-width layout and plain RFC 3339, which
// rows written by hand or by older builds may carry.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing audit log timestamp %q", s)
}

func encodeDetails(details map[string]any) (any, error) {
	if details == nil {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encoding audit details: %w", err)
	}
	return string(b), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
