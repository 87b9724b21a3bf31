package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/warden-core/internal/infrastructure/database"
)

// ElementRepository defines UI element persistence and per-user grants.
type ElementRepository interface {
	Create(ctx context.Context, el *UIElement) error
	GetByKey(ctx context.Context, key string) (*UIElement, error)
	List(ctx context.Context) ([]UIElement, error)
	Delete(ctx context.Context, id string) error
	SetUserElements(ctx context.Context, userID string, elementIDs []string) error
}

// SQLiteElementRepository implements ElementRepository using SQLite.
type SQLiteElementRepository struct {
	db *sql.DB
}

// NewElementRepository creates a new SQLite-backed UI element repository.
func NewElementRepository(db *sql.DB) *SQLiteElementRepository {
	return &SQLiteElementRepository{db: db}
}

const elementColumns = "id, element_key, name, type, description"

// Create inserts a UI element. The ID is generated if empty and Type
// defaults to "button".
func (r *SQLiteElementRepository) Create(ctx context.Context, el *UIElement) error {
	if el.ElementKey == "" {
		return fmt.Errorf("creating ui element: empty element key")
	}
	if el.ID == "" {
		el.ID = "uie-" + uuid.NewString()[:8]
	}
	if el.Type == "" {
		el.Type = "button"
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO ui_elements ("+elementColumns+") VALUES (?, ?, ?, ?, ?)",
		el.ID, el.ElementKey, el.Name, el.Type, el.Description,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrElementKeyExists
		}
		return fmt.Errorf("creating ui element: %w", err)
	}
	return nil
}

// GetByKey retrieves a UI element by its unique key.
func (r *SQLiteElementRepository) GetByKey(ctx context.Context, key string) (*UIElement, error) {
	return scanElement(r.db.QueryRowContext(ctx,
		"SELECT "+elementColumns+" FROM ui_elements WHERE element_key = ?", key))
}

// List returns every UI element ordered by key.
func (r *SQLiteElementRepository) List(ctx context.Context) ([]UIElement, error) {
	return queryElements(ctx, r.db, "SELECT "+elementColumns+" FROM ui_elements ORDER BY element_key")
}

// Delete removes a UI element and its grants.
func (r *SQLiteElementRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM ui_elements WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting ui element: %w", err)
	}
	return expectOneRow(result, ErrElementNotFound)
}

// SetUserElements replaces the direct element grants of a user.
func (r *SQLiteElementRepository) SetUserElements(ctx context.Context, userID string, elementIDs []string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "SELECT 1 FROM users WHERE id = ?", userID, ErrUserNotFound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM ui_element_user_permissions WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("clearing element grants: %w", err)
		}
		for _, elementID := range dedupe(elementIDs) {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO ui_element_user_permissions (element_id, user_id) VALUES (?, ?)",
				elementID, userID); err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: %s", ErrElementNotFound, elementID)
				}
				return fmt.Errorf("granting element %s: %w", elementID, err)
			}
		}
		return nil
	})
}

func queryElements(ctx context.Context, q queryer, query string, args ...any) ([]UIElement, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing ui elements: %w", err)
	}
	defer rows.Close()

	elements := []UIElement{}
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, *el)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ui elements: %w", err)
	}
	return elements, nil
}

func scanElement(s scanner) (*UIElement, error) {
	var el UIElement
	if err := s.Scan(&el.ID, &el.ElementKey, &el.Name, &el.Type, &el.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrElementNotFound
		}
		return nil, fmt.Errorf("scanning ui element: %w", err)
	}
	return &el, nil
}
