package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/warden-core/internal/infrastructure/database"
	"github.com/nerrad567/warden-core/internal/menu"
)

// MenuRepository defines menu persistence. Writes reject parent links that
// would close a cycle.
type MenuRepository interface {
	Create(ctx context.Context, m *menu.Menu) error
	Update(ctx context.Context, m *menu.Menu) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*menu.Menu, error)
	ListAll(ctx context.Context) ([]menu.Menu, error)
}

// SQLiteMenuRepository implements MenuRepository using SQLite.
type SQLiteMenuRepository struct {
	db       *sql.DB
	onChange func()
}

// MenuRepositoryOption customises a SQLiteMenuRepository.
type MenuRepositoryOption func(*SQLiteMenuRepository)

// WithMenuChangeHook registers fn to run after every committed write.
// The resolver uses it to drop its cached forest.
func WithMenuChangeHook(fn func()) MenuRepositoryOption {
	return func(r *SQLiteMenuRepository) { r.onChange = fn }
}

// NewMenuRepository creates a new SQLite-backed menu repository.
func NewMenuRepository(db *sql.DB, opts ...MenuRepositoryOption) *SQLiteMenuRepository {
	r := &SQLiteMenuRepository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const menuColumns = "id, menu_key, url, title, parent_id, sort_order, level"

// Create inserts a menu. A zero ID is assigned by the database.
func (r *SQLiteMenuRepository) Create(ctx context.Context, m *menu.Menu) error {
	if m.MenuKey == "" || m.Title == "" {
		return fmt.Errorf("creating menu: menu key and title are required")
	}

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := validateMenuParent(ctx, tx, m); err != nil {
			return err
		}

		var id any
		if m.ID != 0 {
			id = m.ID
		}
		result, err := tx.ExecContext(ctx,
			`INSERT INTO menus (`+menuColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, m.MenuKey, m.URL, m.Title, nullInt64(m.ParentID), nullInt(m.Order), nullInt(m.Level),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrMenuKeyExists
			}
			return fmt.Errorf("creating menu: %w", err)
		}
		if m.ID == 0 {
			if m.ID, err = result.LastInsertId(); err != nil {
				return fmt.Errorf("reading menu id: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.changed()
	return nil
}

// Update replaces a menu's fields. Moving a node under its own subtree
// fails with menu.ErrCycleDetected.
func (r *SQLiteMenuRepository) Update(ctx context.Context, m *menu.Menu) error {
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := validateMenuParent(ctx, tx, m); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE menus SET menu_key = ?, url = ?, title = ?, parent_id = ?, sort_order = ?, level = ?
			 WHERE id = ?`,
			m.MenuKey, m.URL, m.Title, nullInt64(m.ParentID), nullInt(m.Order), nullInt(m.Level), m.ID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrMenuKeyExists
			}
			return fmt.Errorf("updating menu: %w", err)
		}
		return expectOneRow(result, ErrMenuNotFound)
	})
	if err != nil {
		return err
	}
	r.changed()
	return nil
}

// Delete removes a leaf menu. Menus with children yield ErrMenuHasChildren.
func (r *SQLiteMenuRepository) Delete(ctx context.Context, id int64) error {
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var children int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM menus WHERE parent_id = ?", id).Scan(&children); err != nil {
			return fmt.Errorf("counting menu children: %w", err)
		}
		if children > 0 {
			return ErrMenuHasChildren
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM menus WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting menu: %w", err)
		}
		return expectOneRow(result, ErrMenuNotFound)
	})
	if err != nil {
		return err
	}
	r.changed()
	return nil
}

// GetByID retrieves a menu by ID.
func (r *SQLiteMenuRepository) GetByID(ctx context.Context, id int64) (*menu.Menu, error) {
	return scanMenu(r.db.QueryRowContext(ctx, "SELECT "+menuColumns+" FROM menus WHERE id = ?", id))
}

// ListAll returns every menu row ordered by id.
func (r *SQLiteMenuRepository) ListAll(ctx context.Context) ([]menu.Menu, error) {
	return listMenus(ctx, r.db)
}

func (r *SQLiteMenuRepository) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

// validateMenuParent checks the parent exists and that linking m to it
// keeps the hierarchy acyclic, against the table as seen inside tx.
func validateMenuParent(ctx context.Context, tx *sql.Tx, m *menu.Menu) error {
	if m.ParentID == nil {
		return nil
	}
	if err := requireRow(ctx, tx, "SELECT 1 FROM menus WHERE id = ?", *m.ParentID, ErrMenuNotFound); err != nil {
		if errors.Is(err, ErrMenuNotFound) {
			return fmt.Errorf("parent %d: %w", *m.ParentID, ErrMenuNotFound)
		}
		return err
	}
	if m.ID == 0 {
		// A new row has no descendants yet.
		return nil
	}
	flat, err := listMenus(ctx, tx)
	if err != nil {
		return err
	}
	return menu.ValidateParent(flat, m.ID, m.ParentID)
}

func listMenus(ctx context.Context, q queryer) ([]menu.Menu, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+menuColumns+" FROM menus ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing menus: %w", err)
	}
	defer rows.Close()

	menus := []menu.Menu{}
	for rows.Next() {
		m, err := scanMenu(rows)
		if err != nil {
			return nil, err
		}
		menus = append(menus, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating menus: %w", err)
	}
	return menus, nil
}

func scanMenu(s scanner) (*menu.Menu, error) {
	var m menu.Menu
	var parentID, order, level sql.NullInt64
	if err := s.Scan(&m.ID, &m.MenuKey, &m.URL, &m.Title, &parentID, &order, &level); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMenuNotFound
		}
		return nil, fmt.Errorf("scanning menu: %w", err)
	}
	if parentID.Valid {
		m.ParentID = &parentID.Int64
	}
	if order.Valid {
		v := int(order.Int64)
		m.Order = &v
	}
	if level.Valid {
		v := int(level.Int64)
		m.Level = &v
	}
	return &m, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
