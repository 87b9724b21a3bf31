package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/warden-core/internal/menu"
)

const menuForestKey = "menu_forest"

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithMenuCache caches the built menu forest for ttl. Role and element
// grants are always read fresh.
func WithMenuCache(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.menus = cache.New(ttl, 2*ttl)
		}
	}
}

// WithCycleHandler registers fn to be told when the stored menu table
// contains a cycle. It runs once per rebuild of the forest, not per lookup.
func WithCycleHandler(fn func(ctx context.Context, err error)) ResolverOption {
	return func(r *Resolver) { r.onCycle = fn }
}

// Resolver computes a user's effective roles, visible menus and granted
// UI elements. It implements RoleSource.
type Resolver struct {
	store   PermissionStore
	menus   *cache.Cache
	onCycle func(ctx context.Context, err error)
}

// NewResolver creates a resolver over store.
func NewResolver(store PermissionStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EffectiveRoles returns the roles held by userID.
func (r *Resolver) EffectiveRoles(ctx context.Context, userID string) ([]Role, error) {
	roles, err := r.store.ListRolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading roles: %w", err)
	}
	return roles, nil
}

// EffectiveRoleNames returns the names of the roles held by userID.
func (r *Resolver) EffectiveRoleNames(ctx context.Context, userID string) ([]string, error) {
	roles, err := r.EffectiveRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	return roleNames(roles), nil
}

// AccessibleMenus returns the menus granted to any of the user's roles plus
// every ancestor of a granted menu.
func (r *Resolver) AccessibleMenus(ctx context.Context, userID string) (*menu.Forest, error) {
	roles, err := r.EffectiveRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.menusForRoles(ctx, roles)
}

// AccessibleUIElements returns the elements granted directly to userID.
// Role membership plays no part.
func (r *Resolver) AccessibleUIElements(ctx context.Context, userID string) ([]UIElement, error) {
	elements, err := r.store.ListUIElementGrantsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading element grants: %w", err)
	}
	return elements, nil
}

// IsPermitted reports whether elementKey is granted to userID. Unknown keys
// are simply not permitted.
func (r *Resolver) IsPermitted(ctx context.Context, userID, elementKey string) (bool, error) {
	elements, err := r.AccessibleUIElements(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, el := range elements {
		if el.ElementKey == elementKey {
			return true, nil
		}
	}
	return false, nil
}

// Resolve gathers roles, the visible menu tree and element grants in one call.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Permissions, error) {
	var (
		roles    []Role
		forest   *menu.Forest
		elements []UIElement
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if roles, err = r.EffectiveRoles(gctx, userID); err != nil {
			return err
		}
		forest, err = r.menusForRoles(gctx, roles)
		return err
	})
	g.Go(func() error {
		var err error
		elements, err = r.AccessibleUIElements(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Permissions{
		UserID:   userID,
		Roles:    roles,
		Menus:    forest.Tree(),
		Elements: elements,
	}, nil
}

// InvalidateMenus drops the cached forest. Safe to call without a cache.
func (r *Resolver) InvalidateMenus() {
	if r.menus != nil {
		r.menus.Delete(menuForestKey)
	}
}

func (r *Resolver) menusForRoles(ctx context.Context, roles []Role) (*menu.Forest, error) {
	if len(roles) == 0 {
		return menu.Prune(nil, nil), nil
	}

	ids := make([]string, len(roles))
	for i, role := range roles {
		ids[i] = role.ID
	}
	granted, err := r.store.ListMenuRoleGrants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading menu grants: %w", err)
	}
	if len(granted) == 0 {
		return menu.Prune(nil, nil), nil
	}

	tree, err := r.forest(ctx)
	if err != nil {
		return nil, err
	}

	allowed := make(map[int64]struct{}, len(granted))
	for _, id := range granted {
		if _, broken := tree.dropped[id]; broken {
			return nil, fmt.Errorf("building menu tree: %w", tree.cycle)
		}
		allowed[id] = struct{}{}
	}
	return menu.Prune(tree.forest, allowed), nil
}

// menuTree is the cached result of building the stored menu table. Rows on
// or below a cycle are left out of forest and listed in dropped, so a cycle
// only fails users granted something in that branch.
type menuTree struct {
	forest  *menu.Forest
	dropped map[int64]struct{}
	cycle   error
}

func (r *Resolver) forest(ctx context.Context) (*menuTree, error) {
	if r.menus != nil {
		if t, ok := r.menus.Get(menuForestKey); ok {
			return t.(*menuTree), nil //nolint:forcetypeassert // only *menuTree is stored
		}
	}

	flat, err := r.store.ListAllMenus(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading menus: %w", err)
	}
	f, dropped, err := menu.Salvage(flat)
	if err != nil && !errors.Is(err, menu.ErrCycleDetected) {
		return nil, fmt.Errorf("building menu tree: %w", err)
	}
	if err != nil && r.onCycle != nil {
		r.onCycle(ctx, err)
	}

	t := &menuTree{forest: f, dropped: dropped, cycle: err}
	if r.menus != nil {
		r.menus.SetDefault(menuForestKey, t)
	}
	return t, nil
}

func roleNames(roles []Role) []string {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = role.RoleName
	}
	return names
}
