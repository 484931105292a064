// Package roles resolves the caller's single role from user_roles and keeps
// it current from change events.
package roles

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/store"
)

// State is the role state exposed to guards and handlers.
type State struct {
	Role        models.Role `json:"role"`
	Loading     bool        `json:"loading"`
	IsAdmin     bool        `json:"is_admin"`
	IsPentester bool        `json:"is_pentester"`
	IsClient    bool        `json:"is_client"`
}

func StateOf(role models.Role) State {
	return State{
		Role:        role,
		IsAdmin:     role == models.RoleAdmin,
		IsPentester: role == models.RolePentester,
		IsClient:    role == models.RoleClient,
	}
}

// Loading is the state before the first fetch completes.
func Loading() State { return State{Loading: true} }

type Resolver struct {
	store store.Roles
	bus   realtime.Bus
	cache *lru.Cache[string, models.Role]
	lg    *zap.SugaredLogger
}

func NewResolver(st store.Roles, bus realtime.Bus, cacheSize int, lg *zap.SugaredLogger) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, models.Role](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{store: st, bus: bus, cache: cache, lg: lg}, nil
}

// Lookup fetches the role row for userID. Zero rows is no role; more than one
// row is an integrity violation.
func (r *Resolver) Lookup(ctx context.Context, userID string) (models.Role, error) {
	rows, err := r.store.RolesForUser(ctx, userID)
	if err != nil {
		return models.RoleNone, err
	}
	switch len(rows) {
	case 0:
		return models.RoleNone, nil
	case 1:
		role, ok := models.ParseRole(string(rows[0].Role))
		if !ok {
			return models.RoleNone, fmt.Errorf("%w: unknown role %q", store.ErrIntegrity, rows[0].Role)
		}
		return role, nil
	default:
		return models.RoleNone, fmt.Errorf("%w: %d role rows for user", store.ErrIntegrity, len(rows))
	}
}

// Resolve never fails: fetch and integrity errors are logged and the caller
// gets no role.
func (r *Resolver) Resolve(ctx context.Context, userID string) State {
	if userID == "" {
		return StateOf(models.RoleNone)
	}
	if role, ok := r.cache.Get(userID); ok {
		return StateOf(role)
	}
	role, err := r.Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrIntegrity) {
			r.lg.Errorw("role integrity violation", "user_id", userID, "err", err)
		} else {
			r.lg.Warnw("role lookup failed", "user_id", userID, "err", err)
		}
		return StateOf(models.RoleNone)
	}
	r.cache.Add(userID, role)
	return StateOf(role)
}

// Invalidate drops the cached role for userID.
func (r *Resolver) Invalidate(userID string) { r.cache.Remove(userID) }

// Run evicts cache entries as user_roles rows change. It blocks until ctx
// ends.
func (r *Resolver) Run(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, realtime.Filter{Table: models.TableUserRoles, Type: realtime.AnyEvent})
	if err != nil {
		return err
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if id := ev.Row().String("user_id"); id != "" {
				r.cache.Remove(id)
			}
		}
	}
}
