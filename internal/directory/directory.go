// Package directory holds the caller-scoped managers behind the admin and
// program screens: users, invitations, programs and reports.
//
// Every mutation checks the caller's authority before touching the store,
// performs one store mutation, and then refetches its listing.
package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"pentestdesk/internal/adminfn"
	"pentestdesk/internal/apperr"
	"pentestdesk/internal/models"
	"pentestdesk/internal/storage"
	"pentestdesk/internal/store"
)

const DefaultInvitationTTL = 7 * 24 * time.Hour

// Caller is the signed-in user a manager acts for. Token is forwarded to the
// admin function.
type Caller struct {
	UserID string
	Role   models.Role
	Token  string
}

func (c Caller) IsAdmin() bool { return c.Role == models.RoleAdmin }

// AdminClient reaches the privileged user-management function.
type AdminClient interface {
	CreateUser(ctx context.Context, token string, req adminfn.Request) (adminfn.UserView, error)
	ResetPassword(ctx context.Context, token, userID, newPassword string) error
	DeleteUser(ctx context.Context, token, userID string) error
}

type Deps struct {
	Store         store.Store
	Admin         AdminClient
	Objects       storage.ObjectStore
	Logger        *zap.SugaredLogger
	InvitationTTL time.Duration
	Now           func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) invitationTTL() time.Duration {
	if d.InvitationTTL > 0 {
		return d.InvitationTTL
	}
	return DefaultInvitationTTL
}

// Snapshot is the last fetched listing. A failed fetch leaves Items empty
// and keeps the error text.
type Snapshot[T any] struct {
	Items     []T       `json:"items"`
	Err       string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

type holder[T any] struct {
	mu   sync.RWMutex
	snap Snapshot[T]
}

func (h *holder[T]) set(items []T, err error, at time.Time) {
	if items == nil || err != nil {
		items = []T{}
	}
	s := Snapshot[T]{Items: items, FetchedAt: at}
	if err != nil {
		s.Err = err.Error()
	}
	h.mu.Lock()
	h.snap = s
	h.mu.Unlock()
}

func (h *holder[T]) get() Snapshot[T] {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

var errUnauthorized = apperr.Authorization("Unauthorized")

func requireAdmin(c Caller) error {
	if !c.IsAdmin() {
		return errUnauthorized
	}
	return nil
}

// storeErr maps store sentinels onto the error taxonomy.
func storeErr(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound(notFound)
	case errors.Is(err, store.ErrConflict):
		return apperr.Conflict("already exists")
	default:
		return apperr.Upstream(err)
	}
}
