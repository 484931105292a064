package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/auth"
	"pentestdesk/internal/models"
	"pentestdesk/internal/store"
)

type InvitationManager struct {
	deps        Deps
	caller      Caller
	invitations holder[models.Invitation]
}

// NewInvitationManager accepts a zero Caller for the public token operations.
func NewInvitationManager(d Deps, c Caller) *InvitationManager {
	return &InvitationManager{deps: d, caller: c}
}

func (m *InvitationManager) Snapshot() Snapshot[models.Invitation] { return m.invitations.get() }

func (m *InvitationManager) FetchInvitations(ctx context.Context) []models.Invitation {
	if !m.caller.IsAdmin() {
		m.invitations.set(nil, nil, m.deps.now())
		return []models.Invitation{}
	}
	items, err := m.deps.Store.ListInvitations(ctx)
	if err != nil {
		m.deps.Logger.Errorw("fetch invitations failed", "err", err)
	}
	m.invitations.set(items, err, m.deps.now())
	return m.invitations.get().Items
}

func newInvitationToken() string { return uuid.NewString() + uuid.NewString() }

func (m *InvitationManager) CreateInvitation(ctx context.Context, email string, role models.Role) (models.Invitation, error) {
	if err := requireAdmin(m.caller); err != nil {
		return models.Invitation{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return models.Invitation{}, apperr.Validation("valid email required")
	}
	if !role.Valid() {
		return models.Invitation{}, apperr.Validation("invalid role")
	}
	now := m.deps.now()
	inv := models.Invitation{
		Email:     email,
		Role:      role,
		Token:     newInvitationToken(),
		InvitedBy: m.caller.UserID,
		ExpiresAt: now.Add(m.deps.invitationTTL()),
		CreatedAt: now,
	}
	if err := m.deps.Store.CreateInvitation(ctx, &inv); err != nil {
		return models.Invitation{}, storeErr(err, "invitation not found")
	}
	m.FetchInvitations(ctx)
	return inv, nil
}

// RevokeInvitation deletes an invitation that has not been accepted yet.
func (m *InvitationManager) RevokeInvitation(ctx context.Context, id string) error {
	if err := requireAdmin(m.caller); err != nil {
		return err
	}
	if err := m.deps.Store.DeletePendingInvitation(ctx, id); err != nil {
		return storeErr(err, "invitation not found")
	}
	m.FetchInvitations(ctx)
	return nil
}

// GetInvitationByToken returns nil when the token is unknown, accepted or
// expired.
func (m *InvitationManager) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	if token == "" {
		return nil, nil
	}
	inv, err := m.deps.Store.InvitationByToken(ctx, token, m.deps.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		m.deps.Logger.Errorw("invitation lookup failed", "err", err)
		return nil, apperr.Upstream(err)
	}
	return &inv, nil
}

// AcceptInvitation creates the invited account with the invited role and
// consumes the token.
func (m *InvitationManager) AcceptInvitation(ctx context.Context, token, password, fullName string) (models.User, error) {
	if err := auth.ValidatePassword(password); err != nil {
		return models.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, apperr.Upstream(err)
	}
	u, inv, err := m.deps.Store.RedeemInvitation(ctx, token, m.deps.now(), store.NewAccount{
		PasswordHash: hash, FullName: strings.TrimSpace(fullName), Confirmed: true,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return models.User{}, apperr.NotFound("invitation not found or expired")
	case errors.Is(err, store.ErrConflict):
		return models.User{}, apperr.Conflict("an account with this email already exists")
	case err != nil:
		return models.User{}, apperr.Upstream(err)
	}
	m.deps.Logger.Infow("invitation accepted", "invitation_id", inv.ID, "user_id", u.ID, "role", inv.Role)
	return u, nil
}
