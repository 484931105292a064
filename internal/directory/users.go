package directory

import (
	"context"
	"strings"

	"pentestdesk/internal/adminfn"
	"pentestdesk/internal/apperr"
	"pentestdesk/internal/models"
	"pentestdesk/internal/store"
)

// UserEntry joins an identity with its profile and role.
type UserEntry struct {
	models.User
	Profile *models.UserProfile `json:"profile,omitempty"`
	Role    models.Role         `json:"role"`
}

type UserManager struct {
	deps   Deps
	caller Caller
	users  holder[UserEntry]
}

func NewUserManager(d Deps, c Caller) *UserManager {
	return &UserManager{deps: d, caller: c}
}

func (m *UserManager) Snapshot() Snapshot[UserEntry] { return m.users.get() }

// FetchUsers lists every user for admins and nothing for anyone else.
func (m *UserManager) FetchUsers(ctx context.Context) []UserEntry {
	if !m.caller.IsAdmin() {
		m.users.set(nil, nil, m.deps.now())
		return []UserEntry{}
	}
	entries, err := m.loadUsers(ctx)
	if err != nil {
		m.deps.Logger.Errorw("fetch users failed", "err", err)
	}
	m.users.set(entries, err, m.deps.now())
	return m.users.get().Items
}

func (m *UserManager) loadUsers(ctx context.Context) ([]UserEntry, error) {
	st := m.deps.Store
	users, err := st.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := st.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	roleRows, err := st.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	byUser := make(map[string]models.UserProfile, len(profiles))
	for _, p := range profiles {
		byUser[p.UserID] = p
	}
	roleOf := make(map[string]models.Role, len(roleRows))
	for _, r := range roleRows {
		roleOf[r.UserID] = r.Role
	}
	out := make([]UserEntry, 0, len(users))
	for _, u := range users {
		e := UserEntry{User: u, Role: roleOf[u.ID]}
		if p, ok := byUser[u.ID]; ok {
			p := p
			e.Profile = &p
		}
		out = append(out, e)
	}
	return out, nil
}

// AssignRole sets the user's single role with one atomic upsert.
func (m *UserManager) AssignRole(ctx context.Context, userID string, role models.Role) error {
	if err := requireAdmin(m.caller); err != nil {
		return err
	}
	if !role.Valid() {
		return apperr.Validation("invalid role")
	}
	if _, err := m.deps.Store.UpsertRole(ctx, userID, role); err != nil {
		return storeErr(err, "user not found")
	}
	m.FetchUsers(ctx)
	return nil
}

func (m *UserManager) RevokeRole(ctx context.Context, userID string) error {
	if err := requireAdmin(m.caller); err != nil {
		return err
	}
	if err := m.deps.Store.DeleteRole(ctx, userID); err != nil {
		return storeErr(err, "role not found")
	}
	m.FetchUsers(ctx)
	return nil
}

// UpdateProfile is allowed on the caller's own profile or by an admin.
func (m *UserManager) UpdateProfile(ctx context.Context, userID string, patch store.ProfilePatch) (models.UserProfile, error) {
	if userID != m.caller.UserID && !m.caller.IsAdmin() {
		return models.UserProfile{}, errUnauthorized
	}
	if patch.FullName != nil && len(strings.TrimSpace(*patch.FullName)) > 200 {
		return models.UserProfile{}, apperr.Validation("full_name too long")
	}
	p, err := m.deps.Store.UpdateProfile(ctx, userID, patch)
	if err != nil {
		return models.UserProfile{}, storeErr(err, "profile not found")
	}
	m.FetchUsers(ctx)
	return p, nil
}

func (m *UserManager) CreateUser(ctx context.Context, req adminfn.Request) (adminfn.UserView, error) {
	if err := requireAdmin(m.caller); err != nil {
		return adminfn.UserView{}, err
	}
	u, err := m.deps.Admin.CreateUser(ctx, m.caller.Token, req)
	if err != nil {
		return adminfn.UserView{}, err
	}
	m.FetchUsers(ctx)
	return u, nil
}

func (m *UserManager) ResetPassword(ctx context.Context, userID, newPassword string) error {
	if err := requireAdmin(m.caller); err != nil {
		return err
	}
	return m.deps.Admin.ResetPassword(ctx, m.caller.Token, userID, newPassword)
}

func (m *UserManager) DeleteUser(ctx context.Context, userID string) error {
	if err := requireAdmin(m.caller); err != nil {
		return err
	}
	if err := m.deps.Admin.DeleteUser(ctx, m.caller.Token, userID); err != nil {
		return err
	}
	m.FetchUsers(ctx)
	return nil
}
