package directory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pentestdesk/internal/adminfn"
	"pentestdesk/internal/apperr"
	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/roles"
	"pentestdesk/internal/storage"
	"pentestdesk/internal/store"
	"pentestdesk/internal/store/memory"
)

type fakeAdmin struct {
	st      *memory.Store
	deleted []string
}

func (f *fakeAdmin) CreateUser(ctx context.Context, _ string, req adminfn.Request) (adminfn.UserView, error) {
	role, _ := models.ParseRole(req.Role)
	u, err := f.st.CreateAccount(ctx, store.NewAccount{Email: req.Email, PasswordHash: "h", FullName: req.FullName, Role: role, Confirmed: true})
	if err != nil {
		return adminfn.UserView{}, err
	}
	return adminfn.UserView{ID: u.ID, Email: u.Email, Role: role}, nil
}

func (f *fakeAdmin) ResetPassword(context.Context, string, string, string) error { return nil }

func (f *fakeAdmin) DeleteUser(ctx context.Context, _ string, userID string) error {
	f.deleted = append(f.deleted, userID)
	return f.st.DeleteUserCascade(ctx, userID)
}

func newDeps(t *testing.T) (Deps, *memory.Store) {
	t.Helper()
	st := memory.New(nil)
	return Deps{
		Store:   st,
		Admin:   &fakeAdmin{st: st},
		Objects: storage.NewMemory(),
		Logger:  zap.NewNop().Sugar(),
	}, st
}

func account(t *testing.T, st *memory.Store, email string, role models.Role) Caller {
	t.Helper()
	u, err := st.CreateAccount(context.Background(), store.NewAccount{Email: email, PasswordHash: "h", FullName: email, Role: role})
	require.NoError(t, err)
	return Caller{UserID: u.ID, Role: role, Token: "tok-" + email}
}

func TestAssignRoleTwiceKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	target := account(t, st, "t@example.com", models.RoleNone)

	m := NewUserManager(d, admin)
	require.NoError(t, m.AssignRole(ctx, target.UserID, models.RolePentester))
	require.NoError(t, m.AssignRole(ctx, target.UserID, models.RoleClient))

	rows, err := st.RolesForUser(ctx, target.UserID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.RoleClient, rows[0].Role)

	var got models.Role
	for _, e := range m.Snapshot().Items {
		if e.ID == target.UserID {
			got = e.Role
			require.NotNil(t, e.Profile)
		}
	}
	assert.Equal(t, models.RoleClient, got)
}

func TestAssignRoleToUnknownUser(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)

	err := NewUserManager(d, admin).AssignRole(ctx, "ghost", models.RoleClient)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "user not found", err.Error())
	rows, _ := st.RolesForUser(ctx, "ghost")
	assert.Empty(t, rows)
}

func TestNonAdminMutationHasNoSideEffect(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	pentester := account(t, st, "p@example.com", models.RolePentester)
	target := account(t, st, "t@example.com", models.RoleNone)

	m := NewUserManager(d, pentester)
	err := m.AssignRole(ctx, target.UserID, models.RoleAdmin)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Equal(t, "Unauthorized", err.Error())
	rows, _ := st.RolesForUser(ctx, target.UserID)
	assert.Empty(t, rows)

	assert.Empty(t, m.FetchUsers(ctx))
	assert.Empty(t, m.Snapshot().Err)

	_, err = NewInvitationManager(d, pentester).CreateInvitation(ctx, "x@example.com", models.RoleClient)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	list, _ := st.ListInvitations(ctx)
	assert.Empty(t, list)
}

type brokenUsers struct{ store.Store }

func (brokenUsers) ListUsers(context.Context) ([]models.User, error) {
	return nil, errors.New("relation \"users\" does not exist")
}

func TestFetchErrorIsRetained(t *testing.T) {
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	d.Store = brokenUsers{st}

	m := NewUserManager(d, admin)
	assert.Empty(t, m.FetchUsers(context.Background()))
	assert.Contains(t, m.Snapshot().Err, "does not exist")
	assert.NotNil(t, m.Snapshot().Items)
}

func TestUserManagerDelegatesToAdminFunction(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	m := NewUserManager(d, admin)

	u, err := m.CreateUser(ctx, adminfn.Request{Email: "new@example.com", Password: "password1", Role: "client"})
	require.NoError(t, err)
	assert.Len(t, m.Snapshot().Items, 2)

	require.NoError(t, m.DeleteUser(ctx, u.ID))
	assert.Equal(t, []string{u.ID}, d.Admin.(*fakeAdmin).deleted)
	assert.Len(t, m.Snapshot().Items, 1)
}

func TestUpdateProfileSelfOrAdmin(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	client := account(t, st, "c@example.com", models.RoleClient)
	other := account(t, st, "o@example.com", models.RoleClient)
	name := "Renamed"

	m := NewUserManager(d, client)
	p, err := m.UpdateProfile(ctx, client.UserID, store.ProfilePatch{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.FullName)

	_, err = m.UpdateProfile(ctx, other.UserID, store.ProfilePatch{FullName: &name})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestInvitationLifecycle(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	m := NewInvitationManager(d, admin)

	inv, err := m.CreateInvitation(ctx, "Guest@Example.com", models.RolePentester)
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", inv.Email)
	assert.Len(t, inv.Token, 72)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), inv.ExpiresAt, time.Minute)
	assert.Equal(t, admin.UserID, inv.InvitedBy)
	assert.Len(t, m.Snapshot().Items, 1)

	public := NewInvitationManager(d, Caller{})
	got, err := public.GetInvitationByToken(ctx, inv.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inv.ID, got.ID)

	require.NoError(t, st.SetInvitationExpiry(inv.ID, time.Now().Add(-time.Minute)))
	got, err = public.GetInvitationByToken(ctx, inv.Token)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAcceptInvitation(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	inv, err := NewInvitationManager(d, admin).CreateInvitation(ctx, "g@example.com", models.RoleClient)
	require.NoError(t, err)

	public := NewInvitationManager(d, Caller{})
	_, err = public.AcceptInvitation(ctx, inv.Token, "short", "G")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	u, err := public.AcceptInvitation(ctx, inv.Token, "password1", "G")
	require.NoError(t, err)
	assert.Equal(t, "g@example.com", u.Email)
	rows, _ := st.RolesForUser(ctx, u.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.RoleClient, rows[0].Role)

	_, err = public.AcceptInvitation(ctx, inv.Token, "password1", "G")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRevokeInvitation(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	m := NewInvitationManager(d, admin)
	inv, err := m.CreateInvitation(ctx, "r@example.com", models.RoleClient)
	require.NoError(t, err)

	require.NoError(t, m.RevokeInvitation(ctx, inv.ID))
	assert.Empty(t, m.Snapshot().Items)
	assert.ErrorIs(t, m.RevokeInvitation(ctx, inv.ID), apperr.ErrNotFound)
}

func TestProgramScopingAndAssignment(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	pentester := account(t, st, "p@example.com", models.RolePentester)
	client := account(t, st, "c@example.com", models.RoleClient)

	am := NewProgramManager(d, admin)
	_, err := am.CreateProgram(ctx, ProgramInput{Name: "Bad", ClientID: &pentester.UserID})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	p, err := am.CreateProgram(ctx, ProgramInput{Name: "Acme web", ClientID: &client.UserID})
	require.NoError(t, err)
	assert.Equal(t, models.ProgramDraft, p.Status)

	_, err = am.AssignPentester(ctx, p.ID, client.UserID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = am.AssignPentester(ctx, p.ID, pentester.UserID)
	require.NoError(t, err)
	_, err = am.AssignPentester(ctx, p.ID, pentester.UserID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	assert.Len(t, NewProgramManager(d, pentester).FetchPrograms(ctx), 1)
	assert.Len(t, NewProgramManager(d, client).FetchPrograms(ctx), 1)
	other := account(t, st, "o@example.com", models.RoleClient)
	assert.Empty(t, NewProgramManager(d, other).FetchPrograms(ctx))
	_, err = NewProgramManager(d, other).GetProgram(ctx, p.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = am.SetSLA(ctx, p.ID, models.SeverityCritical, 4, 48)
	require.NoError(t, err)
	_, err = am.SetSLA(ctx, p.ID, models.SeverityCritical, 2, 24)
	require.NoError(t, err)
	_, err = am.SetSLA(ctx, p.ID, models.SeverityHigh, 48, 24)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	detail, err := am.GetProgram(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, detail.SLAs, 1)
	assert.Equal(t, 2, detail.SLAs[0].ResponseHours)
	assert.Len(t, detail.Pentesters, 1)

	_, err = NewProgramManager(d, pentester).CreateProgram(ctx, ProgramInput{Name: "Nope"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestDeleteProgramWithReportsConflicts(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	am := NewProgramManager(d, admin)
	p, err := am.CreateProgram(ctx, ProgramInput{Name: "P"})
	require.NoError(t, err)
	_, err = NewReportManager(d, admin).CreateReport(ctx, ReportInput{ProgramID: p.ID, Title: "XSS", Severity: models.SeverityHigh})
	require.NoError(t, err)

	assert.ErrorIs(t, am.DeleteProgram(ctx, p.ID), apperr.ErrConflict)
}

func TestReportVisibilityAndComments(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	pentester := account(t, st, "p@example.com", models.RolePentester)
	outsider := account(t, st, "x@example.com", models.RolePentester)
	client := account(t, st, "c@example.com", models.RoleClient)

	am := NewProgramManager(d, admin)
	p, err := am.CreateProgram(ctx, ProgramInput{Name: "P", ClientID: &client.UserID})
	require.NoError(t, err)
	asset, err := am.AddAsset(ctx, p.ID, models.ProgramAsset{AssetType: models.AssetType("web"), Identifier: "https://acme.test"})
	require.NoError(t, err)
	_, err = am.AssignPentester(ctx, p.ID, pentester.UserID)
	require.NoError(t, err)

	_, err = NewReportManager(d, outsider).CreateReport(ctx, ReportInput{ProgramID: p.ID, Title: "X", Severity: models.SeverityLow})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	pm := NewReportManager(d, pentester)
	r, err := pm.CreateReport(ctx, ReportInput{ProgramID: p.ID, AssetID: &asset.ID, Title: "Stored XSS", Severity: models.SeverityHigh})
	require.NoError(t, err)
	assert.Len(t, pm.Snapshot().Items, 1)

	_, err = pm.AddComment(ctx, r.ID, "triage note", true)
	require.NoError(t, err)
	_, err = pm.AddComment(ctx, r.ID, "fix deployed?", false)
	require.NoError(t, err)

	cm := NewReportManager(d, client)
	comments, err := cm.FetchComments(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "fix deployed?", comments[0].Body)
	_, err = cm.AddComment(ctx, r.ID, "secret", true)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = NewReportManager(d, outsider).GetReport(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = pm.UpdateStatus(ctx, r.ID, models.ReportTriaged)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	updated, err := NewReportManager(d, admin).UpdateStatus(ctx, r.ID, models.ReportTriaged)
	require.NoError(t, err)
	assert.Equal(t, models.ReportTriaged, updated.Status)
}

func TestAttachments(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	p, err := NewProgramManager(d, admin).CreateProgram(ctx, ProgramInput{Name: "P"})
	require.NoError(t, err)
	rm := NewReportManager(d, admin)
	r, err := rm.CreateReport(ctx, ReportInput{ProgramID: p.ID, Title: "SSRF", Severity: models.SeverityCritical})
	require.NoError(t, err)

	a, err := rm.AddAttachment(ctx, r.ID, "../../poc.txt", "text/plain", strings.NewReader("curl http://169.254.169.254"))
	require.NoError(t, err)
	assert.Equal(t, "poc.txt", a.FileName)
	assert.EqualValues(t, 27, a.SizeBytes)

	list, err := rm.FetchAttachments(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, rc, err := rm.OpenAttachment(ctx, r.ID, a.ID)
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "curl http://169.254.169.254", string(b))
}

type staticRoles map[string]models.Role

func (s staticRoles) Resolve(_ context.Context, userID string) roles.State {
	return roles.StateOf(s[userID])
}

func TestNotificationAdmit(t *testing.T) {
	ctx := context.Background()
	d, st := newDeps(t)
	admin := account(t, st, "admin@example.com", models.RoleAdmin)
	client := account(t, st, "c@example.com", models.RoleClient)
	outsider := account(t, st, "o@example.com", models.RoleClient)

	p, err := NewProgramManager(d, admin).CreateProgram(ctx, ProgramInput{Name: "P", ClientID: &client.UserID})
	require.NoError(t, err)
	r, err := NewReportManager(d, admin).CreateReport(ctx, ReportInput{ProgramID: p.ID, Title: "RCE", Severity: models.SeverityCritical})
	require.NoError(t, err)

	admit := NotificationAdmit(d, staticRoles{client.UserID: models.RoleClient, outsider.UserID: models.RoleClient})
	reportEv := realtime.Event{Table: models.TableReports, Type: realtime.Insert, New: realtime.Record{"id": r.ID}}
	internalEv := realtime.Event{Table: models.TableReportComments, Type: realtime.Insert,
		New: realtime.Record{"report_id": r.ID, "is_internal": true}}

	assert.True(t, admit(client.UserID)(ctx, reportEv))
	assert.False(t, admit(client.UserID)(ctx, internalEv))
	assert.False(t, admit(outsider.UserID)(ctx, reportEv))
	assert.False(t, admit("pending-user")(ctx, reportEv))
}
