package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/store"
)

func newStore(t *testing.T, filters ...realtime.Filter) (*Store, *realtime.Subscription) {
	t.Helper()
	bus := realtime.NewMemoryBus(zap.NewNop().Sugar(), nil)
	s := New(bus)
	if len(filters) == 0 {
		return s, nil
	}
	sub, err := bus.Subscribe(context.Background(), filters...)
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return s, sub
}

func next(t *testing.T, sub *realtime.Subscription) realtime.Event {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return realtime.Event{}
	}
}

func TestCreateAccountProvisionsProfileAndRole(t *testing.T) {
	ctx := context.Background()
	s, sub := newStore(t, realtime.Filter{Table: models.TableUserRoles})

	u, err := s.CreateAccount(ctx, store.NewAccount{Email: " Ana@Example.com ", PasswordHash: "h", FullName: "Ana", Role: models.RoleClient})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)

	p, err := s.ProfileByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.FullName)

	ev := next(t, sub)
	assert.Equal(t, realtime.Insert, ev.Type)
	assert.Equal(t, "client", ev.New.String("role"))

	_, err = s.CreateAccount(ctx, store.NewAccount{Email: "ana@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestUpsertRoleKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s, sub := newStore(t, realtime.Filter{Table: models.TableUserRoles})
	s.InsertUserRow(models.User{ID: "u1", Email: "u1@example.com"})

	first, err := s.UpsertRole(ctx, "u1", models.RolePentester)
	require.NoError(t, err)
	second, err := s.UpsertRole(ctx, "u1", models.RoleClient)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	rows, err := s.RolesForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.RoleClient, rows[0].Role)

	assert.Equal(t, realtime.Insert, next(t, sub).Type)
	assert.Equal(t, realtime.Update, next(t, sub).Type)

	require.NoError(t, s.DeleteRole(ctx, "u1"))
	assert.Equal(t, realtime.Delete, next(t, sub).Type)
	assert.ErrorIs(t, s.DeleteRole(ctx, "u1"), store.ErrNotFound)
}

func TestUpsertRoleRequiresUser(t *testing.T) {
	ctx := context.Background()
	s, sub := newStore(t, realtime.Filter{Table: models.TableUserRoles})

	_, err := s.UpsertRole(ctx, "ghost", models.RoleClient)
	assert.ErrorIs(t, err, store.ErrNotFound)
	rows, err := s.ListRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected change event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRolesForUserCapsAtTwo(t *testing.T) {
	s, _ := newStore(t)
	for i := 0; i < 3; i++ {
		s.InsertRoleRow(models.UserRole{UserID: "dup", Role: models.RoleAdmin})
	}
	rows, err := s.RolesForUser(context.Background(), "dup")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRedeemInvitation(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	now := time.Now()

	inv := &models.Invitation{Email: "new@example.com", Role: models.RolePentester, Token: "tok", InvitedBy: "admin", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.CreateInvitation(ctx, inv))

	u, got, err := s.RedeemInvitation(ctx, "tok", now, store.NewAccount{Email: "other@example.com", Role: models.RoleAdmin, PasswordHash: "h"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Email)
	require.NotNil(t, got.AcceptedAt)

	rows, _ := s.RolesForUser(ctx, u.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.RolePentester, rows[0].Role)

	_, _, err = s.RedeemInvitation(ctx, "tok", now, store.NewAccount{PasswordHash: "h"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.InvitationByToken(ctx, "tok", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExpiredInvitationIsHiddenAndPurged(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	now := time.Now()

	inv := &models.Invitation{Email: "late@example.com", Role: models.RoleClient, Token: "late", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.CreateInvitation(ctx, inv))
	require.NoError(t, s.SetInvitationExpiry(inv.ID, now.Add(-time.Hour)))

	_, err := s.InvitationByToken(ctx, "late", now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := s.PurgeExpiredInvitations(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	list, _ := s.ListInvitations(ctx)
	assert.Empty(t, list)
}

func TestDeleteUserCascade(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	u, err := s.CreateAccount(ctx, store.NewAccount{Email: "gone@example.com", PasswordHash: "h", Role: models.RoleClient})
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(ctx, models.Session{JTI: "j1", UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)}))

	require.NoError(t, s.DeleteUserCascade(ctx, u.ID))

	_, err = s.UserByID(ctx, u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.ProfileByUserID(ctx, u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.SessionByJTI(ctx, "j1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	rows, _ := s.RolesForUser(ctx, u.ID)
	assert.Empty(t, rows)

	assert.ErrorIs(t, s.DeleteUserCascade(ctx, u.ID), store.ErrNotFound)
}

func TestProgramAndReportScoping(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	client := "client-1"

	owned := &models.Program{Name: "Owned", ClientID: &client, CreatedBy: "admin"}
	other := &models.Program{Name: "Other", CreatedBy: "admin"}
	require.NoError(t, s.CreateProgram(ctx, owned))
	require.NoError(t, s.CreateProgram(ctx, other))
	_, err := s.AssignPentester(ctx, other.ID, "pt", time.Now())
	require.NoError(t, err)
	_, err = s.AssignPentester(ctx, other.ID, "pt", time.Now())
	assert.ErrorIs(t, err, store.ErrConflict)

	list, _ := s.ListPrograms(ctx, store.ProgramScope{PentesterID: "pt"})
	require.Len(t, list, 1)
	assert.Equal(t, other.ID, list[0].ID)
	list, _ = s.ListPrograms(ctx, store.ProgramScope{ClientID: client})
	require.Len(t, list, 1)
	assert.Equal(t, owned.ID, list[0].ID)

	r := &models.VulnerabilityReport{ProgramID: owned.ID, ReporterID: "pt", Title: "XSS", Severity: models.SeverityHigh}
	require.NoError(t, s.CreateReport(ctx, r))
	assert.Equal(t, models.ReportSubmitted, r.Status)

	reports, _ := s.ListReports(ctx, store.ReportScope{PentesterID: "pt"})
	assert.Len(t, reports, 1)
	reports, _ = s.ListReports(ctx, store.ReportScope{ClientID: "someone-else"})
	assert.Empty(t, reports)

	assert.ErrorIs(t, s.DeleteProgram(ctx, owned.ID), store.ErrConflict)
	require.NoError(t, s.DeleteProgram(ctx, other.ID))
	ok, _ := s.IsAssigned(ctx, other.ID, "pt")
	assert.False(t, ok)
}

func TestReportStatusEventCarriesOldRow(t *testing.T) {
	ctx := context.Background()
	s, sub := newStore(t, realtime.Filter{Table: models.TableReports, Type: realtime.Update})
	p := &models.Program{Name: "P", CreatedBy: "admin"}
	require.NoError(t, s.CreateProgram(ctx, p))
	r := &models.VulnerabilityReport{ProgramID: p.ID, ReporterID: "pt", Title: "SQLi", Severity: models.SeverityCritical}
	require.NoError(t, s.CreateReport(ctx, r))

	_, err := s.UpdateReportStatus(ctx, r.ID, models.ReportTriaged, time.Now())
	require.NoError(t, err)

	ev := next(t, sub)
	assert.Equal(t, "submitted", ev.Old.String("status"))
	assert.Equal(t, "triaged", ev.New.String("status"))
}

func TestInternalCommentsHidden(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	p := &models.Program{Name: "P", CreatedBy: "admin"}
	require.NoError(t, s.CreateProgram(ctx, p))
	r := &models.VulnerabilityReport{ProgramID: p.ID, ReporterID: "pt", Title: "IDOR", Severity: models.SeverityMedium}
	require.NoError(t, s.CreateReport(ctx, r))

	require.NoError(t, s.CreateComment(ctx, &models.ReportComment{ReportID: r.ID, AuthorID: "pt", Body: "public"}))
	require.NoError(t, s.CreateComment(ctx, &models.ReportComment{ReportID: r.ID, AuthorID: "admin", Body: "triage note", IsInternal: true}))

	all, _ := s.ListComments(ctx, r.ID, true)
	visible, _ := s.ListComments(ctx, r.ID, false)
	assert.Len(t, all, 2)
	require.Len(t, visible, 1)
	assert.Equal(t, "public", visible[0].Body)
}
