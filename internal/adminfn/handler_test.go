package adminfn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/auth"
	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/roles"
	"pentestdesk/internal/store"
	"pentestdesk/internal/store/memory"
)

const serviceKey = "svc-key"

type fixture struct {
	st       *memory.Store
	provider *auth.Provider
	h        *Handler
	admin    models.User
	token    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	lg := zap.NewNop().Sugar()
	bus := realtime.NewMemoryBus(lg, nil)
	st := memory.New(bus)
	p := auth.NewProvider(st, auth.NewSigner("secret", time.Hour), serviceKey, lg)
	r, err := roles.NewResolver(st, bus, 8, lg)
	require.NoError(t, err)

	admin, _, err := p.EnsureAdmin(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)
	sess, err := p.SignIn(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)

	return fixture{st: st, provider: p, h: NewHandler(st, p, r, "admin@example.com", nil, lg), admin: admin, token: sess.AccessToken}
}

func (f fixture) call(t *testing.T, token string, req Request) (int, Response) {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return f.h.Handle(context.Background(), token, b)
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	status, resp := f.call(t, f.token, Request{Action: ActionCreateUser, Email: "New@Example.com", Password: "password1", FullName: "New", Role: "pentester"})
	require.Equal(t, http.StatusOK, status, resp.Error)
	require.NotNil(t, resp.User)
	assert.Equal(t, "new@example.com", resp.User.Email)

	ctx := context.Background()
	u, err := f.st.UserByID(ctx, resp.User.ID)
	require.NoError(t, err)
	assert.NotNil(t, u.EmailConfirmedAt)
	rows, _ := f.st.RolesForUser(ctx, u.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.RolePentester, rows[0].Role)

	logs, _ := f.st.ListAuditLogs(ctx, f.admin.ID, 10)
	require.Len(t, logs, 1)
	assert.Equal(t, "admin.create_user", logs[0].Action)
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	status, _ := f.call(t, f.token, Request{Action: ActionCreateUser, Email: "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.call(t, f.token, Request{Action: ActionCreateUser, Email: "x@example.com", Password: "password1", Role: "superuser"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.call(t, f.token, Request{Action: "drop_tables"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAuthorizationLadder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, _ := f.call(t, "", Request{Action: ActionCreateUser})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = f.call(t, "not-a-jwt", Request{Action: ActionCreateUser})
	assert.Equal(t, http.StatusUnauthorized, status)

	_, err := f.provider.SignUp(ctx, "client@example.com", "password1", "")
	require.NoError(t, err)
	sess, err := f.provider.SignIn(ctx, "client@example.com", "password1")
	require.NoError(t, err)
	status, resp := f.call(t, sess.AccessToken, Request{Action: ActionCreateUser, Email: "y@example.com", Password: "password1"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.NotEmpty(t, resp.Error)
}

func TestDeleteSelfIsRejected(t *testing.T) {
	f := newFixture(t)
	status, resp := f.call(t, f.token, Request{Action: ActionDeleteUser, UserID: f.admin.ID})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "cannot delete your own account", resp.Error)

	_, err := f.st.UserByID(context.Background(), f.admin.ID)
	assert.NoError(t, err)
	rows, _ := f.st.RolesForUser(context.Background(), f.admin.ID)
	assert.Len(t, rows, 1)
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	victim, err := f.st.CreateAccount(ctx, store.NewAccount{Email: "v@example.com", PasswordHash: "h", Role: models.RoleClient})
	require.NoError(t, err)

	status, _ := f.call(t, f.token, Request{Action: ActionDeleteUser, UserID: victim.ID})
	require.Equal(t, http.StatusOK, status)
	_, err = f.st.UserByID(ctx, victim.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	status, _ = f.call(t, f.token, Request{Action: ActionDeleteUser, UserID: victim.ID})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.provider.SignUp(ctx, "r@example.com", "password1", "")
	require.NoError(t, err)
	sess, err := f.provider.SignIn(ctx, "r@example.com", "password1")
	require.NoError(t, err)

	status, _ := f.call(t, f.token, Request{Action: ActionResetPassword, UserID: u.ID, NewPassword: "password2"})
	require.Equal(t, http.StatusOK, status)

	_, err = f.provider.CurrentIdentity(ctx, sess.AccessToken)
	assert.Error(t, err)
	_, err = f.provider.SignIn(ctx, "r@example.com", "password2")
	assert.NoError(t, err)
}

func TestResetAdminPasswordNeedsServiceCredential(t *testing.T) {
	f := newFixture(t)
	req := Request{Action: ActionResetAdminPassword, NewPassword: "rotated-pass"}

	status, _ := f.call(t, "", req)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = f.call(t, f.token, req)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp := f.call(t, serviceKey, req)
	require.Equal(t, http.StatusOK, status, resp.Error)
	_, err := f.provider.SignIn(context.Background(), "admin@example.com", "rotated-pass")
	assert.NoError(t, err)
}

func TestServeHTTPAndClient(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	u, err := c.CreateUser(context.Background(), f.token, Request{Email: "c@example.com", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, "c@example.com", u.Email)

	err = c.DeleteUser(context.Background(), f.token, f.admin.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	err = c.ResetPassword(context.Background(), "", u.ID, "password9")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)

	res, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestHandleAPIGateway(t *testing.T) {
	f := newFixture(t)
	res, err := f.h.HandleAPIGateway(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Headers:    map[string]string{"authorization": "Bearer " + f.token},
		Body:       `{"action":"delete_user","user_id":"` + f.admin.ID + `"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.True(t, strings.Contains(res.Body, "cannot delete your own account"))
	assert.Equal(t, "*", res.Headers["Access-Control-Allow-Origin"])

	res, err = f.h.HandleAPIGateway(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodOptions})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

type recordedAction struct {
	action string
	status int
}

type recordingObserver struct{ got []recordedAction }

func (r *recordingObserver) AdminAction(action string, status int) {
	r.got = append(r.got, recordedAction{action, status})
}

func TestUnknownActionsShareOneMetricLabel(t *testing.T) {
	f := newFixture(t)
	rec := &recordingObserver{}
	f.h.obs = rec

	status, resp := f.call(t, f.token, Request{Action: "drop_tables_" + strings.Repeat("x", 40)})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown action", resp.Error)
	status, _ = f.h.Handle(context.Background(), f.token, []byte("{"))
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.call(t, f.token, Request{Action: ActionCreateUser, Email: "m@example.com", Password: "password1"})
	assert.Equal(t, http.StatusOK, status)

	assert.Equal(t, []recordedAction{
		{"unknown", http.StatusBadRequest},
		{"unknown", http.StatusBadRequest},
		{ActionCreateUser, http.StatusOK},
	}, rec.got)
}
