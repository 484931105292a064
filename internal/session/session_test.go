package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pentestdesk/internal/auth"
	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/roles"
	"pentestdesk/internal/store/memory"
)

func fixture(t *testing.T) (*auth.Provider, *roles.Resolver, *memory.Store) {
	t.Helper()
	lg := zap.NewNop().Sugar()
	bus := realtime.NewMemoryBus(lg, nil)
	st := memory.New(bus)
	r, err := roles.NewResolver(st, bus, 8, lg)
	require.NoError(t, err)
	return auth.NewProvider(st, auth.NewSigner("secret", time.Hour), "", lg), r, st
}

func TestLoadingUntilStarted(t *testing.T) {
	p, r, _ := fixture(t)
	c := New(p, r)
	s := c.Snapshot()
	assert.True(t, s.Loading)
	assert.False(t, s.Authenticated())
}

func TestSignInResolvesRoleAndFollowsRevocation(t *testing.T) {
	ctx := context.Background()
	p, r, st := fixture(t)
	u, err := p.SignUp(ctx, "p@example.com", "password1", "P")
	require.NoError(t, err)
	_, err = st.UpsertRole(ctx, u.ID, models.RolePentester)
	require.NoError(t, err)

	c := New(p, r)
	defer c.Close()
	_, err = c.SignIn(ctx, "p@example.com", "password1")
	require.NoError(t, err)

	s := c.Snapshot()
	assert.False(t, s.Loading)
	assert.Equal(t, u.ID, s.UserID())
	assert.True(t, s.Role.IsPentester)

	require.NoError(t, st.DeleteRole(ctx, u.ID))
	assert.Eventually(t, func() bool { return c.Snapshot().Role.Role == models.RoleNone }, time.Second, 5*time.Millisecond)
}

func TestSignOutClearsState(t *testing.T) {
	ctx := context.Background()
	p, r, _ := fixture(t)
	_, err := p.SignUp(ctx, "q@example.com", "password1", "")
	require.NoError(t, err)

	c := New(p, r)
	sess, err := c.SignIn(ctx, "q@example.com", "password1")
	require.NoError(t, err)
	require.NoError(t, c.SignOut(ctx))

	s := c.Snapshot()
	assert.False(t, s.Authenticated())
	assert.False(t, s.Loading)
	assert.Nil(t, c.RoleUpdates())

	_, err = p.CurrentIdentity(ctx, sess.AccessToken)
	assert.Error(t, err)
}

func TestStartWithBadTokenIsUnauthenticated(t *testing.T) {
	p, r, _ := fixture(t)
	c := New(p, r)
	assert.Error(t, c.Start(context.Background(), "garbage"))
	s := c.Snapshot()
	assert.False(t, s.Loading)
	assert.False(t, s.Authenticated())
}

func TestFromRequest(t *testing.T) {
	assert.False(t, FromRequest(context.Background()).Authenticated())

	ctx := auth.WithIdentity(context.Background(), auth.Identity{UserID: "u1"})
	ctx = roles.WithState(ctx, roles.StateOf(models.RoleClient))
	s := FromRequest(ctx)
	assert.Equal(t, "u1", s.UserID())
	assert.True(t, s.Role.IsClient)
	assert.False(t, s.Loading)
}
