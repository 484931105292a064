package roles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/store"
	"pentestdesk/internal/store/memory"
)

func newResolver(t *testing.T) (*Resolver, *memory.Store, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	lg := zap.New(core).Sugar()
	bus := realtime.NewMemoryBus(lg, nil)
	st := memory.New(bus)
	st.InsertUserRow(models.User{ID: "u1", Email: "u1@example.com"})
	st.InsertUserRow(models.User{ID: "other", Email: "other@example.com"})
	r, err := NewResolver(st, bus, 16, lg)
	require.NoError(t, err)
	return r, st, logs
}

func TestResolveNoRowsMeansNoRole(t *testing.T) {
	r, _, _ := newResolver(t)
	s := r.Resolve(context.Background(), "nobody")
	assert.Equal(t, models.RoleNone, s.Role)
	assert.False(t, s.Loading)
	assert.False(t, s.IsAdmin || s.IsPentester || s.IsClient)
}

func TestResolveFlags(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newResolver(t)
	_, err := st.UpsertRole(ctx, "u1", models.RolePentester)
	require.NoError(t, err)

	s := r.Resolve(ctx, "u1")
	assert.Equal(t, models.RolePentester, s.Role)
	assert.True(t, s.IsPentester)
	assert.False(t, s.IsAdmin)
}

func TestDuplicateRowsGrantNothing(t *testing.T) {
	ctx := context.Background()
	r, st, logs := newResolver(t)
	st.InsertRoleRow(models.UserRole{UserID: "dup", Role: models.RoleAdmin})
	st.InsertRoleRow(models.UserRole{UserID: "dup", Role: models.RoleClient})

	_, err := r.Lookup(ctx, "dup")
	assert.ErrorIs(t, err, store.ErrIntegrity)

	s := r.Resolve(ctx, "dup")
	assert.Equal(t, models.RoleNone, s.Role)
	assert.Equal(t, 1, logs.FilterMessage("role integrity violation").Len())
}

type failingRoles struct{ store.Roles }

func (failingRoles) RolesForUser(context.Context, string) ([]models.UserRole, error) {
	return nil, errors.New("connection refused")
}

func TestFetchErrorMeansNoRole(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	lg := zap.New(core).Sugar()
	r, err := NewResolver(failingRoles{}, realtime.NewMemoryBus(lg, nil), 4, lg)
	require.NoError(t, err)

	assert.Equal(t, models.RoleNone, r.Resolve(context.Background(), "u1").Role)
	assert.Equal(t, 1, logs.FilterMessage("role lookup failed").Len())
}

func TestRunInvalidatesCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, st, _ := newResolver(t)
	_, err := st.UpsertRole(ctx, "u1", models.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, models.RoleClient, r.Resolve(ctx, "u1").Role)

	go func() { _ = r.Run(ctx) }()
	require.Eventually(t, func() bool { return r.bus.(*realtime.MemoryBus).Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	_, err = st.UpsertRole(ctx, "u1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return r.Resolve(ctx, "u1").Role == models.RoleAdmin }, time.Second, 5*time.Millisecond)
}

func TestWatcherFollowsChanges(t *testing.T) {
	ctx := context.Background()
	r, st, _ := newResolver(t)
	_, err := st.UpsertRole(ctx, "u1", models.RoleClient)
	require.NoError(t, err)

	w, err := r.Watch(ctx, "u1")
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, models.RoleClient, w.State().Role)

	_, err = st.UpsertRole(ctx, "u1", models.RolePentester)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return w.State().IsPentester }, time.Second, 5*time.Millisecond)

	_, err = st.UpsertRole(ctx, "other", models.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, st.DeleteRole(ctx, "u1"))
	assert.Eventually(t, func() bool { return w.State().Role == models.RoleNone }, time.Second, 5*time.Millisecond)
	assert.False(t, w.State().IsAdmin)
}

func TestWatcherCloseReleasesSubscription(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newResolver(t)
	w, err := r.Watch(ctx, "u1")
	require.NoError(t, err)
	bus := r.bus.(*realtime.MemoryBus)
	assert.Equal(t, 1, bus.Subscribers())
	w.Close()
	assert.Equal(t, 0, bus.Subscribers())
}
