package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pentestdesk")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SERVICE_ROLE_KEY", "service-key")
	t.Setenv("HTTP_PORT", "9090")
	for _, name := range []string{"JWT_EXPIRES_IN", "INVITATION_TTL", "ADMIN_FUNCTION_URL", "INVITATION_PURGE_SCHEDULE", "METRICS_ENABLED", "REDIS_URL"} {
		t.Setenv(name, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.InvitationTTL)
	assert.Equal(t, "http://localhost:9090/functions/v1/admin-users", cfg.AdminFunctionURL)
	assert.Equal(t, "@daily", cfg.InvitationPurgeSchedule)
	assert.True(t, cfg.MetricsEnabled)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadReportsMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SERVICE_ROLE_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "SERVICE_ROLE_KEY")
}

func TestEnvParsers(t *testing.T) {
	t.Setenv("X_BOOL", "off")
	t.Setenv("X_DUR", "90m")
	t.Setenv("X_INT", "nope")

	assert.False(t, envBool("X_BOOL", true))
	assert.Equal(t, 90*time.Minute, envDuration("X_DUR", time.Hour))
	assert.Equal(t, 7, envInt("X_INT", 7))
}
