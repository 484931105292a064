package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readiness(t *testing.T, h *HealthChecker) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var st HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return rec.Code, st
}

func TestReadinessHealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	code, st := readiness(t, NewHealthChecker(db, rdb))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, st.Status)
	assert.Equal(t, StatusHealthy, st.Dependencies["database"].Status)
	assert.Equal(t, StatusHealthy, st.Dependencies["redis"].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadinessRedisDownIsDegraded(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	code, st := readiness(t, NewHealthChecker(db, rdb))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, st.Status)
	assert.Equal(t, StatusUnhealthy, st.Dependencies["redis"].Status)
}

func TestReadinessDatabaseDownIsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	code, st := readiness(t, NewHealthChecker(db, nil))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, st.Status)
	assert.Equal(t, "connection refused", st.Dependencies["database"].Message)
}

func TestLivenessWithoutDependencies(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthChecker(nil, nil).Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), StatusHealthy)
}

func TestReadinessReportsLatencyInMilliseconds(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillDelayFor(30 * time.Millisecond)

	rec := httptest.NewRecorder()
	NewHealthChecker(db, nil).Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var raw struct {
		Dependencies map[string]map[string]any `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	ms, ok := raw.Dependencies["database"]["latency_ms"].(float64)
	require.True(t, ok, rec.Body.String())
	assert.GreaterOrEqual(t, ms, float64(30))
	assert.Less(t, ms, float64(5000))
}
