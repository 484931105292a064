package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("email required"), http.StatusBadRequest},
		{Authentication("missing bearer token"), http.StatusUnauthorized},
		{Authorization("Unauthorized"), http.StatusForbidden},
		{NotFound("user not found"), http.StatusNotFound},
		{Conflict("email taken"), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
		{Upstream(errors.New("connection reset")), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Status(c.err), c.err.Error())
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("assign role: %w", Authorization("Unauthorized"))
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "assign role: Unauthorized", err.Error())
}

func TestUpstreamKeepsTaxonomy(t *testing.T) {
	inner := NotFound("program not found")
	assert.Same(t, inner, Upstream(inner))
	assert.Nil(t, Upstream(nil))

	base := errors.New("pq: deadlock")
	wrapped := Upstream(base)
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "pq: deadlock", wrapped.Error())
}
