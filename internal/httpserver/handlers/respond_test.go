package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"pentestdesk/internal/apperr"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	lg := zap.NewNop().Sugar()
	cases := []struct {
		err  error
		code int
		body string
	}{
		{apperr.Validation("title is required"), http.StatusBadRequest, `{"error":"title is required"}`},
		{apperr.Authorization("Unauthorized"), http.StatusForbidden, `{"error":"Unauthorized"}`},
		{apperr.NotFound("report not found"), http.StatusNotFound, `{"error":"report not found"}`},
		{apperr.Conflict("pentester already assigned"), http.StatusConflict, `{"error":"pentester already assigned"}`},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		respondError(rec, httptest.NewRequest(http.MethodGet, "/", nil), lg, c.err)
		assert.Equal(t, c.code, rec.Code)
		assert.JSONEq(t, c.body, rec.Body.String())
	}
}

func TestRespondErrorHidesUpstreamDetail(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rec := httptest.NewRecorder()
	respondError(rec, httptest.NewRequest(http.MethodGet, "/v1/programs", nil), zap.New(core).Sugar(),
		apperr.Upstream(errors.New("pq: password authentication failed")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
}

func TestDecodeJSONRejectsGarbage(t *testing.T) {
	var v map[string]any
	err := decodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")), &v)
	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
}

func TestRespondJSONDoesNotEscapeHTML(t *testing.T) {
	rec := httptest.NewRecorder()
	respondJSON(rec, map[string]string{"title": "<script>"})
	assert.Equal(t, "{\"title\":\"<script>\"}\n", rec.Body.String())
}
