package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/auth"
	"pentestdesk/internal/directory"
	"pentestdesk/internal/roles"
)

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func respondStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// respondError writes {"error": msg} with the status of err's kind. Upstream
// failures are logged and their detail is not sent to the client.
func respondError(w http.ResponseWriter, r *http.Request, lg *zap.SugaredLogger, err error) {
	status := apperr.Status(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		lg.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	respondStatus(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

func callerFrom(r *http.Request) directory.Caller {
	return directory.Caller{
		UserID: auth.Subject(r.Context()),
		Role:   roles.FromContext(r.Context()).Role,
		Token:  auth.BearerToken(r),
	}
}

// respondSnapshot writes the items of a manager fetch, or its error.
func respondSnapshot[T any](w http.ResponseWriter, r *http.Request, lg *zap.SugaredLogger, s directory.Snapshot[T]) {
	if s.Err != "" {
		respondError(w, r, lg, apperr.Upstream(errors.New(s.Err)))
		return
	}
	if s.Items == nil {
		s.Items = []T{}
	}
	respondJSON(w, s.Items)
}
