package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pentestdesk/internal/adminfn"
	"pentestdesk/internal/apperr"
	"pentestdesk/internal/directory"
	"pentestdesk/internal/models"
)

func ListUsers(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := directory.NewUserManager(d, callerFrom(r))
		m.FetchUsers(r.Context())
		respondSnapshot(w, r, d.Logger, m.Snapshot())
	}
}

// CreateUser provisions a pre-confirmed account through the admin function.
func CreateUser(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adminfn.Request
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		u, err := directory.NewUserManager(d, callerFrom(r)).CreateUser(r.Context(), req)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondStatus(w, http.StatusCreated, u)
	}
}

type roleReq struct {
	Role string `json:"role"`
}

func AssignRole(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req roleReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		role, ok := models.ParseRole(req.Role)
		if !ok {
			respondError(w, r, d.Logger, apperr.Validation("role must be admin, pentester or client"))
			return
		}
		id := chi.URLParam(r, "id")
		if err := directory.NewUserManager(d, callerFrom(r)).AssignRole(r.Context(), id, role); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, map[string]any{"user_id": id, "role": role})
	}
}

func RevokeRole(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := directory.NewUserManager(d, callerFrom(r)).RevokeRole(r.Context(), chi.URLParam(r, "id")); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, map[string]any{"deleted": true})
	}
}

type resetPasswordReq struct {
	NewPassword string `json:"new_password"`
}

func ResetUserPassword(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetPasswordReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		if err := directory.NewUserManager(d, callerFrom(r)).ResetPassword(r.Context(), chi.URLParam(r, "id"), req.NewPassword); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, map[string]any{"updated": true})
	}
}

func DeleteUser(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := directory.NewUserManager(d, callerFrom(r)).DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, map[string]any{"deleted": true})
	}
}
