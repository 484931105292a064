package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/directory"
	"pentestdesk/internal/models"
)

func ListInvitations(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := directory.NewInvitationManager(d, callerFrom(r))
		m.FetchInvitations(r.Context())
		respondSnapshot(w, r, d.Logger, m.Snapshot())
	}
}

type invitationReq struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// CreateInvitation answers with the token so the admin can share the link.
func CreateInvitation(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req invitationReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		inv, err := directory.NewInvitationManager(d, callerFrom(r)).CreateInvitation(r.Context(), req.Email, models.Role(req.Role))
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondStatus(w, http.StatusCreated, inv)
	}
}

func RevokeInvitation(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := directory.NewInvitationManager(d, callerFrom(r)).RevokeInvitation(r.Context(), chi.URLParam(r, "id")); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, map[string]any{"deleted": true})
	}
}

type invitationView struct {
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// GetInvitation is public: it shows who a pending token invites, and 404s
// once the token is accepted or expired.
func GetInvitation(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inv, err := directory.NewInvitationManager(d, directory.Caller{}).GetInvitationByToken(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		if inv == nil {
			respondError(w, r, d.Logger, apperr.NotFound("invitation not found or expired"))
			return
		}
		respondJSON(w, invitationView{Email: inv.Email, Role: inv.Role, ExpiresAt: inv.ExpiresAt})
	}
}

type acceptReq struct {
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func AcceptInvitation(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req acceptReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		u, err := directory.NewInvitationManager(d, directory.Caller{}).AcceptInvitation(r.Context(), chi.URLParam(r, "token"), req.Password, req.FullName)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondStatus(w, http.StatusCreated, map[string]any{"id": u.ID, "email": u.Email})
	}
}
