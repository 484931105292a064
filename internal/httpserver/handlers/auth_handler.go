package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/auth"
	"pentestdesk/internal/directory"
	"pentestdesk/internal/models"
	"pentestdesk/internal/roles"
	"pentestdesk/internal/store"
)

func audit(ctx context.Context, st store.AuditLogs, lg *zap.SugaredLogger, userID, action string, md map[string]any) {
	var uid *string
	if userID != "" {
		uid = &userID
	}
	if md == nil {
		md = map[string]any{}
	}
	if err := st.CreateAuditLog(ctx, &models.AuditLog{UserID: uid, Action: action, Metadata: models.NewJSONB(md)}); err != nil {
		lg.Warnw("audit write failed", "action", action, "err", err)
	}
}

type signupReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// Signup registers an account without a role.
func Signup(p *auth.Provider, st store.AuditLogs, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signupReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		u, err := p.SignUp(r.Context(), req.Email, req.Password, req.FullName)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		audit(r.Context(), st, lg, u.ID, "auth.signup", nil)
		respondStatus(w, http.StatusCreated, map[string]any{"id": u.ID, "email": u.Email})
	}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func Login(p *auth.Provider, st store.AuditLogs, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		s, err := p.SignIn(r.Context(), req.Email, req.Password)
		if err != nil {
			respondError(w, r, lg, err)
			return
		}
		audit(r.Context(), st, lg, s.User.ID, "auth.login", nil)
		respondJSON(w, s)
	}
}

func Logout(p *auth.Provider, st store.AuditLogs, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := auth.Subject(r.Context())
		if err := p.SignOut(r.Context(), auth.BearerToken(r)); err != nil {
			respondError(w, r, lg, err)
			return
		}
		audit(r.Context(), st, lg, uid, "auth.logout", nil)
		respondJSON(w, map[string]any{"ok": true})
	}
}

type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func ChangePassword(p *auth.Provider, st store.AuditLogs, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changePasswordReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, lg, err)
			return
		}
		uid := auth.Subject(r.Context())
		if err := p.ChangePassword(r.Context(), uid, req.OldPassword, req.NewPassword); err != nil {
			respondError(w, r, lg, err)
			return
		}
		audit(r.Context(), st, lg, uid, "auth.password", nil)
		respondJSON(w, map[string]any{"ok": true})
	}
}

type meResp struct {
	ID      string              `json:"id"`
	Email   string              `json:"email"`
	Profile *models.UserProfile `json:"profile"`
	Role    roles.State         `json:"role"`
}

// Me reports the caller's identity, profile and role state. It answers for
// users without a role so clients can show the pending screen.
func Me(st store.Profiles, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		resp := meResp{ID: id.UserID, Email: id.Email, Role: roles.FromContext(r.Context())}
		prof, err := st.ProfileByUserID(r.Context(), id.UserID)
		switch {
		case err == nil:
			resp.Profile = &prof
		case !errors.Is(err, store.ErrNotFound):
			respondError(w, r, lg, apperr.Upstream(err))
			return
		}
		respondJSON(w, resp)
	}
}

func UpdateMyProfile(d directory.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch store.ProfilePatch
		if err := decodeJSON(r, &patch); err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		c := callerFrom(r)
		prof, err := directory.NewUserManager(d, c).UpdateProfile(r.Context(), c.UserID, patch)
		if err != nil {
			respondError(w, r, d.Logger, err)
			return
		}
		respondJSON(w, prof)
	}
}
