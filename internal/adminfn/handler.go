// Package adminfn is the privileged user-management function. It is mounted
// in the API at /functions/v1/admin-users and also runs standalone on AWS
// Lambda.
package adminfn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/auth"
	"pentestdesk/internal/models"
	"pentestdesk/internal/roles"
	"pentestdesk/internal/store"
)

const (
	ActionCreateUser         = "create_user"
	ActionResetPassword      = "reset_password"
	ActionDeleteUser         = "delete_user"
	ActionResetAdminPassword = "reset_admin_password"
)

// Request is the JSON body accepted by the function.
type Request struct {
	Action      string `json:"action"`
	Email       string `json:"email,omitempty"`
	Password    string `json:"password,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Role        string `json:"role,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	NewPassword string `json:"new_password,omitempty"`
}

type UserView struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  models.Role `json:"role,omitempty"`
}

type Response struct {
	Success bool      `json:"success"`
	User    *UserView `json:"user,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Observer counts handled actions; *metrics.Metrics implements it.
type Observer interface {
	AdminAction(action string, status int)
}

type nopObserver struct{}

func (nopObserver) AdminAction(string, int) {}

type Handler struct {
	store      store.Store
	provider   *auth.Provider
	resolver   *roles.Resolver
	adminEmail string
	obs        Observer
	lg         *zap.SugaredLogger
	now        func() time.Time
}

func NewHandler(st store.Store, p *auth.Provider, r *roles.Resolver, adminEmail string, obs Observer, lg *zap.SugaredLogger) *Handler {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Handler{store: st, provider: p, resolver: r, adminEmail: strings.ToLower(adminEmail), obs: obs, lg: lg, now: time.Now}
}

// Handle runs one invocation and returns the HTTP status with the body to send.
func (h *Handler) Handle(ctx context.Context, token string, body []byte) (int, Response) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return h.fail("", apperr.Validation("invalid JSON body"))
	}
	resp, err := h.dispatch(ctx, token, req)
	if err != nil {
		return h.fail(req.Action, err)
	}
	h.obs.AdminAction(actionLabel(req.Action), http.StatusOK)
	return http.StatusOK, resp
}

func (h *Handler) fail(action string, err error) (int, Response) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		h.lg.Errorw("admin function failed", "action", action, "err", err)
	} else {
		h.lg.Infow("admin function rejected", "action", action, "status", status, "err", err)
	}
	h.obs.AdminAction(actionLabel(action), status)
	return status, Response{Error: err.Error()}
}

// actionLabel keeps caller-supplied action names out of metric labels.
func actionLabel(action string) string {
	switch action {
	case ActionCreateUser, ActionResetPassword, ActionDeleteUser, ActionResetAdminPassword:
		return action
	default:
		return "unknown"
	}
}

func (h *Handler) dispatch(ctx context.Context, token string, req Request) (Response, error) {
	if req.Action == ActionResetAdminPassword {
		if !h.provider.IsServiceCredential(token) {
			return Response{}, apperr.Authorization("service credential required")
		}
		return h.resetAdminPassword(ctx, req)
	}

	caller, err := h.authorize(ctx, token)
	if err != nil {
		return Response{}, err
	}
	switch req.Action {
	case ActionCreateUser:
		return h.createUser(ctx, caller, req)
	case ActionResetPassword:
		return h.resetPassword(ctx, caller, req)
	case ActionDeleteUser:
		return h.deleteUser(ctx, caller, req)
	default:
		return Response{}, apperr.Validation("unknown action")
	}
}

// authorize resolves the bearer to an identity and requires the admin role,
// read fresh from the store.
func (h *Handler) authorize(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, apperr.Authentication("missing authorization header")
	}
	id, err := h.provider.CurrentIdentity(ctx, token)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUpstream {
			return auth.Identity{}, err
		}
		return auth.Identity{}, apperr.Authentication("invalid or expired token")
	}
	role, err := h.resolver.Lookup(ctx, id.UserID)
	if err != nil && !errors.Is(err, store.ErrIntegrity) {
		return auth.Identity{}, apperr.Upstream(err)
	}
	if role != models.RoleAdmin {
		return auth.Identity{}, apperr.Authorization("admin role required")
	}
	return id, nil
}

func (h *Handler) createUser(ctx context.Context, caller auth.Identity, req Request) (Response, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return Response{}, apperr.Validation("email and password are required")
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		return Response{}, err
	}
	role := models.RoleNone
	if req.Role != "" {
		r, ok := models.ParseRole(req.Role)
		if !ok {
			return Response{}, apperr.Validation("invalid role")
		}
		role = r
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return Response{}, apperr.Upstream(err)
	}
	u, err := h.store.CreateAccount(ctx, store.NewAccount{
		Email: email, PasswordHash: hash, FullName: strings.TrimSpace(req.FullName), Role: role, Confirmed: true,
	})
	if errors.Is(err, store.ErrConflict) {
		return Response{}, apperr.Validation("a user with this email already exists")
	}
	if err != nil {
		return Response{}, apperr.Upstream(err)
	}
	h.audit(ctx, &caller.UserID, req.Action, map[string]any{"target_user_id": u.ID, "email": u.Email, "role": role})
	return Response{Success: true, User: &UserView{ID: u.ID, Email: u.Email, Role: role}}, nil
}

func (h *Handler) resetPassword(ctx context.Context, caller auth.Identity, req Request) (Response, error) {
	if req.UserID == "" || req.NewPassword == "" {
		return Response{}, apperr.Validation("user_id and new_password are required")
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		return Response{}, err
	}
	if err := h.setPassword(ctx, req.UserID, req.NewPassword); err != nil {
		return Response{}, err
	}
	h.audit(ctx, &caller.UserID, req.Action, map[string]any{"target_user_id": req.UserID})
	return Response{Success: true}, nil
}

func (h *Handler) setPassword(ctx context.Context, userID, password string) error {
	if _, err := h.store.UserByID(ctx, userID); errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("user not found")
	} else if err != nil {
		return apperr.Upstream(err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return apperr.Upstream(err)
	}
	if err := h.store.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return apperr.Upstream(err)
	}
	return apperr.Upstream(h.store.RevokeUserSessions(ctx, userID, h.now()))
}

func (h *Handler) deleteUser(ctx context.Context, caller auth.Identity, req Request) (Response, error) {
	if req.UserID == "" {
		return Response{}, apperr.Validation("user_id is required")
	}
	if req.UserID == caller.UserID {
		return Response{}, apperr.Validation("cannot delete your own account")
	}
	err := h.store.DeleteUserCascade(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return Response{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return Response{}, apperr.Upstream(err)
	}
	h.resolver.Invalidate(req.UserID)
	h.audit(ctx, &caller.UserID, req.Action, map[string]any{"target_user_id": req.UserID})
	return Response{Success: true}, nil
}

func (h *Handler) resetAdminPassword(ctx context.Context, req Request) (Response, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		email = h.adminEmail
	}
	if req.NewPassword == "" {
		return Response{}, apperr.Validation("new_password is required")
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		return Response{}, err
	}
	u, err := h.store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return Response{}, apperr.NotFound("admin user not found")
	}
	if err != nil {
		return Response{}, apperr.Upstream(err)
	}
	if err := h.setPassword(ctx, u.ID, req.NewPassword); err != nil {
		return Response{}, err
	}
	h.audit(ctx, nil, req.Action, map[string]any{"target_user_id": u.ID, "email": u.Email})
	return Response{Success: true, User: &UserView{ID: u.ID, Email: u.Email}}, nil
}

func (h *Handler) audit(ctx context.Context, actor *string, action string, meta map[string]any) {
	entry := &models.AuditLog{UserID: actor, Action: "admin." + action, Metadata: models.NewJSONB(meta), CreatedAt: h.now()}
	if err := h.store.CreateAuditLog(ctx, entry); err != nil {
		h.lg.Warnw("audit log write failed", "action", action, "err", err)
	}
}

const maxBody = 1 << 20

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "authorization, content-type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "could not read body"})
		return
	}
	status, resp := h.Handle(r.Context(), auth.BearerToken(r), body)
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
