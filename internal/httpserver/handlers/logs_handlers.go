package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/auth"
	"pentestdesk/internal/models"
	"pentestdesk/internal/roles"
	"pentestdesk/internal/store"
)

const auditLogLimit = 200

// MyLogs returns recent audit logs. Regular users see their own logs.
// Administrators can pass ?all=1 to see recent logs for everyone.
func MyLogs(st store.AuditLogs, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := auth.Subject(r.Context())
		if r.URL.Query().Get("all") == "1" && roles.FromContext(r.Context()).IsAdmin {
			uid = ""
		}
		logs, err := st.ListAuditLogs(r.Context(), uid, auditLogLimit)
		if err != nil {
			respondError(w, r, lg, apperr.Upstream(err))
			return
		}
		if logs == nil {
			logs = []models.AuditLog{}
		}
		respondJSON(w, logs)
	}
}
