package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"pentestdesk/internal/auth"
	"pentestdesk/internal/directory"
	"pentestdesk/internal/guard"
	"pentestdesk/internal/httpserver/handlers"
	"pentestdesk/internal/metrics"
	"pentestdesk/internal/models"
	"pentestdesk/internal/notify"
	"pentestdesk/internal/roles"
)

type Deps struct {
	Directory directory.Deps
	Provider  *auth.Provider
	Resolver  *roles.Resolver
	Hub       *notify.Hub
	// AdminFn serves the administrative user-management endpoint.
	AdminFn http.Handler
	Metrics *metrics.Metrics
	Health  *HealthChecker
	Logger  *zap.SugaredLogger
}

func NewRouter(d Deps) http.Handler {
	lg := d.Logger
	st := d.Directory.Store
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/healthz", d.Health.Liveness)
	r.Get("/readyz", d.Health.Readiness)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
	if d.AdminFn != nil {
		r.Handle("/functions/v1/admin-users", d.AdminFn)
	}

	r.Group(func(api chi.Router) {
		api.Use(auth.Authenticate(d.Provider, lg), roles.Middleware(d.Resolver))

		api.Post("/v1/auth/signup", handlers.Signup(d.Provider, st, lg))
		api.Post("/v1/auth/login", handlers.Login(d.Provider, st, lg))
		api.Get("/v1/invitations/{token}", handlers.GetInvitation(d.Directory))
		api.Post("/v1/invitations/{token}/accept", handlers.AcceptInvitation(d.Directory))

		api.Group(func(protected chi.Router) {
			protected.Use(guard.Require(guard.WithoutRole()))
			protected.Get("/v1/me", handlers.Me(st, lg))
			protected.Patch("/v1/me/profile", handlers.UpdateMyProfile(d.Directory))
			protected.Post("/v1/auth/logout", handlers.Logout(d.Provider, st, lg))
			protected.Post("/v1/auth/password", handlers.ChangePassword(d.Provider, st, lg))
		})

		api.Group(func(member chi.Router) {
			member.Use(guard.Require())
			member.Get("/v1/notifications", handlers.ListNotifications(d.Hub, lg))
			member.Get("/v1/notifications/stream", handlers.NotificationStream(d.Hub, d.Provider, d.Resolver, lg))
			member.Post("/v1/notifications/read", handlers.MarkNotificationsRead(d.Hub, lg))
			member.Delete("/v1/notifications", handlers.ClearNotifications(d.Hub, lg))

			member.Get("/v1/programs", handlers.ListPrograms(d.Directory))
			member.Get("/v1/programs/{id}", handlers.GetProgram(d.Directory))

			member.Get("/v1/reports", handlers.ListReports(d.Directory))
			member.Post("/v1/reports", handlers.CreateReport(d.Directory))
			member.Get("/v1/reports/{id}", handlers.GetReport(d.Directory))
			member.Get("/v1/reports/{id}/comments", handlers.ListComments(d.Directory))
			member.Post("/v1/reports/{id}/comments", handlers.AddComment(d.Directory))
			member.Get("/v1/reports/{id}/attachments", handlers.ListAttachments(d.Directory))
			member.Post("/v1/reports/{id}/attachments", handlers.UploadAttachment(d.Directory))
			member.Get("/v1/reports/{id}/attachments/{attachmentID}", handlers.DownloadAttachment(d.Directory))

			member.Get("/v1/logs", handlers.MyLogs(st, lg))
		})

		api.Group(func(admin chi.Router) {
			admin.Use(guard.Require(guard.AllowRoles(models.RoleAdmin)))
			admin.Get("/v1/admin/users", handlers.ListUsers(d.Directory))
			admin.Post("/v1/admin/users", handlers.CreateUser(d.Directory))
			admin.Put("/v1/admin/users/{id}/role", handlers.AssignRole(d.Directory))
			admin.Delete("/v1/admin/users/{id}/role", handlers.RevokeRole(d.Directory))
			admin.Post("/v1/admin/users/{id}/password", handlers.ResetUserPassword(d.Directory))
			admin.Delete("/v1/admin/users/{id}", handlers.DeleteUser(d.Directory))

			admin.Get("/v1/admin/invitations", handlers.ListInvitations(d.Directory))
			admin.Post("/v1/admin/invitations", handlers.CreateInvitation(d.Directory))
			admin.Delete("/v1/admin/invitations/{id}", handlers.RevokeInvitation(d.Directory))

			admin.Post("/v1/programs", handlers.CreateProgram(d.Directory))
			admin.Patch("/v1/programs/{id}", handlers.UpdateProgram(d.Directory))
			admin.Delete("/v1/programs/{id}", handlers.DeleteProgram(d.Directory))
			admin.Post("/v1/programs/{id}/assets", handlers.AddAsset(d.Directory))
			admin.Delete("/v1/programs/{id}/assets/{assetID}", handlers.RemoveAsset(d.Directory))
			admin.Put("/v1/programs/{id}/slas/{severity}", handlers.SetSLA(d.Directory))
			admin.Post("/v1/programs/{id}/pentesters", handlers.AssignPentester(d.Directory))
			admin.Delete("/v1/programs/{id}/pentesters/{pentesterID}", handlers.UnassignPentester(d.Directory))

			admin.Put("/v1/reports/{id}/status", handlers.UpdateReportStatus(d.Directory))
		})
	})
	return r
}
