package directory

import (
	"context"

	"pentestdesk/internal/models"
	"pentestdesk/internal/notify"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/roles"
)

// RoleSource resolves a user's current role.
type RoleSource interface {
	Resolve(ctx context.Context, userID string) roles.State
}

// NotificationAdmit limits a user's notifications to reports they can read.
// Clients never see internal comments.
func NotificationAdmit(d Deps, rs RoleSource) notify.AdmitFactory {
	return func(userID string) notify.Admit {
		return func(ctx context.Context, ev realtime.Event) bool {
			state := rs.Resolve(ctx, userID)
			if state.Role == models.RoleNone {
				return false
			}
			reportID := ev.New.String("id")
			if ev.Table == models.TableReportComments {
				if state.IsClient && ev.New.Bool("is_internal") {
					return false
				}
				reportID = ev.New.String("report_id")
			}
			if reportID == "" {
				return false
			}
			_, err := NewReportManager(d, Caller{UserID: userID, Role: state.Role}).GetReport(ctx, reportID)
			return err == nil
		}
	}
}
