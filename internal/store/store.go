// Package store declares the persistence contract. The postgres adapter is
// the production implementation; the memory adapter backs tests and local runs.
//
// Every committed mutation on user_roles, profiles, invitations, programs,
// vulnerability_reports and report_comments is published as a realtime.Event.
package store

import (
	"context"
	"errors"
	"time"

	"pentestdesk/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("record already exists")
	ErrIntegrity = errors.New("integrity violation")
)

// NewAccount describes an identity to provision together with its profile
// and, when Role is set, its role row.
type NewAccount struct {
	Email        string
	PasswordHash string
	FullName     string
	Role         models.Role
	Confirmed    bool
}

type ProfilePatch struct {
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

type ProgramPatch struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	ClientID    *string               `json:"client_id"`
	Status      *models.ProgramStatus `json:"status"`
	StartsAt    *time.Time            `json:"starts_at"`
	EndsAt      *time.Time            `json:"ends_at"`
}

// ProgramScope narrows program listings. The zero value lists everything.
type ProgramScope struct {
	PentesterID string
	ClientID    string
}

// ReportScope narrows report listings. PentesterID matches reports the
// pentester filed or that belong to programs they are assigned to.
type ReportScope struct {
	ProgramID   string
	PentesterID string
	ClientID    string
}

type Users interface {
	CreateAccount(ctx context.Context, acct NewAccount) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	TouchSignIn(ctx context.Context, userID string, at time.Time) error
	// DeleteUserCascade removes the role row, profile, sessions and identity
	// in one transaction.
	DeleteUserCascade(ctx context.Context, userID string) error
}

type Sessions interface {
	CreateSession(ctx context.Context, s models.Session) error
	SessionByJTI(ctx context.Context, jti string) (models.Session, error)
	RevokeSession(ctx context.Context, jti string, at time.Time) error
	RevokeUserSessions(ctx context.Context, userID string, at time.Time) error
}

type Profiles interface {
	ListProfiles(ctx context.Context) ([]models.UserProfile, error)
	ProfileByUserID(ctx context.Context, userID string) (models.UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (models.UserProfile, error)
}

type Roles interface {
	// RolesForUser returns at most two rows so callers can tell a duplicate
	// assignment apart from a single one.
	RolesForUser(ctx context.Context, userID string) ([]models.UserRole, error)
	ListRoles(ctx context.Context) ([]models.UserRole, error)
	UpsertRole(ctx context.Context, userID string, role models.Role) (models.UserRole, error)
	DeleteRole(ctx context.Context, userID string) error
}

type Invitations interface {
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	ListInvitations(ctx context.Context) ([]models.Invitation, error)
	// InvitationByToken only sees invitations with accepted_at IS NULL and
	// expires_at after now.
	InvitationByToken(ctx context.Context, token string, now time.Time) (models.Invitation, error)
	DeletePendingInvitation(ctx context.Context, id string) error
	RedeemInvitation(ctx context.Context, token string, now time.Time, acct NewAccount) (models.User, models.Invitation, error)
	PurgeExpiredInvitations(ctx context.Context, before time.Time) (int64, error)
}

type Programs interface {
	ListPrograms(ctx context.Context, scope ProgramScope) ([]models.Program, error)
	ProgramByID(ctx context.Context, id string) (models.ProgramDetail, error)
	CreateProgram(ctx context.Context, p *models.Program) error
	UpdateProgram(ctx context.Context, id string, patch ProgramPatch) (models.Program, error)
	DeleteProgram(ctx context.Context, id string) error
	AddAsset(ctx context.Context, a *models.ProgramAsset) error
	DeleteAsset(ctx context.Context, programID, assetID string) error
	UpsertSLA(ctx context.Context, sla *models.SeveritySLA) error
	AssignPentester(ctx context.Context, programID, pentesterID string, at time.Time) (models.ProgramPentester, error)
	UnassignPentester(ctx context.Context, programID, pentesterID string) error
	IsAssigned(ctx context.Context, programID, pentesterID string) (bool, error)
}

type Reports interface {
	ListReports(ctx context.Context, scope ReportScope) ([]models.VulnerabilityReport, error)
	ReportByID(ctx context.Context, id string) (models.VulnerabilityReport, error)
	CreateReport(ctx context.Context, r *models.VulnerabilityReport) error
	UpdateReportStatus(ctx context.Context, id string, status models.ReportStatus, at time.Time) (models.VulnerabilityReport, error)
	ListComments(ctx context.Context, reportID string, includeInternal bool) ([]models.ReportComment, error)
	CreateComment(ctx context.Context, c *models.ReportComment) error
	ListAttachments(ctx context.Context, reportID string) ([]models.ReportAttachment, error)
	AttachmentByID(ctx context.Context, reportID, id string) (models.ReportAttachment, error)
	CreateAttachment(ctx context.Context, a *models.ReportAttachment) error
}

type AuditLogs interface {
	CreateAuditLog(ctx context.Context, l *models.AuditLog) error
	// ListAuditLogs returns the newest entries first; an empty userID lists everyone.
	ListAuditLogs(ctx context.Context, userID string, limit int) ([]models.AuditLog, error)
}

type Store interface {
	Users
	Sessions
	Profiles
	Roles
	Invitations
	Programs
	Reports
	AuditLogs
}
