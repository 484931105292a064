package models

import "time"

// Table names shared by the store adapters and change-event subscribers.
const (
	TableUsers             = "users"
	TableSessions          = "sessions"
	TableProfiles          = "profiles"
	TableUserRoles         = "user_roles"
	TableInvitations       = "invitations"
	TablePrograms          = "programs"
	TableProgramAssets     = "program_assets"
	TableSeveritySLAs      = "severity_slas"
	TableProgramPentesters = "program_pentesters"
	TableReports           = "vulnerability_reports"
	TableReportComments    = "report_comments"
	TableReportAttachments = "report_attachments"
	TableAuditLogs         = "audit_logs"
)

// User is the identity record the auth provider signs in against.
type User struct {
	ID               string     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email            string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash     string     `gorm:"not null" json:"-"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	IsActive         bool       `gorm:"not null;default:true" json:"is_active"`
	LastSignInAt     *time.Time `json:"last_sign_in_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (User) TableName() string { return TableUsers }

type Session struct {
	JTI       string     `gorm:"primaryKey;size:64" json:"jti"`
	UserID    string     `gorm:"type:uuid;index;not null" json:"user_id"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (Session) TableName() string { return TableSessions }

type UserProfile struct {
	ID        string    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	FullName  string    `json:"full_name"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserProfile) TableName() string { return TableProfiles }

// UserRole holds the single role of a user. The unique index on user_id is
// what makes role assignment an atomic upsert.
type UserRole struct {
	ID        string    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Role      Role      `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	User      *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (UserRole) TableName() string { return TableUserRoles }

type AuditLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    *string   `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Action    string    `gorm:"not null" json:"action"`
	Metadata  JSONB     `gorm:"type:jsonb;default:'{}'::jsonb" json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

func (AuditLog) TableName() string { return TableAuditLogs }

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&User{}, &Session{}, &UserProfile{}, &UserRole{}, &Invitation{},
		&Program{}, &ProgramAsset{}, &SeveritySLA{}, &ProgramPentester{},
		&VulnerabilityReport{}, &ReportComment{}, &ReportAttachment{}, &AuditLog{},
	}
}
