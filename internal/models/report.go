package models

import "time"

type ReportStatus string

const (
	ReportSubmitted  ReportStatus = "submitted"
	ReportTriaged    ReportStatus = "triaged"
	ReportInProgress ReportStatus = "in_progress"
	ReportResolved   ReportStatus = "resolved"
	ReportClosed     ReportStatus = "closed"
	ReportRejected   ReportStatus = "rejected"
)

func (s ReportStatus) Valid() bool {
	switch s {
	case ReportSubmitted, ReportTriaged, ReportInProgress, ReportResolved, ReportClosed, ReportRejected:
		return true
	}
	return false
}

type VulnerabilityReport struct {
	ID               string       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProgramID        string       `gorm:"type:uuid;index;not null" json:"program_id"`
	ReporterID       string       `gorm:"type:uuid;index;not null" json:"reporter_id"`
	AssetID          *string      `gorm:"type:uuid" json:"asset_id,omitempty"`
	Title            string       `gorm:"not null" json:"title"`
	Description      string       `json:"description"`
	Severity         Severity     `gorm:"type:text;not null" json:"severity"`
	Status           ReportStatus `gorm:"type:text;not null;default:submitted" json:"status"`
	CVSSScore        *float64     `json:"cvss_score,omitempty"`
	StepsToReproduce string       `json:"steps_to_reproduce"`
	Impact           string       `json:"impact"`
	Remediation      string       `json:"remediation"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (VulnerabilityReport) TableName() string { return TableReports }

// ReportComment is visible to clients only when IsInternal is false.
type ReportComment struct {
	ID         string    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReportID   string    `gorm:"type:uuid;index;not null" json:"report_id"`
	AuthorID   string    `gorm:"type:uuid;not null" json:"author_id"`
	Body       string    `gorm:"not null" json:"body"`
	IsInternal bool      `gorm:"not null;default:false" json:"is_internal"`
	CreatedAt  time.Time `json:"created_at"`
}

func (ReportComment) TableName() string { return TableReportComments }

type ReportAttachment struct {
	ID          string    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReportID    string    `gorm:"type:uuid;index;not null" json:"report_id"`
	UploadedBy  string    `gorm:"type:uuid;not null" json:"uploaded_by"`
	FileName    string    `gorm:"not null" json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	StorageKey  string    `gorm:"not null" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (ReportAttachment) TableName() string { return TableReportAttachments }
