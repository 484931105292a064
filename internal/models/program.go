package models

import "time"

type ProgramStatus string

const (
	ProgramDraft  ProgramStatus = "draft"
	ProgramActive ProgramStatus = "active"
	ProgramPaused ProgramStatus = "paused"
	ProgramClosed ProgramStatus = "closed"
)

func (s ProgramStatus) Valid() bool {
	switch s {
	case ProgramDraft, ProgramActive, ProgramPaused, ProgramClosed:
		return true
	}
	return false
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

type AssetType string

const (
	AssetWeb     AssetType = "web"
	AssetAPI     AssetType = "api"
	AssetMobile  AssetType = "mobile"
	AssetNetwork AssetType = "network"
	AssetCloud   AssetType = "cloud"
	AssetOther   AssetType = "other"
)

func (a AssetType) Valid() bool {
	switch a {
	case AssetWeb, AssetAPI, AssetMobile, AssetNetwork, AssetCloud, AssetOther:
		return true
	}
	return false
}

// Program is a security-assessment engagement. It owns its assets, SLAs and
// pentester assignments; deleting a program removes them in the same transaction.
type Program struct {
	ID          string        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string        `gorm:"not null" json:"name"`
	Description string        `json:"description"`
	ClientID    *string       `gorm:"type:uuid;index" json:"client_id,omitempty"`
	Status      ProgramStatus `gorm:"type:text;not null;default:draft" json:"status"`
	StartsAt    *time.Time    `json:"starts_at,omitempty"`
	EndsAt      *time.Time    `json:"ends_at,omitempty"`
	CreatedBy   string        `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (Program) TableName() string { return TablePrograms }

type ProgramAsset struct {
	ID          string    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProgramID   string    `gorm:"type:uuid;index;not null" json:"program_id"`
	AssetType   AssetType `gorm:"type:text;not null" json:"asset_type"`
	Identifier  string    `gorm:"not null" json:"identifier"`
	Description string    `json:"description"`
	InScope     bool      `gorm:"not null;default:true" json:"in_scope"`
	CreatedAt   time.Time `json:"created_at"`
}

func (ProgramAsset) TableName() string { return TableProgramAssets }

// SeveritySLA holds the response and resolution targets for one severity of a program.
type SeveritySLA struct {
	ID              string   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProgramID       string   `gorm:"type:uuid;not null;uniqueIndex:idx_sla_program_severity" json:"program_id"`
	Severity        Severity `gorm:"type:text;not null;uniqueIndex:idx_sla_program_severity" json:"severity"`
	ResponseHours   int      `gorm:"not null" json:"response_hours"`
	ResolutionHours int      `gorm:"not null" json:"resolution_hours"`
}

func (SeveritySLA) TableName() string { return TableSeveritySLAs }

type ProgramPentester struct {
	ID          string    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProgramID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_program_pentester" json:"program_id"`
	PentesterID string    `gorm:"type:uuid;not null;uniqueIndex:idx_program_pentester" json:"pentester_id"`
	AssignedAt  time.Time `json:"assigned_at"`
}

func (ProgramPentester) TableName() string { return TableProgramPentesters }

// ProgramDetail is a program with its owned sub-collections.
type ProgramDetail struct {
	Program
	Assets     []ProgramAsset     `json:"assets"`
	SLAs       []SeveritySLA      `json:"slas"`
	Pentesters []ProgramPentester `json:"pentesters"`
}
