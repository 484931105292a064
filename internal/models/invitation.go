package models

import "time"

// Invitation is a single-use, time-bounded token granting a role on signup.
// Accepted invitations are kept as terminal records; only pending ones can be revoked.
type Invitation struct {
	ID         string     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email      string     `gorm:"not null;index" json:"email"`
	Role       Role       `gorm:"type:text;not null" json:"role"`
	Token      string     `gorm:"uniqueIndex;not null" json:"token"`
	InvitedBy  string     `gorm:"type:uuid;not null" json:"invited_by"`
	AcceptedAt *time.Time `json:"accepted_at"`
	ExpiresAt  time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (Invitation) TableName() string { return TableInvitations }

// Pending reports whether the invitation can still be redeemed at now.
func (i Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && i.ExpiresAt.After(now)
}
