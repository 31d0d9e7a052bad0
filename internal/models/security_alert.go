package models

import (
	"time"
)

// SecurityAlert is a first-class alert record. Every lifecycle transition is
// additionally written to the audit log, so the table can be rebuilt from
// audit rows if it is ever lost.
type SecurityAlert struct {
	ID             uint                   `json:"id" gorm:"primaryKey"`
	AlertID        string                 `json:"alert_id" gorm:"uniqueIndex"`
	UserID         string                 `json:"user_id" gorm:"index"`
	OrganizationID string                 `json:"organization_id,omitempty" gorm:"index"`
	AlertType      string                 `json:"alert_type"`
	Severity       Severity               `json:"severity"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Metadata       map[string]interface{} `json:"metadata" gorm:"serializer:json;type:text"`
	Resolved       bool                   `json:"resolved" gorm:"index"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy     string                 `json:"resolved_by,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}
