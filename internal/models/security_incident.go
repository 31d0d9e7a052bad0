package models

import (
	"time"
)

// IncidentType classifies a detected incident.
type IncidentType string

const (
	IncidentBruteForce          IncidentType = "brute_force"
	IncidentAccountTakeover     IncidentType = "account_takeover"
	IncidentCredentialStuffing  IncidentType = "credential_stuffing"
	IncidentPrivilegeEscalation IncidentType = "privilege_escalation"
	IncidentAPIAbuse            IncidentType = "api_abuse"
)

// IncidentStatus tracks the incident lifecycle:
// open -> investigating -> (contained) -> resolved | false_positive.
type IncidentStatus string

const (
	IncidentStatusOpen          IncidentStatus = "open"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusContained     IncidentStatus = "contained"
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusFalsePositive IncidentStatus = "false_positive"
)

// SecurityIndicator is one observable that contributed to an incident.
type SecurityIndicator struct {
	Type       string  `json:"type"` // ip, user, user_agent, action
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"` // 0..1
}

// Evidence is a supporting artifact attached to an incident.
type Evidence struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// IncidentResponse summarizes what was done about an incident.
type IncidentResponse struct {
	Actions       []string `json:"actions"`
	Automated     bool     `json:"automated"`
	Escalated     bool     `json:"escalated"`
	Notifications int      `json:"notifications"`
}

// SecurityIncident is a first-class incident record with its own lifecycle.
// Lifecycle transitions are mirrored into the audit log as immutable rows.
type SecurityIncident struct {
	ID            uint                `json:"id" gorm:"primaryKey"`
	IncidentID    string              `json:"incident_id" gorm:"uniqueIndex"`
	Type          IncidentType        `json:"type" gorm:"index"`
	Severity      Severity            `json:"severity"`
	Status        IncidentStatus      `json:"status" gorm:"index"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	DetectedAt    time.Time           `json:"detected_at"`
	ResolvedAt    *time.Time          `json:"resolved_at,omitempty"`
	ResolvedBy    string              `json:"resolved_by,omitempty"`
	AffectedUsers []string            `json:"affected_users" gorm:"serializer:json;type:text"`
	Indicators    []SecurityIndicator `json:"indicators" gorm:"serializer:json;type:text"`
	Evidence      []Evidence          `json:"evidence" gorm:"serializer:json;type:text"`
	Response      IncidentResponse    `json:"response" gorm:"serializer:json;type:text"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Open reports whether the incident still needs attention.
func (i *SecurityIncident) Open() bool {
	return i.Status == IncidentStatusOpen ||
		i.Status == IncidentStatusInvestigating ||
		i.Status == IncidentStatusContained
}
