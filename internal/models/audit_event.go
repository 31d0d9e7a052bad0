package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Action namespaces follow the "<domain>.<verb>" convention. Domains in use:
// auth, authz, data, organization, tenant, security, user.
const (
	ActionAlertCreated       = "security.alert_created"
	ActionIncidentCreated    = "security.incident_created"
	ActionIncidentResolved   = "security.incident_resolved"
	ActionSuspiciousActivity = "security.suspicious_activity_detected"
	ActionNotificationSent   = "security.notification_sent"
	ActionAccountLocked      = "security.account_locked"
	ActionWebhookError       = "security.webhook_processing_error"
	ActionTenantViolation    = "tenant.isolation_violation"
	ActionTenantValidation   = "tenant.validation_error"
)

// AuditEvent is one append-only audit log record. Rows are never updated or
// deleted by the pipeline once written; alert and incident lifecycles are
// recorded as additional rows, not as mutations.
type AuditEvent struct {
	ID             uint                   `json:"id" gorm:"primaryKey"`
	UUID           string                 `json:"uuid" gorm:"uniqueIndex"`
	UserID         string                 `json:"user_id,omitempty" gorm:"index"`
	OrganizationID string                 `json:"organization_id,omitempty" gorm:"index"`
	Action         string                 `json:"action" gorm:"index"`
	ResourceType   string                 `json:"resource_type"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	Severity       Severity               `json:"severity" gorm:"index"`
	Metadata       map[string]interface{} `json:"metadata" gorm:"serializer:json;type:text"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
	CreatedAt      time.Time              `json:"created_at" gorm:"index"`
}

func (e *AuditEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.UUID == "" {
		e.UUID = uuid.New().String()
	}
	return
}

// MetadataSeverity returns the severity recorded in the metadata map,
// defaulting to low when absent or malformed. Severity filters operate on
// metadata for interop with consumers that only read the metadata blob.
func (e *AuditEvent) MetadataSeverity() Severity {
	if e.Metadata != nil {
		if raw, ok := e.Metadata["severity"]; ok {
			if s, ok := raw.(string); ok && Severity(s).Valid() {
				return Severity(s)
			}
		}
	}
	return SeverityLow
}

// MetadataNumber reads a numeric metadata field. JSON round-trips store
// numbers as float64; events created in-process may carry ints.
func (e *AuditEvent) MetadataNumber(key string) (float64, bool) {
	if e.Metadata == nil {
		return 0, false
	}
	switch v := e.Metadata[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// MetadataBool reads a boolean metadata field, defaulting to false.
func (e *AuditEvent) MetadataBool(key string) bool {
	if e.Metadata == nil {
		return false
	}
	b, _ := e.Metadata[key].(bool)
	return b
}
