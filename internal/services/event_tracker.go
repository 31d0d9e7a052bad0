package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/metrics"
	"github.com/EtherealVisions/sentinel/internal/models"
)

// Webhook event types delivered by the identity provider.
const (
	WebhookUserCreated    = "user.created"
	WebhookUserUpdated    = "user.updated"
	WebhookUserDeleted    = "user.deleted"
	WebhookSessionCreated = "session.created"
	WebhookSessionEnded   = "session.ended"
)

// WebhookEvent is the inbound identity provider payload.
type WebhookEvent struct {
	Type string           `json:"type" binding:"required"`
	Data WebhookEventData `json:"data"`
}

// WebhookEventData carries the subset of provider fields the tracker reads.
type WebhookEventData struct {
	ID               string                   `json:"id"`
	UserID           string                   `json:"user_id"`
	EmailAddresses   []WebhookEmailAddress    `json:"email_addresses"`
	ExternalAccounts []WebhookExternalAccount `json:"external_accounts"`
	CreatedAt        string                   `json:"created_at"`
	UpdatedAt        string                   `json:"updated_at"`
	IPAddress        string                   `json:"ip_address"`
	UserAgent        string                   `json:"user_agent"`
}

type WebhookEmailAddress struct {
	EmailAddress string `json:"email_address"`
}

type WebhookExternalAccount struct {
	Provider string `json:"provider"`
}

// DeviceIdentityResolver decides whether a sign-in comes from a device the
// user has not been seen on before. The default implementation only checks
// for an empty event history; a fingerprint-based resolver can be swapped in
// without touching callers.
type DeviceIdentityResolver interface {
	IsNewDevice(ctx context.Context, userID, ipAddress, userAgent string) (bool, error)
}

// historyDeviceResolver treats a user with no prior audit events as being on
// a new device. This is an approximation, not fingerprinting.
type historyDeviceResolver struct {
	audit *SecurityAuditService
}

// NewHistoryDeviceResolver returns the default history-based resolver.
func NewHistoryDeviceResolver(audit *SecurityAuditService) DeviceIdentityResolver {
	return &historyDeviceResolver{audit: audit}
}

func (r *historyDeviceResolver) IsNewDevice(ctx context.Context, userID, ipAddress, userAgent string) (bool, error) {
	events, err := r.audit.GetSecurityEvents(ctx, SecurityEventFilter{UserID: userID, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(events) == 0, nil
}

// AuthEventInput is the direct (non-webhook) authentication entry point
// payload.
type AuthEventInput struct {
	UserID    string
	EventType AuthEventType
	Success   bool
	IPAddress string
	UserAgent string
	Metadata  map[string]interface{}
}

// IncidentInput describes a new security incident.
type IncidentInput struct {
	Type          models.IncidentType
	Severity      models.Severity
	Title         string
	Description   string
	AffectedUsers []string
	Indicators    []models.SecurityIndicator
	Evidence      []models.Evidence
	Automated     bool
	Actions       []string
	Metadata      map[string]interface{}
}

// SecurityEventTracker normalizes identity provider webhooks into audit and
// monitoring calls and fronts the incident lifecycle.
type SecurityEventTracker struct {
	db         *gorm.DB
	audit      *SecurityAuditService
	monitoring *SecurityMonitoringService
	notifier   *SecurityNotificationService
	devices    DeviceIdentityResolver
	log        *logrus.Entry
}

// NewSecurityEventTracker wires the tracker. A nil resolver falls back to
// the history-based default.
func NewSecurityEventTracker(db *gorm.DB, audit *SecurityAuditService, monitoring *SecurityMonitoringService, notifier *SecurityNotificationService, devices DeviceIdentityResolver) *SecurityEventTracker {
	if devices == nil {
		devices = NewHistoryDeviceResolver(audit)
	}
	return &SecurityEventTracker{
		db:         db,
		audit:      audit,
		monitoring: monitoring,
		notifier:   notifier,
		devices:    devices,
		log:        logger.WithFields(logrus.Fields{"component": "security_event_tracker"}),
	}
}

// TrackWebhookEvent dispatches one identity provider webhook. Processing
// errors are recorded as a security.webhook_processing_error event instead
// of propagating: a downstream bug must not push the provider into a retry
// loop, but operators still see the failure.
func (t *SecurityEventTracker) TrackWebhookEvent(ctx context.Context, event WebhookEvent) {
	metrics.IncWebhookEvent(event.Type)

	var err error
	switch event.Type {
	case WebhookUserCreated:
		err = t.handleUserCreated(ctx, event.Data)
	case WebhookSessionCreated:
		err = t.handleSessionCreated(ctx, event.Data)
	case WebhookSessionEnded:
		err = t.handleSessionEnded(ctx, event.Data)
	case WebhookUserUpdated:
		t.audit.LogSecurityEvent(ctx, SecurityEventInput{
			UserID:       event.Data.ID,
			Action:       "user.profile_updated",
			ResourceType: "user",
			ResourceID:   event.Data.ID,
			Severity:     models.SeverityLow,
		})
	case WebhookUserDeleted:
		t.audit.LogSecurityEvent(ctx, SecurityEventInput{
			UserID:       event.Data.ID,
			Action:       "user.account_deleted",
			ResourceType: "user",
			ResourceID:   event.Data.ID,
			Severity:     models.SeverityMedium,
		})
	default:
		t.log.WithField("event_type", event.Type).Debug("unhandled identity webhook event")
	}

	if err != nil {
		t.log.WithError(err).WithField("event_type", event.Type).Error("webhook processing failed")
		t.audit.LogSecurityEvent(ctx, SecurityEventInput{
			UserID:       event.Data.ID,
			Action:       models.ActionWebhookError,
			ResourceType: "webhook",
			Severity:     models.SeverityMedium,
			Metadata: map[string]interface{}{
				"eventType": event.Type,
				"error":     err.Error(),
			},
		})
	}
}

func (t *SecurityEventTracker) handleUserCreated(ctx context.Context, data WebhookEventData) error {
	if data.ID == "" {
		return fmt.Errorf("user.created payload missing user id")
	}

	registrationMethod := "unknown"
	if len(data.ExternalAccounts) > 0 && data.ExternalAccounts[0].Provider != "" {
		registrationMethod = "oauth_" + data.ExternalAccounts[0].Provider
	} else if len(data.EmailAddresses) > 0 {
		registrationMethod = "password"
	}

	metadata := map[string]interface{}{
		"isNewUser":          true,
		"registrationMethod": registrationMethod,
	}
	t.audit.LogAuthenticationEvent(ctx, data.ID, "login", metadata, data.IPAddress, data.UserAgent)
	t.monitoring.MonitorAuthenticationEvent(ctx, data.ID, AuthEventLogin, metadata, data.IPAddress, data.UserAgent)
	return nil
}

func (t *SecurityEventTracker) handleSessionCreated(ctx context.Context, data WebhookEventData) error {
	if data.UserID == "" {
		return fmt.Errorf("session.created payload missing user id")
	}

	newDevice, err := t.devices.IsNewDevice(ctx, data.UserID, data.IPAddress, data.UserAgent)
	if err != nil {
		t.log.WithError(err).WithField("user_id", data.UserID).Warn("device resolution failed")
		newDevice = false
	}

	metadata := map[string]interface{}{
		"sessionId": data.ID,
		"newDevice": newDevice,
	}
	t.audit.LogAuthenticationEvent(ctx, data.UserID, "login", metadata, data.IPAddress, data.UserAgent)
	t.monitoring.MonitorAuthenticationEvent(ctx, data.UserID, AuthEventLogin, metadata, data.IPAddress, data.UserAgent)
	return nil
}

func (t *SecurityEventTracker) handleSessionEnded(ctx context.Context, data WebhookEventData) error {
	if data.UserID == "" {
		return fmt.Errorf("session.ended payload missing user id")
	}

	metadata := map[string]interface{}{
		"sessionId":       data.ID,
		"sessionDuration": sessionDurationSeconds(data.CreatedAt, data.UpdatedAt),
	}
	t.audit.LogAuthenticationEvent(ctx, data.UserID, "logout", metadata, data.IPAddress, data.UserAgent)
	t.monitoring.MonitorAuthenticationEvent(ctx, data.UserID, AuthEventLogout, metadata, data.IPAddress, data.UserAgent)
	return nil
}

// sessionDurationSeconds computes whole seconds between the session's
// created_at and updated_at timestamps, zero when either is missing or
// unparseable.
func sessionDurationSeconds(createdAt, updatedAt string) int {
	if createdAt == "" || updatedAt == "" {
		return 0
	}
	start, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return 0
	}
	end, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0
	}
	secs := int(end.Sub(start).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

// TrackAuthenticationEvent is the direct entry point mirroring the webhook
// path. The audit row always uses the plain event action with a success
// flag; the monitoring side sees failed logins as login_failed. The
// asymmetry is deliberate: the audit taxonomy keys failures off the success
// flag while pattern matching keys off the action name.
func (t *SecurityEventTracker) TrackAuthenticationEvent(ctx context.Context, in AuthEventInput) {
	metadata := map[string]interface{}{"success": in.Success}
	for k, v := range in.Metadata {
		metadata[k] = v
	}

	t.audit.LogAuthenticationEvent(ctx, in.UserID, string(in.EventType), metadata, in.IPAddress, in.UserAgent)

	monitorType := in.EventType
	if in.EventType == AuthEventLogin && !in.Success {
		monitorType = AuthEventLoginFailed
	}
	t.monitoring.MonitorAuthenticationEvent(ctx, in.UserID, monitorType, metadata, in.IPAddress, in.UserAgent)
}

// CreateSecurityIncident opens a new incident and records it in the audit
// log. Critical incidents automatically enter investigation when raised by
// automation and page the affected users on email and in-app. Failures
// propagate: an incident that silently fails to open is worse than an error.
func (t *SecurityEventTracker) CreateSecurityIncident(ctx context.Context, in IncidentInput) (*models.SecurityIncident, error) {
	severity := in.Severity
	if !severity.Valid() {
		severity = models.SeverityMedium
	}

	status := models.IncidentStatusOpen
	if severity == models.SeverityCritical && in.Automated {
		status = models.IncidentStatusInvestigating
	}

	incident := &models.SecurityIncident{
		IncidentID:    newPrefixedID("incident"),
		Type:          in.Type,
		Severity:      severity,
		Status:        status,
		Title:         in.Title,
		Description:   in.Description,
		DetectedAt:    time.Now(),
		AffectedUsers: in.AffectedUsers,
		Indicators:    in.Indicators,
		Evidence:      in.Evidence,
		Response: models.IncidentResponse{
			Actions:   in.Actions,
			Automated: in.Automated,
			Escalated: severity == models.SeverityCritical,
		},
	}
	if err := t.db.WithContext(ctx).Create(incident).Error; err != nil {
		return nil, fmt.Errorf("create security incident: %w", err)
	}

	if err := t.audit.RecordSecurityEvent(ctx, SecurityEventInput{
		Action:       models.ActionIncidentCreated,
		ResourceType: "security",
		ResourceID:   incident.IncidentID,
		Severity:     severity,
		Metadata: map[string]interface{}{
			"incidentId":    incident.IncidentID,
			"incidentType":  string(in.Type),
			"affectedUsers": in.AffectedUsers,
			"automated":     in.Automated,
		},
	}); err != nil {
		return nil, fmt.Errorf("create security incident: %w", err)
	}
	metrics.IncIncidentOpened()

	if severity == models.SeverityCritical {
		notified := 0
		for _, userID := range in.AffectedUsers {
			if _, err := t.notifier.SendSecurityNotification(ctx, NotificationRequest{
				UserID:   userID,
				Type:     NotificationSecurityAlert,
				Title:    in.Title,
				Message:  in.Description,
				Severity: models.SeverityCritical,
				Channels: []models.NotificationChannel{models.ChannelEmail, models.ChannelInApp},
			}); err != nil {
				t.log.WithError(err).WithField("user_id", userID).Error("failed to send incident notification")
				continue
			}
			notified++
		}
		incident.Response.Notifications = notified
		if err := t.db.WithContext(ctx).Save(incident).Error; err != nil {
			t.log.WithError(err).Warn("failed to record incident notification count")
		}
	}

	return incident, nil
}

// ResolveSecurityIncident closes an incident. Errors are logged, never
// returned: resolution is an operator cleanup action that must not fail the
// surrounding flow.
func (t *SecurityEventTracker) ResolveSecurityIncident(ctx context.Context, incidentID string, resolution models.IncidentStatus, resolvedBy, notes string) {
	if resolution != models.IncidentStatusResolved && resolution != models.IncidentStatusFalsePositive {
		resolution = models.IncidentStatusResolved
	}

	t.log.WithFields(logrus.Fields{
		"incident_id": incidentID,
		"resolution":  string(resolution),
		"resolved_by": resolvedBy,
	}).Info("resolving security incident")

	var incident models.SecurityIncident
	if err := t.db.WithContext(ctx).First(&incident, "incident_id = ?", incidentID).Error; err != nil {
		t.log.WithError(err).WithField("incident_id", incidentID).Error("failed to load incident for resolution")
		return
	}

	now := time.Now()
	incident.Status = resolution
	incident.ResolvedAt = &now
	incident.ResolvedBy = resolvedBy
	if err := t.db.WithContext(ctx).Save(&incident).Error; err != nil {
		t.log.WithError(err).WithField("incident_id", incidentID).Error("failed to persist incident resolution")
		return
	}

	t.audit.LogSecurityEvent(ctx, SecurityEventInput{
		Action:       models.ActionIncidentResolved,
		ResourceType: "security",
		ResourceID:   incidentID,
		Severity:     models.SeverityLow,
		Metadata: map[string]interface{}{
			"incidentId": incidentID,
			"resolution": string(resolution),
			"resolvedBy": resolvedBy,
			"notes":      notes,
		},
	})
}

// ListOpenIncidents returns incidents still needing attention, newest first.
func (t *SecurityEventTracker) ListOpenIncidents(ctx context.Context, limit int) ([]models.SecurityIncident, error) {
	if limit <= 0 {
		limit = 50
	}
	var incidents []models.SecurityIncident
	err := t.db.WithContext(ctx).
		Where("status IN ?", []models.IncidentStatus{
			models.IncidentStatusOpen,
			models.IncidentStatusInvestigating,
			models.IncidentStatusContained,
		}).
		Order("detected_at desc").Limit(limit).
		Find(&incidents).Error
	if err != nil {
		return nil, fmt.Errorf("list open incidents: %w", err)
	}
	return incidents, nil
}
