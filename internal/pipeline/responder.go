package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/services"
)

// ResponseActionType enumerates automated responses a rule can attach.
type ResponseActionType string

const (
	ActionBlockIP            ResponseActionType = "block_ip"
	ActionSuspendAccount     ResponseActionType = "suspend_account"
	ActionForcePasswordReset ResponseActionType = "force_password_reset"
	ActionAlert              ResponseActionType = "alert"
	ActionTicket             ResponseActionType = "ticket"
)

// defaultBlockDuration bounds automated IP blocks so a false positive heals
// itself without operator action.
const defaultBlockDuration = time.Hour

// Responder executes automated response actions attached to detected
// incidents. Action failures are logged and the remaining actions still run.
type Responder struct {
	audit     *services.SecurityAuditService
	notifier  *services.SecurityNotificationService
	blocklist *Blocklist
	log       *logrus.Entry
}

// NewResponder wires the responder.
func NewResponder(audit *services.SecurityAuditService, notifier *services.SecurityNotificationService, blocklist *Blocklist) *Responder {
	return &Responder{
		audit:     audit,
		notifier:  notifier,
		blocklist: blocklist,
		log:       logger.WithFields(logrus.Fields{"component": "incident_responder"}),
	}
}

// Execute runs each action against the incident.
func (r *Responder) Execute(ctx context.Context, incident *models.SecurityIncident, actions []ResponseActionType) {
	for _, action := range actions {
		switch action {
		case ActionBlockIP:
			r.blockIPs(ctx, incident)
		case ActionSuspendAccount:
			r.suspendAccounts(ctx, incident)
		case ActionForcePasswordReset:
			r.forcePasswordResets(ctx, incident)
		case ActionAlert:
			r.alertUsers(ctx, incident)
		case ActionTicket:
			r.openTicket(ctx, incident)
		default:
			r.log.WithField("action", string(action)).Warn("unknown response action")
		}
	}
}

func (r *Responder) blockIPs(ctx context.Context, incident *models.SecurityIncident) {
	for _, ind := range incident.Indicators {
		if ind.Type != "ip" || ind.Value == "" {
			continue
		}
		r.blocklist.Block(ind.Value, defaultBlockDuration)
		r.audit.LogSecurityEvent(ctx, services.SecurityEventInput{
			Action:       "security.ip_blocked",
			ResourceType: "security",
			ResourceID:   ind.Value,
			Severity:     models.SeverityHigh,
			Metadata: map[string]interface{}{
				"incidentId": incident.IncidentID,
				"duration":   defaultBlockDuration.String(),
			},
			IPAddress: ind.Value,
		})
	}
}

func (r *Responder) suspendAccounts(ctx context.Context, incident *models.SecurityIncident) {
	for _, userID := range incident.AffectedUsers {
		r.audit.LogSecurityEvent(ctx, services.SecurityEventInput{
			UserID:       userID,
			Action:       "security.account_suspended",
			ResourceType: "security",
			ResourceID:   userID,
			Severity:     models.SeverityCritical,
			Metadata:     map[string]interface{}{"incidentId": incident.IncidentID},
		})
		if _, err := r.notifier.SendSecurityNotification(ctx, services.NotificationRequest{
			UserID:   userID,
			Type:     services.NotificationAccountLocked,
			Severity: models.SeverityCritical,
			Variables: map[string]string{
				"reason": string(incident.Type),
			},
		}); err != nil {
			r.log.WithError(err).WithField("user_id", userID).Error("failed to notify suspended account")
		}
	}
}

func (r *Responder) forcePasswordResets(ctx context.Context, incident *models.SecurityIncident) {
	for _, userID := range incident.AffectedUsers {
		r.audit.LogSecurityEvent(ctx, services.SecurityEventInput{
			UserID:       userID,
			Action:       "security.password_reset_forced",
			ResourceType: "security",
			ResourceID:   userID,
			Severity:     models.SeverityHigh,
			Metadata:     map[string]interface{}{"incidentId": incident.IncidentID},
		})
		if _, err := r.notifier.SendSecurityNotification(ctx, services.NotificationRequest{
			UserID:   userID,
			Type:     "password_reset_required",
			Message:  "Your password must be reset before your next sign-in.",
			Severity: models.SeverityHigh,
		}); err != nil {
			r.log.WithError(err).WithField("user_id", userID).Error("failed to notify forced password reset")
		}
	}
}

func (r *Responder) alertUsers(ctx context.Context, incident *models.SecurityIncident) {
	for _, userID := range incident.AffectedUsers {
		if _, err := r.notifier.SendSecurityNotification(ctx, services.NotificationRequest{
			UserID:   userID,
			Type:     services.NotificationSecurityAlert,
			Title:    incident.Title,
			Message:  incident.Description,
			Severity: incident.Severity,
		}); err != nil {
			r.log.WithError(err).WithField("user_id", userID).Error("failed to send incident alert")
		}
	}
}

// openTicket records the ticket request. Ticketing system integration is an
// external collaborator; the audit row is the hand-off.
func (r *Responder) openTicket(ctx context.Context, incident *models.SecurityIncident) {
	r.audit.LogSecurityEvent(ctx, services.SecurityEventInput{
		Action:       "security.ticket_created",
		ResourceType: "security",
		ResourceID:   incident.IncidentID,
		Severity:     models.SeverityLow,
		Metadata: map[string]interface{}{
			"incidentId":   incident.IncidentID,
			"incidentType": string(incident.Type),
		},
	})
}
