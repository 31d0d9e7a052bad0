package services

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/metrics"
	"github.com/EtherealVisions/sentinel/internal/models"
)

// NotificationType keys the template catalog.
type NotificationType string

const (
	NotificationLoginSuccess       NotificationType = "login_success"
	NotificationLoginFailed        NotificationType = "login_failed"
	NotificationPasswordChanged    NotificationType = "password_changed"
	NotificationNewDeviceLogin     NotificationType = "new_device_login"
	NotificationSuspiciousActivity NotificationType = "suspicious_activity"
	NotificationAccountLocked      NotificationType = "account_locked"
	NotificationMFAEnabled         NotificationType = "mfa_enabled"
	NotificationMFADisabled        NotificationType = "mfa_disabled"
	NotificationSecurityAlert      NotificationType = "security_alert"
)

// NotificationTransport delivers one rendered message on one channel. Real
// providers and test doubles both live behind this interface.
type NotificationTransport interface {
	Channel() models.NotificationChannel
	Send(ctx context.Context, userID, subject, body string, metadata map[string]interface{}) error
}

// notificationTemplate holds per-channel bodies with {{variable}}
// placeholders. The catalog is immutable after init.
type notificationTemplate struct {
	Type            NotificationType
	Severity        models.Severity
	Subject         string
	Bodies          map[models.NotificationChannel]string
	DefaultChannels []models.NotificationChannel
	wantedBy        func(p *models.NotificationPreferences) bool
}

var templateCatalog = map[NotificationType]notificationTemplate{
	NotificationLoginSuccess: {
		Type:     NotificationLoginSuccess,
		Severity: models.SeverityLow,
		Subject:  "New sign-in to your account",
		Bodies: map[models.NotificationChannel]string{
			models.ChannelInApp: "You signed in at {{timestamp}}.",
			models.ChannelEmail: "Hello,\n\nYour account was signed in at {{timestamp}}. If this was you, no action is needed.",
		},
		DefaultChannels: []models.NotificationChannel{models.ChannelInApp},
		wantedBy:        func(p *models.NotificationPreferences) bool { return p.LoginNotifications },
	},
	NotificationLoginFailed: {
		Type:     NotificationLoginFailed,
		Severity: models.SeverityMedium,
		Subject:  "Failed sign-in attempt",
		Bodies: map[models.NotificationChannel]string{
			models.ChannelInApp: "A sign-in attempt failed at {{timestamp}}.",
			models.ChannelEmail: "Hello,\n\nA sign-in attempt on your account failed at {{timestamp}}. If this wasn't you, consider changing your password.",
		},
		DefaultChannels: []models.NotificationChannel{models.ChannelInApp, models.ChannelEmail},
		wantedBy:        func(p *models.NotificationPreferences) bool { return p.LoginNotifications },
	},
	NotificationPasswordChanged: {
		Type:     NotificationPasswordChanged,
		Severity: models.SeverityMedium,
		Subject:  "Your password was changed",
		Bodies: map[models.NotificationChannel]string{
			models.ChannelInApp: "Your password was changed at {{timestamp}}.",
			models.ChannelEmail: "Hello,\n\nYour password was changed at {{timestamp}}. If you did not make this change, contact support immediately.",
			models.ChannelSMS:   "Your password was changed. Not you? Contact support now.",
		},
		DefaultChannels: []models.NotificationChannel{models.ChannelInApp, models.ChannelEmail},
		wantedBy:        func(p *models.NotificationPreferences) bool { return p.PasswordChanges },
	},
	NotificationNewDeviceLogin: {
		Type:     NotificationNewDeviceLogin,
		Severity: models.SeverityMedium,
		Subject:  "Sign-in from a new device",
		Bodies: map[models.NotificationChannel]string{
			models.ChannelInApp: "New device sign-in: {{device}} at {{timestamp}}.",
			models.ChannelEmail: "Hello,\n\nYour account was accessed from a new device ({{device}}) at {{timestamp}}. If this wasn't you, secure your account now.",
			models.ChannelPush:  "New device sign-in: {{device}}",
		},
		DefaultChannels: []models.NotificationChannel{models.ChannelInApp, models.ChannelEmail},
		wantedBy:        func(p *models.NotificationPreferences) bool { return p.DeviceChanges },
	},
	NotificationSuspiciousActivity: {
		Type:     NotificationSuspiciousActivity,
		Severity: models.SeverityHigh,
		Subject:  "Suspicious activity on your account",
		Bodies: map[models.NotificationChannel]string{
			models.ChannelInApp: "We detected suspicious activity: {{patterns}}.",
			models.ChannelEmail: "Hello,\n\nWe detected suspicious activity on your account: {{patterns}}. Please review your recent activity and change your password.",
			models.ChannelSMS:   "Suspicious activity detected on your account. Review your recent sign-ins.",
			models.ChannelPush:  "Suspicious activity detected on your account",
		},
		DefaultChannels: []models.NotificationChannel{models.ChannelInApp, models.ChannelEmail},
		wantedBy:        func(p *models.NotificationPreferences) bool { return p.SuspiciousActivity },
	},
	NotificationAccountLocked: {
		Type:     NotificationAccountLocked,
		Severity: models.SeverityCritical,
		Subject:  "Your account has been locked",
		Bodies: map[models.NotificationChannel]string{
			models.ChannelInApp: "Your account was locked for security reasons ({{reason}}).",
			models.ChannelEmail: "Hello,\n\nYour account has been temporarily locked for security reasons ({{reason}}). Contact support to restore access.",
			models.ChannelSMS:   "Your account has been locked for security reasons. Contact support.",
			models.ChannelPush:  "Your account has been locked",
		},
		DefaultChannels: []models.NotificationChannel{models.ChannelInApp, models.ChannelEmail, models.ChannelSMS, models.ChannelPush},
		wantedBy:        func(p *models.NotificationPreferences) bool { return p.AccountLocks },
	},
	NotificationMFAEnabled: {
		Type:     NotificationMFAEnabled,
		Severity: models.SeverityLow,
		Subject:  "Two-factor authentication enabled",
		Bodies: map[models.NotificationChannel]string{
			models.ChannelInApp: "Two-factor authentication was enabled on your account.",
			models.ChannelEmail: "Hello,\n\nTwo-factor authentication was enabled on your account at {{timestamp}}.",
		},
		DefaultChannels: []models.NotificationChannel{models.ChannelInApp},
		wantedBy:        func(p *models.NotificationPreferences) bool { return p.SecurityAlerts },
	},
	NotificationMFADisabled: {
		Type:     NotificationMFADisabled,
		Severity: models.SeverityHigh,
		Subject:  "Two-factor authentication disabled",
		Bodies: map[models.NotificationChannel]string{
			models.ChannelInApp: "Two-factor authentication was disabled on your account.",
			models.ChannelEmail: "Hello,\n\nTwo-factor authentication was disabled on your account at {{timestamp}}. If this wasn't you, secure your account immediately.",
			models.ChannelSMS:   "Two-factor authentication was disabled on your account.",
		},
		DefaultChannels: []models.NotificationChannel{models.ChannelInApp, models.ChannelEmail},
		wantedBy:        func(p *models.NotificationPreferences) bool { return p.SecurityAlerts },
	},
}

// genericTemplate is the fallback for unknown notification types.
var genericTemplate = notificationTemplate{
	Severity: models.SeverityMedium,
	Subject:  "Security notice",
	Bodies: map[models.NotificationChannel]string{
		models.ChannelInApp: "{{message}}",
		models.ChannelEmail: "Hello,\n\n{{message}}",
		models.ChannelSMS:   "{{message}}",
		models.ChannelPush:  "{{message}}",
	},
	DefaultChannels: []models.NotificationChannel{models.ChannelInApp, models.ChannelEmail},
	wantedBy:        func(p *models.NotificationPreferences) bool { return p.SecurityAlerts },
}

// NotificationRequest describes one notification to fan out.
type NotificationRequest struct {
	UserID         string
	OrganizationID string
	Type           NotificationType
	Title          string
	Message        string
	Severity       models.Severity
	Channels       []models.NotificationChannel
	Variables      map[string]string
	Metadata       map[string]interface{}
}

// SecurityNotificationService resolves templates and preferences and fans a
// notification out across channel transports.
type SecurityNotificationService struct {
	db         *gorm.DB
	audit      *SecurityAuditService
	transports map[models.NotificationChannel]NotificationTransport
	log        *logrus.Entry
}

// NewSecurityNotificationService wires the notifier. Channels without a
// registered transport are reported as failed deliveries.
func NewSecurityNotificationService(db *gorm.DB, audit *SecurityAuditService, transports []NotificationTransport) *SecurityNotificationService {
	byChannel := map[models.NotificationChannel]NotificationTransport{}
	for _, t := range transports {
		byChannel[t.Channel()] = t
	}
	return &SecurityNotificationService{
		db:         db,
		audit:      audit,
		transports: byChannel,
		log:        logger.WithFields(logrus.Fields{"component": "security_notifications"}),
	}
}

// SendSecurityNotification resolves the template and the user's channels,
// renders and dispatches concurrently, and records a summary audit event.
// Per-channel failures become failed delivery receipts, never an error; the
// method errors only when the summary audit write fails. The notification
// can therefore succeed while the call still returns an error.
func (s *SecurityNotificationService) SendSecurityNotification(ctx context.Context, req NotificationRequest) ([]models.NotificationDelivery, error) {
	prefs := s.GetPreferences(ctx, req.UserID)

	tmpl, known := templateCatalog[req.Type]
	if !known {
		tmpl = genericTemplate
		tmpl.Type = req.Type
	}

	severity := req.Severity
	if !severity.Valid() {
		severity = tmpl.Severity
	}

	channels := s.resolveChannels(req, tmpl, prefs, severity)
	vars := s.buildVariables(req, severity)

	deliveries := make([]models.NotificationDelivery, len(channels))
	var wg sync.WaitGroup
	for i, channel := range channels {
		wg.Add(1)
		go func(i int, channel models.NotificationChannel) {
			defer wg.Done()
			deliveries[i] = s.dispatch(ctx, req, tmpl, channel, vars)
		}(i, channel)
	}
	wg.Wait()

	succeeded := 0
	for _, d := range deliveries {
		metrics.IncNotification(string(d.Channel), string(d.Status))
		if d.Status == models.DeliverySent {
			succeeded++
		}
	}

	if err := s.audit.RecordSecurityEvent(ctx, SecurityEventInput{
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		Action:         models.ActionNotificationSent,
		ResourceType:   "notification",
		ResourceID:     req.UserID,
		Severity:       models.SeverityLow,
		Metadata: map[string]interface{}{
			"notificationType": string(req.Type),
			"channelsAttempted": len(deliveries),
			"channelsSucceeded": succeeded,
		},
	}); err != nil {
		return deliveries, fmt.Errorf("failed to send security notification: %w", err)
	}
	return deliveries, nil
}

// resolveChannels applies the selection rules: explicit request channels are
// intersected with the user's enabled channels; otherwise the template's
// defaults apply, gated by the category opt-in. Critical notifications
// always go to every enabled channel regardless of category opt-outs.
func (s *SecurityNotificationService) resolveChannels(req NotificationRequest, tmpl notificationTemplate, prefs *models.NotificationPreferences, severity models.Severity) []models.NotificationChannel {
	if len(req.Channels) > 0 {
		var out []models.NotificationChannel
		for _, ch := range req.Channels {
			if prefs.ChannelEnabled(ch) {
				out = append(out, ch)
			}
		}
		return out
	}

	if severity == models.SeverityCritical {
		return prefs.EnabledChannels()
	}

	if tmpl.wantedBy != nil && !tmpl.wantedBy(prefs) {
		return nil
	}

	var out []models.NotificationChannel
	for _, ch := range tmpl.DefaultChannels {
		if prefs.ChannelEnabled(ch) {
			out = append(out, ch)
		}
	}
	return out
}

func (s *SecurityNotificationService) buildVariables(req NotificationRequest, severity models.Severity) map[string]string {
	vars := map[string]string{
		"userId":    req.UserID,
		"severity":  string(severity),
		"timestamp": time.Now().Format(time.RFC3339),
		"title":     req.Title,
		"message":   req.Message,
	}
	for k, v := range req.Variables {
		vars[k] = v
	}
	return vars
}

func (s *SecurityNotificationService) dispatch(ctx context.Context, req NotificationRequest, tmpl notificationTemplate, channel models.NotificationChannel, vars map[string]string) models.NotificationDelivery {
	delivery := models.NotificationDelivery{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		NotificationType: string(req.Type),
		Channel:          channel,
		Status:           models.DeliveryPending,
		Metadata:         req.Metadata,
	}

	subject := interpolate(tmpl.Subject, vars)
	if req.Title != "" {
		subject = interpolate(req.Title, vars)
	}
	body, ok := tmpl.Bodies[channel]
	if !ok {
		body = "{{message}}"
	}
	rendered := interpolate(body, vars)
	if rendered == "" && req.Message != "" {
		rendered = req.Message
	}

	transport, ok := s.transports[channel]
	if !ok {
		delivery.Status = models.DeliveryFailed
		delivery.FailureReason = fmt.Sprintf("no transport registered for channel %q", channel)
		return delivery
	}

	if err := transport.Send(ctx, req.UserID, subject, rendered, req.Metadata); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"user_id": req.UserID,
			"channel": string(channel),
		}).Warn("notification channel send failed")
		delivery.Status = models.DeliveryFailed
		delivery.FailureReason = err.Error()
		return delivery
	}

	now := time.Now()
	delivery.Status = models.DeliverySent
	delivery.SentAt = &now
	return delivery
}

var variablePattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// interpolate substitutes {{variable}} placeholders. Unknown variables are
// left in place so operators can spot missing data in delivered messages.
func interpolate(template string, vars map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(template, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
}

// GetPreferences returns the user's stored preferences or the defaults.
// Read failures fall back to defaults; a preference lookup must never stop a
// security notification.
func (s *SecurityNotificationService) GetPreferences(ctx context.Context, userID string) *models.NotificationPreferences {
	var prefs models.NotificationPreferences
	err := s.db.WithContext(ctx).First(&prefs, "user_id = ?", userID).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			s.log.WithError(err).WithField("user_id", userID).Warn("failed to load notification preferences")
		}
		return models.DefaultPreferences(userID)
	}
	return &prefs
}

// UpdatePreferences upserts the user's preference row.
func (s *SecurityNotificationService) UpdatePreferences(ctx context.Context, prefs *models.NotificationPreferences) error {
	var existing models.NotificationPreferences
	err := s.db.WithContext(ctx).First(&existing, "user_id = ?", prefs.UserID).Error
	if err == gorm.ErrRecordNotFound {
		if err := s.db.WithContext(ctx).Create(prefs).Error; err != nil {
			return fmt.Errorf("update notification preferences: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("update notification preferences: %w", err)
	}
	prefs.ID = existing.ID
	prefs.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(prefs).Error; err != nil {
		return fmt.Errorf("update notification preferences: %w", err)
	}
	return nil
}

// ListNotifications returns the user's in-app feed, newest first.
func (s *SecurityNotificationService) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	var notifications []models.Notification
	if err := query.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// MarkAsRead marks one in-app notification read.
func (s *SecurityNotificationService) MarkAsRead(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Update("read", true).Error
}

// MarkAllAsRead marks all of a user's in-app notifications read.
func (s *SecurityNotificationService) MarkAllAsRead(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).Update("read", true).Error
}
