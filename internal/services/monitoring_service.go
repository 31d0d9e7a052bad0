package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/metrics"
	"github.com/EtherealVisions/sentinel/internal/models"
)

// AuthEventType enumerates the authentication-class events the monitor
// understands.
type AuthEventType string

const (
	AuthEventLogin          AuthEventType = "login"
	AuthEventLoginFailed    AuthEventType = "login_failed"
	AuthEventLogout         AuthEventType = "logout"
	AuthEventPasswordChange AuthEventType = "password_change"
	AuthEventMFAEnabled     AuthEventType = "mfa_enabled"
	AuthEventMFADisabled    AuthEventType = "mfa_disabled"
)

// PatternType identifies a suspicious activity pattern in the catalog.
type PatternType string

const (
	PatternMultipleFailedLogins PatternType = "multiple_failed_logins"
	PatternBruteForce           PatternType = "brute_force"
	PatternUnusualAccess        PatternType = "unusual_access_pattern"
	PatternPermissionEscalation PatternType = "permission_escalation"
	PatternTenantViolation      PatternType = "tenant_violation"
	PatternAccountTakeover      PatternType = "account_takeover"
)

// SuspiciousActivityPattern is one catalog entry. The catalog is fixed
// configuration, loaded once and never mutated at runtime.
type SuspiciousActivityPattern struct {
	Type       PatternType
	Severity   models.Severity
	Threshold  int
	TimeWindow time.Duration
	RiskScore  int
}

// detectionFetchWindow is the outer lookback for pattern evaluation. It must
// be at least as large as the widest pattern window in the catalog; each
// pattern then filters to its own window.
const detectionFetchWindow = 60 * time.Minute

var patternCatalog = []SuspiciousActivityPattern{
	{Type: PatternMultipleFailedLogins, Severity: models.SeverityMedium, Threshold: 5, TimeWindow: 15 * time.Minute, RiskScore: 30},
	{Type: PatternBruteForce, Severity: models.SeverityHigh, Threshold: 10, TimeWindow: 5 * time.Minute, RiskScore: 60},
	{Type: PatternUnusualAccess, Severity: models.SeverityHigh, Threshold: 100, TimeWindow: 60 * time.Minute, RiskScore: 40},
	{Type: PatternPermissionEscalation, Severity: models.SeverityHigh, Threshold: 10, TimeWindow: 30 * time.Minute, RiskScore: 50},
	{Type: PatternTenantViolation, Severity: models.SeverityCritical, Threshold: 1, TimeWindow: 60 * time.Minute, RiskScore: 90},
	{Type: PatternAccountTakeover, Severity: models.SeverityCritical, Threshold: 2, TimeWindow: 30 * time.Minute, RiskScore: 80},
}

var patternRecommendations = map[PatternType]string{
	PatternMultipleFailedLogins: "Prompt the user to reset their password",
	PatternBruteForce:           "Temporarily lock the account and block the source IP",
	PatternUnusualAccess:        "Review recent data access for bulk export activity",
	PatternPermissionEscalation: "Audit the user's role assignments",
	PatternTenantViolation:      "Investigate cross-tenant access attempts immediately",
	PatternAccountTakeover:      "Lock the account and require re-verification of the user's identity",
}

// PatternCatalog returns a copy of the configured pattern catalog.
func PatternCatalog() []SuspiciousActivityPattern {
	out := make([]SuspiciousActivityPattern, len(patternCatalog))
	copy(out, patternCatalog)
	return out
}

// SuspiciousActivityReport is the outcome of catalog evaluation.
type SuspiciousActivityReport struct {
	Detected        bool                        `json:"detected"`
	Patterns        []SuspiciousActivityPattern `json:"patterns"`
	RiskScore       int                         `json:"risk_score"`
	Recommendations []string                    `json:"recommendations"`
}

// AlertInput describes a new security alert.
type AlertInput struct {
	UserID         string
	OrganizationID string
	AlertType      string
	Severity       models.Severity
	Title          string
	Description    string
	Metadata       map[string]interface{}
}

// ThreatSummary is one entry of the metrics top-threats list.
type ThreatSummary struct {
	Action       string          `json:"action"`
	Count        int             `json:"count"`
	LastSeverity models.Severity `json:"last_severity"`
}

// SecurityMetrics summarizes monitored activity over a trailing window.
type SecurityMetrics struct {
	PeriodDays           int             `json:"period_days"`
	TotalEvents          int             `json:"total_events"`
	AlertsGenerated      int             `json:"alerts_generated"`
	SuspiciousActivities int             `json:"suspicious_activities"`
	AverageRiskScore     int             `json:"average_risk_score"`
	TopThreats           []ThreatSummary `json:"top_threats"`
}

// SecurityMonitoringService correlates authentication activity against the
// pattern catalog and orchestrates alerts, lockdowns and notifications.
type SecurityMonitoringService struct {
	db       *gorm.DB
	audit    *SecurityAuditService
	notifier *SecurityNotificationService
	log      *logrus.Entry
}

// NewSecurityMonitoringService wires the monitor to its collaborators. The
// DB handle backs the first-class alerts table.
func NewSecurityMonitoringService(db *gorm.DB, audit *SecurityAuditService, notifier *SecurityNotificationService) *SecurityMonitoringService {
	return &SecurityMonitoringService{
		db:       db,
		audit:    audit,
		notifier: notifier,
		log:      logger.WithFields(logrus.Fields{"component": "security_monitoring"}),
	}
}

// MonitorAuthenticationEvent records the event, evaluates the pattern
// catalog, escalates and notifies. Every step is independently recovered:
// authentication must proceed even when monitoring breaks, so this method
// never returns an error.
func (s *SecurityMonitoringService) MonitorAuthenticationEvent(ctx context.Context, userID string, eventType AuthEventType, metadata map[string]interface{}, ipAddress, userAgent string) {
	s.audit.LogAuthenticationEvent(ctx, userID, string(eventType), metadata, ipAddress, userAgent)

	report := s.DetectSuspiciousActivity(ctx, userID, eventType, metadata)
	if report.Detected {
		s.audit.LogSecurityEvent(ctx, SecurityEventInput{
			UserID:       userID,
			Action:       models.ActionSuspiciousActivity,
			ResourceType: "security",
			ResourceID:   userID,
			Severity:     maxPatternSeverity(report.Patterns),
			Metadata: map[string]interface{}{
				"riskScore": report.RiskScore,
				"patterns":  patternTypes(report.Patterns),
			},
			IPAddress: ipAddress,
			UserAgent: userAgent,
		})

		if _, err := s.CreateSecurityAlert(ctx, AlertInput{
			UserID:      userID,
			AlertType:   "suspicious_activity",
			Severity:    maxPatternSeverity(report.Patterns),
			Title:       "Suspicious activity detected",
			Description: fmt.Sprintf("Matched patterns: %s (risk %d)", strings.Join(patternTypes(report.Patterns), ", "), report.RiskScore),
			Metadata: map[string]interface{}{
				"riskScore": report.RiskScore,
				"patterns":  patternTypes(report.Patterns),
			},
		}); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Error("failed to create suspicious activity alert")
		}

		if report.RiskScore >= 80 {
			s.handleCriticalThreat(ctx, userID, report, ipAddress)
		}
	}

	s.sendEventNotifications(ctx, userID, eventType, metadata, report)
}

// DetectSuspiciousActivity evaluates the catalog over the user's recent
// events. Each pattern sees only events inside its own time window. The
// check fails safe: errors yield an empty report.
func (s *SecurityMonitoringService) DetectSuspiciousActivity(ctx context.Context, userID string, eventType AuthEventType, metadata map[string]interface{}) SuspiciousActivityReport {
	report := SuspiciousActivityReport{Patterns: []SuspiciousActivityPattern{}, Recommendations: []string{}}

	since := time.Now().Add(-detectionFetchWindow)
	events, err := s.audit.GetSecurityEvents(ctx, SecurityEventFilter{
		UserID:    userID,
		StartDate: &since,
		Limit:     heuristicFetchLimit,
	})
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("pattern detection failed")
		return report
	}

	seenRecommendations := map[string]bool{}
	for _, pattern := range patternCatalog {
		cutoff := time.Now().Add(-pattern.TimeWindow)
		var windowEvents []models.AuditEvent
		for _, e := range events {
			if e.CreatedAt.After(cutoff) || e.CreatedAt.Equal(cutoff) {
				windowEvents = append(windowEvents, e)
			}
		}

		if !matchPattern(pattern, windowEvents) {
			continue
		}

		report.Detected = true
		report.Patterns = append(report.Patterns, pattern)
		report.RiskScore += pattern.RiskScore
		if rec := patternRecommendations[pattern.Type]; rec != "" && !seenRecommendations[rec] {
			seenRecommendations[rec] = true
			report.Recommendations = append(report.Recommendations, rec)
		}
	}

	if report.RiskScore > 100 {
		report.RiskScore = 100
	}
	return report
}

func matchPattern(pattern SuspiciousActivityPattern, events []models.AuditEvent) bool {
	switch pattern.Type {
	case PatternMultipleFailedLogins, PatternBruteForce:
		return countAction(events, "auth.login_failed") >= pattern.Threshold
	case PatternUnusualAccess:
		count := 0
		for _, e := range events {
			if strings.HasPrefix(e.Action, "data.") {
				count++
			}
		}
		return count >= pattern.Threshold
	case PatternPermissionEscalation:
		return countAction(events, "authz.permission_denied") >= pattern.Threshold
	case PatternTenantViolation:
		return countAction(events, models.ActionTenantViolation) >= pattern.Threshold
	case PatternAccountTakeover:
		return matchAccountTakeover(events, pattern.Threshold)
	default:
		return false
	}
}

// matchAccountTakeover looks for failed logins from multiple source IPs
// combined with a successful login from an IP that never appears among the
// failures' successes. A user retrying from their own IP does not match;
// attacker IPs failing while a different IP succeeds does.
func matchAccountTakeover(events []models.AuditEvent, minFailedIPs int) bool {
	failedIPs := map[string]bool{}
	successIPs := map[string]bool{}
	successes := 0
	for _, e := range events {
		switch e.Action {
		case "auth.login_failed":
			if e.IPAddress != "" {
				failedIPs[e.IPAddress] = true
			}
		case "auth.login":
			successes++
			if e.IPAddress != "" {
				successIPs[e.IPAddress] = true
			}
		}
	}
	if len(failedIPs) < minFailedIPs || successes < 1 {
		return false
	}
	for ip := range failedIPs {
		if !successIPs[ip] {
			return true
		}
	}
	return false
}

func countAction(events []models.AuditEvent, action string) int {
	count := 0
	for _, e := range events {
		if e.Action == action {
			count++
		}
	}
	return count
}

// handleCriticalThreat runs when aggregate risk reaches 80. Brute force and
// account takeover additionally lock the account.
func (s *SecurityMonitoringService) handleCriticalThreat(ctx context.Context, userID string, report SuspiciousActivityReport, ipAddress string) {
	s.log.WithFields(logrus.Fields{
		"security_alert": true,
		"user_id":        userID,
		"risk_score":     report.RiskScore,
		"patterns":       patternTypes(report.Patterns),
	}).Error("CRITICAL THREAT detected")

	for _, pattern := range report.Patterns {
		if pattern.Type == PatternBruteForce || pattern.Type == PatternAccountTakeover {
			s.temporarilyLockAccount(ctx, userID, pattern.Type, ipAddress)
			return
		}
	}
}

// temporarilyLockAccount records the lockdown and tells the user. The lock
// is recorded on our side only.
// TODO: call the identity provider's admin API to revoke active sessions
// once a management credential is available to this service.
func (s *SecurityMonitoringService) temporarilyLockAccount(ctx context.Context, userID string, reason PatternType, ipAddress string) {
	s.audit.LogSecurityEvent(ctx, SecurityEventInput{
		UserID:       userID,
		Action:       models.ActionAccountLocked,
		ResourceType: "security",
		ResourceID:   userID,
		Severity:     models.SeverityCritical,
		Metadata:     map[string]interface{}{"reason": string(reason)},
		IPAddress:    ipAddress,
	})

	if _, err := s.notifier.SendSecurityNotification(ctx, NotificationRequest{
		UserID:   userID,
		Type:     NotificationAccountLocked,
		Severity: models.SeverityCritical,
		Variables: map[string]string{
			"reason": string(reason),
		},
	}); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("failed to send account lock notification")
	}
}

// CreateSecurityAlert persists a new alert and records its creation in the
// audit log. Unlike plain logging, failures here propagate: an alert that
// silently vanishes is worse than a surfaced error.
func (s *SecurityMonitoringService) CreateSecurityAlert(ctx context.Context, in AlertInput) (*models.SecurityAlert, error) {
	severity := in.Severity
	if !severity.Valid() {
		severity = models.SeverityMedium
	}
	alert := &models.SecurityAlert{
		AlertID:        newPrefixedID("alert"),
		UserID:         in.UserID,
		OrganizationID: in.OrganizationID,
		AlertType:      in.AlertType,
		Severity:       severity,
		Title:          in.Title,
		Description:    in.Description,
		Metadata:       in.Metadata,
		CreatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to create security alert: %w", err)
	}

	if err := s.audit.RecordSecurityEvent(ctx, SecurityEventInput{
		UserID:         in.UserID,
		OrganizationID: in.OrganizationID,
		Action:         models.ActionAlertCreated,
		ResourceType:   "security",
		ResourceID:     alert.AlertID,
		Severity:       severity,
		Metadata: map[string]interface{}{
			"alertId":   alert.AlertID,
			"alertType": in.AlertType,
			"title":     in.Title,
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to create security alert: %w", err)
	}
	metrics.IncAlertCreated()
	return alert, nil
}

// ResolveSecurityAlert marks an alert resolved and records the resolution as
// a new audit row. The alert row itself is the only thing updated in place.
func (s *SecurityMonitoringService) ResolveSecurityAlert(ctx context.Context, alertID, resolvedBy, notes string) (*models.SecurityAlert, error) {
	var alert models.SecurityAlert
	if err := s.db.WithContext(ctx).First(&alert, "alert_id = ?", alertID).Error; err != nil {
		return nil, fmt.Errorf("resolve security alert: %w", err)
	}

	now := time.Now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	alert.ResolvedBy = resolvedBy
	if err := s.db.WithContext(ctx).Save(&alert).Error; err != nil {
		return nil, fmt.Errorf("resolve security alert: %w", err)
	}

	if err := s.audit.RecordSecurityEvent(ctx, SecurityEventInput{
		UserID:         alert.UserID,
		OrganizationID: alert.OrganizationID,
		Action:         models.ActionIncidentResolved,
		ResourceType:   "security",
		ResourceID:     alert.AlertID,
		Severity:       models.SeverityLow,
		Metadata: map[string]interface{}{
			"alertId":    alert.AlertID,
			"resolvedBy": resolvedBy,
			"notes":      notes,
		},
	}); err != nil {
		return nil, fmt.Errorf("resolve security alert: %w", err)
	}
	return &alert, nil
}

// ListOpenAlerts returns unresolved alerts, newest first.
func (s *SecurityMonitoringService) ListOpenAlerts(ctx context.Context, organizationID string, limit int) ([]models.SecurityAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Where("resolved = ?", false).
		Order("created_at desc").Limit(limit)
	if organizationID != "" {
		query = query.Where("organization_id = ?", organizationID)
	}
	var alerts []models.SecurityAlert
	if err := query.Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	return alerts, nil
}

// GetSecurityMetrics summarizes monitored activity over the trailing window.
// Reporting fails safe: any error yields an all-zero metrics object.
func (s *SecurityMonitoringService) GetSecurityMetrics(ctx context.Context, organizationID string, days int) SecurityMetrics {
	if days <= 0 {
		days = 30
	}
	result := SecurityMetrics{PeriodDays: days, TopThreats: []ThreatSummary{}}

	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	events, err := s.audit.GetSecurityEvents(ctx, SecurityEventFilter{
		OrganizationID: organizationID,
		StartDate:      &since,
		Limit:          10000,
	})
	if err != nil {
		s.log.WithError(err).Error("security metrics collection failed")
		return result
	}

	result.TotalEvents = len(events)

	var riskSum float64
	var riskCount int
	threatCounts := map[string]int{}
	threatSeverity := map[string]models.Severity{}

	for _, e := range events {
		switch e.Action {
		case models.ActionAlertCreated:
			result.AlertsGenerated++
		case models.ActionSuspiciousActivity:
			result.AlertsGenerated++
			result.SuspiciousActivities++
		}

		if score, ok := e.MetadataNumber("riskScore"); ok {
			riskSum += score
			riskCount++
		}

		if strings.HasPrefix(e.Action, "security.") || strings.HasPrefix(e.Action, "auth.") {
			threatCounts[e.Action]++
			// events arrive newest first, so the first sighting is the
			// most recent severity
			if _, seen := threatSeverity[e.Action]; !seen {
				threatSeverity[e.Action] = e.MetadataSeverity()
			}
		}
	}

	if riskCount > 0 {
		result.AverageRiskScore = int(math.Round(riskSum / float64(riskCount)))
	}

	for action, count := range threatCounts {
		result.TopThreats = append(result.TopThreats, ThreatSummary{
			Action:       action,
			Count:        count,
			LastSeverity: threatSeverity[action],
		})
	}
	sort.Slice(result.TopThreats, func(i, j int) bool {
		if result.TopThreats[i].Count != result.TopThreats[j].Count {
			return result.TopThreats[i].Count > result.TopThreats[j].Count
		}
		return result.TopThreats[i].Action < result.TopThreats[j].Action
	})
	if len(result.TopThreats) > 5 {
		result.TopThreats = result.TopThreats[:5]
	}
	return result
}

func (s *SecurityMonitoringService) sendEventNotifications(ctx context.Context, userID string, eventType AuthEventType, metadata map[string]interface{}, report SuspiciousActivityReport) {
	send := func(notifType NotificationType, severity models.Severity, vars map[string]string) {
		if _, err := s.notifier.SendSecurityNotification(ctx, NotificationRequest{
			UserID:    userID,
			Type:      notifType,
			Severity:  severity,
			Variables: vars,
		}); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"user_id": userID,
				"type":    string(notifType),
			}).Error("failed to send security notification")
		}
	}

	switch eventType {
	case AuthEventPasswordChange:
		send(NotificationPasswordChanged, models.SeverityMedium, nil)
	case AuthEventMFAEnabled:
		send(NotificationMFAEnabled, models.SeverityLow, nil)
	case AuthEventMFADisabled:
		send(NotificationMFADisabled, models.SeverityHigh, nil)
	case AuthEventLogin:
		if newDevice, _ := metadata["newDevice"].(bool); newDevice {
			device, _ := metadata["deviceInfo"].(string)
			send(NotificationNewDeviceLogin, models.SeverityMedium, map[string]string{"device": device})
		}
	}

	if report.Detected {
		send(NotificationSuspiciousActivity, models.SeverityHigh, map[string]string{
			"patterns": strings.Join(patternTypes(report.Patterns), ", "),
		})
	}
}

func maxPatternSeverity(patterns []SuspiciousActivityPattern) models.Severity {
	severities := make([]models.Severity, 0, len(patterns))
	for _, p := range patterns {
		severities = append(severities, p.Severity)
	}
	return models.MaxSeverity(severities...)
}

func patternTypes(patterns []SuspiciousActivityPattern) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, string(p.Type))
	}
	return out
}

// newPrefixedID builds ids in the alert_<ts>_<rand> / incident_<ts>_<rand>
// shape dashboards already parse.
func newPrefixedID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), uuid.New().String()[:8])
}
