package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/metrics"
	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/store"
)

const (
	// auditSource tags every event written by this service.
	auditSource = "security_audit_service"

	// heuristicWindow is the lookback for the coarse per-user heuristic in
	// DetectSuspiciousActivity. The monitoring service runs a finer,
	// per-pattern-windowed catalog on top of this.
	heuristicWindow = 24 * time.Hour

	heuristicFetchLimit = 1000
)

// SecurityEventInput describes one security-relevant action to record.
type SecurityEventInput struct {
	UserID         string
	OrganizationID string
	Action         string
	ResourceType   string
	ResourceID     string
	Severity       models.Severity
	Metadata       map[string]interface{}
	IPAddress      string
	UserAgent      string
	Timestamp      time.Time
}

// SecurityEventFilter narrows GetSecurityEvents. Action is a substring
// match, ResourceType is exact, Severities is set membership against the
// metadata severity (absent metadata severity counts as low).
type SecurityEventFilter struct {
	UserID         string
	OrganizationID string
	Action         string
	ResourceType   string
	Severities     []models.Severity
	StartDate      *time.Time
	EndDate        *time.Time
	Limit          int
	Offset         int
}

// SecuritySummary aggregates event counts over a trailing window.
type SecuritySummary struct {
	OrganizationID           string                  `json:"organization_id"`
	PeriodDays               int                     `json:"period_days"`
	TotalEvents              int                     `json:"total_events"`
	EventsByType             map[string]int          `json:"events_by_type"`
	EventsBySeverity         map[models.Severity]int `json:"events_by_severity"`
	RecentHighSeverityEvents []models.AuditEvent     `json:"recent_high_severity_events"`
}

// SuspiciousActivityResult is the outcome of the audit-side heuristic.
type SuspiciousActivityResult struct {
	SuspiciousActivity bool     `json:"suspicious_activity"`
	RiskScore          int      `json:"risk_score"`
	Patterns           []string `json:"patterns"`
	Recommendations    []string `json:"recommendations"`
}

// TenantViolation describes a cross-tenant access attempt.
type TenantViolation struct {
	UserID                  string
	AttemptedOrganizationID string
	ActualOrganizationIDs   []string
	Action                  string
	ResourceType            string
	ResourceID              string
	IPAddress               string
	UserAgent               string
	Metadata                map[string]interface{}
}

// SecurityAuditService is the canonical event sink. Every other component
// logs through it exclusively.
type SecurityAuditService struct {
	store store.AuditLogStore
	log   *logrus.Entry
}

// NewSecurityAuditService returns an audit service writing through the store.
func NewSecurityAuditService(s store.AuditLogStore) *SecurityAuditService {
	return &SecurityAuditService{
		store: s,
		log:   logger.WithFields(logrus.Fields{"component": "security_audit"}),
	}
}

// RecordSecurityEvent writes one audit event and returns any store error.
// High severity emits an operator warning; critical additionally emits a
// louder error-level diagnostic. Callers that must not fail on audit errors
// use LogSecurityEvent instead.
func (s *SecurityAuditService) RecordSecurityEvent(ctx context.Context, in SecurityEventInput) error {
	severity := in.Severity
	if !severity.Valid() {
		severity = models.SeverityLow
	}

	metadata := map[string]interface{}{}
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	metadata["eventId"] = uuid.New().String()
	metadata["source"] = auditSource
	metadata["severity"] = string(severity)

	createdAt := in.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	event := &models.AuditEvent{
		UserID:         in.UserID,
		OrganizationID: in.OrganizationID,
		Action:         in.Action,
		ResourceType:   in.ResourceType,
		ResourceID:     in.ResourceID,
		Severity:       severity,
		Metadata:       metadata,
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		CreatedAt:      createdAt,
	}

	if err := s.store.CreateAuditLog(ctx, event); err != nil {
		return err
	}
	metrics.IncAuditEvent(string(severity))

	if severity.AtLeast(models.SeverityHigh) {
		entry := s.log.WithFields(logrus.Fields{
			"action":          in.Action,
			"user_id":         in.UserID,
			"organization_id": in.OrganizationID,
			"severity":        string(severity),
			"ip_address":      in.IPAddress,
		})
		entry.Warn("high severity security event")
		if severity == models.SeverityCritical {
			entry.WithField("security_alert", true).Error("CRITICAL security event")
		}
	}
	return nil
}

// LogSecurityEvent records an event without ever failing the caller. Store
// errors are logged and swallowed: audit logging must not break the business
// operation it observes.
func (s *SecurityAuditService) LogSecurityEvent(ctx context.Context, in SecurityEventInput) {
	if err := s.RecordSecurityEvent(ctx, in); err != nil {
		s.log.WithError(err).WithField("action", in.Action).Error("failed to write audit event")
	}
}

// LogAuthenticationEvent records an auth.* event. login_failed is medium
// severity, everything else low.
func (s *SecurityAuditService) LogAuthenticationEvent(ctx context.Context, userID, action string, metadata map[string]interface{}, ipAddress, userAgent string) {
	severity := models.SeverityLow
	if action == "login_failed" {
		severity = models.SeverityMedium
	}
	s.LogSecurityEvent(ctx, SecurityEventInput{
		UserID:       userID,
		Action:       "auth." + action,
		ResourceType: "authentication",
		ResourceID:   userID,
		Severity:     severity,
		Metadata:     metadata,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
	})
}

// LogAuthorizationEvent records an authz.* event. permission_denied is
// medium severity, everything else low.
func (s *SecurityAuditService) LogAuthorizationEvent(ctx context.Context, userID, organizationID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	severity := models.SeverityLow
	if action == "permission_denied" {
		severity = models.SeverityMedium
	}
	s.LogSecurityEvent(ctx, SecurityEventInput{
		UserID:         userID,
		OrganizationID: organizationID,
		Action:         "authz." + action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Severity:       severity,
		Metadata:       metadata,
	})
}

// LogTenantIsolationViolation records a cross-tenant access attempt. The
// severity is always critical regardless of anything the caller supplies;
// this is the one unconditionally critical path in the pipeline.
func (s *SecurityAuditService) LogTenantIsolationViolation(ctx context.Context, v TenantViolation) {
	metadata := map[string]interface{}{}
	for k, val := range v.Metadata {
		metadata[k] = val
	}
	metadata["attemptedOrganizationId"] = v.AttemptedOrganizationID
	metadata["actualOrganizationIds"] = v.ActualOrganizationIDs
	metadata["violationType"] = "cross_tenant_access_attempt"

	s.LogSecurityEvent(ctx, SecurityEventInput{
		UserID:         v.UserID,
		OrganizationID: v.AttemptedOrganizationID,
		Action:         models.ActionTenantViolation,
		ResourceType:   v.ResourceType,
		ResourceID:     v.ResourceID,
		Severity:       models.SeverityCritical,
		Metadata:       metadata,
		IPAddress:      v.IPAddress,
		UserAgent:      v.UserAgent,
	})

	s.log.WithFields(logrus.Fields{
		"security_alert":   true,
		"user_id":          v.UserID,
		"attempted_org_id": v.AttemptedOrganizationID,
		"action":           v.Action,
	}).Error("TENANT ISOLATION VIOLATION detected")
}

// LogDataAccessEvent records a data.* event. delete is medium severity,
// everything else low.
func (s *SecurityAuditService) LogDataAccessEvent(ctx context.Context, userID, organizationID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	severity := models.SeverityLow
	if action == "delete" {
		severity = models.SeverityMedium
	}
	s.LogSecurityEvent(ctx, SecurityEventInput{
		UserID:         userID,
		OrganizationID: organizationID,
		Action:         "data." + action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Severity:       severity,
		Metadata:       metadata,
	})
}

// LogOrganizationEvent records an organization.* event. deleted and
// member_removed are medium severity, everything else low.
func (s *SecurityAuditService) LogOrganizationEvent(ctx context.Context, organizationID, userID, action string, metadata map[string]interface{}) {
	severity := models.SeverityLow
	if action == "deleted" || action == "member_removed" {
		severity = models.SeverityMedium
	}
	s.LogSecurityEvent(ctx, SecurityEventInput{
		UserID:         userID,
		OrganizationID: organizationID,
		Action:         "organization." + action,
		ResourceType:   "organization",
		ResourceID:     organizationID,
		Severity:       severity,
		Metadata:       metadata,
	})
}

// GetSecurityEvents returns events matching the filter, newest first. The
// store narrows by subject, tenant, range and page; action substring,
// resource type and severity filters run in process. Unlike the log methods,
// read failures propagate: callers asked for data and a silent empty result
// would be misleading.
func (s *SecurityAuditService) GetSecurityEvents(ctx context.Context, filter SecurityEventFilter) ([]models.AuditEvent, error) {
	events, err := s.store.GetAuditLogs(ctx, store.AuditLogQuery{
		UserID:         filter.UserID,
		OrganizationID: filter.OrganizationID,
		Since:          filter.StartDate,
		Until:          filter.EndDate,
		Limit:          filter.Limit,
		Offset:         filter.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("get security events: %w", err)
	}

	severitySet := map[models.Severity]bool{}
	for _, sev := range filter.Severities {
		severitySet[sev] = true
	}

	filtered := make([]models.AuditEvent, 0, len(events))
	for _, e := range events {
		if filter.Action != "" && !strings.Contains(e.Action, filter.Action) {
			continue
		}
		if filter.ResourceType != "" && e.ResourceType != filter.ResourceType {
			continue
		}
		if len(severitySet) > 0 && !severitySet[e.MetadataSeverity()] {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

// GetSecuritySummary aggregates event counts by resource type and severity
// over the trailing window, plus the ten most recent high or critical
// events. Store errors propagate.
func (s *SecurityAuditService) GetSecuritySummary(ctx context.Context, organizationID string, days int) (*SecuritySummary, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	events, err := s.store.GetAuditLogs(ctx, store.AuditLogQuery{
		OrganizationID: organizationID,
		Since:          &since,
		Limit:          heuristicFetchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("get security summary: %w", err)
	}

	summary := &SecuritySummary{
		OrganizationID:           organizationID,
		PeriodDays:               days,
		TotalEvents:              len(events),
		EventsByType:             map[string]int{},
		EventsBySeverity:         map[models.Severity]int{},
		RecentHighSeverityEvents: []models.AuditEvent{},
	}
	for _, e := range events {
		summary.EventsByType[e.ResourceType]++
		summary.EventsBySeverity[e.MetadataSeverity()]++
		if e.MetadataSeverity().AtLeast(models.SeverityHigh) && len(summary.RecentHighSeverityEvents) < 10 {
			summary.RecentHighSeverityEvents = append(summary.RecentHighSeverityEvents, e)
		}
	}
	return summary, nil
}

// DetectSuspiciousActivity runs the coarse audit-side heuristic over the
// user's last 24 hours. Detection must never block the caller: any internal
// error yields a zeroed result carrying an error recommendation.
func (s *SecurityAuditService) DetectSuspiciousActivity(ctx context.Context, userID, organizationID string) SuspiciousActivityResult {
	since := time.Now().Add(-heuristicWindow)
	events, err := s.store.GetAuditLogs(ctx, store.AuditLogQuery{
		UserID:         userID,
		OrganizationID: organizationID,
		Since:          &since,
		Limit:          heuristicFetchLimit,
	})
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("suspicious activity detection failed")
		return SuspiciousActivityResult{
			Patterns:        []string{},
			Recommendations: []string{"Unable to analyze activity due to an internal error; review audit logs manually"},
		}
	}

	var failedLogins, dataAccess, permissionDenied, tenantViolations int
	for _, e := range events {
		switch {
		case e.Action == "auth.login_failed":
			failedLogins++
		case strings.HasPrefix(e.Action, "data."):
			dataAccess++
		case e.Action == "authz.permission_denied":
			permissionDenied++
		case e.Action == models.ActionTenantViolation:
			tenantViolations++
		}
	}

	result := SuspiciousActivityResult{Patterns: []string{}, Recommendations: []string{}}
	if failedLogins >= 5 {
		result.RiskScore += 30
		result.Patterns = append(result.Patterns, "multiple_failed_logins")
		result.Recommendations = append(result.Recommendations, "Consider enforcing a password reset for this user")
	}
	if dataAccess > 100 {
		result.RiskScore += 20
		result.Patterns = append(result.Patterns, "unusual_data_access_volume")
		result.Recommendations = append(result.Recommendations, "Review recent data access for bulk export activity")
	}
	if permissionDenied >= 10 {
		result.RiskScore += 25
		result.Patterns = append(result.Patterns, "repeated_permission_denials")
		result.Recommendations = append(result.Recommendations, "Audit the user's role assignments and recent requests")
	}
	if tenantViolations > 0 {
		result.RiskScore += 50
		result.Patterns = append(result.Patterns, "tenant_isolation_violation")
		result.Recommendations = append(result.Recommendations, "Investigate cross-tenant access attempts immediately")
	}
	if result.RiskScore > 100 {
		result.RiskScore = 100
	}
	result.SuspiciousActivity = result.RiskScore > 0
	return result
}

// ValidateAndLogTenantAccess returns true only when the user belongs to the
// organization. Mismatches log a tenant isolation violation; any internal
// error logs a high severity validation error and denies access. The check
// fails closed.
func (s *SecurityAuditService) ValidateAndLogTenantAccess(ctx context.Context, userID, organizationID, action, resourceType, resourceID string, userOrganizations []string) bool {
	orgIDs := userOrganizations
	if orgIDs == nil {
		orgs, err := s.store.GetUserOrganizations(ctx, userID)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).Error("tenant access validation failed")
			s.LogSecurityEvent(ctx, SecurityEventInput{
				UserID:         userID,
				OrganizationID: organizationID,
				Action:         models.ActionTenantValidation,
				ResourceType:   resourceType,
				ResourceID:     resourceID,
				Severity:       models.SeverityHigh,
				Metadata:       map[string]interface{}{"error": err.Error(), "attemptedAction": action},
			})
			return false
		}
		for _, org := range orgs {
			orgIDs = append(orgIDs, org.UUID)
		}
	}

	for _, id := range orgIDs {
		if id == organizationID {
			return true
		}
	}

	s.LogTenantIsolationViolation(ctx, TenantViolation{
		UserID:                  userID,
		AttemptedOrganizationID: organizationID,
		ActualOrganizationIDs:   orgIDs,
		Action:                  action,
		ResourceType:            resourceType,
		ResourceID:              resourceID,
	})
	return false
}
