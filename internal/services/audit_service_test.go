package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/store"
)

func setupAuditTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AuditEvent{},
		&models.Organization{},
		&models.OrganizationMember{},
	))
	return db
}

func newAuditService(t *testing.T) (*SecurityAuditService, *gorm.DB) {
	db := setupAuditTestDB(t)
	return NewSecurityAuditService(store.NewGormAuditStore(db)), db
}

// failingAuditStore simulates a broken persistence layer.
type failingAuditStore struct{}

func (f *failingAuditStore) CreateAuditLog(ctx context.Context, event *models.AuditEvent) error {
	return errors.New("disk full")
}

func (f *failingAuditStore) GetAuditLogs(ctx context.Context, q store.AuditLogQuery) ([]models.AuditEvent, error) {
	return nil, errors.New("disk full")
}

func (f *failingAuditStore) GetUserOrganizations(ctx context.Context, userID string) ([]models.Organization, error) {
	return nil, errors.New("disk full")
}

func TestRecordSecurityEvent_EnrichesMetadata(t *testing.T) {
	svc, db := newAuditService(t)

	err := svc.RecordSecurityEvent(context.Background(), SecurityEventInput{
		UserID:   "user_1",
		Action:   "auth.login",
		Severity: models.SeverityLow,
		Metadata: map[string]interface{}{"method": "password"},
	})
	require.NoError(t, err)

	var event models.AuditEvent
	require.NoError(t, db.First(&event).Error)
	assert.NotEmpty(t, event.UUID)
	assert.Equal(t, "security_audit_service", event.Metadata["source"])
	assert.NotEmpty(t, event.Metadata["eventId"])
	assert.Equal(t, "low", event.Metadata["severity"])
	assert.Equal(t, "password", event.Metadata["method"])
}

func TestRecordSecurityEvent_InvalidSeverityDefaultsToLow(t *testing.T) {
	svc, db := newAuditService(t)

	err := svc.RecordSecurityEvent(context.Background(), SecurityEventInput{
		UserID:   "user_1",
		Action:   "auth.login",
		Severity: models.Severity("bogus"),
	})
	require.NoError(t, err)

	var event models.AuditEvent
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, models.SeverityLow, event.Severity)
}

func TestRecordSecurityEvent_CriticalEmitsLoudDiagnostic(t *testing.T) {
	hook := new(logrustest.Hook)
	logger.AddHook(hook)

	svc, _ := newAuditService(t)
	err := svc.RecordSecurityEvent(context.Background(), SecurityEventInput{
		UserID:   "user_1",
		Action:   "auth.login_failed",
		Severity: models.SeverityCritical,
	})
	require.NoError(t, err)

	var sawWarn, sawError bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "high severity security event" {
			sawWarn = true
		}
		if entry.Level == logrus.ErrorLevel && entry.Message == "CRITICAL security event" {
			assert.Equal(t, true, entry.Data["security_alert"])
			sawError = true
		}
	}
	assert.True(t, sawWarn)
	assert.True(t, sawError)
}

func TestLogSecurityEvent_SwallowsStoreErrors(t *testing.T) {
	svc := NewSecurityAuditService(&failingAuditStore{})

	// Must not panic or propagate anything.
	svc.LogSecurityEvent(context.Background(), SecurityEventInput{
		UserID:   "user_1",
		Action:   "auth.login",
		Severity: models.SeverityLow,
	})
}

func TestLogAuthenticationEvent_SeverityRules(t *testing.T) {
	svc, db := newAuditService(t)
	ctx := context.Background()

	svc.LogAuthenticationEvent(ctx, "user_1", "login", nil, "1.2.3.4", "ua")
	svc.LogAuthenticationEvent(ctx, "user_1", "login_failed", nil, "1.2.3.4", "ua")

	var events []models.AuditEvent
	require.NoError(t, db.Order("id").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, "auth.login", events[0].Action)
	assert.Equal(t, models.SeverityLow, events[0].Severity)
	assert.Equal(t, "auth.login_failed", events[1].Action)
	assert.Equal(t, models.SeverityMedium, events[1].Severity)
}

func TestLogTenantIsolationViolation_AlwaysCritical(t *testing.T) {
	svc, db := newAuditService(t)

	svc.LogTenantIsolationViolation(context.Background(), TenantViolation{
		UserID:                  "user_1",
		AttemptedOrganizationID: "org_b",
		ActualOrganizationIDs:   []string{"org_a"},
		Action:                  "read",
		ResourceType:            "document",
		ResourceID:              "doc_1",
	})

	var event models.AuditEvent
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, models.ActionTenantViolation, event.Action)
	assert.Equal(t, models.SeverityCritical, event.Severity)
	assert.Equal(t, "cross_tenant_access_attempt", event.Metadata["violationType"])
	assert.Equal(t, "org_b", event.Metadata["attemptedOrganizationId"])
}

func TestGetSecurityEvents_Filters(t *testing.T) {
	svc, _ := newAuditService(t)
	ctx := context.Background()

	svc.LogAuthenticationEvent(ctx, "user_1", "login", nil, "", "")
	svc.LogAuthenticationEvent(ctx, "user_1", "login_failed", nil, "", "")
	svc.LogDataAccessEvent(ctx, "user_1", "org_a", "read", "document", "doc_1", nil)

	// Action is a substring match.
	events, err := svc.GetSecurityEvents(ctx, SecurityEventFilter{UserID: "user_1", Action: "login"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// ResourceType is exact.
	events, err = svc.GetSecurityEvents(ctx, SecurityEventFilter{UserID: "user_1", ResourceType: "document"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "data.read", events[0].Action)

	// Severity filters on metadata severity.
	events, err = svc.GetSecurityEvents(ctx, SecurityEventFilter{
		UserID:     "user_1",
		Severities: []models.Severity{models.SeverityMedium},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "auth.login_failed", events[0].Action)
}

func TestGetSecurityEvents_ReadIsIdempotent(t *testing.T) {
	svc, _ := newAuditService(t)
	ctx := context.Background()

	svc.LogAuthenticationEvent(ctx, "user_1", "login", nil, "", "")

	first, err := svc.GetSecurityEvents(ctx, SecurityEventFilter{UserID: "user_1"})
	require.NoError(t, err)
	second, err := svc.GetSecurityEvents(ctx, SecurityEventFilter{UserID: "user_1"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetSecurityEvents_PropagatesStoreErrors(t *testing.T) {
	svc := NewSecurityAuditService(&failingAuditStore{})

	_, err := svc.GetSecurityEvents(context.Background(), SecurityEventFilter{UserID: "user_1"})
	require.Error(t, err)
}

func TestGetSecuritySummary_CountsBySeverity(t *testing.T) {
	svc, _ := newAuditService(t)
	ctx := context.Background()

	svc.LogAuthenticationEvent(ctx, "user_1", "login", nil, "", "")
	svc.LogDataAccessEvent(ctx, "user_1", "org_a", "read", "document", "doc_1", nil)
	svc.LogSecurityEvent(ctx, SecurityEventInput{
		UserID: "user_1", OrganizationID: "org_a",
		Action: "authz.permission_denied", ResourceType: "settings",
		Severity: models.SeverityHigh,
	})
	svc.LogTenantIsolationViolation(ctx, TenantViolation{
		UserID: "user_1", AttemptedOrganizationID: "org_a",
	})

	summary, err := svc.GetSecuritySummary(ctx, "org_a", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, summary.PeriodDays)
	assert.Equal(t, 3, summary.TotalEvents) // org-scoped query skips the login with no org
	assert.Equal(t, 1, summary.EventsBySeverity[models.SeverityLow])
	assert.Equal(t, 1, summary.EventsBySeverity[models.SeverityHigh])
	assert.Equal(t, 1, summary.EventsBySeverity[models.SeverityCritical])
	assert.Len(t, summary.RecentHighSeverityEvents, 2)
}

func TestDetectSuspiciousActivity_FailedLoginBoundary(t *testing.T) {
	svc, _ := newAuditService(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		svc.LogAuthenticationEvent(ctx, "user_1", "login_failed", nil, "", "")
	}
	result := svc.DetectSuspiciousActivity(ctx, "user_1", "")
	assert.False(t, result.SuspiciousActivity)
	assert.Equal(t, 0, result.RiskScore)

	// Fifth failure crosses the threshold.
	svc.LogAuthenticationEvent(ctx, "user_1", "login_failed", nil, "", "")
	result = svc.DetectSuspiciousActivity(ctx, "user_1", "")
	assert.True(t, result.SuspiciousActivity)
	assert.Equal(t, 30, result.RiskScore)
	assert.Contains(t, result.Patterns, "multiple_failed_logins")
}

func TestDetectSuspiciousActivity_ScoreIsCapped(t *testing.T) {
	svc, _ := newAuditService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.LogAuthenticationEvent(ctx, "user_1", "login_failed", nil, "", "")
	}
	for i := 0; i < 101; i++ {
		svc.LogDataAccessEvent(ctx, "user_1", "", "read", "document", fmt.Sprintf("doc_%d", i), nil)
	}
	for i := 0; i < 10; i++ {
		svc.LogAuthorizationEvent(ctx, "user_1", "", "permission_denied", "settings", "", nil)
	}
	svc.LogTenantIsolationViolation(ctx, TenantViolation{UserID: "user_1", AttemptedOrganizationID: "org_b"})

	result := svc.DetectSuspiciousActivity(ctx, "user_1", "")
	assert.True(t, result.SuspiciousActivity)
	assert.Equal(t, 100, result.RiskScore)
	assert.Len(t, result.Patterns, 4)
}

func TestDetectSuspiciousActivity_FailSafeOnError(t *testing.T) {
	svc := NewSecurityAuditService(&failingAuditStore{})

	result := svc.DetectSuspiciousActivity(context.Background(), "user_1", "")
	assert.False(t, result.SuspiciousActivity)
	assert.Equal(t, 0, result.RiskScore)
	assert.Empty(t, result.Patterns)
	require.Len(t, result.Recommendations, 1)
	assert.Contains(t, result.Recommendations[0], "review audit logs manually")
}

func TestValidateAndLogTenantAccess(t *testing.T) {
	svc, db := newAuditService(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Organization{UUID: "org_a", Name: "Acme"}).Error)
	require.NoError(t, db.Create(&models.OrganizationMember{OrganizationUUID: "org_a", UserID: "user_1"}).Error)

	assert.True(t, svc.ValidateAndLogTenantAccess(ctx, "user_1", "org_a", "read", "document", "doc_1", nil))

	// Mismatch logs a violation and denies.
	assert.False(t, svc.ValidateAndLogTenantAccess(ctx, "user_1", "org_b", "read", "document", "doc_1", nil))

	var violation models.AuditEvent
	require.NoError(t, db.Where("action = ?", models.ActionTenantViolation).First(&violation).Error)
	assert.Equal(t, models.SeverityCritical, violation.Severity)

	// Explicit membership list bypasses the store lookup.
	assert.True(t, svc.ValidateAndLogTenantAccess(ctx, "user_1", "org_c", "read", "document", "doc_1", []string{"org_c"}))
}

func TestValidateAndLogTenantAccess_FailsClosed(t *testing.T) {
	svc := NewSecurityAuditService(&failingAuditStore{})

	ok := svc.ValidateAndLogTenantAccess(context.Background(), "user_1", "org_a", "read", "document", "doc_1", nil)
	assert.False(t, ok)
}

func TestGetSecuritySummary_WindowExcludesOldEvents(t *testing.T) {
	svc, db := newAuditService(t)
	ctx := context.Background()

	svc.LogAuthenticationEvent(ctx, "user_1", "login", nil, "", "")
	old := models.AuditEvent{
		UserID:    "user_1",
		Action:    "auth.login",
		Severity:  models.SeverityLow,
		CreatedAt: time.Now().Add(-40 * 24 * time.Hour),
	}
	require.NoError(t, db.Create(&old).Error)

	summary, err := svc.GetSecuritySummary(ctx, "", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalEvents)
}
