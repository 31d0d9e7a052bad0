package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/services"
	"github.com/EtherealVisions/sentinel/internal/store"
)

// testTransport swallows sends so notification fan-out cannot fail tests.
type testTransport struct {
	channel models.NotificationChannel
}

func (t *testTransport) Channel() models.NotificationChannel { return t.channel }

func (t *testTransport) Send(ctx context.Context, userID, subject, body string, metadata map[string]interface{}) error {
	return nil
}

// testHarness bundles the pipeline with its collaborators on one in-memory DB.
type testHarness struct {
	db        *gorm.DB
	audit     *services.SecurityAuditService
	tracker   *services.SecurityEventTracker
	intel     *StaticThreatIntel
	blocklist *Blocklist
	detector  *IncidentDetector
}

func newHarness(t *testing.T) *testHarness {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AuditEvent{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.SecurityAlert{},
		&models.SecurityIncident{},
		&models.Notification{},
		&models.NotificationPreferences{},
	))

	audit := services.NewSecurityAuditService(store.NewGormAuditStore(db))
	notifier := services.NewSecurityNotificationService(db, audit, []services.NotificationTransport{
		&testTransport{channel: models.ChannelEmail},
		&testTransport{channel: models.ChannelInApp},
	})
	monitoring := services.NewSecurityMonitoringService(db, audit, notifier)
	tracker := services.NewSecurityEventTracker(db, audit, monitoring, notifier, nil)

	intel := NewStaticThreatIntel()
	blocklist := NewBlocklist()
	responder := NewResponder(audit, notifier, blocklist)
	detector := NewIncidentDetector(DefaultRules(intel), tracker, responder)

	return &testHarness{
		db:        db,
		audit:     audit,
		tracker:   tracker,
		intel:     intel,
		blocklist: blocklist,
		detector:  detector,
	}
}

func (h *testHarness) incidentCount(t *testing.T) int64 {
	var count int64
	require.NoError(t, h.db.Model(&models.SecurityIncident{}).Count(&count).Error)
	return count
}
