package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EtherealVisions/sentinel/internal/models"
)

func TestIncidentDetector_BruteForceThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		h.detector.Evaluate(ctx, Event{
			UserID:    "user_1",
			Action:    "auth.login_failed",
			Severity:  models.SeverityMedium,
			IPAddress: "1.2.3.4",
			Timestamp: time.Now(),
		})
	}
	assert.Equal(t, int64(0), h.incidentCount(t))

	// Tenth failure inside the window fires the rule.
	h.detector.Evaluate(ctx, Event{
		UserID:    "user_1",
		Action:    "auth.login_failed",
		Severity:  models.SeverityMedium,
		IPAddress: "1.2.3.4",
		Timestamp: time.Now(),
	})
	assert.Equal(t, int64(1), h.incidentCount(t))

	var incident models.SecurityIncident
	require.NoError(t, h.db.First(&incident).Error)
	assert.Equal(t, models.IncidentBruteForce, incident.Type)
	assert.Equal(t, models.SeverityHigh, incident.Severity)
	assert.True(t, incident.Response.Automated)
	assert.Equal(t, []string{"user_1"}, incident.AffectedUsers)
}

func TestIncidentDetector_WindowResetsAfterFiring(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fail := func() {
		h.detector.Evaluate(ctx, Event{
			UserID:    "user_1",
			Action:    "auth.login_failed",
			Severity:  models.SeverityMedium,
			Timestamp: time.Now(),
		})
	}
	for i := 0; i < 10; i++ {
		fail()
	}
	require.Equal(t, int64(1), h.incidentCount(t))

	// One more failure does not immediately fire again; the counter restarted.
	fail()
	assert.Equal(t, int64(1), h.incidentCount(t))
}

func TestIncidentDetector_OldHitsFallOutOfWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Nine stale hits, then one fresh: the stale ones are pruned.
	stale := time.Now().Add(-10 * time.Minute)
	for i := 0; i < 9; i++ {
		h.detector.Evaluate(ctx, Event{
			UserID:    "user_1",
			Action:    "auth.login_failed",
			Severity:  models.SeverityMedium,
			Timestamp: stale,
		})
	}
	h.detector.Evaluate(ctx, Event{
		UserID:    "user_1",
		Action:    "auth.login_failed",
		Severity:  models.SeverityMedium,
		Timestamp: time.Now(),
	})
	assert.Equal(t, int64(0), h.incidentCount(t))
}

func TestIncidentDetector_KnownThreatLoginTriggersResponse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.intel.Add("6.6.6.6")
	h.detector.Evaluate(ctx, Event{
		UserID:    "user_1",
		Action:    "auth.login",
		Severity:  models.SeverityLow,
		IPAddress: "6.6.6.6",
		Timestamp: time.Now(),
	})

	var incident models.SecurityIncident
	require.NoError(t, h.db.First(&incident).Error)
	assert.Equal(t, models.IncidentAccountTakeover, incident.Type)
	assert.Equal(t, models.SeverityCritical, incident.Severity)
	// Automated critical incidents open in investigation.
	assert.Equal(t, models.IncidentStatusInvestigating, incident.Status)

	// The responder blocked the source IP and suspended the account.
	assert.True(t, h.blocklist.Blocked("6.6.6.6"))

	var blocked models.AuditEvent
	require.NoError(t, h.db.Where("action = ?", "security.ip_blocked").First(&blocked).Error)
	var suspended models.AuditEvent
	require.NoError(t, h.db.Where("action = ?", "security.account_suspended").First(&suspended).Error)
	assert.Equal(t, "user_1", suspended.UserID)
	var reset models.AuditEvent
	require.NoError(t, h.db.Where("action = ?", "security.password_reset_forced").First(&reset).Error)
	assert.Equal(t, "user_1", reset.UserID)
}

func TestIncidentDetector_GroupsAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Five failures each for two users never reaches either threshold.
	for i := 0; i < 5; i++ {
		for _, user := range []string{"user_1", "user_2"} {
			h.detector.Evaluate(ctx, Event{
				UserID:    user,
				Action:    "auth.login_failed",
				Severity:  models.SeverityMedium,
				Timestamp: time.Now(),
			})
		}
	}
	assert.Equal(t, int64(0), h.incidentCount(t))
}

func TestIncidentDetector_EmptyGroupKeyIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		h.detector.Evaluate(ctx, Event{
			// No user id: the per-user rule has no key to correlate on.
			Action:    "auth.login_failed",
			Severity:  models.SeverityMedium,
			Timestamp: time.Now(),
		})
	}
	assert.Equal(t, int64(0), h.incidentCount(t))
}

func TestResponder_TicketAction(t *testing.T) {
	h := newHarness(t)
	responder := NewResponder(h.audit, nil, h.blocklist)

	incident := &models.SecurityIncident{
		IncidentID: "incident_test",
		Type:       models.IncidentAPIAbuse,
	}
	responder.Execute(context.Background(), incident, []ResponseActionType{ActionTicket})

	var ticket models.AuditEvent
	require.NoError(t, h.db.Where("action = ?", "security.ticket_created").First(&ticket).Error)
	assert.Equal(t, "incident_test", ticket.ResourceID)
}
