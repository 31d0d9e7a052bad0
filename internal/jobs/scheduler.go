package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/services"
)

// staleIncidentAge marks how long a critical incident may stay open before
// the escalation sweep flags it.
const staleIncidentAge = 24 * time.Hour

// Scheduler runs the recurring maintenance jobs: a daily security summary
// log line and an hourly escalation sweep over stale critical incidents.
type Scheduler struct {
	cron     *cron.Cron
	audit    *services.SecurityAuditService
	tracker  *services.SecurityEventTracker
	notifier *services.SecurityNotificationService
	log      *logrus.Entry
}

func NewScheduler(audit *services.SecurityAuditService, tracker *services.SecurityEventTracker, notifier *services.SecurityNotificationService) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		audit:    audit,
		tracker:  tracker,
		notifier: notifier,
		log:      logger.WithFields(logrus.Fields{"component": "scheduler"}),
	}
}

// Start registers the jobs and begins the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 6 * * *", s.logDailySummary); err != nil {
		return fmt.Errorf("schedule daily summary: %w", err)
	}
	if _, err := s.cron.AddFunc("@hourly", s.escalateStaleIncidents); err != nil {
		return fmt.Errorf("schedule escalation sweep: %w", err)
	}
	s.cron.Start()
	s.log.Info("Background jobs scheduled")
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) logDailySummary() {
	ctx := context.Background()
	summary, err := s.audit.GetSecuritySummary(ctx, "", 1)
	if err != nil {
		s.log.WithError(err).Error("Failed to build daily security summary")
		return
	}
	s.log.WithFields(logrus.Fields{
		"total_events":    summary.TotalEvents,
		"critical_events": summary.EventsBySeverity[models.SeverityCritical],
		"high_events":     summary.EventsBySeverity[models.SeverityHigh],
	}).Info("Daily security summary")
}

// escalateStaleIncidents flags critical incidents left open past the age
// threshold: one loud log line and an audit event per incident.
func (s *Scheduler) escalateStaleIncidents() {
	ctx := context.Background()
	incidents, err := s.tracker.ListOpenIncidents(ctx, 0)
	if err != nil {
		s.log.WithError(err).Error("Failed to list open incidents for escalation sweep")
		return
	}

	cutoff := time.Now().Add(-staleIncidentAge)
	for _, incident := range incidents {
		if incident.Severity != models.SeverityCritical || incident.CreatedAt.After(cutoff) {
			continue
		}

		s.log.WithFields(logrus.Fields{
			"incident_id": incident.IncidentID,
			"type":        incident.Type,
			"age":         time.Since(incident.CreatedAt).String(),
		}).Error("Critical incident still open past escalation threshold")

		s.audit.LogSecurityEvent(ctx, services.SecurityEventInput{
			Action:       "security.incident_escalated",
			ResourceType: "security_incident",
			ResourceID:   incident.IncidentID,
			Severity:     models.SeverityHigh,
			Metadata: map[string]interface{}{
				"incidentType": string(incident.Type),
				"openSince":    incident.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
	}
}
