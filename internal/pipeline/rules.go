package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/services"
)

// DetectionRule correlates events sharing a group key inside a sliding
// window. When the count reaches the threshold, an incident of the given
// type is raised and the attached response actions run.
type DetectionRule struct {
	Name         string
	IncidentType models.IncidentType
	Severity     models.Severity
	Window       time.Duration
	Threshold    int
	// Match reports whether an event counts toward this rule.
	Match func(e Event) bool
	// GroupBy yields the correlation key; empty string skips the event.
	GroupBy func(e Event) string
	Actions []ResponseActionType
}

// DefaultRules is the built-in detection catalog.
func DefaultRules(intel ThreatIntelligence) []DetectionRule {
	return []DetectionRule{
		{
			Name:         "brute_force_per_user",
			IncidentType: models.IncidentBruteForce,
			Severity:     models.SeverityHigh,
			Window:       5 * time.Minute,
			Threshold:    10,
			Match:        func(e Event) bool { return e.Action == "auth.login_failed" },
			GroupBy:      func(e Event) string { return e.UserID },
			Actions:      []ResponseActionType{ActionForcePasswordReset, ActionAlert},
		},
		{
			Name:         "credential_stuffing_per_ip",
			IncidentType: models.IncidentCredentialStuffing,
			Severity:     models.SeverityHigh,
			Window:       10 * time.Minute,
			Threshold:    25,
			Match:        func(e Event) bool { return e.Action == "auth.login_failed" },
			GroupBy:      func(e Event) string { return e.IPAddress },
			Actions:      []ResponseActionType{ActionBlockIP, ActionTicket},
		},
		{
			Name:         "account_takeover_known_threat",
			IncidentType: models.IncidentAccountTakeover,
			Severity:     models.SeverityCritical,
			Window:       30 * time.Minute,
			Threshold:    1,
			Match: func(e Event) bool {
				if e.Action != "auth.login" || intel == nil {
					return false
				}
				return intel.IsKnownThreat(e.IPAddress)
			},
			GroupBy: func(e Event) string { return e.UserID },
			Actions: []ResponseActionType{ActionSuspendAccount, ActionForcePasswordReset, ActionBlockIP, ActionAlert},
		},
		{
			Name:         "privilege_escalation_probe",
			IncidentType: models.IncidentPrivilegeEscalation,
			Severity:     models.SeverityHigh,
			Window:       30 * time.Minute,
			Threshold:    10,
			Match:        func(e Event) bool { return e.Action == "authz.permission_denied" },
			GroupBy:      func(e Event) string { return e.UserID },
			Actions:      []ResponseActionType{ActionAlert, ActionTicket},
		},
		{
			Name:         "api_abuse_per_ip",
			IncidentType: models.IncidentAPIAbuse,
			Severity:     models.SeverityMedium,
			Window:       5 * time.Minute,
			Threshold:    200,
			Match:        func(e Event) bool { return strings.HasPrefix(e.Action, "data.") },
			GroupBy:      func(e Event) string { return e.IPAddress },
			Actions:      []ResponseActionType{ActionBlockIP, ActionTicket},
		},
	}
}

// IncidentDetector matches events against the rule catalog and raises
// incidents through the event tracker. Counters live in memory; restart
// resets them, which is acceptable for sliding windows of minutes.
type IncidentDetector struct {
	rules     []DetectionRule
	tracker   *services.SecurityEventTracker
	responder *Responder
	log       *logrus.Entry

	mu      sync.Mutex
	windows map[string]map[string][]time.Time // rule name -> group key -> hit times
}

// NewIncidentDetector wires the detector with the given rule catalog.
func NewIncidentDetector(rules []DetectionRule, tracker *services.SecurityEventTracker, responder *Responder) *IncidentDetector {
	return &IncidentDetector{
		rules:     rules,
		tracker:   tracker,
		responder: responder,
		log:       logger.WithFields(logrus.Fields{"component": "incident_detector"}),
		windows:   map[string]map[string][]time.Time{},
	}
}

// Evaluate feeds one event through the catalog. When a rule fires, its
// window for that group resets so a sustained attack produces one incident
// per window rather than one per event.
func (d *IncidentDetector) Evaluate(ctx context.Context, e Event) {
	for _, rule := range d.rules {
		if rule.Match == nil || !rule.Match(e) {
			continue
		}
		key := ""
		if rule.GroupBy != nil {
			key = rule.GroupBy(e)
		}
		if key == "" {
			continue
		}

		if d.recordHit(rule, key, e.Timestamp) {
			d.raise(ctx, rule, key, e)
		}
	}
}

// recordHit appends a hit, prunes the window, and reports whether the rule
// fired. Firing clears the group's hits.
func (d *IncidentDetector) recordHit(rule DetectionRule, key string, at time.Time) bool {
	if at.IsZero() {
		at = time.Now()
	}
	cutoff := at.Add(-rule.Window)

	d.mu.Lock()
	defer d.mu.Unlock()

	groups, ok := d.windows[rule.Name]
	if !ok {
		groups = map[string][]time.Time{}
		d.windows[rule.Name] = groups
	}

	hits := append(groups[key], at)
	pruned := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) || t.Equal(cutoff) {
			pruned = append(pruned, t)
		}
	}
	if len(pruned) >= rule.Threshold {
		delete(groups, key)
		return true
	}
	groups[key] = pruned
	return false
}

func (d *IncidentDetector) raise(ctx context.Context, rule DetectionRule, key string, e Event) {
	indicators := []models.SecurityIndicator{}
	if e.IPAddress != "" {
		indicators = append(indicators, models.SecurityIndicator{Type: "ip", Value: e.IPAddress, Confidence: 0.8})
	}
	if e.UserID != "" {
		indicators = append(indicators, models.SecurityIndicator{Type: "user", Value: e.UserID, Confidence: 0.9})
	}

	actions := make([]string, 0, len(rule.Actions))
	for _, a := range rule.Actions {
		actions = append(actions, string(a))
	}

	var affected []string
	if e.UserID != "" {
		affected = []string{e.UserID}
	}

	incident, err := d.tracker.CreateSecurityIncident(ctx, services.IncidentInput{
		Type:          rule.IncidentType,
		Severity:      rule.Severity,
		Title:         fmt.Sprintf("%s detected", strings.ReplaceAll(string(rule.IncidentType), "_", " ")),
		Description:   fmt.Sprintf("Rule %q fired for %q: %d matching events within %s", rule.Name, key, rule.Threshold, rule.Window),
		AffectedUsers: affected,
		Indicators:    indicators,
		Evidence: []models.Evidence{{
			Type:        "rule_match",
			Description: fmt.Sprintf("threshold %d reached in window %s", rule.Threshold, rule.Window),
			Timestamp:   time.Now(),
			Data:        map[string]interface{}{"rule": rule.Name, "groupKey": key, "lastAction": e.Action},
		}},
		Automated: true,
		Actions:   actions,
	})
	if err != nil {
		d.log.WithError(err).WithField("rule", rule.Name).Error("failed to raise incident")
		return
	}

	d.log.WithFields(logrus.Fields{
		"rule":        rule.Name,
		"incident_id": incident.IncidentID,
		"group_key":   key,
	}).Warn("detection rule fired")

	d.responder.Execute(ctx, incident, rule.Actions)
}
