package pipeline

import (
	"strings"

	"github.com/EtherealVisions/sentinel/internal/models"
)

// RiskScorer assigns each event a 0-10 risk level: a severity base plus
// situational factors. This scale is separate from the 0-100 pattern risk
// used by the monitoring service.
type RiskScorer struct {
	intel ThreatIntelligence
}

// NewRiskScorer returns a scorer consulting the given intel source.
func NewRiskScorer(intel ThreatIntelligence) *RiskScorer {
	return &RiskScorer{intel: intel}
}

var severityBase = map[models.Severity]int{
	models.SeverityLow:      1,
	models.SeverityMedium:   4,
	models.SeverityHigh:     7,
	models.SeverityCritical: 9,
}

// Score rates one event on the 0-10 scale.
func (r *RiskScorer) Score(e Event) int {
	score := severityBase[e.Severity]

	hour := e.Timestamp.UTC().Hour()
	if hour < 6 || hour >= 22 {
		score++
	}
	if r.intel != nil && r.intel.IsKnownThreat(e.IPAddress) {
		score += 2
	}
	if strings.HasPrefix(e.Action, "data.") && strings.Contains(e.Action, "export") {
		score++
	}

	if score > 10 {
		score = 10
	}
	return score
}
