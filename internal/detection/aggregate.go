package detection

import (
	"math"
	"time"
)

// indicatorWeights biases the aggregate toward the more diagnostic
// indicator types. Unlisted types weigh 1.0.
var indicatorWeights = map[string]float64{
	IndicatorWorkloadSpike:      1.5,
	IndicatorNegativeTone:       1.4,
	IndicatorResponsivenessLoss: 1.3,
	IndicatorExtendedHours:      1.2,
	IndicatorLateNightActivity:  1.2,
	IndicatorVolumeDecline:      1.2,
	IndicatorBurstExchanges:     1.1,
}

// LevelVocabulary maps the four score tiers onto family-specific labels.
type LevelVocabulary [4]string

// PeopleRiskLevels labels person-scoped assessments.
var PeopleRiskLevels = LevelVocabulary{"low", "moderate", "high", "critical"}

// ProcessHealthLevels labels process and team health assessments.
var ProcessHealthLevels = LevelVocabulary{"healthy", "warning", "degrading", "critical"}

// LevelForScore maps an aggregate score onto the vocabulary using the same
// cut points as indicator severity.
func (v LevelVocabulary) LevelForScore(score float64) string {
	switch {
	case score < 25:
		return v[0]
	case score < 50:
		return v[1]
	case score < 75:
		return v[2]
	default:
		return v[3]
	}
}

// Aggregate combines an entity's indicators into one overall score:
// a type-weighted mean, a count bonus of min(20, (n-1)*5) for corroborating
// signals, and 10 points per high or critical indicator, clamped to
// [0, 100]. Deterministic and side-effect free. Zero indicators score 0.
func Aggregate(indicators []Indicator) float64 {
	if len(indicators) == 0 {
		return 0
	}

	var weightedSum, weightTotal float64
	severe := 0
	for _, ind := range indicators {
		weight := indicatorWeights[ind.Type]
		if weight == 0 {
			weight = 1.0
		}
		weightedSum += ind.Score * weight
		weightTotal += weight
		if ind.Severity == SeverityHigh || ind.Severity == SeverityCritical {
			severe++
		}
	}

	score := weightedSum / weightTotal
	score += math.Min(20, float64(len(indicators)-1)*5)
	score += 10 * float64(severe)

	return clampScore(score)
}

// RiskAssessment is the per-entity result of one detection run. It is
// ephemeral: produced, possibly persisted as an insight, then discarded.
type RiskAssessment struct {
	EntityID           string
	EntityType         string
	OrganizationID     string
	OverallScore       float64
	RiskLevel          string
	Indicators         []Indicator
	RecommendedActions []string
	WindowFrom         time.Time
	WindowTo           time.Time
	Confidence         float64
	AnalyzedAt         time.Time
}

// recommendedActions maps indicator types to remediation suggestions.
var recommendedActions = map[string][]string{
	IndicatorExtendedHours:      {"Review workload distribution and on-call load", "Discuss working-hours expectations in the next 1:1"},
	IndicatorWeekendWork:        {"Check for structural weekend dependencies in the schedule"},
	IndicatorLateNightActivity:  {"Look for timezone-driven meeting pressure", "Encourage deferred-send for late-night messages"},
	IndicatorWorkloadSpike:      {"Rebalance assignments across the team", "Audit recent scope additions"},
	IndicatorResponsePressure:   {"Set explicit response-time expectations", "Review notification and escalation settings"},
	IndicatorResponsivenessLoss: {"Check queue depth and ownership for the affected process", "Review staffing for the handling team"},
	IndicatorVolumeDecline:      {"Verify upstream inputs are still flowing", "Check for silent process abandonment"},
	IndicatorEngagementDrop:     {"Solicit direct feedback from participants"},
	IndicatorNegativeTone:       {"Facilitate a retrospective with the involved parties"},
	IndicatorTerseReplies:       {"Watch for disengagement in upcoming interactions"},
	IndicatorBurstExchanges:     {"Review the triggering thread for unresolved disagreement"},
}

// ActionsFor collects the deduplicated recommended actions for a set of
// indicators, preserving indicator order.
func ActionsFor(indicators []Indicator) []string {
	seen := make(map[string]bool)
	var actions []string
	for _, ind := range indicators {
		for _, action := range recommendedActions[ind.Type] {
			if !seen[action] {
				seen[action] = true
				actions = append(actions, action)
			}
		}
	}
	return actions
}

// ConfidenceFor estimates how much to trust an assessment from the volume
// of underlying data and the number of corroborating indicators.
func ConfidenceFor(totalEvents, minDataPoints int, indicatorCount int) float64 {
	if totalEvents < minDataPoints {
		return 0
	}
	dataFactor := math.Min(1, float64(totalEvents)/float64(5*minDataPoints))
	corroboration := math.Min(1, 0.5+0.25*float64(indicatorCount))
	return math.Round(dataFactor*corroboration*100) / 100
}
