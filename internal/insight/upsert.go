package insight

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pulsewatch/internal/database"
	"pulsewatch/internal/detection"
)

// Insight types produced by the detector families.
const (
	TypeBurnoutRisk        = "burnout_risk"
	TypeProcessDegradation = "process_degradation"
	TypeTeamConflict       = "team_conflict"
)

// Store is the persistence contract the upsert layer needs.
type Store interface {
	Upsert(ctx context.Context, insight *database.Insight, recencyDays int) (*database.Insight, error)
}

// Upserter converts risk assessments into durable insights. Assessments
// below the minimum severity are discarded, not stored; qualifying ones are
// deduplicated against the recency window by the store.
type Upserter struct {
	store       Store
	logger      *slog.Logger
	minSeverity detection.Severity
	recencyDays int
}

// NewUpserter creates an upserter with the given noise gate.
func NewUpserter(store Store, minSeverity detection.Severity, recencyDays int, logger *slog.Logger) *Upserter {
	return &Upserter{
		store:       store,
		logger:      logger,
		minSeverity: minSeverity,
		recencyDays: recencyDays,
	}
}

// familyInsight maps a detector family to its insight type and category.
// The switch is exhaustive; an unknown family is a programming error.
func familyInsight(family string) (insightType, category string, levels detection.LevelVocabulary, err error) {
	switch family {
	case detection.FamilyBurnout:
		return TypeBurnoutRisk, "people", detection.PeopleRiskLevels, nil
	case detection.FamilyDegradation:
		return TypeProcessDegradation, "process", detection.ProcessHealthLevels, nil
	case detection.FamilyConflict:
		return TypeTeamConflict, "people", detection.PeopleRiskLevels, nil
	default:
		return "", "", detection.LevelVocabulary{}, fmt.Errorf("unknown detector family: %s", family)
	}
}

// Record persists an assessment as an insight when it clears the severity
// gate. The bool result reports whether anything was stored.
func (u *Upserter) Record(ctx context.Context, family string, a *detection.RiskAssessment) (*database.Insight, bool, error) {
	severity := detection.SeverityForScore(a.OverallScore)
	if detection.SeverityRank(severity) < detection.SeverityRank(u.minSeverity) {
		u.logger.Debug("Assessment below severity gate, discarded",
			"org_id", a.OrganizationID, "entity_id", a.EntityID,
			"family", family, "severity", string(severity))
		return nil, false, nil
	}

	insightType, category, levels, err := familyInsight(family)
	if err != nil {
		return nil, false, err
	}

	summaries := make([]database.IndicatorSummary, 0, len(a.Indicators))
	for _, ind := range a.Indicators {
		summaries = append(summaries, database.IndicatorSummary{
			Type:     ind.Type,
			Severity: string(ind.Severity),
			Score:    ind.Score,
			Trend:    string(ind.Trend),
		})
	}

	row := &database.Insight{
		OrganizationID: a.OrganizationID,
		Type:           insightType,
		Category:       category,
		Severity:       string(severity),
		Title:          titleFor(insightType, a),
		Description:    describeIndicators(a.Indicators),
		EntityType:     a.EntityType,
		EntityID:       a.EntityID,
		Score:          a.OverallScore,
		Metadata: database.InsightMetadata{
			InsightScore:   a.OverallScore,
			Confidence:     a.Confidence,
			RiskLevel:      levels.LevelForScore(a.OverallScore),
			IndicatorCount: len(a.Indicators),
			Indicators:     summaries,
			WindowFrom:     a.WindowFrom,
			WindowTo:       a.WindowTo,
		},
		RecommendedActions: a.RecommendedActions,
	}

	stored, err := u.store.Upsert(ctx, row, u.recencyDays)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record insight: %w", err)
	}

	u.logger.Info("Insight recorded",
		"insight_id", stored.ID, "org_id", stored.OrganizationID,
		"type", stored.Type, "entity_id", stored.EntityID,
		"severity", stored.Severity, "score", stored.Score,
		"updated", stored.UpdatedAt.After(stored.CreatedAt.Add(time.Second)))
	return stored, true, nil
}

func titleFor(insightType string, a *detection.RiskAssessment) string {
	switch insightType {
	case TypeBurnoutRisk:
		return fmt.Sprintf("Burnout risk signals for %s", a.EntityID)
	case TypeProcessDegradation:
		return fmt.Sprintf("Process health degradation for %s", a.EntityID)
	case TypeTeamConflict:
		return fmt.Sprintf("Conflict signals involving %s", a.EntityID)
	default:
		return fmt.Sprintf("Risk signals for %s", a.EntityID)
	}
}

func describeIndicators(indicators []detection.Indicator) string {
	if len(indicators) == 0 {
		return ""
	}
	desc := indicators[0].Description
	for _, ind := range indicators[1:] {
		desc += "; " + ind.Description
	}
	return desc
}
