package insight

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsewatch/internal/database"
	"pulsewatch/internal/detection"
)

type captureStore struct {
	upserts     int
	last        *database.Insight
	recencyDays int
}

func (s *captureStore) Upsert(ctx context.Context, ins *database.Insight, recencyDays int) (*database.Insight, error) {
	s.upserts++
	s.recencyDays = recencyDays
	stored := *ins
	stored.ID = "ins-1"
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	s.last = &stored
	return &stored, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assessment(score float64) *detection.RiskAssessment {
	return &detection.RiskAssessment{
		EntityID:       "user-1",
		EntityType:     "person",
		OrganizationID: "org-1",
		OverallScore:   score,
		Indicators: []detection.Indicator{
			{
				Type:        detection.IndicatorExtendedHours,
				Severity:    detection.SeverityHigh,
				Score:       70,
				Description: "32% of activity happens outside business hours (baseline 12%)",
				Trend:       detection.TrendIncreasing,
			},
		},
		RecommendedActions: []string{"Review workload distribution and on-call load"},
		WindowFrom:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		WindowTo:           time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Confidence:         0.8,
	}
}

func TestRecordBelowSeverityGate(t *testing.T) {
	store := &captureStore{}
	upserter := NewUpserter(store, detection.SeverityHigh, 7, quietLogger())

	// Score 30 is medium; the gate wants high or worse.
	stored, ok, err := upserter.Record(context.Background(), detection.FamilyBurnout, assessment(30))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, stored)
	assert.Zero(t, store.upserts)
}

func TestRecordStoresQualifyingAssessment(t *testing.T) {
	store := &captureStore{}
	upserter := NewUpserter(store, detection.SeverityMedium, 7, quietLogger())

	stored, ok, err := upserter.Record(context.Background(), detection.FamilyBurnout, assessment(62.5))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, stored)
	assert.Equal(t, 1, store.upserts)
	assert.Equal(t, 7, store.recencyDays)

	assert.Equal(t, TypeBurnoutRisk, stored.Type)
	assert.Equal(t, "people", stored.Category)
	assert.Equal(t, "high", stored.Severity)
	assert.Equal(t, "org-1", stored.OrganizationID)
	assert.Equal(t, "user-1", stored.EntityID)
	assert.Equal(t, "person", stored.EntityType)
	assert.Equal(t, 62.5, stored.Score)
	assert.Contains(t, stored.Title, "user-1")
	assert.Contains(t, stored.Description, "outside business hours")

	assert.Equal(t, "high", stored.Metadata.RiskLevel)
	assert.Equal(t, 0.8, stored.Metadata.Confidence)
	assert.Equal(t, 1, stored.Metadata.IndicatorCount)
	require.Len(t, stored.Metadata.Indicators, 1)
	assert.Equal(t, detection.IndicatorExtendedHours, stored.Metadata.Indicators[0].Type)
	assert.Equal(t, "increasing", stored.Metadata.Indicators[0].Trend)
}

func TestRecordUsesFamilyVocabulary(t *testing.T) {
	store := &captureStore{}
	upserter := NewUpserter(store, detection.SeverityMedium, 7, quietLogger())

	stored, ok, err := upserter.Record(context.Background(), detection.FamilyDegradation, assessment(62.5))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, TypeProcessDegradation, stored.Type)
	assert.Equal(t, "process", stored.Category)
	// Same tier, different vocabulary from the people families.
	assert.Equal(t, "degrading", stored.Metadata.RiskLevel)
}

func TestRecordUnknownFamily(t *testing.T) {
	store := &captureStore{}
	upserter := NewUpserter(store, detection.SeverityMedium, 7, quietLogger())

	_, ok, err := upserter.Record(context.Background(), "astrology", assessment(62.5))
	require.Error(t, err)
	assert.False(t, ok)
	assert.Zero(t, store.upserts)
}

func TestDescribeIndicatorsJoins(t *testing.T) {
	desc := describeIndicators([]detection.Indicator{
		{Description: "first finding"},
		{Description: "second finding"},
	})
	assert.Equal(t, "first finding; second finding", desc)
	assert.Empty(t, describeIndicators(nil))
}
