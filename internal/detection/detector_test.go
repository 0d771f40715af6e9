package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrom() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
func testTo() time.Time   { return time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC) }

// windowWith builds a MetricWindow directly from counts, bypassing the
// builder.
func windowWith(total, afterHours, weekend, lateNight int) *MetricWindow {
	w := NewMetricWindow(testFrom(), testTo())
	w.TotalEvents = total
	w.AfterHours = afterHours
	w.Weekend = weekend
	w.LateNight = lateNight
	return w
}

func indicatorByType(indicators []Indicator, indicatorType string) (Indicator, bool) {
	for _, ind := range indicators {
		if ind.Type == indicatorType {
			return ind, true
		}
	}
	return Indicator{}, false
}

func TestBurnoutAfterHoursRise(t *testing.T) {
	// 30% after-hours now against a 10% baseline: a 200% relative rise.
	current := windowWith(100, 30, 0, 0)
	baseline := windowWith(100, 10, 0, 0)

	indicators := NewBurnoutDetector().Detect(current, baseline)

	ind, found := indicatorByType(indicators, IndicatorExtendedHours)
	require.True(t, found)
	assert.InDelta(t, 75, ind.Score, 1e-9) // 0.30*150 + 2.0*15
	assert.Equal(t, SeverityCritical, ind.Severity)
	assert.Equal(t, TrendIncreasing, ind.Trend)
	assert.Equal(t, 100, ind.DataPointCount)
	assert.Contains(t, ind.Description, "30%")
	assert.Contains(t, ind.Description, "10%")
}

func TestEqualWindowsProduceNothingBelowAbsolutes(t *testing.T) {
	// Identical windows with modest rates: no relative change, every
	// absolute threshold clear.
	w := windowWith(100, 10, 5, 2)
	w.WeeklyVolume["2026-W10"] = 50
	w.WeeklyVolume["2026-W11"] = 50
	w.ResponseTimeSum = 100 * 3600
	w.ResponseTimeCount = 100

	indicators := NewBurnoutDetector().Detect(w, w)
	assert.Empty(t, indicators)
}

func TestEqualWindowsAbsoluteThresholdStillFires(t *testing.T) {
	// A chronically bad rate fires on the absolute threshold even with no
	// movement versus baseline.
	w := windowWith(100, 40, 0, 0)

	indicators := NewBurnoutDetector().Detect(w, w)

	ind, found := indicatorByType(indicators, IndicatorExtendedHours)
	require.True(t, found)
	assert.InDelta(t, 60, ind.Score, 1e-9) // 0.40*150, no change component
	assert.Equal(t, SeverityHigh, ind.Severity)
	assert.Equal(t, TrendStable, ind.Trend)
}

func TestZeroBaselineFallsBackToRawRate(t *testing.T) {
	// No weekend work in the baseline at all: the change is read as the raw
	// current rate, so a new signal still registers as a rise.
	current := windowWith(100, 0, 30, 0)
	baseline := windowWith(100, 0, 0, 0)

	indicators := NewBurnoutDetector().Detect(current, baseline)

	ind, found := indicatorByType(indicators, IndicatorWeekendWork)
	require.True(t, found)
	assert.Equal(t, TrendIncreasing, ind.Trend)
	assert.InDelta(t, 0.30*180+0.30*12, ind.Score, 1e-9)
}

func TestResponsePressureDropIsBad(t *testing.T) {
	current := windowWith(100, 0, 0, 0)
	current.ResponseTimeSum = 100 * 1800
	current.ResponseTimeCount = 100
	baseline := windowWith(100, 0, 0, 0)
	baseline.ResponseTimeSum = 100 * 3600
	baseline.ResponseTimeCount = 100

	indicators := NewBurnoutDetector().Detect(current, baseline)

	ind, found := indicatorByType(indicators, IndicatorResponsePressure)
	require.True(t, found)
	assert.InDelta(t, 60, ind.Score, 1e-9) // halved latency: 0.5 * 120
	assert.Equal(t, SeverityHigh, ind.Severity)
	assert.Equal(t, TrendDecreasing, ind.Trend)
}

func TestWorkloadSpikeRequiresRelativeChange(t *testing.T) {
	// High but steady volume must not fire: the check has no absolute
	// threshold.
	current := windowWith(400, 0, 0, 0)
	current.WeeklyVolume["2026-W10"] = 200
	current.WeeklyVolume["2026-W11"] = 200
	baseline := windowWith(400, 0, 0, 0)
	baseline.WeeklyVolume["2026-W06"] = 200
	baseline.WeeklyVolume["2026-W07"] = 200

	indicators := NewBurnoutDetector().Detect(current, baseline)
	_, found := indicatorByType(indicators, IndicatorWorkloadSpike)
	assert.False(t, found)

	// A 50% jump fires.
	spiked := windowWith(600, 0, 0, 0)
	spiked.WeeklyVolume["2026-W10"] = 300
	spiked.WeeklyVolume["2026-W11"] = 300

	indicators = NewBurnoutDetector().Detect(spiked, baseline)
	ind, found := indicatorByType(indicators, IndicatorWorkloadSpike)
	require.True(t, found)
	assert.InDelta(t, 27.5, ind.Score, 1e-9) // 0.5 * 55
	assert.Equal(t, TrendIncreasing, ind.Trend)
}

func TestDegradationResponsivenessAbsolute(t *testing.T) {
	// Five-hour average replies are a finding even when the baseline was
	// just as slow.
	w := windowWith(50, 0, 0, 0)
	w.ResponseTimeSum = 50 * 5 * 3600
	w.ResponseTimeCount = 50

	indicators := NewDegradationDetector().Detect(w, w)

	ind, found := indicatorByType(indicators, IndicatorResponsivenessLoss)
	require.True(t, found)
	assert.InDelta(t, 40, ind.Score, 1e-9) // 5h * 8
	assert.Equal(t, SeverityMedium, ind.Severity)
	assert.Contains(t, ind.Description, "5.0h")
}

func TestConflictTerseReplies(t *testing.T) {
	current := windowWith(60, 0, 0, 0)
	current.MessageLengthSum = 60 * 100
	current.MessageLengthCount = 60
	baseline := windowWith(60, 0, 0, 0)
	baseline.MessageLengthSum = 60 * 200
	baseline.MessageLengthCount = 60

	indicators := NewConflictDetector().Detect(current, baseline)

	ind, found := indicatorByType(indicators, IndicatorTerseReplies)
	require.True(t, found)
	assert.InDelta(t, 55, ind.Score, 1e-9) // 0.5 * 110
	assert.Equal(t, TrendDecreasing, ind.Trend)
}

func TestChecksSkipWithoutSupportingData(t *testing.T) {
	// Windows with events but no sentiment or message-length metadata: the
	// conflict checks that need those skip instead of reading zeroes.
	current := windowWith(50, 0, 0, 0)
	baseline := windowWith(50, 0, 0, 0)

	indicators := NewConflictDetector().Detect(current, baseline)
	_, negativeTone := indicatorByType(indicators, IndicatorNegativeTone)
	_, terse := indicatorByType(indicators, IndicatorTerseReplies)
	assert.False(t, negativeTone)
	assert.False(t, terse)
}

func TestSeverityForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0, SeverityLow},
		{24.9, SeverityLow},
		{25, SeverityMedium},
		{49.9, SeverityMedium},
		{50, SeverityHigh},
		{74.9, SeverityHigh},
		{75, SeverityCritical},
		{100, SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityForScore(tt.score), "score %v", tt.score)
	}
}
