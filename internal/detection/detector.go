package detection

import (
	"fmt"
	"math"
)

// Severity classifies an indicator or assessment.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityRank orders severities for comparison; higher is worse.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Trend describes which way a metric moved versus baseline.
type Trend string

const (
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
)

// Direction says which movement of a metric is the bad one.
type Direction int

const (
	RiseIsBad Direction = iota
	DropIsBad
)

// Indicator is a single detected deviation signal. Indicators have no
// persistent identity; they are recomputed on every run.
type Indicator struct {
	Type           string
	Severity       Severity
	Score          float64
	Description    string
	DataPointCount int
	Trend          Trend
}

// CheckDefinition is one named comparison between the current window and
// the baseline. Checks are data: the three detector families differ only in
// their check tables.
type CheckDefinition struct {
	Name          string
	IndicatorType string
	// Metric extracts the check's rate from a window. ok=false means the
	// window carries no supporting data and the check is skipped.
	Metric    func(w *MetricWindow) (value float64, samples int, ok bool)
	Direction Direction
	// AbsThreshold fires on the raw current value (>= for RiseIsBad,
	// <= for DropIsBad). Zero disables the absolute test.
	AbsThreshold float64
	// RelThreshold fires on the relative change versus baseline in the bad
	// direction.
	RelThreshold float64
	// RateScale and ChangeScale convert the rate and the bad-direction
	// change into score points.
	RateScale   float64
	ChangeScale float64
	// Describe renders the human-readable finding.
	Describe func(current, baseline float64, change float64) string
}

// Detector compares a current window against a baseline using a fixed check
// table. Detectors are pure: no I/O, no clock, no shared state.
type Detector struct {
	Family string
	Checks []CheckDefinition
}

// Detect runs every check and returns the indicators that crossed a
// threshold. Equal current and baseline windows can only trip absolute-rate
// thresholds, never relative-change ones.
func (d *Detector) Detect(current, baseline *MetricWindow) []Indicator {
	indicators := make([]Indicator, 0, len(d.Checks))

	for _, check := range d.Checks {
		cur, samples, ok := check.Metric(current)
		if !ok {
			continue
		}
		base, _, baseOK := check.Metric(baseline)

		// Relative change versus baseline. A zero (or absent) baseline
		// falls back to the raw current rate so a new signal still reads
		// as a change.
		var change float64
		if baseOK && base != 0 {
			change = (cur - base) / base
		} else {
			change = cur
		}

		badChange := change
		if check.Direction == DropIsBad {
			badChange = -change
		}

		// A zero AbsThreshold disables the absolute test; the check then
		// fires on relative change only.
		fired := badChange >= check.RelThreshold
		if check.AbsThreshold > 0 {
			switch check.Direction {
			case RiseIsBad:
				fired = fired || cur >= check.AbsThreshold
			case DropIsBad:
				fired = fired || cur <= check.AbsThreshold
			}
		}
		if !fired {
			continue
		}

		score := cur*check.RateScale + math.Max(0, badChange)*check.ChangeScale
		score = clampScore(score)

		indicators = append(indicators, Indicator{
			Type:           check.IndicatorType,
			Severity:       SeverityForScore(score),
			Score:          score,
			Description:    check.Describe(cur, base, change),
			DataPointCount: samples,
			Trend:          trendFor(change),
		})
	}

	return indicators
}

// SeverityForScore maps a 0-100 score onto the four-tier scale.
func SeverityForScore(score float64) Severity {
	switch {
	case score < 25:
		return SeverityLow
	case score < 50:
		return SeverityMedium
	case score < 75:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

func trendFor(change float64) Trend {
	switch {
	case change > 0.05:
		return TrendIncreasing
	case change < -0.05:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func clampScore(score float64) float64 {
	return math.Min(100, math.Max(0, score))
}

func pct(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}
