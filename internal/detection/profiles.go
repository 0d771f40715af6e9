package detection

import "fmt"

// Detector family names.
const (
	FamilyBurnout     = "burnout"
	FamilyDegradation = "degradation"
	FamilyConflict    = "conflict"
)

// Indicator types emitted by the three families.
const (
	IndicatorExtendedHours      = "extended_hours"
	IndicatorWeekendWork        = "weekend_work"
	IndicatorLateNightActivity  = "late_night_activity"
	IndicatorWorkloadSpike      = "workload_spike"
	IndicatorResponsePressure   = "response_pressure"
	IndicatorResponsivenessLoss = "responsiveness_loss"
	IndicatorVolumeDecline      = "volume_decline"
	IndicatorEngagementDrop     = "engagement_drop"
	IndicatorNegativeTone       = "negative_tone"
	IndicatorTerseReplies       = "terse_replies"
	IndicatorBurstExchanges     = "burst_exchanges"
)

func eventRate(f func(w *MetricWindow) float64) func(*MetricWindow) (float64, int, bool) {
	return func(w *MetricWindow) (float64, int, bool) {
		return f(w), w.TotalEvents, w.TotalEvents > 0
	}
}

// NewBurnoutDetector detects sustained overwork signals for a person:
// creeping after-hours, weekend and late-night activity, workload spikes,
// and always-on response behavior.
func NewBurnoutDetector() *Detector {
	return &Detector{
		Family: FamilyBurnout,
		Checks: []CheckDefinition{
			{
				Name:          "after-hours activity",
				IndicatorType: IndicatorExtendedHours,
				Metric:        eventRate((*MetricWindow).AfterHoursRate),
				Direction:     RiseIsBad,
				AbsThreshold:  0.15,
				RelThreshold:  0.20,
				RateScale:     150,
				ChangeScale:   15,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("%s of activity happens outside business hours (baseline %s)", pct(cur), pct(base))
				},
			},
			{
				Name:          "weekend work",
				IndicatorType: IndicatorWeekendWork,
				Metric:        eventRate((*MetricWindow).WeekendRate),
				Direction:     RiseIsBad,
				AbsThreshold:  0.10,
				RelThreshold:  0.25,
				RateScale:     180,
				ChangeScale:   12,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("%s of activity falls on weekends (baseline %s)", pct(cur), pct(base))
				},
			},
			{
				Name:          "late-night activity",
				IndicatorType: IndicatorLateNightActivity,
				Metric:        eventRate((*MetricWindow).LateNightRate),
				Direction:     RiseIsBad,
				AbsThreshold:  0.05,
				RelThreshold:  0.30,
				RateScale:     300,
				ChangeScale:   12,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("%s of activity happens between 22:00 and 06:00 (baseline %s)", pct(cur), pct(base))
				},
			},
			{
				Name:          "workload spike",
				IndicatorType: IndicatorWorkloadSpike,
				Metric: func(w *MetricWindow) (float64, int, bool) {
					return w.AvgWeeklyVolume(), w.TotalEvents, w.TotalEvents > 0
				},
				Direction:    RiseIsBad,
				AbsThreshold: 0, // volume alone is meaningless; only the change matters
				RelThreshold: 0.40,
				RateScale:    0,
				ChangeScale:  55,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("weekly event volume rose %s versus baseline (%.0f vs %.0f events/week)", pct(change), cur, base)
				},
			},
			{
				Name:          "response pressure",
				IndicatorType: IndicatorResponsePressure,
				Metric: func(w *MetricWindow) (float64, int, bool) {
					return w.AvgResponseTime(), w.ResponseTimeCount, w.ResponseTimeCount > 0
				},
				Direction:    DropIsBad,
				AbsThreshold: 0, // shrinking latency is only notable relative to baseline
				RelThreshold: 0.30,
				RateScale:    0,
				ChangeScale:  120,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("average response time dropped %s versus baseline (%.0fs vs %.0fs), an always-on signal", pct(-change), cur, base)
				},
			},
		},
	}
}

// NewDegradationDetector detects process or team health decline: slowing
// responses, falling volume, shrinking engagement.
func NewDegradationDetector() *Detector {
	return &Detector{
		Family: FamilyDegradation,
		Checks: []CheckDefinition{
			{
				Name:          "responsiveness loss",
				IndicatorType: IndicatorResponsivenessLoss,
				Metric: func(w *MetricWindow) (float64, int, bool) {
					// Hours, so the absolute threshold reads naturally.
					return w.AvgResponseTime() / 3600, w.ResponseTimeCount, w.ResponseTimeCount > 0
				},
				Direction:    RiseIsBad,
				AbsThreshold: 4.0, // average reply slower than four hours
				RelThreshold: 0.25,
				RateScale:    8,
				ChangeScale:  40,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("average response time is %.1fh (baseline %.1fh)", cur, base)
				},
			},
			{
				Name:          "volume decline",
				IndicatorType: IndicatorVolumeDecline,
				Metric: func(w *MetricWindow) (float64, int, bool) {
					return w.AvgWeeklyVolume(), w.TotalEvents, w.TotalEvents > 0
				},
				Direction:    DropIsBad,
				AbsThreshold: 0,
				RelThreshold: 0.30,
				RateScale:    0,
				ChangeScale:  130,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("weekly event volume fell %s versus baseline (%.0f vs %.0f events/week)", pct(-change), cur, base)
				},
			},
			{
				Name:          "engagement drop",
				IndicatorType: IndicatorEngagementDrop,
				Metric: func(w *MetricWindow) (float64, int, bool) {
					return w.AvgMessageLength(), w.MessageLengthCount, w.MessageLengthCount > 0
				},
				Direction:    DropIsBad,
				AbsThreshold: 0,
				RelThreshold: 0.30,
				RateScale:    0,
				ChangeScale:  120,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("average message length fell %s versus baseline (%.0f vs %.0f characters)", pct(-change), cur, base)
				},
			},
		},
	}
}

// NewConflictDetector detects interpersonal friction signals: negative
// tone, terse replies, rapid-fire exchange bursts.
func NewConflictDetector() *Detector {
	return &Detector{
		Family: FamilyConflict,
		Checks: []CheckDefinition{
			{
				Name:          "negative tone",
				IndicatorType: IndicatorNegativeTone,
				Metric: func(w *MetricWindow) (float64, int, bool) {
					return w.NegativeSentimentRate(), w.SentimentCount, w.SentimentCount > 0
				},
				Direction:    RiseIsBad,
				AbsThreshold: 0.15,
				RelThreshold: 0.20,
				RateScale:    200,
				ChangeScale:  15,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("%s of scored messages carry negative sentiment (baseline %s)", pct(cur), pct(base))
				},
			},
			{
				Name:          "terse replies",
				IndicatorType: IndicatorTerseReplies,
				Metric: func(w *MetricWindow) (float64, int, bool) {
					return w.AvgMessageLength(), w.MessageLengthCount, w.MessageLengthCount > 0
				},
				Direction:    DropIsBad,
				AbsThreshold: 0,
				RelThreshold: 0.40,
				RateScale:    0,
				ChangeScale:  110,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("average message length fell %s versus baseline (%.0f vs %.0f characters)", pct(-change), cur, base)
				},
			},
			{
				Name:          "burst exchanges",
				IndicatorType: IndicatorBurstExchanges,
				Metric:        eventRate((*MetricWindow).PeakHourRatio),
				Direction:     RiseIsBad,
				AbsThreshold:  0.35,
				RelThreshold:  0.50,
				RateScale:     120,
				ChangeScale:   20,
				Describe: func(cur, base, change float64) string {
					return fmt.Sprintf("%s of activity concentrates in a single hour of day (baseline %s)", pct(cur), pct(base))
				},
			},
		},
	}
}

// AllDetectors returns the three detector families in a fixed order.
func AllDetectors() []*Detector {
	return []*Detector{
		NewBurnoutDetector(),
		NewDegradationDetector(),
		NewConflictDetector(),
	}
}
