package detection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pulsewatch/internal/database"
)

// EventSource is the read contract over the signal store.
type EventSource interface {
	QueryEvents(ctx context.Context, orgID, actorID string, from, to time.Time) ([]*database.Event, error)
}

// MetricWindow is a time-bounded aggregate computed from raw events for one
// entity. Two instances exist per detection run: the current window and the
// baseline window ending where the current one begins. Windows are derived,
// never persisted.
type MetricWindow struct {
	From time.Time
	To   time.Time

	TotalEvents int
	AfterHours  int
	Weekend     int
	LateNight   int

	ResponseTimeSum    float64
	ResponseTimeCount  int
	MessageLengthSum   float64
	MessageLengthCount int
	SentimentSum       float64
	SentimentCount     int
	NegativeSentiment  int

	HourOfDay    [24]int
	DayOfWeek    [7]int
	WeeklyVolume map[string]int
}

// NewMetricWindow returns an empty window for [from, to).
func NewMetricWindow(from, to time.Time) *MetricWindow {
	return &MetricWindow{
		From:         from,
		To:           to,
		WeeklyVolume: make(map[string]int),
	}
}

func (w *MetricWindow) ratio(n int) float64 {
	if w.TotalEvents == 0 {
		return 0
	}
	return float64(n) / float64(w.TotalEvents)
}

// AfterHoursRate is the fraction of events outside business hours.
func (w *MetricWindow) AfterHoursRate() float64 { return w.ratio(w.AfterHours) }

// WeekendRate is the fraction of events on Saturday or Sunday.
func (w *MetricWindow) WeekendRate() float64 { return w.ratio(w.Weekend) }

// LateNightRate is the fraction of events between 22:00 and 06:00.
func (w *MetricWindow) LateNightRate() float64 { return w.ratio(w.LateNight) }

// NegativeSentimentRate is the fraction of sentiment-scored events that were
// negative.
func (w *MetricWindow) NegativeSentimentRate() float64 {
	if w.SentimentCount == 0 {
		return 0
	}
	return float64(w.NegativeSentiment) / float64(w.SentimentCount)
}

// AvgResponseTime is the mean response latency in seconds, or 0 when no
// event carried one.
func (w *MetricWindow) AvgResponseTime() float64 {
	if w.ResponseTimeCount == 0 {
		return 0
	}
	return w.ResponseTimeSum / float64(w.ResponseTimeCount)
}

// AvgMessageLength is the mean message length, or 0 when no event carried
// one.
func (w *MetricWindow) AvgMessageLength() float64 {
	if w.MessageLengthCount == 0 {
		return 0
	}
	return w.MessageLengthSum / float64(w.MessageLengthCount)
}

// AvgWeeklyVolume is the mean events per ISO week across the window.
func (w *MetricWindow) AvgWeeklyVolume() float64 {
	if len(w.WeeklyVolume) == 0 {
		return 0
	}
	total := 0
	for _, n := range w.WeeklyVolume {
		total += n
	}
	return float64(total) / float64(len(w.WeeklyVolume))
}

// PeakHourRatio is the busiest hour's share of total events, a burstiness
// signal. 1/24 means perfectly even; 1.0 means everything in one hour.
func (w *MetricWindow) PeakHourRatio() float64 {
	if w.TotalEvents == 0 {
		return 0
	}
	peak := 0
	for _, n := range w.HourOfDay {
		if n > peak {
			peak = n
		}
	}
	return float64(peak) / float64(w.TotalEvents)
}

// BusinessHours bounds the working day for after-hours classification.
type BusinessHours struct {
	Start int // first working hour, inclusive
	End   int // first non-working hour, exclusive
}

// WindowBuilder computes MetricWindows from the signal store.
type WindowBuilder struct {
	events EventSource
	hours  BusinessHours
	logger *slog.Logger
}

// NewWindowBuilder creates a window builder over the given event source.
func NewWindowBuilder(events EventSource, hours BusinessHours, logger *slog.Logger) *WindowBuilder {
	return &WindowBuilder{
		events: events,
		hours:  hours,
		logger: logger,
	}
}

// Build scans the entity's events in [from, to) and accumulates the window.
// An entity with zero events yields an empty window, not an error; the
// caller treats that as insufficient data.
func (b *WindowBuilder) Build(ctx context.Context, orgID, entityID string, from, to time.Time) (*MetricWindow, error) {
	events, err := b.events.QueryEvents(ctx, orgID, entityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to build metric window: %w", err)
	}

	w := NewMetricWindow(from, to)
	for _, ev := range events {
		b.accumulate(w, ev)
	}

	b.logger.Debug("Metric window built",
		"org_id", orgID, "entity_id", entityID,
		"from", from, "to", to, "events", w.TotalEvents)
	return w, nil
}

func (b *WindowBuilder) accumulate(w *MetricWindow, ev *database.Event) {
	w.TotalEvents++

	ts := ev.Timestamp.UTC()
	hour := ts.Hour()
	weekday := int(ts.Weekday())

	w.HourOfDay[hour]++
	w.DayOfWeek[weekday]++

	if hour < b.hours.Start || hour >= b.hours.End {
		w.AfterHours++
	}
	if weekday == 0 || weekday == 6 {
		w.Weekend++
	}
	if hour >= 22 || hour < 6 {
		w.LateNight++
	}

	year, week := ts.ISOWeek()
	w.WeeklyVolume[fmt.Sprintf("%04d-W%02d", year, week)]++

	// Optional metadata: missing fields are skipped, never an error.
	if ev.Metadata.ResponseTimeSeconds != nil {
		w.ResponseTimeSum += *ev.Metadata.ResponseTimeSeconds
		w.ResponseTimeCount++
	}
	if ev.Metadata.MessageLength != nil {
		w.MessageLengthSum += float64(*ev.Metadata.MessageLength)
		w.MessageLengthCount++
	}
	if ev.Metadata.Sentiment != nil {
		w.SentimentSum += *ev.Metadata.Sentiment
		w.SentimentCount++
		if *ev.Metadata.Sentiment < negativeSentimentCutoff {
			w.NegativeSentiment++
		}
	}
}

// negativeSentimentCutoff classifies a sentiment score as negative.
const negativeSentimentCutoff = -0.3
