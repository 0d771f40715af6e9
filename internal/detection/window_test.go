package detection

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsewatch/internal/database"
)

type stubEventSource struct {
	events []*database.Event
	err    error
}

func (s *stubEventSource) QueryEvents(ctx context.Context, orgID, actorID string, from, to time.Time) ([]*database.Event, error) {
	return s.events, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventAt(ts time.Time, meta database.EventMetadata) *database.Event {
	return &database.Event{
		ID:             "ev",
		OrganizationID: "org-1",
		ActorID:        "user-1",
		Type:           "message",
		Timestamp:      ts,
		Metadata:       meta,
	}
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func TestWindowBuilderBucketing(t *testing.T) {
	// 2026-01-05 is a Monday.
	monday := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	source := &stubEventSource{events: []*database.Event{
		eventAt(monday.Add(10*time.Hour), database.EventMetadata{}),                 // business hours
		eventAt(monday.Add(20*time.Hour), database.EventMetadata{}),                 // after hours
		eventAt(monday.Add(23*time.Hour), database.EventMetadata{}),                 // after hours + late night
		eventAt(saturday.Add(14*time.Hour), database.EventMetadata{}),               // weekend, inside business hours
		eventAt(monday.AddDate(0, 0, 7).Add(3*time.Hour), database.EventMetadata{}), // next ISO week, late night
	}}

	builder := NewWindowBuilder(source, BusinessHours{Start: 9, End: 18}, quietLogger())
	w, err := builder.Build(context.Background(), "org-1", "user-1", monday, monday.AddDate(0, 0, 14))
	require.NoError(t, err)

	assert.Equal(t, 5, w.TotalEvents)
	assert.Equal(t, 3, w.AfterHours)
	assert.Equal(t, 1, w.Weekend)
	assert.Equal(t, 2, w.LateNight)

	assert.InDelta(t, 0.6, w.AfterHoursRate(), 1e-9)
	assert.InDelta(t, 0.2, w.WeekendRate(), 1e-9)
	assert.InDelta(t, 0.4, w.LateNightRate(), 1e-9)

	// Four events in week 2026-W02, one in 2026-W03.
	assert.Len(t, w.WeeklyVolume, 2)
	assert.InDelta(t, 2.5, w.AvgWeeklyVolume(), 1e-9)

	// Hour 23 and hour 3 hold one event each; hour 10, 20, 14 one each.
	assert.InDelta(t, 0.2, w.PeakHourRatio(), 1e-9)
}

func TestWindowBuilderOptionalMetadata(t *testing.T) {
	base := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	source := &stubEventSource{events: []*database.Event{
		eventAt(base, database.EventMetadata{
			ResponseTimeSeconds: fptr(600),
			MessageLength:       iptr(120),
			Sentiment:           fptr(-0.5),
		}),
		eventAt(base.Add(time.Hour), database.EventMetadata{
			ResponseTimeSeconds: fptr(1200),
			Sentiment:           fptr(-0.2), // above the -0.3 cutoff, not negative
		}),
		// No metadata at all: counted in totals, skipped in averages.
		eventAt(base.Add(2*time.Hour), database.EventMetadata{}),
	}}

	builder := NewWindowBuilder(source, BusinessHours{Start: 9, End: 18}, quietLogger())
	w, err := builder.Build(context.Background(), "org-1", "user-1", base, base.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 3, w.TotalEvents)
	assert.Equal(t, 2, w.ResponseTimeCount)
	assert.InDelta(t, 900, w.AvgResponseTime(), 1e-9)
	assert.Equal(t, 1, w.MessageLengthCount)
	assert.InDelta(t, 120, w.AvgMessageLength(), 1e-9)
	assert.Equal(t, 2, w.SentimentCount)
	assert.Equal(t, 1, w.NegativeSentiment)
	assert.InDelta(t, 0.5, w.NegativeSentimentRate(), 1e-9)
}

func TestWindowBuilderNoEvents(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	builder := NewWindowBuilder(&stubEventSource{}, BusinessHours{Start: 9, End: 18}, quietLogger())

	w, err := builder.Build(context.Background(), "org-1", "user-1", from, from.AddDate(0, 0, 30))
	require.NoError(t, err)

	assert.Zero(t, w.TotalEvents)
	assert.Zero(t, w.AfterHoursRate())
	assert.Zero(t, w.NegativeSentimentRate())
	assert.Zero(t, w.AvgResponseTime())
	assert.Zero(t, w.AvgWeeklyVolume())
	assert.Zero(t, w.PeakHourRatio())
}

func TestWindowBuilderQueryError(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	builder := NewWindowBuilder(&stubEventSource{err: assert.AnError}, BusinessHours{Start: 9, End: 18}, quietLogger())

	_, err := builder.Build(context.Background(), "org-1", "user-1", from, from.AddDate(0, 0, 30))
	require.Error(t, err)
}
