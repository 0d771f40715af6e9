package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsewatch/internal/database"
	"pulsewatch/internal/insight"
)

type fakeAlertStore struct {
	mu      sync.Mutex
	alerts  map[string]*database.Alert
	records []*database.NotificationRecord
	creates int
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: make(map[string]*database.Alert)}
}

func (s *fakeAlertStore) Create(ctx context.Context, alert *database.Alert) (*database.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	for _, existing := range s.alerts {
		if existing.InsightID == alert.InsightID &&
			existing.Status != StatusResolved && existing.Status != StatusExpired {
			return existing, nil
		}
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	alert.CreatedAt = time.Now().UTC()
	alert.UpdatedAt = alert.CreatedAt
	s.alerts[alert.ID] = alert
	return alert, nil
}

func (s *fakeAlertStore) GetByID(ctx context.Context, id string) (*database.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return alert, nil
}

func (s *fakeAlertStore) FindNonTerminalByInsight(ctx context.Context, insightID string) (*database.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, alert := range s.alerts {
		if alert.InsightID == insightID &&
			alert.Status != StatusResolved && alert.Status != StatusExpired {
			return alert, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *fakeAlertStore) ListPending(ctx context.Context, orgID string, limit int) ([]*database.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*database.Alert
	for _, alert := range s.alerts {
		if alert.OrganizationID == orgID && alert.Status == StatusPending {
			pending = append(pending, alert)
		}
	}
	return pending, nil
}

func (s *fakeAlertStore) UpdateStatus(ctx context.Context, alertID, status string, allowedFrom []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return false, nil
	}
	for _, from := range allowedFrom {
		if alert.Status == from {
			alert.Status = status
			alert.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeAlertStore) Acknowledge(ctx context.Context, alertID, acknowledgedBy string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return false, nil
	}
	if alert.Status != StatusPending && alert.Status != StatusSent {
		return false, nil
	}
	now := time.Now().UTC()
	alert.Status = StatusAcknowledged
	alert.AcknowledgedBy = &acknowledgedBy
	alert.AcknowledgedAt = &now
	return true, nil
}

func (s *fakeAlertStore) AppendNotification(ctx context.Context, record *database.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *fakeAlertStore) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	now := time.Now().UTC()
	for _, alert := range s.alerts {
		if alert.ExpiresAt == nil || alert.ExpiresAt.After(now) {
			continue
		}
		if alert.Status == StatusPending || alert.Status == StatusSent {
			alert.Status = StatusExpired
			expired++
		}
	}
	return expired, nil
}

type fakeSubStore struct {
	subs []*database.AlertSubscription
}

func (s *fakeSubStore) ListActive(ctx context.Context, orgID string) ([]*database.AlertSubscription, error) {
	return s.subs, nil
}

// fakeSender fails for channels listed in failing, succeeds otherwise.
type fakeSender struct {
	mu      sync.Mutex
	failing map[string]bool
	sends   []string
}

func (s *fakeSender) Send(ctx context.Context, alert *database.Alert, sub *database.AlertSubscription, channel string) (*database.NotificationRecord, error) {
	s.mu.Lock()
	s.sends = append(s.sends, channel)
	s.mu.Unlock()
	if s.failing[channel] {
		return nil, fmt.Errorf("%s gateway unavailable", channel)
	}
	return &database.NotificationRecord{
		Channel:   channel,
		Recipient: sub.Recipient,
		Status:    "sent",
		Attempt:   1,
		SentAt:    time.Now().UTC(),
	}, nil
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func testInsight(orgID string) *database.Insight {
	return &database.Insight{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Type:           insight.TypeBurnoutRisk,
		Category:       "people",
		Severity:       "high",
		Title:          "Burnout risk signals for user-1",
		Description:    "After-hours activity at 32% (up 180% from baseline)",
		EntityType:     "person",
		EntityID:       "user-1",
		Score:          62.5,
		Metadata: database.InsightMetadata{
			InsightScore: 62.5,
			Confidence:   0.8,
			RiskLevel:    "high",
		},
		RecommendedActions: database.StringList{"Review workload distribution and on-call load"},
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusAcknowledged, true},
		{StatusPending, StatusResolved, true},
		{StatusPending, StatusExpired, true},
		{StatusSent, StatusAcknowledged, true},
		{StatusSent, StatusExpired, true},
		{StatusAcknowledged, StatusResolved, true},
		{StatusSent, StatusPending, false},
		{StatusAcknowledged, StatusSent, false},
		{StatusAcknowledged, StatusExpired, false},
		{StatusResolved, StatusPending, false},
		{StatusResolved, StatusExpired, false},
		{StatusExpired, StatusResolved, false},
		{"bogus", StatusSent, false},
		{StatusPending, "bogus", false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestMatches(t *testing.T) {
	score := 50.0
	alert := &database.Alert{
		Type:       TypeWellbeing,
		Severity:   SeverityWarning,
		EntityType: "person",
		Metadata:   database.AlertMetadata{InsightScore: 40},
	}

	tests := []struct {
		name   string
		filter database.SubscriptionFilter
		want   bool
	}{
		{"empty filter matches everything", database.SubscriptionFilter{}, true},
		{"matching type", database.SubscriptionFilter{Types: []string{TypeWellbeing}}, true},
		{"non-matching type", database.SubscriptionFilter{Types: []string{TypeOperations}}, false},
		{"critical-only misses warning", database.SubscriptionFilter{Severities: []string{SeverityCritical}}, false},
		{"matching severity", database.SubscriptionFilter{Severities: []string{SeverityWarning, SeverityError}}, true},
		{"entity type mismatch", database.SubscriptionFilter{EntityTypes: []string{"process"}}, false},
		{"min score above alert", database.SubscriptionFilter{MinScore: &score}, false},
		{"all present fields must accept", database.SubscriptionFilter{
			Types:      []string{TypeWellbeing},
			Severities: []string{SeverityCritical},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(alert, &tt.filter))
		})
	}
}

func TestCreateFromInsight(t *testing.T) {
	store := newFakeAlertStore()
	engine := NewEngine(store, &fakeSubStore{}, &fakeSender{}, nil, Options{AlertTTL: 72 * time.Hour}, testLogger())

	ins := testInsight("org-1")

	alert, err := engine.CreateFromInsight(context.Background(), ins)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, alert.Status)
	assert.Equal(t, TypeWellbeing, alert.Type)
	assert.Equal(t, SeverityError, alert.Severity)
	assert.Equal(t, ins.ID, alert.InsightID)
	assert.Equal(t, ins.Title, alert.Title)
	assert.Contains(t, alert.Message, "Recommended actions:")
	assert.Contains(t, alert.Message, "1. Review workload distribution")
	require.NotNil(t, alert.ExpiresAt)
	assert.Equal(t, 62.5, alert.Metadata.InsightScore)

	// A second call must return the live alert instead of creating another.
	again, err := engine.CreateFromInsight(context.Background(), ins)
	require.NoError(t, err)
	assert.Equal(t, alert.ID, again.ID)
	assert.Len(t, store.alerts, 1)
}

func TestCreateFromInsightSeverityMapping(t *testing.T) {
	tests := []struct {
		insightSeverity string
		want            string
	}{
		{"low", SeverityInfo},
		{"medium", SeverityWarning},
		{"high", SeverityError},
		{"critical", SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.insightSeverity, func(t *testing.T) {
			store := newFakeAlertStore()
			engine := NewEngine(store, &fakeSubStore{}, &fakeSender{}, nil, Options{}, testLogger())

			ins := testInsight("org-1")
			ins.Severity = tt.insightSeverity
			alert, err := engine.CreateFromInsight(context.Background(), ins)
			require.NoError(t, err)
			assert.Equal(t, tt.want, alert.Severity)
		})
	}
}

func TestCreateFromInsightUnknownType(t *testing.T) {
	store := newFakeAlertStore()
	engine := NewEngine(store, &fakeSubStore{}, &fakeSender{}, nil, Options{}, testLogger())

	ins := testInsight("org-1")
	ins.Type = "mystery"
	_, err := engine.CreateFromInsight(context.Background(), ins)
	require.Error(t, err)
	assert.Zero(t, store.creates)
}

func TestProcessPendingAlertsPartialFailure(t *testing.T) {
	store := newFakeAlertStore()
	sender := &fakeSender{failing: map[string]bool{"sms": true}}
	subs := &fakeSubStore{subs: []*database.AlertSubscription{
		{
			ID:             "sub-1",
			OrganizationID: "org-1",
			Recipient:      "lead@example.com",
			Channels:       database.StringList{"email", "sms"},
			Schedule:       database.ScheduleConfig{Type: "immediate"},
			IsActive:       true,
		},
	}}
	engine := NewEngine(store, subs, sender, nil, Options{}, testLogger())

	alert, err := engine.CreateFromInsight(context.Background(), testInsight("org-1"))
	require.NoError(t, err)

	result, err := engine.ProcessPendingAlerts(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsProcessed)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	// A channel failure never blocks the status advance: sent means
	// attempted, not delivered.
	updated, err := store.GetByID(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, updated.Status)

	require.Len(t, store.records, 2)
	byStatus := map[string]int{}
	for _, rec := range store.records {
		byStatus[rec.Status]++
		assert.Equal(t, alert.ID, rec.AlertID)
		assert.Equal(t, "sub-1", rec.SubscriptionID)
	}
	assert.Equal(t, 1, byStatus["sent"])
	assert.Equal(t, 1, byStatus["failed"])
	for _, rec := range store.records {
		if rec.Status == "failed" {
			require.NotNil(t, rec.Error)
			assert.Contains(t, *rec.Error, "sms gateway unavailable")
		}
	}
}

func TestProcessPendingAlertsSkipsDigest(t *testing.T) {
	store := newFakeAlertStore()
	sender := &fakeSender{}
	subs := &fakeSubStore{subs: []*database.AlertSubscription{
		{
			ID:             "sub-digest",
			OrganizationID: "org-1",
			Recipient:      "digest@example.com",
			Channels:       database.StringList{"email"},
			Schedule:       database.ScheduleConfig{Type: "digest", DigestFrequency: "daily"},
			IsActive:       true,
		},
	}}
	engine := NewEngine(store, subs, sender, nil, Options{}, testLogger())

	alert, err := engine.CreateFromInsight(context.Background(), testInsight("org-1"))
	require.NoError(t, err)

	result, err := engine.ProcessPendingAlerts(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsProcessed)
	assert.Zero(t, result.Attempted)
	assert.Empty(t, sender.sends)

	// With no immediate subscribers there was nothing to attempt, so the
	// alert stays pending.
	updated, err := store.GetByID(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, updated.Status)
}

func TestProcessPendingAlertsInactiveSubscription(t *testing.T) {
	store := newFakeAlertStore()
	sender := &fakeSender{}
	subs := &fakeSubStore{subs: []*database.AlertSubscription{
		{
			ID:       "sub-off",
			Channels: database.StringList{"email"},
			Schedule: database.ScheduleConfig{Type: "immediate"},
			IsActive: false,
		},
	}}
	engine := NewEngine(store, subs, sender, nil, Options{}, testLogger())

	_, err := engine.CreateFromInsight(context.Background(), testInsight("org-1"))
	require.NoError(t, err)

	result, err := engine.ProcessPendingAlerts(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Zero(t, result.Attempted)
	assert.Empty(t, sender.sends)
}

func TestAcknowledgeAndResolve(t *testing.T) {
	store := newFakeAlertStore()
	engine := NewEngine(store, &fakeSubStore{}, &fakeSender{}, nil, Options{}, testLogger())

	alert, err := engine.CreateFromInsight(context.Background(), testInsight("org-1"))
	require.NoError(t, err)

	acked, err := engine.Acknowledge(context.Background(), alert.ID, "user-42")
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedBy)
	assert.Equal(t, "user-42", *acked.AcknowledgedBy)

	// Acknowledging twice moves backwards and must be rejected.
	_, err = engine.Acknowledge(context.Background(), alert.ID, "user-43")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	resolved, err := engine.Resolve(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)

	// Resolved is terminal.
	_, err = engine.Resolve(context.Background(), alert.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestExpireOverdue(t *testing.T) {
	store := newFakeAlertStore()
	engine := NewEngine(store, &fakeSubStore{}, &fakeSender{}, nil, Options{AlertTTL: time.Hour}, testLogger())

	alert, err := engine.CreateFromInsight(context.Background(), testInsight("org-1"))
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	store.alerts[alert.ID].ExpiresAt = &past

	expired, err := engine.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
}
