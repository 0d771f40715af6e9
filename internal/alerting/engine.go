package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pulsewatch/internal/database"
	"pulsewatch/internal/insight"
)

// Alert statuses. Status only moves forward through the lifecycle; see
// statusRank.
const (
	StatusPending      = "pending"
	StatusSent         = "sent"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
	StatusExpired      = "expired"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Alert types.
const (
	TypeWellbeing     = "wellbeing"
	TypeOperations    = "operations"
	TypeCollaboration = "collaboration"
)

// ErrInvalidTransition is returned when a status update would move an alert
// backwards in its lifecycle.
var ErrInvalidTransition = errors.New("invalid alert status transition")

// statusRank orders the forward path pending -> sent -> acknowledged ->
// resolved. expired is terminal and reachable only from pending and sent.
var statusRank = map[string]int{
	StatusPending:      0,
	StatusSent:         1,
	StatusAcknowledged: 2,
	StatusResolved:     3,
	StatusExpired:      3,
}

// CanTransition reports whether an alert may move from one status to
// another. Terminal states accept nothing; expired is not reachable once a
// human has acknowledged.
func CanTransition(from, to string) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if from == StatusResolved || from == StatusExpired {
		return false
	}
	if to == StatusExpired {
		return from == StatusPending || from == StatusSent
	}
	return toRank > fromRank
}

// alertTypeFor maps insight types onto alert types. The switch is
// exhaustive over the known insight types; an unknown type is an error, not
// a silent fallback.
func alertTypeFor(insightType string) (string, error) {
	switch insightType {
	case insight.TypeBurnoutRisk:
		return TypeWellbeing, nil
	case insight.TypeProcessDegradation:
		return TypeOperations, nil
	case insight.TypeTeamConflict:
		return TypeCollaboration, nil
	default:
		return "", fmt.Errorf("no alert type mapping for insight type %q", insightType)
	}
}

// alertSeverityFor maps insight severities onto alert severities.
func alertSeverityFor(insightSeverity string) (string, error) {
	switch insightSeverity {
	case "low":
		return SeverityInfo, nil
	case "medium":
		return SeverityWarning, nil
	case "high":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("no alert severity mapping for insight severity %q", insightSeverity)
	}
}

// AlertStore is the persistence contract for alerts and their notification
// records.
type AlertStore interface {
	Create(ctx context.Context, alert *database.Alert) (*database.Alert, error)
	GetByID(ctx context.Context, id string) (*database.Alert, error)
	FindNonTerminalByInsight(ctx context.Context, insightID string) (*database.Alert, error)
	ListPending(ctx context.Context, orgID string, limit int) ([]*database.Alert, error)
	UpdateStatus(ctx context.Context, alertID, status string, allowedFrom []string) (bool, error)
	Acknowledge(ctx context.Context, alertID, acknowledgedBy string) (bool, error)
	AppendNotification(ctx context.Context, record *database.NotificationRecord) error
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// SubscriptionStore lists the active subscriptions for an organization.
type SubscriptionStore interface {
	ListActive(ctx context.Context, orgID string) ([]*database.AlertSubscription, error)
}

// Sender delivers one notification over one channel. Implementations may
// fail or time out; the engine records the outcome and keeps going either
// way.
type Sender interface {
	Send(ctx context.Context, alert *database.Alert, sub *database.AlertSubscription, channel string) (*database.NotificationRecord, error)
}

// EventPublisher receives alert lifecycle events. A nil publisher disables
// publishing.
type EventPublisher interface {
	AlertGenerated(ctx context.Context, alert *database.Alert)
	AlertAcknowledged(ctx context.Context, alert *database.Alert)
	AlertResolved(ctx context.Context, alert *database.Alert)
	NotificationSent(ctx context.Context, record *database.NotificationRecord)
	NotificationFailed(ctx context.Context, record *database.NotificationRecord)
}

// Options tunes the dispatch loop.
type Options struct {
	BatchSize      int
	AlertTTL       time.Duration
	SendTimeout    time.Duration
	MaxConcurrency int
}

// Engine owns the alert lifecycle: creation from insights, subscription
// matching, and notification dispatch with delivery bookkeeping.
type Engine struct {
	alerts    AlertStore
	subs      SubscriptionStore
	sender    Sender
	publisher EventPublisher
	opts      Options
	logger    *slog.Logger
}

// NewEngine creates an alert engine. publisher may be nil.
func NewEngine(alerts AlertStore, subs SubscriptionStore, sender Sender, publisher EventPublisher, opts Options, logger *slog.Logger) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	return &Engine{
		alerts:    alerts,
		subs:      subs,
		sender:    sender,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}
}

// CreateFromInsight converts an insight into a pending alert. When a
// non-terminal alert already exists for the insight it is returned
// unchanged, so repeated calls are idempotent.
func (e *Engine) CreateFromInsight(ctx context.Context, ins *database.Insight) (*database.Alert, error) {
	existing, err := e.alerts.FindNonTerminalByInsight(ctx, ins.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing alert: %w", err)
	}

	alertType, err := alertTypeFor(ins.Type)
	if err != nil {
		return nil, err
	}
	severity, err := alertSeverityFor(ins.Severity)
	if err != nil {
		return nil, err
	}

	alert := &database.Alert{
		OrganizationID: ins.OrganizationID,
		InsightID:      ins.ID,
		Type:           alertType,
		Severity:       severity,
		Status:         StatusPending,
		Title:          ins.Title,
		Message:        formatMessage(ins),
		EntityType:     ins.EntityType,
		EntityID:       ins.EntityID,
		ActionURL:      fmt.Sprintf("/insights/%s", ins.ID),
		Metadata: database.AlertMetadata{
			InsightScore: ins.Score,
			InsightType:  ins.Type,
			RiskLevel:    ins.Metadata.RiskLevel,
			Confidence:   ins.Metadata.Confidence,
		},
	}
	if e.opts.AlertTTL > 0 {
		expires := time.Now().UTC().Add(e.opts.AlertTTL)
		alert.ExpiresAt = &expires
	}

	created, err := e.alerts.Create(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert from insight: %w", err)
	}

	// Create is idempotent at the store; only publish for fresh rows.
	if created.ID == alert.ID && e.publisher != nil {
		e.publisher.AlertGenerated(ctx, created)
	}
	return created, nil
}

// formatMessage renders the alert body: the insight description followed by
// the numbered recommended actions.
func formatMessage(ins *database.Insight) string {
	msg := ins.Description
	if len(ins.RecommendedActions) > 0 {
		msg += "\n\nRecommended actions:"
		for i, action := range ins.RecommendedActions {
			msg += fmt.Sprintf("\n%d. %s", i+1, action)
		}
	}
	return msg
}

// MatchingSubscriptions filters active subscriptions down to the ones whose
// present filter fields all accept the alert. Absent fields match
// everything on that dimension.
func (e *Engine) MatchingSubscriptions(alert *database.Alert, subs []*database.AlertSubscription) []*database.AlertSubscription {
	matched := make([]*database.AlertSubscription, 0, len(subs))
	for _, sub := range subs {
		if !sub.IsActive {
			continue
		}
		if Matches(alert, &sub.Filters) {
			matched = append(matched, sub)
		}
	}
	return matched
}

// Matches reports whether every present filter field accepts the alert.
func Matches(alert *database.Alert, f *database.SubscriptionFilter) bool {
	if len(f.Types) > 0 && !contains(f.Types, alert.Type) {
		return false
	}
	if len(f.Severities) > 0 && !contains(f.Severities, alert.Severity) {
		return false
	}
	if len(f.EntityTypes) > 0 && !contains(f.EntityTypes, alert.EntityType) {
		return false
	}
	if f.MinScore != nil && alert.Metadata.InsightScore < *f.MinScore {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ProcessResult summarizes one pending-alert pass.
type ProcessResult struct {
	AlertsProcessed int
	Attempted       int
	Succeeded       int
	Failed          int
}

// ProcessPendingAlerts dispatches every pending alert for an organization
// to its matching immediate subscriptions. Digest subscriptions are skipped
// here; a separate digest job owns them. Each subscription x channel pair
// is one bounded, individually timed send. The alert moves to sent on the
// first attempt regardless of per-channel outcome: sent means a
// notification was attempted, not that it was delivered.
func (e *Engine) ProcessPendingAlerts(ctx context.Context, orgID string) (*ProcessResult, error) {
	alerts, err := e.alerts.ListPending(ctx, orgID, e.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending alerts: %w", err)
	}

	result := &ProcessResult{}
	if len(alerts) == 0 {
		return result, nil
	}

	subs, err := e.subs.ListActive(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	for _, alert := range alerts {
		if ctx.Err() != nil {
			// Cancellation stops further processing; already-dispatched
			// alerts keep their recorded state.
			return result, nil
		}
		attempted, succeeded, failed := e.dispatchAlert(ctx, alert, subs)
		result.AlertsProcessed++
		result.Attempted += attempted
		result.Succeeded += succeeded
		result.Failed += failed
	}

	e.logger.Info("Pending alerts processed",
		"org_id", orgID,
		"alerts", result.AlertsProcessed,
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed)
	return result, nil
}

type sendTask struct {
	sub     *database.AlertSubscription
	channel string
}

func (e *Engine) dispatchAlert(ctx context.Context, alert *database.Alert, subs []*database.AlertSubscription) (attempted, succeeded, failed int) {
	matched := e.MatchingSubscriptions(alert, subs)

	var tasks []sendTask
	for _, sub := range matched {
		if sub.Schedule.Type == "digest" {
			continue
		}
		for _, channel := range sub.Channels {
			tasks = append(tasks, sendTask{sub: sub, channel: channel})
		}
	}
	if len(tasks) == 0 {
		return 0, 0, 0
	}

	// First attempt flips the alert to sent, whatever the channels report.
	advanced, err := e.alerts.UpdateStatus(ctx, alert.ID, StatusSent, []string{StatusPending})
	if err != nil {
		e.logger.Error("Failed to advance alert to sent", "alert_id", alert.ID, "error", err)
		return 0, 0, 0
	}
	if !advanced {
		// Another processor got here first.
		return 0, 0, 0
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.opts.MaxConcurrency)
	)

	for _, task := range tasks {
		task := task
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			record := e.sendOne(ctx, alert, task)
			mu.Lock()
			attempted++
			if record.Status == "failed" {
				failed++
			} else {
				succeeded++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return attempted, succeeded, failed
}

// sendOne performs a single channel send with its own timeout, records the
// outcome, and never lets a sender failure escape the dispatch loop.
func (e *Engine) sendOne(ctx context.Context, alert *database.Alert, task sendTask) *database.NotificationRecord {
	sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	defer cancel()

	record, err := e.sender.Send(sendCtx, alert, task.sub, task.channel)
	if err != nil {
		errText := err.Error()
		record = &database.NotificationRecord{
			AlertID:        alert.ID,
			SubscriptionID: task.sub.ID,
			Channel:        task.channel,
			Recipient:      task.sub.Recipient,
			Status:         "failed",
			Error:          &errText,
			Attempt:        1,
		}
		e.logger.Error("Notification send failed",
			"alert_id", alert.ID, "channel", task.channel,
			"subscription_id", task.sub.ID, "error", err)
	}
	record.AlertID = alert.ID
	record.SubscriptionID = task.sub.ID

	// Append with the parent context: a timed-out send still gets recorded.
	if err := e.alerts.AppendNotification(ctx, record); err != nil {
		e.logger.Error("Failed to append notification record",
			"alert_id", alert.ID, "channel", task.channel, "error", err)
	}

	if e.publisher != nil {
		if record.Status == "failed" {
			e.publisher.NotificationFailed(ctx, record)
		} else {
			e.publisher.NotificationSent(ctx, record)
		}
	}
	return record
}

// Acknowledge marks an alert acknowledged by a user. Acknowledging an alert
// that already moved past sent returns ErrInvalidTransition.
func (e *Engine) Acknowledge(ctx context.Context, alertID, userID string) (*database.Alert, error) {
	ok, err := e.alerts.Acknowledge(ctx, alertID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("acknowledge %s: %w", alertID, ErrInvalidTransition)
	}

	alert, err := e.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if e.publisher != nil {
		e.publisher.AlertAcknowledged(ctx, alert)
	}
	return alert, nil
}

// Resolve closes an alert. Resolution is the only forward path after
// acknowledgment; resolving an already-terminal alert returns
// ErrInvalidTransition.
func (e *Engine) Resolve(ctx context.Context, alertID string) (*database.Alert, error) {
	ok, err := e.alerts.UpdateStatus(ctx, alertID, StatusResolved,
		[]string{StatusPending, StatusSent, StatusAcknowledged})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", alertID, ErrInvalidTransition)
	}

	alert, err := e.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if e.publisher != nil {
		e.publisher.AlertResolved(ctx, alert)
	}
	return alert, nil
}

// ExpireOverdue applies the external timeout policy: pending and sent
// alerts past their deadline become expired.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	return e.alerts.ExpireOverdue(ctx, e.opts.BatchSize)
}
