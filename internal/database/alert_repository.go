package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// AlertRepository handles alert and notification-record data operations.
// The partial unique index on (insight_id) for non-terminal rows backs the
// one-live-alert-per-insight invariant at the storage level.
type AlertRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *sqlx.DB, logger *slog.Logger) *AlertRepository {
	return &AlertRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create inserts a new pending alert. When a non-terminal alert already
// exists for the same insight the insert is a no-op and the existing row is
// returned, making creation idempotent per insight.
func (r *AlertRepository) Create(ctx context.Context, alert *Alert) (*Alert, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	alert.CreatedAt = now
	alert.UpdatedAt = now

	query := `
		INSERT INTO alerts (
			id, organization_id, insight_id, type, severity, status, title,
			message, entity_type, entity_id, action_url, metadata, expires_at,
			created_at, updated_at
		) VALUES (
			:id, :organization_id, :insight_id, :type, :severity, :status, :title,
			:message, :entity_type, :entity_id, :action_url, :metadata, :expires_at,
			:created_at, :updated_at
		)
		ON CONFLICT (insight_id) WHERE status NOT IN ('resolved', 'expired')
		DO NOTHING`

	result, err := r.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		r.logger.Error("Failed to create alert", "insight_id", alert.InsightID, "error", err)
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		existing, err := r.FindNonTerminalByInsight(ctx, alert.InsightID)
		if err != nil {
			return nil, fmt.Errorf("alert insert conflicted but existing row not found: %w", err)
		}
		return existing, nil
	}

	r.logger.Info("Alert created", "alert_id", alert.ID, "insight_id", alert.InsightID, "severity", alert.Severity)
	return alert, nil
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*Alert, error) {
	query := `SELECT * FROM alerts WHERE id = $1`

	var alert Alert
	err := r.db.GetContext(ctx, &alert, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get alert", "alert_id", id, "error", err)
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return &alert, nil
}

// FindNonTerminalByInsight returns the live alert for an insight, or
// ErrNotFound when every alert for it is resolved or expired.
func (r *AlertRepository) FindNonTerminalByInsight(ctx context.Context, insightID string) (*Alert, error) {
	query := `
		SELECT * FROM alerts
		WHERE insight_id = $1 AND status NOT IN ('resolved', 'expired')
		ORDER BY created_at DESC
		LIMIT 1`

	var alert Alert
	err := r.db.GetContext(ctx, &alert, query, insightID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to find non-terminal alert", "insight_id", insightID, "error", err)
		return nil, fmt.Errorf("failed to find non-terminal alert: %w", err)
	}

	return &alert, nil
}

// ListPending retrieves pending alerts for an organization ordered by
// severity (critical first) then by age (oldest first).
func (r *AlertRepository) ListPending(ctx context.Context, orgID string, limit int) ([]*Alert, error) {
	query := `
		SELECT * FROM alerts
		WHERE organization_id = $1 AND status = 'pending'
		ORDER BY
			CASE severity
				WHEN 'critical' THEN 0
				WHEN 'error' THEN 1
				WHEN 'warning' THEN 2
				ELSE 3
			END,
			created_at ASC
		LIMIT $2`

	var alerts []*Alert
	err := r.db.SelectContext(ctx, &alerts, query, orgID, limit)
	if err != nil {
		r.logger.Error("Failed to list pending alerts", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("failed to list pending alerts: %w", err)
	}

	return alerts, nil
}

// UpdateStatus moves an alert to status, but only from one of the given
// prior statuses. Zero rows affected means the transition was not legal for
// the row's current state; the caller decides whether that is an error.
func (r *AlertRepository) UpdateStatus(ctx context.Context, alertID, status string, allowedFrom []string) (bool, error) {
	query := `
		UPDATE alerts SET
			status = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`

	result, err := r.db.ExecContext(ctx, query, alertID, status, pq.Array(allowedFrom))
	if err != nil {
		r.logger.Error("Failed to update alert status", "alert_id", alertID, "status", status, "error", err)
		return false, fmt.Errorf("failed to update alert status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Acknowledge marks a sent alert acknowledged by a user.
func (r *AlertRepository) Acknowledge(ctx context.Context, alertID, acknowledgedBy string) (bool, error) {
	query := `
		UPDATE alerts SET
			status = 'acknowledged',
			acknowledged_by = $2,
			acknowledged_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'sent')`

	result, err := r.db.ExecContext(ctx, query, alertID, acknowledgedBy)
	if err != nil {
		r.logger.Error("Failed to acknowledge alert", "alert_id", alertID, "error", err)
		return false, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		r.logger.Info("Alert acknowledged", "alert_id", alertID, "acknowledged_by", acknowledgedBy)
	}
	return rowsAffected > 0, nil
}

// ExpireOverdue marks non-terminal, unacknowledged alerts past their
// expires_at as expired and returns how many rows changed.
func (r *AlertRepository) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	query := `
		UPDATE alerts SET
			status = 'expired',
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM alerts
			WHERE status IN ('pending', 'sent')
			AND expires_at IS NOT NULL AND expires_at < NOW()
			ORDER BY expires_at ASC
			LIMIT $1
		)`

	result, err := r.db.ExecContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to expire overdue alerts", "error", err)
		return 0, fmt.Errorf("failed to expire overdue alerts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		r.logger.Info("Overdue alerts expired", "count", rowsAffected)
	}
	return int(rowsAffected), nil
}

// AppendNotification appends a delivery record to an alert. Records are
// append-only; there is no update path.
func (r *AlertRepository) AppendNotification(ctx context.Context, record *NotificationRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}

	query := `
		INSERT INTO alert_notifications (
			id, alert_id, subscription_id, channel, recipient, status, error, attempt, sent_at
		) VALUES (
			:id, :alert_id, :subscription_id, :channel, :recipient, :status, :error, :attempt, :sent_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, record)
	if err != nil {
		r.logger.Error("Failed to append notification record",
			"alert_id", record.AlertID, "channel", record.Channel, "error", err)
		return fmt.Errorf("failed to append notification record: %w", err)
	}

	return nil
}

// ListNotifications returns the delivery records for an alert, oldest first.
func (r *AlertRepository) ListNotifications(ctx context.Context, alertID string) ([]*NotificationRecord, error) {
	query := `
		SELECT * FROM alert_notifications
		WHERE alert_id = $1
		ORDER BY sent_at ASC`

	var records []*NotificationRecord
	err := r.db.SelectContext(ctx, &records, query, alertID)
	if err != nil {
		r.logger.Error("Failed to list notification records", "alert_id", alertID, "error", err)
		return nil, fmt.Errorf("failed to list notification records: %w", err)
	}

	return records, nil
}

// GetStats retrieves alert statistics for an organization over a time range.
func (r *AlertRepository) GetStats(ctx context.Context, orgID string, timeRange time.Duration) (*AlertStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN status = 'pending' THEN 1 END) as pending,
			COUNT(CASE WHEN status = 'sent' THEN 1 END) as sent,
			COUNT(CASE WHEN status = 'acknowledged' THEN 1 END) as acknowledged,
			COUNT(CASE WHEN status = 'resolved' THEN 1 END) as resolved,
			COUNT(CASE WHEN status = 'expired' THEN 1 END) as expired,
			COUNT(CASE WHEN severity = 'critical' THEN 1 END) as critical,
			COUNT(CASE WHEN severity = 'error' THEN 1 END) as error,
			COUNT(CASE WHEN severity = 'warning' THEN 1 END) as warning,
			COUNT(CASE WHEN severity = 'info' THEN 1 END) as info
		FROM alerts
		WHERE organization_id = $1
		AND created_at > NOW() - $2 * INTERVAL '1 hour'`

	var stats AlertStats
	err := r.db.GetContext(ctx, &stats, query, orgID, int(timeRange.Hours()))
	if err != nil {
		r.logger.Error("Failed to get alert stats", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("failed to get alert stats: %w", err)
	}

	return &stats, nil
}

// CountActiveBySeverity returns the number of non-terminal alerts per
// severity across all organizations.
func (r *AlertRepository) CountActiveBySeverity(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT severity, COUNT(*) as count
		FROM alerts
		WHERE status NOT IN ('resolved', 'expired')
		GROUP BY severity`

	rows := []struct {
		Severity string `db:"severity"`
		Count    int    `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		r.logger.Error("Failed to count active alerts", "error", err)
		return nil, fmt.Errorf("failed to count active alerts: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Severity] = row.Count
	}
	return counts, nil
}
