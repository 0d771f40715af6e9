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
)

// SubscriptionRepository handles alert subscription data operations.
// Subscriptions are deactivated, never hard-deleted.
type SubscriptionRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *sqlx.DB, logger *slog.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create inserts a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, sub *AlertSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.IsActive = true

	query := `
		INSERT INTO alert_subscriptions (
			id, organization_id, user_id, recipient, channels, filters, schedule,
			is_active, created_at, updated_at
		) VALUES (
			:id, :organization_id, :user_id, :recipient, :channels, :filters, :schedule,
			:is_active, :created_at, :updated_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		r.logger.Error("Failed to create subscription", "org_id", sub.OrganizationID, "error", err)
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	r.logger.Info("Subscription created", "subscription_id", sub.ID, "org_id", sub.OrganizationID)
	return nil
}

// GetByID retrieves a subscription by ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*AlertSubscription, error) {
	query := `SELECT * FROM alert_subscriptions WHERE id = $1`

	var sub AlertSubscription
	err := r.db.GetContext(ctx, &sub, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get subscription", "subscription_id", id, "error", err)
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return &sub, nil
}

// Update replaces the mutable fields of a subscription.
func (r *SubscriptionRepository) Update(ctx context.Context, sub *AlertSubscription) error {
	query := `
		UPDATE alert_subscriptions SET
			recipient = :recipient,
			channels = :channels,
			filters = :filters,
			schedule = :schedule,
			updated_at = :updated_at
		WHERE id = :id`

	sub.UpdatedAt = time.Now().UTC()

	result, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		r.logger.Error("Failed to update subscription", "subscription_id", sub.ID, "error", err)
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("subscription %s: %w", sub.ID, ErrNotFound)
	}

	return nil
}

// Deactivate soft-deletes a subscription.
func (r *SubscriptionRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE alert_subscriptions SET
			is_active = FALSE,
			updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to deactivate subscription", "subscription_id", id, "error", err)
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("subscription %s not active: %w", id, ErrNotFound)
	}

	r.logger.Info("Subscription deactivated", "subscription_id", id)
	return nil
}

// ListActive returns the active subscriptions for an organization.
func (r *SubscriptionRepository) ListActive(ctx context.Context, orgID string) ([]*AlertSubscription, error) {
	query := `
		SELECT * FROM alert_subscriptions
		WHERE organization_id = $1 AND is_active = TRUE
		ORDER BY created_at ASC`

	var subs []*AlertSubscription
	err := r.db.SelectContext(ctx, &subs, query, orgID)
	if err != nil {
		r.logger.Error("Failed to list active subscriptions", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}

	return subs, nil
}
