package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// InsightRepository handles insight persistence. Upsert is the only writer;
// a per-key advisory lock inside the transaction keeps concurrent detector
// runs for the same (organization, type, entity) from both inserting.
type InsightRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewInsightRepository creates a new insight repository
func NewInsightRepository(db *sqlx.DB, logger *slog.Logger) *InsightRepository {
	return &InsightRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// GetByID retrieves an insight by ID
func (r *InsightRepository) GetByID(ctx context.Context, id string) (*Insight, error) {
	query := `SELECT * FROM insights WHERE id = $1`

	var insight Insight
	err := r.db.GetContext(ctx, &insight, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get insight", "insight_id", id, "error", err)
		return nil, fmt.Errorf("failed to get insight: %w", err)
	}

	return &insight, nil
}

// FindRecent returns the live insight for (org, type, entity) created within
// the last withinDays days, or ErrNotFound.
func (r *InsightRepository) FindRecent(ctx context.Context, orgID, insightType, entityID string, withinDays int) (*Insight, error) {
	query := `
		SELECT * FROM insights
		WHERE organization_id = $1 AND type = $2 AND entity_id = $3
		AND created_at > NOW() - $4 * INTERVAL '1 day'
		ORDER BY created_at DESC
		LIMIT 1`

	var insight Insight
	err := r.db.GetContext(ctx, &insight, query, orgID, insightType, entityID, withinDays)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to find recent insight",
			"org_id", orgID, "type", insightType, "entity_id", entityID, "error", err)
		return nil, fmt.Errorf("failed to find recent insight: %w", err)
	}

	return &insight, nil
}

// Upsert inserts a new insight or, when a row for the same
// (organization, type, entity) was created inside the recency window,
// updates it in place with the new values winning. The find-then-write runs
// in one transaction under pg_advisory_xact_lock on the key, so two
// concurrent upserts for the same key serialize instead of duplicating.
func (r *InsightRepository) Upsert(ctx context.Context, insight *Insight, recencyDays int) (*Insight, error) {
	var stored Insight

	err := r.Transaction(func(tx *sqlx.Tx) error {
		lockKey := fmt.Sprintf("%s/%s/%s", insight.OrganizationID, insight.Type, insight.EntityID)
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("failed to take upsert lock: %w", err)
		}

		var existing Insight
		err := tx.GetContext(ctx, &existing, `
			SELECT * FROM insights
			WHERE organization_id = $1 AND type = $2 AND entity_id = $3
			AND created_at > NOW() - $4 * INTERVAL '1 day'
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE`,
			insight.OrganizationID, insight.Type, insight.EntityID, recencyDays)

		switch {
		case err == nil:
			return tx.GetContext(ctx, &stored, `
				UPDATE insights SET
					severity = $2,
					title = $3,
					description = $4,
					score = $5,
					metadata = $6,
					recommended_actions = $7,
					updated_at = NOW()
				WHERE id = $1
				RETURNING *`,
				existing.ID, insight.Severity, insight.Title, insight.Description,
				insight.Score, insight.Metadata, insight.RecommendedActions)

		case errors.Is(err, sql.ErrNoRows):
			id := insight.ID
			if id == "" {
				id = uuid.New().String()
			}
			return tx.GetContext(ctx, &stored, `
				INSERT INTO insights (
					id, organization_id, type, category, severity, title, description,
					entity_type, entity_id, score, metadata, recommended_actions,
					created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
				RETURNING *`,
				id, insight.OrganizationID, insight.Type, insight.Category,
				insight.Severity, insight.Title, insight.Description,
				insight.EntityType, insight.EntityID, insight.Score,
				insight.Metadata, insight.RecommendedActions)

		default:
			return fmt.Errorf("failed to find recent insight for upsert: %w", err)
		}
	})
	if err != nil {
		r.logger.Error("Failed to upsert insight",
			"org_id", insight.OrganizationID, "type", insight.Type,
			"entity_id", insight.EntityID, "error", err)
		return nil, fmt.Errorf("failed to upsert insight: %w", err)
	}

	r.logger.Debug("Insight upserted",
		"insight_id", stored.ID, "org_id", stored.OrganizationID,
		"type", stored.Type, "entity_id", stored.EntityID)
	return &stored, nil
}

// ListByOrganization retrieves insights for an organization, newest first.
func (r *InsightRepository) ListByOrganization(ctx context.Context, orgID string, limit int) ([]*Insight, error) {
	query := `
		SELECT * FROM insights
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var insights []*Insight
	err := r.db.SelectContext(ctx, &insights, query, orgID, limit)
	if err != nil {
		r.logger.Error("Failed to list insights", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}

	return insights, nil
}

// Cleanup removes insights older than the retention period. Retention is an
// external policy; this runs only when the operator schedules it.
func (r *InsightRepository) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	query := `DELETE FROM insights WHERE created_at < NOW() - $1 * INTERVAL '1 day'`

	result, err := r.db.ExecContext(ctx, query, retentionDays)
	if err != nil {
		r.logger.Error("Failed to cleanup insights", "error", err)
		return 0, fmt.Errorf("failed to cleanup insights: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}
