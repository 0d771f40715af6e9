package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// EventRepository is the read-only adapter over the signal store. The
// ingestion pipeline owns writes; detection only ever queries.
type EventRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sqlx.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// QueryEvents returns all events for one actor in [from, to), oldest first.
// An empty result is not an error; callers treat it as insufficient data.
func (r *EventRepository) QueryEvents(ctx context.Context, orgID, actorID string, from, to time.Time) ([]*Event, error) {
	query := `
		SELECT * FROM events
		WHERE organization_id = $1 AND actor_id = $2
		AND occurred_at >= $3 AND occurred_at < $4
		ORDER BY occurred_at ASC`

	var events []*Event
	err := r.db.SelectContext(ctx, &events, query, orgID, actorID, from, to)
	if err != nil {
		r.logger.Error("Failed to query events", "org_id", orgID, "actor_id", actorID, "error", err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	return events, nil
}

// ListActors returns the distinct actors that produced events for an
// organization within the window. The scheduler uses this to enumerate
// entities when no explicit scope is given.
func (r *EventRepository) ListActors(ctx context.Context, orgID string, from, to time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT actor_id FROM events
		WHERE organization_id = $1
		AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY actor_id`

	var actors []string
	err := r.db.SelectContext(ctx, &actors, query, orgID, from, to)
	if err != nil {
		r.logger.Error("Failed to list actors", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("failed to list actors: %w", err)
	}

	return actors, nil
}

// ListOrganizations returns the organizations with any events in the window.
func (r *EventRepository) ListOrganizations(ctx context.Context, from, to time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT organization_id FROM events
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY organization_id`

	var orgs []string
	err := r.db.SelectContext(ctx, &orgs, query, from, to)
	if err != nil {
		r.logger.Error("Failed to list organizations", "error", err)
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}

	return orgs, nil
}
