package runstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pulsewatch/internal/config"
)

// RunRecord is the compact per-organization state of the last detection
// run, used for cooldown decisions and operator visibility.
type RunRecord struct {
	OrganizationID  string    `json:"organization_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
	Analyzed        int       `json:"analyzed"`
	HighRiskCount   int       `json:"high_risk_count"`
	AlertsGenerated int       `json:"alerts_generated"`
	DurationMs      int64     `json:"duration_ms"`
}

// RedisStore keeps detection run state in Redis: last-run records for
// cooldown checks and an in-flight marker so overlapping runs for one
// organization are skipped rather than stacked.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a Redis-backed run-state store.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pulsewatch"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) lastRunKey(orgID string) string {
	return fmt.Sprintf("%s:run:last:%s", s.prefix, orgID)
}

func (s *RedisStore) inflightKey(orgID string) string {
	return fmt.Sprintf("%s:run:inflight:%s", s.prefix, orgID)
}

// TryAcquire marks a run in flight for the organization. It returns false
// when another run already holds the marker. The marker self-expires after
// ttl so a crashed runner cannot wedge the organization forever.
func (s *RedisStore) TryAcquire(ctx context.Context, orgID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.inflightKey(orgID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run marker: %w", err)
	}
	return ok, nil
}

// Release clears the in-flight marker.
func (s *RedisStore) Release(ctx context.Context, orgID string) error {
	if err := s.client.Del(ctx, s.inflightKey(orgID)).Err(); err != nil {
		return fmt.Errorf("failed to release run marker: %w", err)
	}
	return nil
}

// RecordRun stores the summary of a finished run.
func (s *RedisStore) RecordRun(ctx context.Context, record *RunRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	if err := s.client.Set(ctx, s.lastRunKey(record.OrganizationID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store run record: %w", err)
	}
	return nil
}

// LastRun returns the most recent run record for the organization, or nil
// when none exists.
func (s *RedisStore) LastRun(ctx context.Context, orgID string) (*RunRecord, error) {
	data, err := s.client.Get(ctx, s.lastRunKey(orgID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run record: %w", err)
	}

	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}
	return &record, nil
}

// InCooldown reports whether the organization ran more recently than the
// cooldown allows.
func (s *RedisStore) InCooldown(ctx context.Context, orgID string, cooldown time.Duration) (bool, error) {
	record, err := s.LastRun(ctx, orgID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	return time.Since(record.StartedAt) < cooldown, nil
}
