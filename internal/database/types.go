package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"pulsewatch/internal/config"
)

// Connect establishes a database connection
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RunMigrations runs database migrations
func RunMigrations(cfg config.DatabaseConfig) error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Base repository struct with common functionality
type BaseRepository struct {
	db *sqlx.DB
}

// Transaction executes a function within a database transaction. The named
// return lets the deferred commit surface its error to the caller.
func (r *BaseRepository) Transaction(fn func(*sqlx.Tx) error) (err error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	return fn(tx)
}

// Event is a single raw signal record from the event store. Events are
// written by the ingestion pipeline; this service only reads them.
type Event struct {
	ID             string        `db:"id" json:"id"`
	OrganizationID string        `db:"organization_id" json:"organization_id"`
	ActorID        string        `db:"actor_id" json:"actor_id"`
	Type           string        `db:"type" json:"type"`
	Timestamp      time.Time     `db:"occurred_at" json:"occurred_at"`
	Metadata       EventMetadata `db:"metadata" json:"metadata"`
}

// EventMetadata carries the optional per-event measurements the detectors
// consume. All fields are optional; missing values are skipped, not errors.
type EventMetadata struct {
	ResponseTimeSeconds *float64 `json:"response_time_seconds,omitempty"`
	MessageLength       *int     `json:"message_length,omitempty"`
	Sentiment           *float64 `json:"sentiment,omitempty"`
	Channel             string   `json:"channel,omitempty"`
}

// Insight is the durable, deduplicated record of a significant finding.
// At most one live insight exists per (organization, type, entity) inside
// the recency window; repeated detections update the existing row.
type Insight struct {
	ID                 string          `db:"id" json:"id"`
	OrganizationID     string          `db:"organization_id" json:"organization_id"`
	Type               string          `db:"type" json:"type"`
	Category           string          `db:"category" json:"category"`
	Severity           string          `db:"severity" json:"severity"`
	Title              string          `db:"title" json:"title"`
	Description        string          `db:"description" json:"description"`
	EntityType         string          `db:"entity_type" json:"entity_type"`
	EntityID           string          `db:"entity_id" json:"entity_id"`
	Score              float64         `db:"score" json:"score"`
	Metadata           InsightMetadata `db:"metadata" json:"metadata"`
	RecommendedActions StringList      `db:"recommended_actions" json:"recommended_actions"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// InsightMetadata is the typed detail blob attached to an insight.
type InsightMetadata struct {
	InsightScore   float64            `json:"insight_score"`
	Confidence     float64            `json:"confidence"`
	RiskLevel      string             `json:"risk_level"`
	IndicatorCount int                `json:"indicator_count"`
	Indicators     []IndicatorSummary `json:"indicators,omitempty"`
	WindowFrom     time.Time          `json:"window_from"`
	WindowTo       time.Time          `json:"window_to"`
}

// IndicatorSummary is the compact per-indicator record kept on an insight.
type IndicatorSummary struct {
	Type     string  `json:"type"`
	Severity string  `json:"severity"`
	Score    float64 `json:"score"`
	Trend    string  `json:"trend"`
}

// Alert is a lifecycle-tracked, notification-worthy event derived from an
// insight. Status only moves forward: pending, sent, acknowledged, resolved,
// with expired reachable from pending and sent.
type Alert struct {
	ID             string        `db:"id" json:"id"`
	OrganizationID string        `db:"organization_id" json:"organization_id"`
	InsightID      string        `db:"insight_id" json:"insight_id"`
	Type           string        `db:"type" json:"type"`
	Severity       string        `db:"severity" json:"severity"`
	Status         string        `db:"status" json:"status"`
	Title          string        `db:"title" json:"title"`
	Message        string        `db:"message" json:"message"`
	EntityType     string        `db:"entity_type" json:"entity_type"`
	EntityID       string        `db:"entity_id" json:"entity_id"`
	ActionURL      string        `db:"action_url" json:"action_url"`
	Metadata       AlertMetadata `db:"metadata" json:"metadata"`
	AcknowledgedBy *string       `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time    `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ExpiresAt      *time.Time    `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// AlertMetadata is the typed detail blob attached to an alert.
type AlertMetadata struct {
	InsightScore float64 `json:"insight_score"`
	InsightType  string  `json:"insight_type"`
	RiskLevel    string  `json:"risk_level,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// NotificationRecord is an append-only delivery bookkeeping entry attached
// to an alert. Rows are never mutated after insert.
type NotificationRecord struct {
	ID             string    `db:"id" json:"id"`
	AlertID        string    `db:"alert_id" json:"alert_id"`
	SubscriptionID string    `db:"subscription_id" json:"subscription_id"`
	Channel        string    `db:"channel" json:"channel"`
	Recipient      string    `db:"recipient" json:"recipient"`
	Status         string    `db:"status" json:"status"`
	Error          *string   `db:"error" json:"error,omitempty"`
	Attempt        int       `db:"attempt" json:"attempt"`
	SentAt         time.Time `db:"sent_at" json:"sent_at"`
}

// AlertSubscription is a standing rule describing which alerts a recipient
// wants, on which channels, on what schedule. Deactivated via is_active
// rather than deleted.
type AlertSubscription struct {
	ID             string             `db:"id" json:"id"`
	OrganizationID string             `db:"organization_id" json:"organization_id"`
	UserID         *string            `db:"user_id" json:"user_id,omitempty"`
	Recipient      string             `db:"recipient" json:"recipient"`
	Channels       StringList         `db:"channels" json:"channels"`
	Filters        SubscriptionFilter `db:"filters" json:"filters"`
	Schedule       ScheduleConfig     `db:"schedule" json:"schedule"`
	IsActive       bool               `db:"is_active" json:"is_active"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updated_at"`
}

// SubscriptionFilter restricts which alerts a subscription receives.
// A nil/empty field imposes no constraint on that dimension.
type SubscriptionFilter struct {
	Types       []string `json:"types,omitempty"`
	Severities  []string `json:"severities,omitempty"`
	EntityTypes []string `json:"entity_types,omitempty"`
	MinScore    *float64 `json:"min_score,omitempty"`
}

// ScheduleConfig describes when a subscription wants delivery.
type ScheduleConfig struct {
	Type            string `json:"type"` // immediate, digest, scheduled
	DigestFrequency string `json:"digest_frequency,omitempty"`
}

// AlertStats summarizes alert volume over a time range.
type AlertStats struct {
	Total        int `db:"total" json:"total"`
	Pending      int `db:"pending" json:"pending"`
	Sent         int `db:"sent" json:"sent"`
	Acknowledged int `db:"acknowledged" json:"acknowledged"`
	Resolved     int `db:"resolved" json:"resolved"`
	Expired      int `db:"expired" json:"expired"`
	Critical     int `db:"critical" json:"critical"`
	Error        int `db:"error" json:"error"`
	Warning      int `db:"warning" json:"warning"`
	Info         int `db:"info" json:"info"`
}

// JSONB column wrappers. Each typed blob implements driver.Valuer and
// sql.Scanner so sqlx can round-trip it through a jsonb column.

func jsonbValue(v interface{}) (driver.Value, error) {
	return json.Marshal(v)
}

func jsonbScan(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
}

func (m EventMetadata) Value() (driver.Value, error) { return jsonbValue(m) }
func (m *EventMetadata) Scan(src interface{}) error  { return jsonbScan(src, m) }

func (m InsightMetadata) Value() (driver.Value, error) { return jsonbValue(m) }
func (m *InsightMetadata) Scan(src interface{}) error  { return jsonbScan(src, m) }

func (m AlertMetadata) Value() (driver.Value, error) { return jsonbValue(m) }
func (m *AlertMetadata) Scan(src interface{}) error  { return jsonbScan(src, m) }

func (f SubscriptionFilter) Value() (driver.Value, error) { return jsonbValue(f) }
func (f *SubscriptionFilter) Scan(src interface{}) error  { return jsonbScan(src, f) }

func (s ScheduleConfig) Value() (driver.Value, error) { return jsonbValue(s) }
func (s *ScheduleConfig) Scan(src interface{}) error  { return jsonbScan(src, s) }

// StringList stores a []string as jsonb.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(l))
}

func (l *StringList) Scan(src interface{}) error { return jsonbScan(src, l) }
