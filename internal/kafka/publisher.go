package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"pulsewatch/internal/config"
	"pulsewatch/internal/database"
)

// Publisher emits alert lifecycle events to Kafka. Publishing is
// fire-and-forget: a broker failure is logged and never propagated into
// the alerting path.
type Publisher struct {
	config config.KafkaConfig
	logger *slog.Logger
	writer *kafkago.Writer
}

// NewPublisher creates a Kafka publisher over the configured brokers.
func NewPublisher(cfg config.KafkaConfig, logger *slog.Logger) *Publisher {
	p := &Publisher{
		config: cfg,
		logger: logger,
	}
	p.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		// Async writes report broker errors here, not from WriteMessages.
		Completion: func(messages []kafkago.Message, err error) {
			if err == nil {
				return
			}
			for _, msg := range messages {
				p.logger.Error("Failed to publish event",
					"topic", msg.Topic, "key", string(msg.Key), "error", err)
			}
		},
	}
	return p
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

type alertEvent struct {
	AlertID        string    `json:"alert_id"`
	OrganizationID string    `json:"organization_id"`
	InsightID      string    `json:"insight_id"`
	Type           string    `json:"type"`
	Severity       string    `json:"severity"`
	Status         string    `json:"status"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type notificationEvent struct {
	AlertID        string    `json:"alert_id"`
	SubscriptionID string    `json:"subscription_id"`
	Channel        string    `json:"channel"`
	Recipient      string    `json:"recipient"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (p *Publisher) publish(ctx context.Context, topic, key string, payload interface{}) {
	value, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal event", "topic", topic, "error", err)
		return
	}

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error("Failed to publish event", "topic", topic, "key", key, "error", err)
	}
}

func (p *Publisher) alertPayload(alert *database.Alert) alertEvent {
	return alertEvent{
		AlertID:        alert.ID,
		OrganizationID: alert.OrganizationID,
		InsightID:      alert.InsightID,
		Type:           alert.Type,
		Severity:       alert.Severity,
		Status:         alert.Status,
		EntityType:     alert.EntityType,
		EntityID:       alert.EntityID,
		OccurredAt:     time.Now().UTC(),
	}
}

// AlertGenerated publishes a new-alert event.
func (p *Publisher) AlertGenerated(ctx context.Context, alert *database.Alert) {
	p.publish(ctx, p.config.Topics.AlertGenerated, alert.OrganizationID, p.alertPayload(alert))
}

// AlertAcknowledged publishes an acknowledgment event.
func (p *Publisher) AlertAcknowledged(ctx context.Context, alert *database.Alert) {
	p.publish(ctx, p.config.Topics.AlertAcknowledged, alert.OrganizationID, p.alertPayload(alert))
}

// AlertResolved publishes a resolution event.
func (p *Publisher) AlertResolved(ctx context.Context, alert *database.Alert) {
	p.publish(ctx, p.config.Topics.AlertResolved, alert.OrganizationID, p.alertPayload(alert))
}

func (p *Publisher) notificationPayload(record *database.NotificationRecord) notificationEvent {
	ev := notificationEvent{
		AlertID:        record.AlertID,
		SubscriptionID: record.SubscriptionID,
		Channel:        record.Channel,
		Recipient:      record.Recipient,
		Status:         record.Status,
		OccurredAt:     time.Now().UTC(),
	}
	if record.Error != nil {
		ev.Error = *record.Error
	}
	return ev
}

// NotificationSent publishes a successful delivery attempt.
func (p *Publisher) NotificationSent(ctx context.Context, record *database.NotificationRecord) {
	p.publish(ctx, p.config.Topics.NotificationSent, record.AlertID, p.notificationPayload(record))
}

// NotificationFailed publishes a failed delivery attempt.
func (p *Publisher) NotificationFailed(ctx context.Context, record *database.NotificationRecord) {
	p.publish(ctx, p.config.Topics.NotificationFailed, record.AlertID, p.notificationPayload(record))
}
