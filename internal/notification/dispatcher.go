package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"pulsewatch/internal/config"
	"pulsewatch/internal/database"
)

// Notification channels.
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelSlack   = "slack"
	ChannelWebhook = "webhook"
)

// ChannelClient delivers one notification over a concrete provider.
type ChannelClient interface {
	Send(ctx context.Context, alert *database.Alert, sub *database.AlertSubscription) error
}

// Dispatcher routes sends to the configured channel clients and applies
// per-channel rate limits. It implements the alert engine's Sender
// contract.
type Dispatcher struct {
	logger       *slog.Logger
	clients      map[string]ChannelClient
	rateLimiters map[string]*rate.Limiter
	mu           sync.RWMutex
}

// NewDispatcher builds a dispatcher from the notification configuration.
// Disabled channels get no client; sends to them fail with a recorded
// error rather than silently dropping.
func NewDispatcher(cfg config.NotificationsConfig, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		logger:       logger,
		clients:      make(map[string]ChannelClient),
		rateLimiters: make(map[string]*rate.Limiter),
	}

	if cfg.Email.Enabled {
		d.clients[ChannelEmail] = NewEmailClient(cfg.Email, logger)
		d.addLimiter(ChannelEmail, cfg.Email.RateLimit)
	}
	if cfg.SMS.Enabled {
		d.clients[ChannelSMS] = NewSMSClient(cfg.SMS, logger)
		d.addLimiter(ChannelSMS, cfg.SMS.RateLimit)
	}
	if cfg.Slack.Enabled {
		d.clients[ChannelSlack] = NewSlackClient(cfg.Slack, logger)
		d.addLimiter(ChannelSlack, cfg.Slack.RateLimit)
	}
	if cfg.Webhook.Enabled {
		d.clients[ChannelWebhook] = NewWebhookClient(cfg.Webhook, logger)
		d.addLimiter(ChannelWebhook, cfg.Webhook.RateLimit)
	}

	return d
}

func (d *Dispatcher) addLimiter(channel string, cfg config.RateLimitConfig) {
	if !cfg.Enabled {
		return
	}
	d.rateLimiters[channel] = rate.NewLimiter(
		rate.Limit(float64(cfg.RequestsPerMinute)/60),
		cfg.Burst,
	)
}

// Send delivers the alert to the subscription's recipient over channel and
// returns the delivery record. A failed or rate-limited send returns an
// error; the caller records it as a failed attempt.
func (d *Dispatcher) Send(ctx context.Context, alert *database.Alert, sub *database.AlertSubscription, channel string) (*database.NotificationRecord, error) {
	client, ok := d.clients[channel]
	if !ok {
		return nil, fmt.Errorf("channel %s not configured", channel)
	}

	d.mu.RLock()
	limiter := d.rateLimiters[channel]
	d.mu.RUnlock()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait for channel %s: %w", channel, err)
		}
	}

	if err := client.Send(ctx, alert, sub); err != nil {
		return nil, err
	}

	d.logger.Debug("Notification sent",
		"alert_id", alert.ID, "channel", channel, "recipient", sub.Recipient)
	return &database.NotificationRecord{
		AlertID:        alert.ID,
		SubscriptionID: sub.ID,
		Channel:        channel,
		Recipient:      sub.Recipient,
		Status:         "sent",
		Attempt:        1,
	}, nil
}
