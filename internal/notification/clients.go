package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"pulsewatch/internal/config"
	"pulsewatch/internal/database"
)

// EmailClient sends alerts by email via SendGrid.
type EmailClient struct {
	config config.EmailConfig
	logger *slog.Logger
	client *sendgrid.Client
}

// NewEmailClient creates a new email client
func NewEmailClient(cfg config.EmailConfig, logger *slog.Logger) *EmailClient {
	return &EmailClient{
		config: cfg,
		logger: logger,
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
	}
}

// Send delivers the alert to the subscription recipient's address.
func (c *EmailClient) Send(ctx context.Context, alert *database.Alert, sub *database.AlertSubscription) error {
	from := mail.NewEmail(c.config.FromName, c.config.FromAddress)
	to := mail.NewEmail("", sub.Recipient)
	subject := fmt.Sprintf("[%s] %s", alert.Severity, alert.Title)

	html := fmt.Sprintf("<h2>%s</h2><p>%s</p><p><strong>Severity:</strong> %s<br><strong>Entity:</strong> %s %s</p>",
		alert.Title, alert.Message, alert.Severity, alert.EntityType, alert.EntityID)
	message := mail.NewSingleEmail(from, subject, to, alert.Message, html)

	response, err := c.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("email provider returned status %d", response.StatusCode)
	}

	return nil
}

// SMSClient sends alerts by SMS via Twilio.
type SMSClient struct {
	config config.SMSConfig
	logger *slog.Logger
	client *twilio.RestClient
}

// NewSMSClient creates a new SMS client
func NewSMSClient(cfg config.SMSConfig, logger *slog.Logger) *SMSClient {
	return &SMSClient{
		config: cfg,
		logger: logger,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
	}
}

// Send delivers a compact alert summary to the recipient's phone number.
func (c *SMSClient) Send(ctx context.Context, alert *database.Alert, sub *database.AlertSubscription) error {
	body := fmt.Sprintf("ALERT [%s] %s — %s %s", alert.Severity, alert.Title, alert.EntityType, alert.EntityID)
	if len(body) > 300 {
		body = body[:300]
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(sub.Recipient)
	params.SetFrom(c.config.FromNumber)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}

	return nil
}

// SlackClient posts alerts to a Slack incoming webhook.
type SlackClient struct {
	config config.SlackConfig
	logger *slog.Logger
	client *http.Client
}

// NewSlackClient creates a new Slack client
func NewSlackClient(cfg config.SlackConfig, logger *slog.Logger) *SlackClient {
	return &SlackClient{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
	}
}

type slackMessage struct {
	Channel string       `json:"channel,omitempty"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Send posts the alert to the configured webhook, addressed at the
// subscription recipient channel.
func (c *SlackClient) Send(ctx context.Context, alert *database.Alert, sub *database.AlertSubscription) error {
	payload := slackMessage{
		Channel: sub.Recipient,
		Text:    fmt.Sprintf("[%s] %s", alert.Severity, alert.Title),
		Blocks: []slackBlock{
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", alert.Title, alert.Message)},
			},
			{
				Type: "section",
				Fields: []slackText{
					{Type: "mrkdwn", Text: fmt.Sprintf("*Severity:*\n%s", alert.Severity)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Entity:*\n%s %s", alert.EntityType, alert.EntityID)},
				},
			},
		},
	}

	return c.post(ctx, c.config.WebhookURL, payload)
}

func (c *SlackClient) post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to Slack: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("Slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// WebhookClient POSTs the alert as JSON to the subscription recipient URL.
type WebhookClient struct {
	config config.WebhookConfig
	logger *slog.Logger
	client *http.Client
}

// NewWebhookClient creates a new webhook client
func NewWebhookClient(cfg config.WebhookConfig, logger *slog.Logger) *WebhookClient {
	return &WebhookClient{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
	}
}

type webhookPayload struct {
	AlertID    string    `json:"alert_id"`
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	ActionURL  string    `json:"action_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// Send posts the alert to the recipient URL.
func (c *WebhookClient) Send(ctx context.Context, alert *database.Alert, sub *database.AlertSubscription) error {
	payload := webhookPayload{
		AlertID:    alert.ID,
		Type:       alert.Type,
		Severity:   alert.Severity,
		Title:      alert.Title,
		Message:    alert.Message,
		EntityType: alert.EntityType,
		EntityID:   alert.EntityID,
		ActionURL:  alert.ActionURL,
		CreatedAt:  alert.CreatedAt,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.SignSecret != "" {
		mac := hmac.New(sha256.New, []byte(c.config.SignSecret))
		mac.Write(body)
		req.Header.Set("X-PulseWatch-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
