package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the pulsewatch service
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Detection     DetectionConfig     `mapstructure:"detection"`
	Insights      InsightsConfig      `mapstructure:"insights"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
}

// ServerConfig contains the HTTP listener configuration
type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains the run-state store configuration
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig contains the lifecycle event publisher configuration
type KafkaConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Brokers []string     `mapstructure:"brokers"`
	Topics  TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig names the output topics for alert lifecycle events
type TopicsConfig struct {
	AlertGenerated     string `mapstructure:"alert_generated"`
	AlertAcknowledged  string `mapstructure:"alert_acknowledged"`
	AlertResolved      string `mapstructure:"alert_resolved"`
	NotificationSent   string `mapstructure:"notification_sent"`
	NotificationFailed string `mapstructure:"notification_failed"`
}

// DetectionConfig contains the window and threshold configuration for detectors
type DetectionConfig struct {
	CurrentWindowDays  int `mapstructure:"current_window_days"`
	BaselineWindowDays int `mapstructure:"baseline_window_days"`
	MinDataPoints      int `mapstructure:"min_data_points"`
	BusinessHoursStart int `mapstructure:"business_hours_start"`
	BusinessHoursEnd   int `mapstructure:"business_hours_end"`
	EntityConcurrency  int `mapstructure:"entity_concurrency"`
}

// InsightsConfig contains insight persistence configuration
type InsightsConfig struct {
	RecencyWindowDays int    `mapstructure:"recency_window_days"`
	MinSeverity       string `mapstructure:"min_severity"`
}

// AlertingConfig contains alert engine configuration
type AlertingConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	AlertTTL       time.Duration `mapstructure:"alert_ttl"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// NotificationsConfig contains channel configuration
type NotificationsConfig struct {
	Email   EmailConfig   `mapstructure:"email"`
	SMS     SMSConfig     `mapstructure:"sms"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// EmailConfig contains email channel configuration (SendGrid)
type EmailConfig struct {
	Enabled        bool            `mapstructure:"enabled"`
	SendGridAPIKey string          `mapstructure:"sendgrid_api_key"`
	FromAddress    string          `mapstructure:"from_address"`
	FromName       string          `mapstructure:"from_name"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// SMSConfig contains SMS channel configuration (Twilio)
type SMSConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	AccountSID string          `mapstructure:"account_sid"`
	AuthToken  string          `mapstructure:"auth_token"`
	FromNumber string          `mapstructure:"from_number"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// SlackConfig contains Slack channel configuration
type SlackConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	WebhookURL string          `mapstructure:"webhook_url"`
	TimeoutMs  int             `mapstructure:"timeout_ms"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// WebhookConfig contains generic webhook channel configuration
type WebhookConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	TimeoutMs  int             `mapstructure:"timeout_ms"`
	SignSecret string          `mapstructure:"sign_secret"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig contains per-channel rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// SchedulerConfig contains detection run scheduling configuration
type SchedulerConfig struct {
	DetectionSchedule string        `mapstructure:"detection_schedule"`
	ExpirySchedule    string        `mapstructure:"expiry_schedule"`
	RunCooldown       time.Duration `mapstructure:"run_cooldown"`
	OrgConcurrency    int           `mapstructure:"org_concurrency"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/pulsewatch")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PULSEWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	viper.SetDefault("server.http_port", 8086)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "pulsewatch")
	viper.SetDefault("database.username", "pulsewatch")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", "pulsewatch")

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topics.alert_generated", "pulsewatch.alert.generated")
	viper.SetDefault("kafka.topics.alert_acknowledged", "pulsewatch.alert.acknowledged")
	viper.SetDefault("kafka.topics.alert_resolved", "pulsewatch.alert.resolved")
	viper.SetDefault("kafka.topics.notification_sent", "pulsewatch.notification.sent")
	viper.SetDefault("kafka.topics.notification_failed", "pulsewatch.notification.failed")

	viper.SetDefault("detection.current_window_days", 30)
	viper.SetDefault("detection.baseline_window_days", 90)
	viper.SetDefault("detection.min_data_points", 20)
	viper.SetDefault("detection.business_hours_start", 9)
	viper.SetDefault("detection.business_hours_end", 18)
	viper.SetDefault("detection.entity_concurrency", 8)

	viper.SetDefault("insights.recency_window_days", 7)
	viper.SetDefault("insights.min_severity", "medium")

	viper.SetDefault("alerting.batch_size", 100)
	viper.SetDefault("alerting.alert_ttl", "72h")
	viper.SetDefault("alerting.send_timeout", "10s")
	viper.SetDefault("alerting.max_concurrency", 4)

	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.from_name", "PulseWatch")
	viper.SetDefault("notifications.email.rate_limit.enabled", true)
	viper.SetDefault("notifications.email.rate_limit.requests_per_minute", 60)
	viper.SetDefault("notifications.email.rate_limit.burst", 10)
	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("notifications.sms.rate_limit.enabled", true)
	viper.SetDefault("notifications.sms.rate_limit.requests_per_minute", 30)
	viper.SetDefault("notifications.sms.rate_limit.burst", 5)
	viper.SetDefault("notifications.slack.enabled", false)
	viper.SetDefault("notifications.slack.timeout_ms", 5000)
	viper.SetDefault("notifications.slack.rate_limit.enabled", true)
	viper.SetDefault("notifications.slack.rate_limit.requests_per_minute", 60)
	viper.SetDefault("notifications.slack.rate_limit.burst", 10)
	viper.SetDefault("notifications.webhook.enabled", true)
	viper.SetDefault("notifications.webhook.timeout_ms", 5000)
	viper.SetDefault("notifications.webhook.rate_limit.enabled", false)

	viper.SetDefault("scheduler.detection_schedule", "0 0 */6 * * *")
	viper.SetDefault("scheduler.expiry_schedule", "0 */15 * * * *")
	viper.SetDefault("scheduler.run_cooldown", "1h")
	viper.SetDefault("scheduler.org_concurrency", 4)
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	if c.Detection.CurrentWindowDays <= 0 {
		return fmt.Errorf("detection.current_window_days must be positive")
	}
	if c.Detection.BaselineWindowDays <= 0 {
		return fmt.Errorf("detection.baseline_window_days must be positive")
	}
	if c.Detection.BusinessHoursStart < 0 || c.Detection.BusinessHoursStart > 23 {
		return fmt.Errorf("detection.business_hours_start must be in [0,23]")
	}
	if c.Detection.BusinessHoursEnd <= c.Detection.BusinessHoursStart || c.Detection.BusinessHoursEnd > 24 {
		return fmt.Errorf("detection.business_hours_end must be in (start,24]")
	}
	if c.Insights.RecencyWindowDays <= 0 {
		return fmt.Errorf("insights.recency_window_days must be positive")
	}
	switch c.Insights.MinSeverity {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("insights.min_severity must be one of low, medium, high, critical")
	}
	if c.Alerting.SendTimeout <= 0 {
		return fmt.Errorf("alerting.send_timeout must be positive")
	}
	if c.Alerting.MaxConcurrency <= 0 {
		return fmt.Errorf("alerting.max_concurrency must be positive")
	}
	if c.Notifications.Email.Enabled && c.Notifications.Email.SendGridAPIKey == "" {
		return fmt.Errorf("notifications.email.sendgrid_api_key is required when email is enabled")
	}
	if c.Notifications.SMS.Enabled && (c.Notifications.SMS.AccountSID == "" || c.Notifications.SMS.AuthToken == "") {
		return fmt.Errorf("notifications.sms credentials are required when sms is enabled")
	}
	if c.Notifications.Slack.Enabled && c.Notifications.Slack.WebhookURL == "" {
		return fmt.Errorf("notifications.slack.webhook_url is required when slack is enabled")
	}
	return nil
}

// RedisAddr returns the host:port address for the run-state store.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
