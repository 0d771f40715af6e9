package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pulsewatch/internal/database"
	"pulsewatch/internal/scheduler"
)

// Collector manages Prometheus metrics for the detection pipeline
type Collector struct {
	logger    *slog.Logger
	alertRepo *database.AlertRepository

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	entitiesTotal   *prometheus.CounterVec
	highRiskTotal   prometheus.Counter
	insightsTotal   prometheus.Counter
	alertsGenerated prometheus.Counter
	alertsExpired   prometheus.Counter
	runFailures     prometheus.Counter

	alertsActive     prometheus.Gauge
	alertsBySeverity *prometheus.GaugeVec

	collectionInterval time.Duration
}

// NewCollector creates a new metrics collector
func NewCollector(alertRepo *database.AlertRepository, logger *slog.Logger) *Collector {
	return &Collector{
		logger:             logger,
		alertRepo:          alertRepo,
		collectionInterval: 30 * time.Second,
	}
}

// RegisterMetrics registers all Prometheus metrics
func (c *Collector) RegisterMetrics() {
	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewatch_detection_runs_total",
			Help: "Total number of detection runs by outcome",
		},
		[]string{"outcome"},
	)

	c.runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulsewatch_detection_run_duration_seconds",
			Help:    "Duration of detection runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to 204s
		},
	)

	c.entitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewatch_entities_total",
			Help: "Entities seen by detection runs, by disposition",
		},
		[]string{"disposition"},
	)

	c.highRiskTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsewatch_high_risk_findings_total",
			Help: "Total number of findings scoring at or above the high-risk cut",
		},
	)

	c.insightsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsewatch_insights_recorded_total",
			Help: "Total number of insights stored or refreshed",
		},
	)

	c.alertsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsewatch_alerts_generated_total",
			Help: "Total number of alerts generated from insights",
		},
	)

	c.alertsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsewatch_alerts_expired_total",
			Help: "Total number of alerts expired by the sweep",
		},
	)

	c.runFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsewatch_run_failures_total",
			Help: "Total number of absorbed failures inside detection runs",
		},
	)

	c.alertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsewatch_alerts_active",
			Help: "Number of currently non-terminal alerts",
		},
	)

	c.alertsBySeverity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulsewatch_alerts_by_severity",
			Help: "Non-terminal alerts broken down by severity",
		},
		[]string{"severity"},
	)
}

// RunCompleted records the outcome of a finished detection run.
func (c *Collector) RunCompleted(summary *scheduler.RunSummary) {
	c.runsTotal.WithLabelValues("completed").Inc()
	c.runDuration.Observe(float64(summary.DurationMs) / 1000)
	c.entitiesTotal.WithLabelValues("analyzed").Add(float64(summary.Analyzed))
	c.entitiesTotal.WithLabelValues("skipped").Add(float64(summary.Skipped))
	c.highRiskTotal.Add(float64(summary.HighRiskCount))
	c.insightsTotal.Add(float64(summary.InsightsStored))
	c.alertsGenerated.Add(float64(summary.AlertsGenerated))
	c.runFailures.Add(float64(summary.Failures))
}

// RunSkipped records a run that never started.
func (c *Collector) RunSkipped(orgID, reason string) {
	c.runsTotal.WithLabelValues("skipped_" + reason).Inc()
}

// AlertsExpired records the result of an expiry sweep.
func (c *Collector) AlertsExpired(count int) {
	c.alertsExpired.Add(float64(count))
}

// Start begins the periodic gauge collection loop
func (c *Collector) Start(ctx context.Context) error {
	c.logger.Info("Starting metrics collector")

	ticker := time.NewTicker(c.collectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stopping metrics collector")
			return ctx.Err()
		case <-ticker.C:
			c.collectAlertGauges(ctx)
		}
	}
}

func (c *Collector) collectAlertGauges(ctx context.Context) {
	if c.alertRepo == nil {
		return
	}

	counts, err := c.alertRepo.CountActiveBySeverity(ctx)
	if err != nil {
		c.logger.Error("Failed to collect alert metrics", "error", err)
		return
	}

	total := 0
	for _, severity := range []string{"info", "warning", "error", "critical"} {
		count := counts[severity]
		total += count
		c.alertsBySeverity.WithLabelValues(severity).Set(float64(count))
	}
	c.alertsActive.Set(float64(total))
}

var _ scheduler.Observer = (*Collector)(nil)
