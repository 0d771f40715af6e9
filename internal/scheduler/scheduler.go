package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pulsewatch/internal/alerting"
	"pulsewatch/internal/config"
	"pulsewatch/internal/runstate"
)

// OrgLister enumerates organizations with recent signal data.
type OrgLister interface {
	ListOrganizations(ctx context.Context, from, to time.Time) ([]string, error)
}

// RunState coordinates runs across scheduler instances: in-flight markers
// and last-run records for cooldown checks.
type RunState interface {
	TryAcquire(ctx context.Context, orgID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, orgID string) error
	InCooldown(ctx context.Context, orgID string, cooldown time.Duration) (bool, error)
	RecordRun(ctx context.Context, record *runstate.RunRecord) error
}

// Observer receives run outcomes for metrics export. Implementations must
// not block.
type Observer interface {
	RunCompleted(summary *RunSummary)
	RunSkipped(orgID, reason string)
	AlertsExpired(count int)
}

// Scheduler drives periodic detection runs and the alert expiry sweep. Each
// cron firing enumerates active organizations and runs detection for each,
// bounded by OrgConcurrency and guarded by the shared run state.
type Scheduler struct {
	cfg      config.SchedulerConfig
	detect   config.DetectionConfig
	runner   *Runner
	engine   *alerting.Engine
	orgs     OrgLister
	state    RunState
	observer Observer
	logger   *slog.Logger

	cron     *cron.Cron
	stopOnce sync.Once
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewScheduler creates the scheduler. observer may be nil.
func NewScheduler(
	cfg config.SchedulerConfig,
	detect config.DetectionConfig,
	runner *Runner,
	engine *alerting.Engine,
	orgs OrgLister,
	state RunState,
	observer Observer,
	logger *slog.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		detect:   detect,
		runner:   runner,
		engine:   engine,
		orgs:     orgs,
		state:    state,
		observer: observer,
		logger:   logger,
		cron:     cron.New(cron.WithSeconds()),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Start registers the cron entries and begins scheduling.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.DetectionSchedule, s.detectionTask); err != nil {
		return fmt.Errorf("failed to schedule detection runs: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ExpirySchedule, s.expiryTask); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		"detection_schedule", s.cfg.DetectionSchedule,
		"expiry_schedule", s.cfg.ExpirySchedule,
		"run_cooldown", s.cfg.RunCooldown.String())
	return nil
}

// Stop halts scheduling, cancels in-flight runs, and waits for them to
// finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		ctx := s.cron.Stop()
		s.cancel()
		<-ctx.Done()
		s.wg.Wait()
		s.logger.Info("Scheduler stopped")
	})
}

// RunNow triggers an immediate detection sweep outside the cron schedule,
// honoring the same cooldown and in-flight guards.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.sweep(ctx)
}

func (s *Scheduler) detectionTask() {
	s.wg.Add(1)
	defer s.wg.Done()
	s.sweep(s.baseCtx)
}

// sweep runs detection for every organization with recent events. Per-org
// failures are logged and skipped; the sweep itself never fails.
func (s *Scheduler) sweep(ctx context.Context) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -s.detect.CurrentWindowDays)

	orgIDs, err := s.orgs.ListOrganizations(ctx, from, now)
	if err != nil {
		s.logger.Error("Failed to enumerate organizations", "error", err)
		return
	}
	if len(orgIDs) == 0 {
		return
	}
	s.logger.Info("Detection sweep starting", "organizations", len(orgIDs))

	concurrency := s.cfg.OrgConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, orgID := range orgIDs {
		if ctx.Err() != nil {
			break
		}
		orgID := orgID
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.runOrganization(ctx, orgID)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) runOrganization(ctx context.Context, orgID string) {
	cooling, err := s.state.InCooldown(ctx, orgID, s.cfg.RunCooldown)
	if err != nil {
		s.logger.Error("Failed to check run cooldown", "org_id", orgID, "error", err)
		return
	}
	if cooling {
		s.logger.Debug("Organization in run cooldown, skipping", "org_id", orgID)
		if s.observer != nil {
			s.observer.RunSkipped(orgID, "cooldown")
		}
		return
	}

	// The marker TTL bounds how long a crashed runner can block the org.
	acquired, err := s.state.TryAcquire(ctx, orgID, 2*time.Hour)
	if err != nil {
		s.logger.Error("Failed to acquire run marker", "org_id", orgID, "error", err)
		return
	}
	if !acquired {
		s.logger.Debug("Run already in flight, skipping", "org_id", orgID)
		if s.observer != nil {
			s.observer.RunSkipped(orgID, "in_flight")
		}
		return
	}
	defer func() {
		if err := s.state.Release(ctx, orgID); err != nil {
			s.logger.Error("Failed to release run marker", "org_id", orgID, "error", err)
		}
	}()

	started := time.Now().UTC()
	summary := s.runner.RunDetection(ctx, orgID, RunOptions{
		OnProgress: func(family string, completed, total int) {
			s.logger.Debug("Detector family finished",
				"org_id", orgID, "family", family,
				"completed", completed, "total", total)
		},
	})

	record := &runstate.RunRecord{
		OrganizationID:  orgID,
		StartedAt:       started,
		FinishedAt:      time.Now().UTC(),
		Analyzed:        summary.Analyzed,
		HighRiskCount:   summary.HighRiskCount,
		AlertsGenerated: summary.AlertsGenerated,
		DurationMs:      summary.DurationMs,
	}
	if err := s.state.RecordRun(ctx, record); err != nil {
		s.logger.Error("Failed to record run", "org_id", orgID, "error", err)
	}
	if s.observer != nil {
		s.observer.RunCompleted(summary)
	}
}

func (s *Scheduler) expiryTask() {
	s.wg.Add(1)
	defer s.wg.Done()

	expired, err := s.engine.ExpireOverdue(s.baseCtx)
	if err != nil {
		s.logger.Error("Alert expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Info("Expired overdue alerts", "count", expired)
		if s.observer != nil {
			s.observer.AlertsExpired(expired)
		}
	}
}

var _ RunState = (*runstate.RedisStore)(nil)
