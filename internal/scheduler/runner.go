package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pulsewatch/internal/alerting"
	"pulsewatch/internal/config"
	"pulsewatch/internal/database"
	"pulsewatch/internal/detection"
	"pulsewatch/internal/insight"
)

// Entity identifies one subject of analysis inside an organization.
type Entity struct {
	Type string // person, team, process
	ID   string
}

// ActorLister enumerates the entities with signal data for an organization.
type ActorLister interface {
	ListActors(ctx context.Context, orgID string, from, to time.Time) ([]string, error)
}

// RunSummary reports the outcome of one detection run. A run always
// completes with a summary; total failure shows up as counts, never as an
// error from RunDetection.
type RunSummary struct {
	OrganizationID  string
	Analyzed        int
	Skipped         int
	HighRiskCount   int
	InsightsStored  int
	AlertsGenerated int
	Failures        int
	DurationMs      int64
}

// RunOptions tunes one detection run.
type RunOptions struct {
	// Scope restricts the run to the given entities. Empty means every
	// actor with events in the current window, analyzed as a person.
	Scope []Entity
	// OnProgress, when set, is called once per detector family as the
	// family finishes its pass over the organization.
	OnProgress func(family string, completed, total int)
}

// Runner executes detection runs: window building, the three detector
// families, aggregation, insight upsert, and alert creation plus dispatch.
type Runner struct {
	cfg       config.DetectionConfig
	windows   *detection.WindowBuilder
	detectors []*detection.Detector
	upserter  *insight.Upserter
	engine    *alerting.Engine
	actors    ActorLister
	logger    *slog.Logger
}

// NewRunner creates a detection runner.
func NewRunner(
	cfg config.DetectionConfig,
	windows *detection.WindowBuilder,
	detectors []*detection.Detector,
	upserter *insight.Upserter,
	engine *alerting.Engine,
	actors ActorLister,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		cfg:       cfg,
		windows:   windows,
		detectors: detectors,
		upserter:  upserter,
		engine:    engine,
		actors:    actors,
		logger:    logger,
	}
}

// entityWindows holds the shared window pair for one entity. The three
// families all read from the same pair, so windows are built once.
type entityWindows struct {
	entity   Entity
	current  *detection.MetricWindow
	baseline *detection.MetricWindow
}

// RunDetection analyzes every in-scope entity for the organization and
// returns a summary. Errors inside the run are absorbed into the summary's
// failure counts; cancellation stops further processing without corrupting
// what was already written.
func (r *Runner) RunDetection(ctx context.Context, orgID string, opts RunOptions) *RunSummary {
	started := time.Now()
	summary := &RunSummary{OrganizationID: orgID}
	defer func() {
		summary.DurationMs = time.Since(started).Milliseconds()
	}()

	now := time.Now().UTC()
	currentFrom := now.AddDate(0, 0, -r.cfg.CurrentWindowDays)
	baselineFrom := currentFrom.AddDate(0, 0, -r.cfg.BaselineWindowDays)

	scope := opts.Scope
	if len(scope) == 0 {
		actors, err := r.actors.ListActors(ctx, orgID, currentFrom, now)
		if err != nil {
			r.logger.Error("Failed to enumerate entities", "org_id", orgID, "error", err)
			summary.Failures++
			return summary
		}
		for _, actor := range actors {
			scope = append(scope, Entity{Type: "person", ID: actor})
		}
	}

	// Build the window pair for each entity once; all three families share
	// it. Entities without enough current data are skipped outright, not
	// scored at zero.
	windows := r.buildWindows(ctx, orgID, scope, baselineFrom, currentFrom, now, summary)
	if len(windows) == 0 {
		return summary
	}

	// The three families are independent; each gets its own pass and its
	// own failure domain. One family blowing up must not take down the
	// others or the run.
	var wg sync.WaitGroup
	results := make([][]familyResult, len(r.detectors))
	var completed int
	var progressMu sync.Mutex

	for i, det := range r.detectors {
		i, det := i, det
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("Detector family panicked",
						"org_id", orgID, "family", det.Family, "panic", p)
					results[i] = nil
				}
				progressMu.Lock()
				completed++
				done := completed
				progressMu.Unlock()
				if opts.OnProgress != nil {
					opts.OnProgress(det.Family, done, len(r.detectors))
				}
			}()
			results[i] = r.runFamily(ctx, orgID, det, windows)
		}()
	}
	wg.Wait()

	summary.Analyzed = len(windows)
	for _, familyResults := range results {
		for _, res := range familyResults {
			if res.err != nil {
				summary.Failures++
				continue
			}
			if res.stored {
				summary.InsightsStored++
			}
			if res.highRisk {
				summary.HighRiskCount++
			}
			if res.alerted {
				summary.AlertsGenerated++
			}
		}
	}

	// Dispatch whatever became pending, unless the run was cancelled.
	if ctx.Err() == nil {
		if _, err := r.engine.ProcessPendingAlerts(ctx, orgID); err != nil {
			r.logger.Error("Failed to process pending alerts", "org_id", orgID, "error", err)
			summary.Failures++
		}
	}

	r.logger.Info("Detection run finished",
		"org_id", orgID,
		"analyzed", summary.Analyzed,
		"skipped", summary.Skipped,
		"high_risk", summary.HighRiskCount,
		"insights", summary.InsightsStored,
		"alerts", summary.AlertsGenerated,
		"failures", summary.Failures,
		"duration_ms", time.Since(started).Milliseconds())
	return summary
}

func (r *Runner) buildWindows(ctx context.Context, orgID string, scope []Entity, baselineFrom, currentFrom, now time.Time, summary *RunSummary) []entityWindows {
	concurrency := r.cfg.EntityConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, concurrency)
		windows []entityWindows
	)

	for _, entity := range scope {
		if ctx.Err() != nil {
			break
		}
		entity := entity
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			current, err := r.windows.Build(ctx, orgID, entity.ID, currentFrom, now)
			if err != nil {
				r.logger.Error("Failed to build current window",
					"org_id", orgID, "entity_id", entity.ID, "error", err)
				mu.Lock()
				summary.Failures++
				mu.Unlock()
				return
			}
			if current.TotalEvents < r.cfg.MinDataPoints {
				// Insufficient data is a skip, not a zero-risk result.
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				return
			}
			baseline, err := r.windows.Build(ctx, orgID, entity.ID, baselineFrom, currentFrom)
			if err != nil {
				r.logger.Error("Failed to build baseline window",
					"org_id", orgID, "entity_id", entity.ID, "error", err)
				mu.Lock()
				summary.Failures++
				mu.Unlock()
				return
			}

			mu.Lock()
			windows = append(windows, entityWindows{entity: entity, current: current, baseline: baseline})
			mu.Unlock()
		}()
	}
	wg.Wait()

	return windows
}

type familyResult struct {
	stored   bool
	highRisk bool
	alerted  bool
	err      error
}

// runFamily evaluates one detector family across every entity and persists
// qualifying findings. Per-entity persistence failures drop that entity's
// result but never abort the pass.
func (r *Runner) runFamily(ctx context.Context, orgID string, det *detection.Detector, windows []entityWindows) []familyResult {
	results := make([]familyResult, 0, len(windows))

	for _, w := range windows {
		if ctx.Err() != nil {
			break
		}

		indicators := det.Detect(w.current, w.baseline)
		if len(indicators) == 0 {
			continue
		}

		score := detection.Aggregate(indicators)
		levels := detection.PeopleRiskLevels
		if det.Family == detection.FamilyDegradation {
			levels = detection.ProcessHealthLevels
		}
		assessment := &detection.RiskAssessment{
			EntityID:           w.entity.ID,
			EntityType:         w.entity.Type,
			OrganizationID:     orgID,
			OverallScore:       score,
			RiskLevel:          levels.LevelForScore(score),
			Indicators:         indicators,
			RecommendedActions: detection.ActionsFor(indicators),
			WindowFrom:         w.current.From,
			WindowTo:           w.current.To,
			Confidence:         detection.ConfidenceFor(w.current.TotalEvents, r.cfg.MinDataPoints, len(indicators)),
			AnalyzedAt:         time.Now().UTC(),
		}

		res := familyResult{highRisk: score >= 50}

		stored, ok, err := r.upserter.Record(ctx, det.Family, assessment)
		if err != nil {
			r.logger.Error("Failed to record insight",
				"org_id", orgID, "entity_id", w.entity.ID, "family", det.Family, "error", err)
			res.err = fmt.Errorf("insight upsert: %w", err)
			results = append(results, res)
			continue
		}
		res.stored = ok

		if ok {
			if _, err := r.engine.CreateFromInsight(ctx, stored); err != nil {
				r.logger.Error("Failed to create alert from insight",
					"org_id", orgID, "insight_id", stored.ID, "error", err)
				res.err = fmt.Errorf("alert create: %w", err)
				results = append(results, res)
				continue
			}
			res.alerted = true
		}

		results = append(results, res)
	}

	return results
}

var _ ActorLister = (*database.EventRepository)(nil)
