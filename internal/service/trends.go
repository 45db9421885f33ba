package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/healthcompanion/processor/config"
	"github.com/healthcompanion/processor/internal/core"
	"github.com/healthcompanion/processor/internal/domain/model"
	"github.com/healthcompanion/processor/internal/domain/schedule"
	"github.com/healthcompanion/processor/internal/observability/metrics"
	"github.com/healthcompanion/processor/internal/observability/statsd"
)

// TrendServiceOptions groups dependencies for TrendService.
type TrendServiceOptions struct {
	WorkItems core.WorkItemRepository // Required: work item repository
	Insights  core.InsightRepository  // Required: insight repository
	Gateway   core.InferenceGateway   // Required: completion gateway
	Config    config.TrendsConfig     // Required: trend configuration
	Logger    *slog.Logger            // Optional: structured logger
	Metrics   statsd.Sink             // Optional: metrics sink (StatsD-compatible)
	Now       func() time.Time        // Optional: clock override for tests
}

// TrendService generates per-user weekly longitudinal trend analyses.
// Users with too little food history inside the data window are skipped:
// a trend over a handful of meals is noise, not signal.
type TrendService struct {
	workItems core.WorkItemRepository
	insights  core.InsightRepository
	gateway   core.InferenceGateway
	config    config.TrendsConfig
	trigger   schedule.Trigger
	logger    *slog.Logger
	metrics   statsd.Sink
	now       func() time.Time
}

// NewTrendService constructs a new TrendService.
func NewTrendService(opts TrendServiceOptions) (*TrendService, error) {
	if opts.WorkItems == nil {
		return nil, errors.New("WorkItemRepository is required")
	}
	if opts.Insights == nil {
		return nil, errors.New("InsightRepository is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("InferenceGateway is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "trend_service")
		logger.Debug("TrendService initialized",
			"weekday", opts.Config.Weekday,
			"hour", opts.Config.Hour,
			"min_food_items", opts.Config.MinFoodItems,
		)
	}

	return &TrendService{
		workItems: opts.WorkItems,
		insights:  opts.Insights,
		gateway:   opts.Gateway,
		config:    opts.Config,
		trigger:   schedule.Weekly(opts.Config.Weekday, opts.Config.Hour),
		logger:    logger,
		metrics:   opts.Metrics,
		now:       now,
	}, nil
}

// Run starts the trend loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *TrendService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting trend service",
			"weekday", s.config.Weekday, "hour", s.config.Hour)
	}

	waitWithJitter(ctx, s.logger, s.config.PollInterval)

	if err := s.checkTrigger(ctx); err != nil {
		logPassError(s.logger, err, "initial trend check")
	}

	return tickLoop(ctx, s.logger, s.config.PollInterval, s.checkTrigger)
}

// checkTrigger evaluates the weekly trigger and runs the analysis when it
// fires. The trigger fires at most once per week.
func (s *TrendService) checkTrigger(ctx context.Context) error {
	now := s.now().UTC()
	fired, period := s.trigger.Fire(now)
	if !fired {
		return nil
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "weekly trend analysis starting", "period", period)
	}
	return s.analyzeAll(ctx, now, period)
}

func (s *TrendService) analyzeAll(ctx context.Context, now time.Time, period string) error {
	start := time.Now()

	users, err := s.workItems.ActiveUserIDs(ctx, now.Add(-s.config.ActiveWindow))
	if err != nil {
		s.emitPass(metrics.ResultError, time.Since(start), err)
		return fmt.Errorf("list active users: %w", err)
	}

	var (
		analyzed int
		skipped  int
		errs     []error
	)
	for _, userID := range users {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := s.analyzeUser(ctx, userID, now, period)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			metrics.EmitItemOutcome(s.metrics, "trends.user", "trends", metrics.ResultError)
			continue
		}
		if ok {
			analyzed++
			metrics.EmitItemOutcome(s.metrics, "trends.user", "trends", metrics.ResultSuccess)
		} else {
			skipped++
			metrics.EmitItemOutcome(s.metrics, "trends.user", "trends", metrics.ResultNoop)
		}
	}

	joined := errors.Join(errs...)
	result := metrics.ResultSuccess
	switch {
	case joined != nil:
		result = metrics.ResultError
	case analyzed == 0:
		result = metrics.ResultNoop
	}
	s.emitPass(result, time.Since(start), suppressContextCancellation(joined))

	if s.logger != nil {
		s.logger.InfoContext(ctx, "weekly trend analysis finished",
			"period", period,
			"active_users", len(users),
			"analyzed", analyzed,
			"skipped", skipped,
			"errors", len(errs),
		)
	}

	if joined != nil && isContextCancellation(joined) {
		return context.Canceled
	}
	if joined != nil {
		return fmt.Errorf("trend analysis: %w", joined)
	}
	return nil
}

const trendAnalysisSystem = `You are a longitudinal health analysis service. Given months of a user's
health history, respond only with a JSON object:
{"trend_summary": "...",
 "nutrition_patterns": ["..."],
 "improvements": ["..."],
 "concerns": ["..."],
 "recommendations": ["..."]}`

// analyzeUser produces one weekly trend analysis. Returns false without
// error when the user has too little food history to analyze.
func (s *TrendService) analyzeUser(
	ctx context.Context,
	userID string,
	now time.Time,
	period string,
) (bool, error) {
	rangeStart := now.Add(-s.config.DataWindow)

	foodCount, err := s.workItems.CountUserItemsSince(ctx, core.CountUserItemsParams{
		UserID: userID,
		Kind:   model.KindFood,
		Since:  rangeStart,
	})
	if err != nil {
		return false, fmt.Errorf("count food items: %w", err)
	}
	if foodCount < s.config.MinFoodItems {
		return false, nil
	}

	items, err := s.workItems.ListUserItemsSince(ctx, userID, rangeStart)
	if err != nil {
		return false, fmt.Errorf("list user history: %w", err)
	}
	if len(items) == 0 {
		return false, nil
	}

	content, err := s.gateway.Complete(ctx, core.CompletionRequest{
		System:    trendAnalysisSystem,
		Prompt:    "Analyze the long-term trends in this history:\n\n" + summarizeItems(items),
		MaxTokens: 1500,
	})
	if err != nil {
		return false, fmt.Errorf("trend completion: %w", err)
	}

	rec := &model.InsightRecord{
		UserID:      userID,
		Type:        model.InsightTrend,
		Period:      period,
		GeneratedAt: now,
		RangeStart:  rangeStart,
		RangeEnd:    now,
		DataPoints:  len(items),
		Content:     content,
	}
	if err := s.insights.Upsert(ctx, rec); err != nil {
		return false, fmt.Errorf("store trend: %w", err)
	}
	return true, nil
}

func (s *TrendService) emitPass(result string, elapsed time.Duration, err error) {
	metrics.EmitLoopPass(s.metrics, metrics.LoopMetric{
		Service:  "trends",
		Result:   result,
		Duration: elapsed,
		Err:      err,
	})
}
