package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/healthcompanion/processor/config"
	"github.com/healthcompanion/processor/internal/core"
	"github.com/healthcompanion/processor/internal/domain/model"
	"github.com/healthcompanion/processor/internal/domain/schedule"
	"github.com/healthcompanion/processor/internal/observability/metrics"
	"github.com/healthcompanion/processor/internal/observability/statsd"
)

// InsightServiceOptions groups dependencies for InsightService.
type InsightServiceOptions struct {
	WorkItems core.WorkItemRepository // Required: work item repository
	Insights  core.InsightRepository  // Required: insight repository
	Gateway   core.InferenceGateway   // Required: completion gateway
	Config    config.InsightsConfig   // Required: insight configuration
	Logger    *slog.Logger            // Optional: structured logger
	Metrics   statsd.Sink             // Optional: metrics sink (StatsD-compatible)
	Now       func() time.Time        // Optional: clock override for tests
}

// InsightService generates per-user daily health insights. The loop polls
// a daily trigger; when the configured slot is reached it summarizes the
// recent history of every active user through the completion gateway and
// stores one insight per user per day.
type InsightService struct {
	workItems core.WorkItemRepository
	insights  core.InsightRepository
	gateway   core.InferenceGateway
	config    config.InsightsConfig
	trigger   schedule.Trigger
	logger    *slog.Logger
	metrics   statsd.Sink
	now       func() time.Time
}

// NewInsightService constructs a new InsightService.
func NewInsightService(opts InsightServiceOptions) (*InsightService, error) {
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
		logger = opts.Logger.With("component", "insight_service")
		logger.Debug("InsightService initialized",
			"hour", opts.Config.Hour,
			"minute", opts.Config.Minute,
			"data_window", opts.Config.DataWindow,
		)
	}

	return &InsightService{
		workItems: opts.WorkItems,
		insights:  opts.Insights,
		gateway:   opts.Gateway,
		config:    opts.Config,
		trigger:   schedule.Daily(opts.Config.Hour, opts.Config.Minute),
		logger:    logger,
		metrics:   opts.Metrics,
		now:       now,
	}, nil
}

// Run starts the insight loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *InsightService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting insight service",
			"hour", s.config.Hour, "minute", s.config.Minute)
	}

	waitWithJitter(ctx, s.logger, s.config.PollInterval)

	if err := s.checkTrigger(ctx); err != nil {
		logPassError(s.logger, err, "initial insight check")
	}

	return tickLoop(ctx, s.logger, s.config.PollInterval, s.checkTrigger)
}

// checkTrigger evaluates the daily trigger and generates insights when it
// fires. The trigger fires at most once per day even if generation takes
// longer than a poll interval.
func (s *InsightService) checkTrigger(ctx context.Context) error {
	now := s.now().UTC()
	fired, period := s.trigger.Fire(now)
	if !fired {
		return nil
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "daily insight generation starting", "period", period)
	}
	return s.generateAll(ctx, now, period)
}

func (s *InsightService) generateAll(ctx context.Context, now time.Time, period string) error {
	start := time.Now()

	users, err := s.workItems.ActiveUserIDs(ctx, now.Add(-s.config.ActiveWindow))
	if err != nil {
		s.emitPass(metrics.ResultError, time.Since(start), err)
		return fmt.Errorf("list active users: %w", err)
	}

	var (
		generated int
		errs      []error
	)
	for _, userID := range users {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := s.generateForUser(ctx, userID, now, period)
		if err != nil {
			// Generation for one user must not block the rest.
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			metrics.EmitItemOutcome(s.metrics, "insights.user", "insights", metrics.ResultError)
			continue
		}
		if ok {
			generated++
			metrics.EmitItemOutcome(s.metrics, "insights.user", "insights", metrics.ResultSuccess)
		}
	}

	joined := errors.Join(errs...)
	result := metrics.ResultSuccess
	switch {
	case joined != nil:
		result = metrics.ResultError
	case generated == 0:
		result = metrics.ResultNoop
	}
	s.emitPass(result, time.Since(start), suppressContextCancellation(joined))

	if s.logger != nil {
		s.logger.InfoContext(ctx, "daily insight generation finished",
			"period", period,
			"active_users", len(users),
			"generated", generated,
			"errors", len(errs),
		)
	}

	if joined != nil && isContextCancellation(joined) {
		return context.Canceled
	}
	if joined != nil {
		return fmt.Errorf("insight generation: %w", joined)
	}
	return nil
}

const dailyInsightSystem = `You are a health insight service. Given a user's recent health history,
respond only with a JSON object:
{"nutritional_trends": ["..."],
 "health_status": "...",
 "daily_recommendations": ["..."],
 "long_term_goals": ["..."],
 "risk_factors": ["..."]}`

// generateForUser produces one daily insight. Users with no history inside
// the data window are skipped without error.
func (s *InsightService) generateForUser(
	ctx context.Context,
	userID string,
	now time.Time,
	period string,
) (bool, error) {
	rangeStart := now.Add(-s.config.DataWindow)
	items, err := s.workItems.ListUserItemsSince(ctx, userID, rangeStart)
	if err != nil {
		return false, fmt.Errorf("list user history: %w", err)
	}
	if len(items) == 0 {
		return false, nil
	}

	content, err := s.gateway.Complete(ctx, core.CompletionRequest{
		System:    dailyInsightSystem,
		Prompt:    "Summarize this user's recent week:\n\n" + summarizeItems(items),
		MaxTokens: 1000,
	})
	if err != nil {
		return false, fmt.Errorf("insight completion: %w", err)
	}

	rec := &model.InsightRecord{
		UserID:      userID,
		Type:        model.InsightDaily,
		Period:      period,
		GeneratedAt: now,
		RangeStart:  rangeStart,
		RangeEnd:    now,
		DataPoints:  len(items),
		Content:     content,
	}
	if err := s.insights.Upsert(ctx, rec); err != nil {
		return false, fmt.Errorf("store insight: %w", err)
	}
	return true, nil
}

// maxPromptItems bounds how much history is embedded in a single prompt.
const maxPromptItems = 60

// summarizeItems renders completed work items as prompt lines, oldest
// first, keeping only the most recent entries.
func summarizeItems(items []*model.WorkItem) string {
	if len(items) > maxPromptItems {
		items = items[len(items)-maxPromptItems:]
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString(item.CreatedAt.UTC().Format("2006-01-02"))
		b.WriteString(" [")
		b.WriteString(string(item.Kind))
		b.WriteString("] ")
		if len(item.Result) > 0 {
			b.Write(item.Result)
		} else {
			b.WriteString("(no analysis result)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s *InsightService) emitPass(result string, elapsed time.Duration, err error) {
	metrics.EmitLoopPass(s.metrics, metrics.LoopMetric{
		Service:  "insights",
		Result:   result,
		Duration: elapsed,
		Err:      err,
	})
}
