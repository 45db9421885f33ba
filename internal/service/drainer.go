package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/healthcompanion/processor/config"
	"github.com/healthcompanion/processor/internal/core"
	"github.com/healthcompanion/processor/internal/domain/model"
	"github.com/healthcompanion/processor/internal/observability/metrics"
	"github.com/healthcompanion/processor/internal/observability/statsd"
)

// DrainerServiceOptions groups dependencies for DrainerService.
type DrainerServiceOptions struct {
	Repo    core.WorkItemRepository // Required: work item repository
	Blob    core.BlobStore          // Required: payload blob store
	Gateway core.InferenceGateway   // Required: vision + completion gateway
	Config  config.DrainerConfig    // Required: drainer configuration
	Blobs   config.BlobConfig       // Required: bucket names
	Logger  *slog.Logger            // Optional: structured logger
	Metrics statsd.Sink             // Optional: metrics sink (StatsD-compatible)
}

// DrainerService processes pending work items. Each pass drains the
// pending backlog oldest-first: fetch the payload, run the analysis
// pipeline for the item's kind, and move the item to a terminal state.
// Failed items stay failed; they are never retried.
type DrainerService struct {
	repo    core.WorkItemRepository
	blob    core.BlobStore
	gateway core.InferenceGateway
	config  config.DrainerConfig
	blobs   config.BlobConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewDrainerService constructs a new DrainerService.
func NewDrainerService(opts DrainerServiceOptions) (*DrainerService, error) {
	if opts.Repo == nil {
		return nil, errors.New("WorkItemRepository is required")
	}
	if opts.Blob == nil {
		return nil, errors.New("BlobStore is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("InferenceGateway is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "drainer_service")
		logger.Debug("DrainerService initialized", "interval", opts.Config.Interval)
	}

	return &DrainerService{
		repo:    opts.Repo,
		blob:    opts.Blob,
		gateway: opts.Gateway,
		config:  opts.Config,
		blobs:   opts.Blobs,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the drain loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *DrainerService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting drainer service", "interval", s.config.Interval)
	}

	waitWithJitter(ctx, s.logger, s.config.Interval)

	// Drain immediately after jitter so a restart does not delay the backlog.
	if err := s.drainPass(ctx); err != nil {
		logPassError(s.logger, err, "initial drain")
	}

	return tickLoop(ctx, s.logger, s.config.Interval, s.drainPass)
}

// drainPass processes one batch of pending items oldest-first.
func (s *DrainerService) drainPass(ctx context.Context) error {
	start := time.Now()

	items, err := s.repo.ListPending(ctx, 100)
	if err != nil {
		s.emitPass(metrics.ResultError, time.Since(start), err)
		return fmt.Errorf("list pending items: %w", err)
	}
	if len(items) == 0 {
		s.emitPass(metrics.ResultNoop, time.Since(start), nil)
		return nil
	}

	var errs []error
	for _, item := range items {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := s.processItem(ctx, item); err != nil {
			// One bad item must not block the rest of the batch.
			errs = append(errs, fmt.Errorf("item %s: %w", item.ID, err))
		}
	}

	joined := errors.Join(errs...)
	result := metrics.ResultSuccess
	if joined != nil {
		result = metrics.ResultError
	}
	s.emitPass(result, time.Since(start), suppressContextCancellation(joined))

	if joined != nil && isContextCancellation(joined) {
		return context.Canceled
	}
	if joined != nil {
		return fmt.Errorf("drain pass: %w", joined)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "drained pending items", "count", len(items))
	}
	return nil
}

// processItem runs the analysis pipeline for one item, applies the
// terminal transition on the domain object and persists it. Analysis
// failures mark the item failed; infrastructure failures on the terminal
// write itself are returned to the caller.
func (s *DrainerService) processItem(ctx context.Context, item *model.WorkItem) error {
	if item.IsTerminal() {
		// Settled by a racing pass between listing and processing.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "item already left pending state", "item_id", item.ID)
		}
		return nil
	}

	result, analysisErr := s.analyze(ctx, item)
	if analysisErr != nil {
		if isContextCancellation(analysisErr) {
			// Leave the item pending; the next pass picks it up.
			return analysisErr
		}

		if s.logger != nil {
			s.logger.WarnContext(ctx, "item analysis failed",
				"item_id", item.ID,
				"kind", item.Kind,
				"error", analysisErr,
			)
		}
		if err := item.FailWith(analysisErr.Error(), time.Now().UTC()); err != nil {
			return fmt.Errorf("fail transition: %w", err)
		}
		updated, err := s.repo.MarkFailed(ctx, core.FailWorkItemParams{
			ID:     item.ID,
			UserID: item.UserID,
			ErrMsg: *item.Error,
		})
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		if !updated && s.logger != nil {
			s.logger.WarnContext(ctx, "item already left pending state", "item_id", item.ID)
		}
		metrics.EmitItemOutcome(s.metrics, "drainer.item", "drainer", metrics.ResultError)
		return nil
	}

	if err := item.CompleteWith(result, time.Now().UTC()); err != nil {
		return fmt.Errorf("complete transition: %w", err)
	}
	updated, err := s.repo.MarkCompleted(ctx, core.CompleteWorkItemParams{
		ID:     item.ID,
		UserID: item.UserID,
		Result: item.Result,
	})
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !updated && s.logger != nil {
		s.logger.WarnContext(ctx, "item already left pending state", "item_id", item.ID)
	}
	metrics.EmitItemOutcome(s.metrics, "drainer.item", "drainer", metrics.ResultSuccess)
	return nil
}

func (s *DrainerService) analyze(ctx context.Context, item *model.WorkItem) (json.RawMessage, error) {
	switch item.Kind {
	case model.KindFood:
		payload, err := s.blob.Get(ctx, s.blobs.FoodBucket, item.PayloadPath)
		if err != nil {
			return nil, fmt.Errorf("fetch payload: %w", err)
		}
		return s.analyzeFood(ctx, payload)
	case model.KindMedical:
		payload, err := s.blob.Get(ctx, s.blobs.MedicalBucket, item.PayloadPath)
		if err != nil {
			return nil, fmt.Errorf("fetch payload: %w", err)
		}
		return s.analyzeMedical(ctx, item, payload)
	default:
		return nil, fmt.Errorf("unknown item kind %q", item.Kind)
	}
}

const foodAnalysisSystem = `You are a nutrition analysis service. Given a visual description of a meal,
respond only with a JSON object:
{"food_items": [{"name": "...", "portion": "...", "calories": 0}],
 "nutrition_info": {"calories": 0, "protein_g": 0, "carbs_g": 0, "fat_g": 0},
 "health_assessment": "...",
 "recommendations": ["..."]}`

// analyzeFood runs visual analysis over a meal image and asks the
// completion model for a structured nutritional breakdown.
func (s *DrainerService) analyzeFood(ctx context.Context, image []byte) (json.RawMessage, error) {
	visual, err := s.gateway.AnalyzeImage(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("image analysis: %w", err)
	}

	prompt := fmt.Sprintf(
		"A meal photo was described as: %q.\nDetected tags: %s.\nDetected objects: %s.\n"+
			"Identify the food items and estimate their nutrition.",
		visual.Caption,
		strings.Join(visual.Tags, ", "),
		strings.Join(visual.Objects, ", "),
	)

	doc, err := s.gateway.Complete(ctx, core.CompletionRequest{
		System:    foodAnalysisSystem,
		Prompt:    prompt,
		MaxTokens: 800,
	})
	if err != nil {
		return nil, fmt.Errorf("nutrition completion: %w", err)
	}

	var merged map[string]any
	if err := json.Unmarshal(doc, &merged); err != nil {
		return nil, fmt.Errorf("parse nutrition analysis: %w", err)
	}
	merged["visual_description"] = map[string]any{
		"caption": visual.Caption,
		"tags":    visual.Tags,
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode nutrition analysis: %w", err)
	}
	return out, nil
}

const medicalAnalysisSystem = `You are a medical document analysis service. Given the text of a medical
document, respond only with a JSON object:
{"key_findings": ["..."],
 "metrics": {"name": "value"},
 "risk_assessment": "...",
 "follow_up_actions": ["..."],
 "lifestyle_recommendations": ["..."]}`

// analyzeMedical extracts the document text, asks the completion model for
// a structured assessment and attaches the extracted text to the result.
func (s *DrainerService) analyzeMedical(
	ctx context.Context,
	item *model.WorkItem,
	doc []byte,
) (json.RawMessage, error) {
	text, err := s.gateway.ExtractText(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("text extraction: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("document contains no extractable text")
	}

	docType := "medical document"
	if item.DocumentType != nil && *item.DocumentType != "" {
		docType = *item.DocumentType
	}
	prompt := fmt.Sprintf("Analyze this %s:\n\n%s", docType, text)

	analysis, err := s.gateway.Complete(ctx, core.CompletionRequest{
		System:    medicalAnalysisSystem,
		Prompt:    prompt,
		MaxTokens: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("document completion: %w", err)
	}

	var merged map[string]any
	if err := json.Unmarshal(analysis, &merged); err != nil {
		return nil, fmt.Errorf("parse document analysis: %w", err)
	}
	merged["extracted_text"] = text

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode document analysis: %w", err)
	}
	return out, nil
}

func (s *DrainerService) emitPass(result string, elapsed time.Duration, err error) {
	metrics.EmitLoopPass(s.metrics, metrics.LoopMetric{
		Service:  "drainer",
		Result:   result,
		Duration: elapsed,
		Err:      err,
	})
}
