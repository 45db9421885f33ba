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

// CleanupServiceOptions groups dependencies for CleanupService.
type CleanupServiceOptions struct {
	Repo    core.WorkItemRepository // Required: work item repository
	Blob    core.BlobStore          // Required: payload blob store
	Config  config.CleanupConfig    // Required: cleanup configuration
	Blobs   config.BlobConfig       // Required: bucket names
	Logger  *slog.Logger            // Optional: structured logger
	Metrics statsd.Sink             // Optional: metrics sink (StatsD-compatible)
	Now     func() time.Time        // Optional: clock override for tests
}

// CleanupService enforces the retention policy once a month.
//
// This service manages:
// - Deleting food history older than the food retention window.
// - Deleting medical records older than the medical retention window,
//   except records tagged critical, which are kept forever.
// - Sweeping orphaned blobs that outlived their database rows.
type CleanupService struct {
	repo    core.WorkItemRepository
	blob    core.BlobStore
	config  config.CleanupConfig
	blobs   config.BlobConfig
	trigger schedule.Trigger
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewCleanupService constructs a new CleanupService.
func NewCleanupService(opts CleanupServiceOptions) (*CleanupService, error) {
	if opts.Repo == nil {
		return nil, errors.New("WorkItemRepository is required")
	}
	if opts.Blob == nil {
		return nil, errors.New("BlobStore is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "cleanup_service")
		logger.Debug("CleanupService initialized",
			"day", opts.Config.Day,
			"hour", opts.Config.Hour,
			"food_retention", opts.Config.FoodRetention,
			"medical_retention", opts.Config.MedicalRetention,
		)
	}

	return &CleanupService{
		repo:    opts.Repo,
		blob:    opts.Blob,
		config:  opts.Config,
		blobs:   opts.Blobs,
		trigger: schedule.Monthly(opts.Config.Day, opts.Config.Hour),
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// Run starts the cleanup loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *CleanupService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting cleanup service",
			"day", s.config.Day, "hour", s.config.Hour)
	}

	waitWithJitter(ctx, s.logger, s.config.PollInterval)

	if err := s.checkTrigger(ctx); err != nil {
		logPassError(s.logger, err, "initial cleanup check")
	}

	return tickLoop(ctx, s.logger, s.config.PollInterval, s.checkTrigger)
}

// checkTrigger evaluates the monthly trigger and runs the retention pass
// when it fires. The trigger fires at most once per month.
func (s *CleanupService) checkTrigger(ctx context.Context) error {
	now := s.now().UTC()
	fired, period := s.trigger.Fire(now)
	if !fired {
		return nil
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "monthly cleanup starting", "period", period)
	}
	return s.runCleanup(ctx, now)
}

// runCleanup performs all retention operations for one firing.
func (s *CleanupService) runCleanup(ctx context.Context, now time.Time) error {
	start := time.Now()
	foodCutoff := now.Add(-s.config.FoodRetention)
	medicalCutoff := now.Add(-s.config.MedicalRetention)

	foodCount, foodErr := s.purgeExpired(ctx, core.ListExpiredParams{
		Kind:   model.KindFood,
		Cutoff: foodCutoff,
	}, s.blobs.FoodBucket)

	medicalCount, medicalErr := s.purgeExpired(ctx, core.ListExpiredParams{
		Kind:       model.KindMedical,
		Cutoff:     medicalCutoff,
		ExcludeTag: model.TagCritical,
	}, s.blobs.MedicalBucket)

	sweepCount, sweepErr := s.sweepOrphanedBlobs(ctx, foodCutoff)

	elapsed := time.Since(start)
	firstErr := firstError(foodErr, medicalErr, sweepErr)

	total := foodCount + medicalCount + sweepCount
	result := metrics.ResultSuccess
	switch {
	case suppressContextCancellation(firstErr) != nil:
		result = metrics.ResultError
	case total == 0:
		result = metrics.ResultNoop
	}
	s.emitPass(result, elapsed, suppressContextCancellation(firstErr))

	if s.logger != nil {
		s.logger.InfoContext(ctx, "monthly cleanup finished",
			"food_deleted", foodCount,
			"medical_deleted", medicalCount,
			"blobs_swept", sweepCount,
			"elapsed", elapsed,
		)
	}

	var errs []error
	if foodErr != nil {
		errs = append(errs, fmt.Errorf("purge food history: %w", foodErr))
	}
	if medicalErr != nil {
		errs = append(errs, fmt.Errorf("purge medical records: %w", medicalErr))
	}
	if sweepErr != nil {
		errs = append(errs, fmt.Errorf("sweep orphaned blobs: %w", sweepErr))
	}
	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}
	return nil
}

// purgeExpired deletes expired items in batches until none remain.
// Deletion is best-effort: a failure on one item is logged and collected
// while the rest of the batch proceeds. The blob is removed before the
// database row so a crash between the two leaves an orphaned row (retried
// next month) rather than a dangling reference to a deleted payload.
func (s *CleanupService) purgeExpired(
	ctx context.Context,
	params core.ListExpiredParams,
	bucket string,
) (int64, error) {
	var (
		total int64
		errs  []error
	)
	for {
		items, err := s.repo.ListExpired(ctx, params)
		if err != nil {
			errs = append(errs, err)
			break
		}
		if len(items) == 0 {
			break
		}

		deletedThisBatch := false
		for _, item := range items {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			if err := s.deleteItemWithBlob(ctx, item, bucket); err != nil {
				errs = append(errs, fmt.Errorf("item %s: %w", item.ID, err))
				continue
			}
			total++
			deletedThisBatch = true
		}

		// Every item in the batch failed; stop instead of spinning on the
		// same rows forever.
		if !deletedThisBatch {
			break
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "purged expired items",
			"kind", params.Kind,
			"count", total,
			"cutoff", params.Cutoff,
		)
	}
	return total, errors.Join(errs...)
}

func (s *CleanupService) deleteItemWithBlob(
	ctx context.Context,
	item *model.WorkItem,
	bucket string,
) error {
	if err := s.blob.Delete(ctx, bucket, item.PayloadPath); err != nil {
		logPassError(s.logger, err, "delete expired blob")
		return fmt.Errorf("delete blob %s: %w", item.PayloadPath, err)
	}
	if _, err := s.repo.Delete(ctx, item.ID, item.UserID); err != nil {
		logPassError(s.logger, err, "delete expired item")
		return fmt.Errorf("delete row: %w", err)
	}
	return nil
}

// sweepOrphanedBlobs removes objects in both buckets that are older than
// the cutoff. Rows deleted here already lost their database reference, so
// object age is the only signal left. Failures are best-effort per object.
func (s *CleanupService) sweepOrphanedBlobs(ctx context.Context, cutoff time.Time) (int64, error) {
	var (
		total int64
		errs  []error
	)
	for _, bucket := range s.blobs.Buckets() {
		objects, err := s.blob.List(ctx, bucket, "")
		if err != nil {
			errs = append(errs, fmt.Errorf("list bucket %s: %w", bucket, err))
			continue
		}
		for _, obj := range objects {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			if !obj.LastModified.Before(cutoff) {
				continue
			}
			if err := s.blob.Delete(ctx, bucket, obj.Key); err != nil {
				logPassError(s.logger, err, "sweep orphaned blob")
				errs = append(errs, fmt.Errorf("delete blob %s/%s: %w", bucket, obj.Key, err))
				continue
			}
			total++
		}
	}
	return total, errors.Join(errs...)
}

func (s *CleanupService) emitPass(result string, elapsed time.Duration, err error) {
	metrics.EmitLoopPass(s.metrics, metrics.LoopMetric{
		Service:  "cleanup",
		Result:   result,
		Duration: elapsed,
		Err:      err,
	})
}
