package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/healthcompanion/processor/config"
	"github.com/healthcompanion/processor/internal/adapters/blob"
	"github.com/healthcompanion/processor/internal/adapters/inference"
	"github.com/healthcompanion/processor/internal/adapters/notify"
	"github.com/healthcompanion/processor/internal/observability/statsd"
)

// NewBlobStore builds the S3-compatible blob store from configuration.
func NewBlobStore(ctx context.Context, cfg config.BlobConfig) (*blob.S3Store, error) {
	store, err := blob.NewS3Store(ctx, blob.Options{
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	return store, nil
}

// NewInferenceClient builds the vision and completion gateway client.
func NewInferenceClient(cfg config.InferenceConfig) (*inference.Client, error) {
	client, err := inference.NewClient(inference.Options{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Model:    cfg.CompletionModel,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init inference client: %w", err)
	}
	return client, nil
}

// NewNotificationChannel builds the Redis-backed notification channel.
// Returns nil when no Redis client is available; the consumer treats a
// nil channel as "no queue configured" and stays idle.
func NewNotificationChannel(client redis.UniversalClient, cfg config.RedisConfig) (*notify.RedisChannel, error) {
	if client == nil {
		return nil, nil
	}
	channel, err := notify.NewRedisChannel(client, cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("init notification channel: %w", err)
	}
	return channel, nil
}

// newMetricsSink builds the StatsD sink when metrics are enabled.
// A nil sink is valid; every emitter treats it as a no-op.
func newMetricsSink(logger *slog.Logger, cfg config.ObservabilityMetricsConfig) *statsd.Client {
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}
