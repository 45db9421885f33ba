package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/healthcompanion/processor/config"
	"github.com/healthcompanion/processor/internal/core"
	"github.com/healthcompanion/processor/internal/data"
	"github.com/healthcompanion/processor/internal/observability/statsd"
	"github.com/healthcompanion/processor/internal/service"
)

// ServiceContainer holds the shared dependencies backing the background loops.
type ServiceContainer struct {
	WorkItems     *data.WorkItemRepo
	Insights      *data.InsightRepo
	Blob          core.BlobStore
	Gateway       core.InferenceGateway
	Channel       core.NotificationChannel // nil when no queue is configured
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// Sink returns the metrics sink as the emitter interface. A nil client
// is a valid no-op sink.
func (o ObservabilityContainer) Sink() statsd.Sink {
	return o.MetricsSink
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires repositories and external adapters into a container
// the background loops draw from.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	blobStore, err := NewBlobStore(ctx, deps.Config.Blob)
	if err != nil {
		return ServiceContainer{}, err
	}

	gateway, err := NewInferenceClient(deps.Config.Inference)
	if err != nil {
		return ServiceContainer{}, err
	}

	container := ServiceContainer{
		WorkItems: data.NewWorkItemRepo(deps.DB),
		Insights:  data.NewInsightRepo(deps.DB),
		Blob:      blobStore,
		Gateway:   gateway,
		Observability: ObservabilityContainer{
			MetricsSink:   newMetricsSink(logger, deps.Config.Observability.Metrics),
			MetricsConfig: deps.Config.Observability.Metrics,
		},
	}

	channel, err := NewNotificationChannel(deps.RedisClient, deps.Config.Redis)
	if err != nil {
		return ServiceContainer{}, err
	}
	if channel != nil {
		container.Channel = channel
	}

	return container, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg,
				)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newDrainerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeDrainer,
		name: "drainer",
		start: func(ctx context.Context) error {
			svc, err := service.NewDrainerService(service.DrainerServiceOptions{
				Repo:    deps.cfg.Services.WorkItems,
				Blob:    deps.cfg.Services.Blob,
				Gateway: deps.cfg.Services.Gateway,
				Config:  deps.cfg.Config.Drainer,
				Blobs:   deps.cfg.Config.Blob,
				Logger:  deps.logger,
				Metrics: deps.cfg.Services.Observability.Sink(),
			})
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}

func newInsightsBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeInsights,
		name: "daily insight generator",
		start: func(ctx context.Context) error {
			svc, err := service.NewInsightService(service.InsightServiceOptions{
				WorkItems: deps.cfg.Services.WorkItems,
				Insights:  deps.cfg.Services.Insights,
				Gateway:   deps.cfg.Services.Gateway,
				Config:    deps.cfg.Config.Insights,
				Logger:    deps.logger,
				Metrics:   deps.cfg.Services.Observability.Sink(),
			})
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}

func newTrendsBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeTrends,
		name: "weekly trend analyzer",
		start: func(ctx context.Context) error {
			svc, err := service.NewTrendService(service.TrendServiceOptions{
				WorkItems: deps.cfg.Services.WorkItems,
				Insights:  deps.cfg.Services.Insights,
				Gateway:   deps.cfg.Services.Gateway,
				Config:    deps.cfg.Config.Trends,
				Logger:    deps.logger,
				Metrics:   deps.cfg.Services.Observability.Sink(),
			})
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}

func newCleanupBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeCleanup,
		name: "retention cleanup",
		start: func(ctx context.Context) error {
			svc, err := service.NewCleanupService(service.CleanupServiceOptions{
				Repo:    deps.cfg.Services.WorkItems,
				Blob:    deps.cfg.Services.Blob,
				Config:  deps.cfg.Config.Cleanup,
				Blobs:   deps.cfg.Config.Blob,
				Logger:  deps.logger,
				Metrics: deps.cfg.Services.Observability.Sink(),
			})
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}

func newNotificationsBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeNotifications,
		name: "notification consumer",
		start: func(ctx context.Context) error {
			if deps.cfg.Services.Channel == nil {
				deps.logger.InfoContext(ctx, "notification channel not configured, consumer idle")
				<-ctx.Done()
				return nil
			}
			svc, err := service.NewNotificationService(service.NotificationServiceOptions{
				Channel: deps.cfg.Services.Channel,
				Config:  deps.cfg.Config.Notifications,
				Logger:  deps.logger,
				Metrics: deps.cfg.Services.Observability.Sink(),
			})
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newDrainerBackgroundService(deps),
		newInsightsBackgroundService(deps),
		newTrendsBackgroundService(deps),
		newCleanupBackgroundService(deps),
		newNotificationsBackgroundService(deps),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	handles := startBackgroundServices(deps, buildBackgroundServices(deps))

	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       errCh,
		logger:      logger,
		backgrounds: handles,
	})
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for the background services to finish.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
