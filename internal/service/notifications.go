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
	"github.com/healthcompanion/processor/internal/observability/metrics"
	"github.com/healthcompanion/processor/internal/observability/statsd"
)

// NotificationHandler processes one decoded notification event.
type NotificationHandler func(ctx context.Context, evt *model.NotificationEvent) error

// NotificationServiceOptions groups dependencies for NotificationService.
type NotificationServiceOptions struct {
	Channel  core.NotificationChannel                       // Required: notification queue
	Config   config.NotificationsConfig                     // Required: consumer configuration
	Logger   *slog.Logger                                   // Optional: structured logger
	Metrics  statsd.Sink                                    // Optional: metrics sink (StatsD-compatible)
	Handlers map[model.NotificationType]NotificationHandler // Optional: handler overrides
}

// NotificationService drains the notification channel and dispatches typed
// events to handlers. Messages settle per delivery: complete on successful
// dispatch, abandon back to the channel on handler error. Unknown types
// are logged and completed so a bad producer cannot wedge the queue.
type NotificationService struct {
	channel  core.NotificationChannel
	config   config.NotificationsConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	handlers map[model.NotificationType]NotificationHandler
}

// NewNotificationService constructs a new NotificationService.
func NewNotificationService(opts NotificationServiceOptions) (*NotificationService, error) {
	if opts.Channel == nil {
		return nil, errors.New("NotificationChannel is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "notification_service")
		logger.Debug("NotificationService initialized",
			"receive_timeout", opts.Config.ReceiveTimeout,
			"error_backoff", opts.Config.ErrorBackoff,
		)
	}

	s := &NotificationService{
		channel: opts.Channel,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}

	s.handlers = map[model.NotificationType]NotificationHandler{
		model.NotificationUrgentHealthAlert: s.handleUrgentHealthAlert,
		model.NotificationDailyReminder:     s.handleDailyReminder,
		model.NotificationAnalysisRequest:   s.handleAnalysisRequest,
	}
	for t, h := range opts.Handlers {
		s.handlers[t] = h
	}

	return s, nil
}

// Run starts the consume loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *NotificationService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting notification service",
			"receive_timeout", s.config.ReceiveTimeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			if s.logger != nil {
				s.logger.InfoContext(ctx, "notification service stopping", "reason", err)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if err := s.consumeOne(ctx); err != nil {
			if isContextCancellation(err) {
				continue
			}
			logPassError(s.logger, err, "consume")
			// Back off so a broken channel does not spin the loop hot.
			select {
			case <-time.After(s.config.ErrorBackoff):
			case <-ctx.Done():
			}
		}
	}
}

// consumeOne receives and settles at most one message.
func (s *NotificationService) consumeOne(ctx context.Context) error {
	msg, err := s.channel.Receive(ctx, s.config.ReceiveTimeout)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	if msg == nil {
		return nil
	}

	evt, err := model.DecodeNotification(msg.Body)
	if err != nil {
		// Poison message: complete it so it is not redelivered forever.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "discarding undecodable notification", "error", err)
		}
		metrics.EmitItemOutcome(s.metrics, "notifications.message", "notifications", metrics.ResultError)
		return s.channel.Complete(ctx, msg)
	}

	handler, ok := s.handlers[evt.Type]
	if !ok {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "notification type has no handler",
				"type", evt.Type, "user_id", evt.UserID)
		}
		metrics.EmitItemOutcome(s.metrics, "notifications.message", "notifications", metrics.ResultNoop)
		return s.channel.Complete(ctx, msg)
	}

	if err := handler(ctx, evt); err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "notification handler failed",
				"type", evt.Type, "user_id", evt.UserID, "error", err)
		}
		metrics.EmitItemOutcome(s.metrics, "notifications.message", "notifications", metrics.ResultError)
		if abandonErr := s.channel.Abandon(ctx, msg); abandonErr != nil {
			return fmt.Errorf("abandon after handler error: %w", errors.Join(err, abandonErr))
		}
		return fmt.Errorf("handle %s: %w", evt.Type, err)
	}

	metrics.EmitItemOutcome(s.metrics, "notifications.message", "notifications", metrics.ResultSuccess)
	return s.channel.Complete(ctx, msg)
}

// Handler stubs. Delivery transports (push, email) live behind outbound
// collaborators owned elsewhere; the consumer's job is routing and
// settlement.

func (s *NotificationService) handleUrgentHealthAlert(ctx context.Context, evt *model.NotificationEvent) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "urgent health alert received", "user_id", evt.UserID)
	}
	return nil
}

func (s *NotificationService) handleDailyReminder(ctx context.Context, evt *model.NotificationEvent) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "daily reminder received", "user_id", evt.UserID)
	}
	return nil
}

func (s *NotificationService) handleAnalysisRequest(ctx context.Context, evt *model.NotificationEvent) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "analysis request received", "user_id", evt.UserID)
	}
	return nil
}
