// Package service implements the background processing services: the
// pending-item drainer, the periodic insight, trend and cleanup jobs, and
// the notification consumer.
package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"
)

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}

// waitWithJitter sleeps a random delay up to 10% of interval to prevent
// thundering herd when multiple instances start together.
func waitWithJitter(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	maxJitter := int64(interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if logger != nil {
			logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// tickLoop runs pass at the given interval until the context is cancelled.
// Pass errors are logged and the loop keeps running: one bad iteration must
// never take the service down. Returns nil on graceful shutdown.
func tickLoop(
	ctx context.Context,
	logger *slog.Logger,
	interval time.Duration,
	pass func(context.Context) error,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if logger != nil {
				logger.InfoContext(ctx, "service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := pass(ctx); err != nil {
				logPassError(logger, err, "pass")
			}
		}
	}
}

func logPassError(logger *slog.Logger, err error, label string) {
	if err == nil || logger == nil {
		return
	}
	if isContextCancellation(err) {
		logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
