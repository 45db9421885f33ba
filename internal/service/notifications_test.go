package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthcompanion/processor/config"
	"github.com/healthcompanion/processor/internal/core"
	"github.com/healthcompanion/processor/internal/domain/model"
)

func testNotificationsConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		ReceiveTimeout: time.Second,
		ErrorBackoff:   time.Second,
	}
}

func newTestNotificationService(
	t *testing.T,
	channel *mockChannel,
	handlers map[model.NotificationType]NotificationHandler,
) *NotificationService {
	t.Helper()
	svc, err := NewNotificationService(NotificationServiceOptions{
		Channel:  channel,
		Config:   testNotificationsConfig(),
		Handlers: handlers,
	})
	require.NoError(t, err)
	return svc
}

func queuedMessage(body string) *core.Message {
	return &core.Message{ID: "msg-1", Body: []byte(body)}
}

func TestConsumeCompletesKnownType(t *testing.T) {
	msg := queuedMessage(`{"type":"daily-reminder","userId":"u1"}`)
	channel := &mockChannel{
		receiveFn: func(_ context.Context, _ time.Duration) (*core.Message, error) {
			return msg, nil
		},
	}

	var handled *model.NotificationEvent
	handlers := map[model.NotificationType]NotificationHandler{
		model.NotificationDailyReminder: func(_ context.Context, evt *model.NotificationEvent) error {
			handled = evt
			return nil
		},
	}
	svc := newTestNotificationService(t, channel, handlers)

	require.NoError(t, svc.consumeOne(context.Background()))

	require.NotNil(t, handled)
	assert.Equal(t, "u1", handled.UserID)
	assert.Len(t, channel.completed, 1)
	assert.Empty(t, channel.abandoned)
}

func TestConsumeAbandonsOnHandlerError(t *testing.T) {
	msg := queuedMessage(`{"type":"urgent-health-alert","userId":"u1"}`)
	channel := &mockChannel{
		receiveFn: func(_ context.Context, _ time.Duration) (*core.Message, error) {
			return msg, nil
		},
	}
	handlers := map[model.NotificationType]NotificationHandler{
		model.NotificationUrgentHealthAlert: func(_ context.Context, _ *model.NotificationEvent) error {
			return errors.New("push gateway down")
		},
	}
	svc := newTestNotificationService(t, channel, handlers)

	err := svc.consumeOne(context.Background())
	require.Error(t, err)
	assert.Len(t, channel.abandoned, 1)
	assert.Empty(t, channel.completed)
}

func TestConsumeCompletesUnknownType(t *testing.T) {
	msg := queuedMessage(`{"type":"promo-blast","userId":"u1"}`)
	channel := &mockChannel{
		receiveFn: func(_ context.Context, _ time.Duration) (*core.Message, error) {
			return msg, nil
		},
	}
	svc := newTestNotificationService(t, channel, nil)

	require.NoError(t, svc.consumeOne(context.Background()))
	assert.Len(t, channel.completed, 1, "unknown types must be acknowledged, not redelivered")
	assert.Empty(t, channel.abandoned)
}

func TestConsumeCompletesPoisonMessage(t *testing.T) {
	msg := queuedMessage(`not-json-at-all`)
	channel := &mockChannel{
		receiveFn: func(_ context.Context, _ time.Duration) (*core.Message, error) {
			return msg, nil
		},
	}
	svc := newTestNotificationService(t, channel, nil)

	require.NoError(t, svc.consumeOne(context.Background()))
	assert.Len(t, channel.completed, 1)
	assert.Empty(t, channel.abandoned)
}

func TestConsumeIdleReceive(t *testing.T) {
	channel := &mockChannel{}
	svc := newTestNotificationService(t, channel, nil)

	require.NoError(t, svc.consumeOne(context.Background()))
	assert.Empty(t, channel.completed)
	assert.Empty(t, channel.abandoned)
}

func TestNotificationRunStopsOnCancel(t *testing.T) {
	channel := &mockChannel{
		receiveFn: func(ctx context.Context, _ time.Duration) (*core.Message, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	svc := newTestNotificationService(t, channel, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("notification service did not stop after cancellation")
	}
}
