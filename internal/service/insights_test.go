package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthcompanion/processor/config"
	"github.com/healthcompanion/processor/internal/core"
	"github.com/healthcompanion/processor/internal/domain/model"
)

func testInsightsConfig() config.InsightsConfig {
	return config.InsightsConfig{
		PollInterval: time.Minute,
		Hour:         6,
		Minute:       0,
		ActiveWindow: 30 * 24 * time.Hour,
		DataWindow:   7 * 24 * time.Hour,
	}
}

func completedItem(userID string, createdAt time.Time) *model.WorkItem {
	return &model.WorkItem{
		ID:        "item-" + createdAt.Format("150405"),
		UserID:    userID,
		Kind:      model.KindFood,
		Status:    model.StatusCompleted,
		CreatedAt: createdAt,
		Result:    json.RawMessage(`{"food_items":[{"name":"salad"}]}`),
	}
}

func newTestInsightService(
	t *testing.T,
	repo *mockWorkItemRepo,
	insights *mockInsightRepo,
	gw *mockGateway,
	now time.Time,
) *InsightService {
	t.Helper()
	svc, err := NewInsightService(InsightServiceOptions{
		WorkItems: repo,
		Insights:  insights,
		Gateway:   gw,
		Config:    testInsightsConfig(),
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return svc
}

func TestInsightCheckTriggerBeforeSlot(t *testing.T) {
	now := time.Date(2025, 6, 1, 5, 30, 0, 0, time.UTC)
	repo := &mockWorkItemRepo{
		activeUserIDsFn: func(_ context.Context, _ time.Time) ([]string, error) {
			t.Fatal("generation must not run before the daily slot")
			return nil, nil
		},
	}
	svc := newTestInsightService(t, repo, &mockInsightRepo{}, &mockGateway{}, now)
	require.NoError(t, svc.checkTrigger(context.Background()))
}

func TestInsightGeneratesOncePerDay(t *testing.T) {
	now := time.Date(2025, 6, 1, 6, 5, 0, 0, time.UTC)

	var listCalls int
	repo := &mockWorkItemRepo{
		activeUserIDsFn: func(_ context.Context, _ time.Time) ([]string, error) {
			listCalls++
			return []string{"user-1"}, nil
		},
		listUserItemsSinceFn: func(_ context.Context, _ string, _ time.Time) ([]*model.WorkItem, error) {
			return []*model.WorkItem{completedItem("user-1", now.Add(-24 * time.Hour))}, nil
		},
	}
	insights := &mockInsightRepo{}
	svc := newTestInsightService(t, repo, insights, &mockGateway{}, now)

	require.NoError(t, svc.checkTrigger(context.Background()))
	require.NoError(t, svc.checkTrigger(context.Background()))
	require.NoError(t, svc.checkTrigger(context.Background()))

	assert.Equal(t, 1, listCalls, "trigger must fire at most once per day")
	assert.Len(t, insights.upserted, 1)
}

func TestInsightRecordFields(t *testing.T) {
	now := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	insightDoc := json.RawMessage(`{"health_status":"stable","daily_recommendations":["more fiber"]}`)

	repo := &mockWorkItemRepo{
		activeUserIDsFn: func(_ context.Context, since time.Time) ([]string, error) {
			assert.Equal(t, now.Add(-30*24*time.Hour), since)
			return []string{"user-1"}, nil
		},
		listUserItemsSinceFn: func(_ context.Context, userID string, since time.Time) ([]*model.WorkItem, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, now.Add(-7*24*time.Hour), since)
			return []*model.WorkItem{
				completedItem("user-1", now.Add(-48*time.Hour)),
				completedItem("user-1", now.Add(-24*time.Hour)),
			}, nil
		},
	}
	gw := &mockGateway{
		completeFn: func(_ context.Context, req core.CompletionRequest) (json.RawMessage, error) {
			assert.Contains(t, req.Prompt, "food")
			return insightDoc, nil
		},
	}
	insights := &mockInsightRepo{}
	svc := newTestInsightService(t, repo, insights, gw, now)

	require.NoError(t, svc.checkTrigger(context.Background()))

	require.Len(t, insights.upserted, 1)
	rec := insights.upserted[0]
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, model.InsightDaily, rec.Type)
	assert.Equal(t, "2025-06-01", rec.Period)
	assert.Equal(t, 2, rec.DataPoints)
	assert.Equal(t, insightDoc, rec.Content)
	assert.Equal(t, now.Add(-7*24*time.Hour), rec.RangeStart)
	assert.Equal(t, now, rec.RangeEnd)
}

func TestInsightSkipsUsersWithoutHistory(t *testing.T) {
	now := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

	repo := &mockWorkItemRepo{
		activeUserIDsFn: func(_ context.Context, _ time.Time) ([]string, error) {
			return []string{"quiet-user"}, nil
		},
	}
	insights := &mockInsightRepo{}
	svc := newTestInsightService(t, repo, insights, &mockGateway{}, now)

	require.NoError(t, svc.checkTrigger(context.Background()))
	assert.Empty(t, insights.upserted)
}

func TestInsightOneUserFailureDoesNotBlockOthers(t *testing.T) {
	now := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

	repo := &mockWorkItemRepo{
		activeUserIDsFn: func(_ context.Context, _ time.Time) ([]string, error) {
			return []string{"bad-user", "good-user"}, nil
		},
		listUserItemsSinceFn: func(_ context.Context, userID string, _ time.Time) ([]*model.WorkItem, error) {
			if userID == "bad-user" {
				return nil, errors.New("query timeout")
			}
			return []*model.WorkItem{completedItem(userID, now.Add(-24 * time.Hour))}, nil
		},
	}
	insights := &mockInsightRepo{}
	svc := newTestInsightService(t, repo, insights, &mockGateway{}, now)

	err := svc.checkTrigger(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad-user")

	require.Len(t, insights.upserted, 1)
	assert.Equal(t, "good-user", insights.upserted[0].UserID)
}

func TestInsightRunStopsOnCancel(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	svc := newTestInsightService(t, &mockWorkItemRepo{}, &mockInsightRepo{}, &mockGateway{}, now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("insight service did not stop after cancellation")
	}
}
