package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingItem() *WorkItem {
	return &WorkItem{
		ID:          "item-1",
		UserID:      "user-1",
		Kind:        KindFood,
		PayloadPath: "user-1/meal.jpg",
		Status:      StatusPending,
		CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCompleteWith(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)

	t.Run("completes a pending item once", func(t *testing.T) {
		item := pendingItem()
		result := json.RawMessage(`{"food_items":[]}`)

		require.NoError(t, item.CompleteWith(result, now))
		assert.Equal(t, StatusCompleted, item.Status)
		assert.Equal(t, result, item.Result)
		require.NotNil(t, item.ProcessedAt)
		assert.Equal(t, now, *item.ProcessedAt)
	})

	t.Run("rejects completing a completed item", func(t *testing.T) {
		item := pendingItem()
		require.NoError(t, item.CompleteWith(nil, now))

		later := now.Add(time.Hour)
		require.Error(t, item.CompleteWith(nil, later))
		assert.Equal(t, now, *item.ProcessedAt, "processed timestamp must not move")
	})

	t.Run("rejects completing a failed item", func(t *testing.T) {
		item := pendingItem()
		require.NoError(t, item.FailWith("boom", now))
		require.Error(t, item.CompleteWith(nil, now))
		assert.Equal(t, StatusFailed, item.Status)
	})
}

func TestFailWith(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)

	t.Run("fails a pending item with detail", func(t *testing.T) {
		item := pendingItem()
		require.NoError(t, item.FailWith("vision timeout", now))
		assert.Equal(t, StatusFailed, item.Status)
		require.NotNil(t, item.Error)
		assert.Equal(t, "vision timeout", *item.Error)
		require.NotNil(t, item.ProcessedAt)
	})

	t.Run("substitutes a default message when empty", func(t *testing.T) {
		item := pendingItem()
		require.NoError(t, item.FailWith("", now))
		require.NotNil(t, item.Error)
		assert.NotEmpty(t, *item.Error)
	})

	t.Run("rejects failing a completed item", func(t *testing.T) {
		item := pendingItem()
		require.NoError(t, item.CompleteWith(nil, now))
		require.Error(t, item.FailWith("late", now))
		assert.Equal(t, StatusCompleted, item.Status)
	})
}

func TestIsTerminal(t *testing.T) {
	item := pendingItem()
	assert.False(t, item.IsTerminal())

	require.NoError(t, item.CompleteWith(nil, time.Now()))
	assert.True(t, item.IsTerminal())
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindFood.Valid())
	assert.True(t, KindMedical.Valid())
	assert.False(t, Kind("video").Valid())
}

func TestDecodeNotification(t *testing.T) {
	t.Run("decodes known type", func(t *testing.T) {
		evt, err := DecodeNotification([]byte(`{"type":"daily-reminder","userId":"u1"}`))
		require.NoError(t, err)
		assert.Equal(t, NotificationDailyReminder, evt.Type)
		assert.Equal(t, "u1", evt.UserID)
		assert.True(t, evt.Type.Known())
	})

	t.Run("keeps unknown types for classification", func(t *testing.T) {
		evt, err := DecodeNotification([]byte(`{"type":"promo-blast","userId":"u1"}`))
		require.NoError(t, err)
		assert.False(t, evt.Type.Known())
	})

	t.Run("rejects missing type", func(t *testing.T) {
		_, err := DecodeNotification([]byte(`{"userId":"u1"}`))
		require.Error(t, err)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		_, err := DecodeNotification([]byte(`not-json`))
		require.Error(t, err)
	})

	t.Run("retains the raw payload", func(t *testing.T) {
		body := []byte(`{"type":"analysis-request","userId":"u2","itemId":"i9"}`)
		evt, err := DecodeNotification(body)
		require.NoError(t, err)
		assert.JSONEq(t, string(body), string(evt.Payload))
	})
}
