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

func testCleanupConfig() config.CleanupConfig {
	return config.CleanupConfig{
		PollInterval:     time.Minute,
		Day:              1,
		Hour:             2,
		FoodRetention:    730 * 24 * time.Hour,
		MedicalRetention: 1095 * 24 * time.Hour,
	}
}

// firstOfMonth is past the monthly slot.
var firstOfMonth = time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)

func newTestCleanupService(
	t *testing.T,
	repo *mockWorkItemRepo,
	blob *mockBlobStore,
	now time.Time,
) *CleanupService {
	t.Helper()
	svc, err := NewCleanupService(CleanupServiceOptions{
		Repo:   repo,
		Blob:   blob,
		Config: testCleanupConfig(),
		Blobs:  testBlobConfig(),
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)
	return svc
}

func expiredItem(id string, kind model.Kind, tag *string) *model.WorkItem {
	return &model.WorkItem{
		ID:          id,
		UserID:      "user-1",
		Kind:        kind,
		PayloadPath: "user-1/" + id,
		Status:      model.StatusCompleted,
		Tag:         tag,
	}
}

func TestCleanupDoesNotFireOffSchedule(t *testing.T) {
	midMonth := time.Date(2025, 6, 15, 2, 0, 0, 0, time.UTC)
	repo := &mockWorkItemRepo{
		listExpiredFn: func(_ context.Context, _ core.ListExpiredParams) ([]*model.WorkItem, error) {
			t.Fatal("cleanup must not run off the monthly slot")
			return nil, nil
		},
	}
	svc := newTestCleanupService(t, repo, &mockBlobStore{}, midMonth)
	require.NoError(t, svc.checkTrigger(context.Background()))
}

func TestCleanupUsesRetentionCutoffs(t *testing.T) {
	var gotParams []core.ListExpiredParams
	repo := &mockWorkItemRepo{
		listExpiredFn: func(_ context.Context, params core.ListExpiredParams) ([]*model.WorkItem, error) {
			gotParams = append(gotParams, params)
			return nil, nil
		},
	}
	svc := newTestCleanupService(t, repo, &mockBlobStore{}, firstOfMonth)
	require.NoError(t, svc.checkTrigger(context.Background()))

	require.Len(t, gotParams, 2)
	assert.Equal(t, model.KindFood, gotParams[0].Kind)
	assert.Equal(t, firstOfMonth.Add(-730*24*time.Hour), gotParams[0].Cutoff)
	assert.Empty(t, gotParams[0].ExcludeTag)

	assert.Equal(t, model.KindMedical, gotParams[1].Kind)
	assert.Equal(t, firstOfMonth.Add(-1095*24*time.Hour), gotParams[1].Cutoff)
	assert.Equal(t, model.TagCritical, gotParams[1].ExcludeTag, "critical records must be excluded")
}

func TestCleanupDeletesExpiredItemsWithBlobs(t *testing.T) {
	served := false
	repo := &mockWorkItemRepo{
		listExpiredFn: func(_ context.Context, params core.ListExpiredParams) ([]*model.WorkItem, error) {
			if params.Kind == model.KindFood && !served {
				served = true
				return []*model.WorkItem{expiredItem("old-meal", model.KindFood, nil)}, nil
			}
			return nil, nil
		},
	}
	blob := &mockBlobStore{}
	svc := newTestCleanupService(t, repo, blob, firstOfMonth)

	require.NoError(t, svc.checkTrigger(context.Background()))

	assert.Contains(t, blob.deleted, "food-images/user-1/old-meal")
	assert.Contains(t, repo.deletedIDs, "old-meal")
}

func TestCleanupOneFailureDoesNotAbortBatch(t *testing.T) {
	served := false
	repo := &mockWorkItemRepo{
		listExpiredFn: func(_ context.Context, params core.ListExpiredParams) ([]*model.WorkItem, error) {
			if params.Kind == model.KindFood && !served {
				served = true
				return []*model.WorkItem{
					expiredItem("bad", model.KindFood, nil),
					expiredItem("good", model.KindFood, nil),
				}, nil
			}
			return nil, nil
		},
	}
	blob := &mockBlobStore{
		deleteFn: func(_ context.Context, _, key string) error {
			if key == "user-1/bad" {
				return errors.New("storage timeout")
			}
			return nil
		},
	}
	svc := newTestCleanupService(t, repo, blob, firstOfMonth)

	err := svc.checkTrigger(context.Background())
	require.Error(t, err)
	assert.Contains(t, repo.deletedIDs, "good")
	assert.NotContains(t, repo.deletedIDs, "bad")
}

func TestCleanupSweepsOldBlobs(t *testing.T) {
	foodCutoff := firstOfMonth.Add(-730 * 24 * time.Hour)
	blob := &mockBlobStore{
		listFn: func(_ context.Context, bucket, _ string) ([]core.ObjectInfo, error) {
			if bucket != "food-images" {
				return nil, nil
			}
			return []core.ObjectInfo{
				{Key: "ancient.jpg", LastModified: foodCutoff.Add(-24 * time.Hour)},
				{Key: "recent.jpg", LastModified: foodCutoff.Add(24 * time.Hour)},
			}, nil
		},
	}
	svc := newTestCleanupService(t, &mockWorkItemRepo{}, blob, firstOfMonth)

	require.NoError(t, svc.checkTrigger(context.Background()))

	assert.Contains(t, blob.deleted, "food-images/ancient.jpg")
	assert.NotContains(t, blob.deleted, "food-images/recent.jpg")
}

func TestCleanupFiresOncePerMonth(t *testing.T) {
	var listCalls int
	repo := &mockWorkItemRepo{
		listExpiredFn: func(_ context.Context, _ core.ListExpiredParams) ([]*model.WorkItem, error) {
			listCalls++
			return nil, nil
		},
	}
	svc := newTestCleanupService(t, repo, &mockBlobStore{}, firstOfMonth)

	require.NoError(t, svc.checkTrigger(context.Background()))
	require.NoError(t, svc.checkTrigger(context.Background()))
	assert.Equal(t, 2, listCalls, "one food pass and one medical pass, not repeated")
}
