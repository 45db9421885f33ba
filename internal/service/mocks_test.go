package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/healthcompanion/processor/internal/core"
	"github.com/healthcompanion/processor/internal/domain/model"
)

// Hand-rolled mocks with function fields so each test overrides only what
// it needs. All mocks record their calls for assertion.

type mockWorkItemRepo struct {
	mu sync.Mutex

	listPendingFn         func(ctx context.Context, limit int) ([]*model.WorkItem, error)
	activeUserIDsFn       func(ctx context.Context, since time.Time) ([]string, error)
	listUserItemsSinceFn  func(ctx context.Context, userID string, since time.Time) ([]*model.WorkItem, error)
	countUserItemsSinceFn func(ctx context.Context, params core.CountUserItemsParams) (int, error)
	markCompletedFn       func(ctx context.Context, params core.CompleteWorkItemParams) (bool, error)
	markFailedFn          func(ctx context.Context, params core.FailWorkItemParams) (bool, error)
	listExpiredFn         func(ctx context.Context, params core.ListExpiredParams) ([]*model.WorkItem, error)
	deleteFn              func(ctx context.Context, id, userID string) (bool, error)

	completedCalls []core.CompleteWorkItemParams
	failedCalls    []core.FailWorkItemParams
	deletedIDs     []string
}

func (m *mockWorkItemRepo) ListPending(ctx context.Context, limit int) ([]*model.WorkItem, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockWorkItemRepo) ActiveUserIDs(ctx context.Context, since time.Time) ([]string, error) {
	if m.activeUserIDsFn != nil {
		return m.activeUserIDsFn(ctx, since)
	}
	return nil, nil
}

func (m *mockWorkItemRepo) ListUserItemsSince(
	ctx context.Context,
	userID string,
	since time.Time,
) ([]*model.WorkItem, error) {
	if m.listUserItemsSinceFn != nil {
		return m.listUserItemsSinceFn(ctx, userID, since)
	}
	return nil, nil
}

func (m *mockWorkItemRepo) CountUserItemsSince(
	ctx context.Context,
	params core.CountUserItemsParams,
) (int, error) {
	if m.countUserItemsSinceFn != nil {
		return m.countUserItemsSinceFn(ctx, params)
	}
	return 0, nil
}

func (m *mockWorkItemRepo) MarkCompleted(
	ctx context.Context,
	params core.CompleteWorkItemParams,
) (bool, error) {
	m.mu.Lock()
	m.completedCalls = append(m.completedCalls, params)
	m.mu.Unlock()
	if m.markCompletedFn != nil {
		return m.markCompletedFn(ctx, params)
	}
	return true, nil
}

func (m *mockWorkItemRepo) MarkFailed(
	ctx context.Context,
	params core.FailWorkItemParams,
) (bool, error) {
	m.mu.Lock()
	m.failedCalls = append(m.failedCalls, params)
	m.mu.Unlock()
	if m.markFailedFn != nil {
		return m.markFailedFn(ctx, params)
	}
	return true, nil
}

func (m *mockWorkItemRepo) ListExpired(
	ctx context.Context,
	params core.ListExpiredParams,
) ([]*model.WorkItem, error) {
	if m.listExpiredFn != nil {
		return m.listExpiredFn(ctx, params)
	}
	return nil, nil
}

func (m *mockWorkItemRepo) Delete(ctx context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	m.deletedIDs = append(m.deletedIDs, id)
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id, userID)
	}
	return true, nil
}

type mockInsightRepo struct {
	mu       sync.Mutex
	upsertFn func(ctx context.Context, rec *model.InsightRecord) error
	upserted []*model.InsightRecord
}

func (m *mockInsightRepo) Upsert(ctx context.Context, rec *model.InsightRecord) error {
	m.mu.Lock()
	m.upserted = append(m.upserted, rec)
	m.mu.Unlock()
	if m.upsertFn != nil {
		return m.upsertFn(ctx, rec)
	}
	return nil
}

type mockBlobStore struct {
	mu       sync.Mutex
	getFn    func(ctx context.Context, bucket, key string) ([]byte, error)
	deleteFn func(ctx context.Context, bucket, key string) error
	listFn   func(ctx context.Context, bucket, prefix string) ([]core.ObjectInfo, error)
	deleted  []string // "bucket/key"
}

func (m *mockBlobStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, bucket, key)
	}
	return []byte("payload"), nil
}

func (m *mockBlobStore) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, bucket+"/"+key)
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, bucket, key)
	}
	return nil
}

func (m *mockBlobStore) List(ctx context.Context, bucket, prefix string) ([]core.ObjectInfo, error) {
	if m.listFn != nil {
		return m.listFn(ctx, bucket, prefix)
	}
	return nil, nil
}

type mockGateway struct {
	analyzeImageFn func(ctx context.Context, image []byte) (*core.ImageAnalysis, error)
	extractTextFn  func(ctx context.Context, doc []byte) (string, error)
	completeFn     func(ctx context.Context, req core.CompletionRequest) (json.RawMessage, error)
}

func (m *mockGateway) AnalyzeImage(ctx context.Context, image []byte) (*core.ImageAnalysis, error) {
	if m.analyzeImageFn != nil {
		return m.analyzeImageFn(ctx, image)
	}
	return &core.ImageAnalysis{Caption: "a meal", Tags: []string{"food"}}, nil
}

func (m *mockGateway) ExtractText(ctx context.Context, doc []byte) (string, error) {
	if m.extractTextFn != nil {
		return m.extractTextFn(ctx, doc)
	}
	return "document text", nil
}

func (m *mockGateway) Complete(
	ctx context.Context,
	req core.CompletionRequest,
) (json.RawMessage, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, req)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

type mockChannel struct {
	mu        sync.Mutex
	receiveFn func(ctx context.Context, timeout time.Duration) (*core.Message, error)
	completed []*core.Message
	abandoned []*core.Message
}

func (m *mockChannel) Receive(ctx context.Context, timeout time.Duration) (*core.Message, error) {
	if m.receiveFn != nil {
		return m.receiveFn(ctx, timeout)
	}
	return nil, nil
}

func (m *mockChannel) Complete(_ context.Context, msg *core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, msg)
	return nil
}

func (m *mockChannel) Abandon(_ context.Context, msg *core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abandoned = append(m.abandoned, msg)
	return nil
}
