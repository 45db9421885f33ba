package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/healthcompanion/processor/internal/domain/model"
)

// This file contains the ports between the service layer and the outside
// world. Services depend on these interfaces, not concrete implementations,
// so every collaborator can be swapped in tests.

// WorkItemRepository defines the interface for work item data operations.
type WorkItemRepository interface {
	// ListPending returns pending items ordered by creation time, oldest first.
	ListPending(ctx context.Context, limit int) ([]*model.WorkItem, error)

	// ActiveUserIDs returns the distinct user IDs with any item created at
	// or after since.
	ActiveUserIDs(ctx context.Context, since time.Time) ([]string, error)

	// ListUserItemsSince returns a user's completed items created at or
	// after since, oldest first.
	ListUserItemsSince(ctx context.Context, userID string, since time.Time) ([]*model.WorkItem, error)

	// CountUserItemsSince counts a user's items of the given kind created
	// at or after since.
	CountUserItemsSince(ctx context.Context, params CountUserItemsParams) (int, error)

	// MarkCompleted transitions a pending item to completed with its
	// analysis result. Returns false when the item was not pending.
	MarkCompleted(ctx context.Context, params CompleteWorkItemParams) (bool, error)

	// MarkFailed transitions a pending item to failed. Returns false when
	// the item was not pending.
	MarkFailed(ctx context.Context, params FailWorkItemParams) (bool, error)

	// ListExpired returns items of the given kind created before cutoff,
	// excluding items carrying excludeTag when it is non-empty.
	ListExpired(ctx context.Context, params ListExpiredParams) ([]*model.WorkItem, error)

	// Delete removes an item scoped to its owner. Returns false when no
	// row matched.
	Delete(ctx context.Context, id, userID string) (bool, error)
}

// CountUserItemsParams groups parameters for CountUserItemsSince.
type CountUserItemsParams struct {
	UserID string
	Kind   model.Kind
	Since  time.Time
}

// CompleteWorkItemParams groups parameters for MarkCompleted.
type CompleteWorkItemParams struct {
	ID     string
	UserID string
	Result json.RawMessage
}

// FailWorkItemParams groups parameters for MarkFailed.
type FailWorkItemParams struct {
	ID     string
	UserID string
	ErrMsg string
}

// ListExpiredParams groups parameters for ListExpired.
type ListExpiredParams struct {
	Kind       model.Kind
	Cutoff     time.Time
	ExcludeTag string
	Limit      int
}

// InsightRepository defines the interface for insight persistence.
type InsightRepository interface {
	// Upsert stores an insight, replacing any previous record for the same
	// (user, type, period) triple.
	Upsert(ctx context.Context, rec *model.InsightRecord) error
}

// ObjectInfo describes one stored blob.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// BlobStore defines the interface for payload blob access.
type BlobStore interface {
	// Get fetches a blob's full contents.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, bucket, key string) error
	// List returns all objects in the bucket under the given prefix.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// InferenceGateway defines the interface to the vision + completion service.
type InferenceGateway interface {
	// AnalyzeImage runs visual analysis over an image and returns the
	// caption, tags and detected objects.
	AnalyzeImage(ctx context.Context, image []byte) (*ImageAnalysis, error)
	// ExtractText runs OCR over a document image and returns its text.
	ExtractText(ctx context.Context, doc []byte) (string, error)
	// Complete sends a structured completion request and returns the
	// model's JSON response document.
	Complete(ctx context.Context, req CompletionRequest) (json.RawMessage, error)
}

// ImageAnalysis is the visual description of an image.
type ImageAnalysis struct {
	Caption string   `json:"caption"`
	Tags    []string `json:"tags"`
	Objects []string `json:"objects"`
}

// CompletionRequest describes a structured completion call.
type CompletionRequest struct {
	System string
	Prompt string
	// MaxTokens bounds the response length; zero uses the gateway default.
	MaxTokens int
}

// Message is one notification queue delivery awaiting settlement.
type Message struct {
	// ID identifies the delivery for settlement.
	ID string
	// Body is the raw message payload.
	Body []byte
}

// NotificationChannel defines the interface for the notification queue.
type NotificationChannel interface {
	// Receive blocks up to timeout for the next message. A nil message
	// with nil error means the wait elapsed with nothing queued.
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)
	// Complete settles a message so it is never redelivered.
	Complete(ctx context.Context, msg *Message) error
	// Abandon returns a message to the queue for redelivery.
	Abandon(ctx context.Context, msg *Message) error
}
