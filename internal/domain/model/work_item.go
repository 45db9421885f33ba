// Package model defines the domain types shared across the processor.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the type of user-submitted artifact.
type Kind string

const (
	// KindFood is an uploaded meal image awaiting nutritional analysis.
	KindFood Kind = "food"
	// KindMedical is an uploaded medical document awaiting OCR + analysis.
	KindMedical Kind = "medical-document"
)

// Valid reports whether the kind is a known artifact type.
func (k Kind) Valid() bool {
	return k == KindFood || k == KindMedical
}

// Status is the processing state of a work item.
type Status string

const (
	// StatusPending means the item is awaiting analysis.
	StatusPending Status = "pending"
	// StatusCompleted means analysis succeeded and results are stored.
	StatusCompleted Status = "completed"
	// StatusFailed means analysis failed terminally; the item is not retried.
	StatusFailed Status = "failed"
)

// TagCritical marks medical records that are exempt from retention cleanup.
const TagCritical = "critical"

// WorkItem is one user-submitted artifact awaiting or having undergone
// analysis. Items are created by the ingestion path in pending status and
// reach exactly one terminal state (completed or failed); they are never
// resurrected.
type WorkItem struct {
	ID          string          `json:"id"          db:"id"`
	UserID      string          `json:"userId"      db:"user_id"`
	Kind        Kind            `json:"kind"        db:"kind"`
	PayloadPath string          `json:"payloadPath" db:"payload_path"`
	Status      Status          `json:"status"      db:"status"`
	// Tag carries retention markers such as "critical".
	Tag *string `json:"tag,omitempty" db:"tag"`
	// DocumentType refines medical documents (lab-report, prescription, ...).
	DocumentType *string    `json:"documentType,omitempty" db:"document_type"`
	CreatedAt    time.Time  `json:"createdAt"              db:"created_at"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"  db:"processed_at"`
	// Result holds the structured analysis document once completed.
	Result json.RawMessage `json:"result,omitempty" db:"result"`
	// Error holds the failure detail when status is failed.
	Error *string `json:"error,omitempty" db:"error"`
}

// HasTag reports whether the item carries the given retention tag.
func (w *WorkItem) HasTag(tag string) bool {
	return w.Tag != nil && *w.Tag == tag
}

// IsTerminal reports whether the item has reached a final state.
func (w *WorkItem) IsTerminal() bool {
	return w.Status == StatusCompleted || w.Status == StatusFailed
}

// CompleteWith transitions a pending item to completed, recording the
// analysis result and the processing timestamp. Non-pending items are
// rejected: terminal transitions happen exactly once.
func (w *WorkItem) CompleteWith(result json.RawMessage, now time.Time) error {
	if w.Status != StatusPending {
		return fmt.Errorf("work item %s: cannot complete from status %s", w.ID, w.Status)
	}
	w.Status = StatusCompleted
	w.Result = result
	w.ProcessedAt = &now
	return nil
}

// FailWith transitions a pending item to failed with the given error detail.
// Non-pending items are rejected.
func (w *WorkItem) FailWith(errMsg string, now time.Time) error {
	if w.Status != StatusPending {
		return fmt.Errorf("work item %s: cannot fail from status %s", w.ID, w.Status)
	}
	if errMsg == "" {
		errMsg = "unknown processing error"
	}
	w.Status = StatusFailed
	w.Error = &errMsg
	w.ProcessedAt = &now
	return nil
}
