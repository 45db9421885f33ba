package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrWorkItemNotFound is returned when a work item does not exist.
	ErrWorkItemNotFound = errors.New("work item not found")

	// ErrInsightConflict is returned when an insight upsert races with a
	// concurrent writer and both copies cannot be reconciled.
	ErrInsightConflict = errors.New("insight upsert conflict")
)
