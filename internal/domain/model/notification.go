package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NotificationType identifies the class of a queued notification event.
type NotificationType string

const (
	// NotificationUrgentHealthAlert signals a finding that needs immediate
	// user attention.
	NotificationUrgentHealthAlert NotificationType = "urgent-health-alert"
	// NotificationDailyReminder is the routine engagement nudge.
	NotificationDailyReminder NotificationType = "daily-reminder"
	// NotificationAnalysisRequest asks for an out-of-band analysis run.
	NotificationAnalysisRequest NotificationType = "analysis-request"
)

// Known reports whether the notification type has a registered handler.
func (t NotificationType) Known() bool {
	switch t {
	case NotificationUrgentHealthAlert, NotificationDailyReminder, NotificationAnalysisRequest:
		return true
	}
	return false
}

// NotificationEvent is one message consumed from the notification queue.
// Payload retains the full original body so handlers can pull
// type-specific fields.
type NotificationEvent struct {
	Type    NotificationType `json:"type"`
	UserID  string           `json:"userId"`
	Payload json.RawMessage  `json:"-"`
}

// DecodeNotification parses a raw queue message body into an event.
// Messages without a type field are rejected; unknown types decode fine
// and are classified by the consumer.
func DecodeNotification(body []byte) (*NotificationEvent, error) {
	var evt NotificationEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("decoding notification body: %w", err)
	}
	if evt.Type == "" {
		return nil, errors.New("notification body has no type field")
	}
	evt.Payload = append(json.RawMessage(nil), body...)
	return &evt, nil
}
