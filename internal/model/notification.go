package model

import "time"

// PushType distinguishes the notification kinds.
type PushType string

const (
	PushTypeOpportunity PushType = "opportunity"
	PushTypeDaily       PushType = "daily"
	PushTypeSummary     PushType = "manual_summary"
)

// NotificationStatus records the delivery outcome.
type NotificationStatus string

const (
	NotificationSuccess NotificationStatus = "success"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationRecord is an append-only audit row for one delivery
// attempt. A success row with a given idempotency key is the
// delivery-once guarantee: the gate never sends the same key twice.
type NotificationRecord struct {
	ID             string             `json:"id"`
	Date           string             `json:"date"` // YYYY-MM-DD
	Slot           string             `json:"slot"`
	PushType       PushType           `json:"push_type"`
	IdempotencyKey string             `json:"idempotency_key"`
	TargetURL      string             `json:"target_url"`
	Title          string             `json:"title"`
	Payload        []byte             `json:"-"`
	Response       []byte             `json:"-"`
	Status         NotificationStatus `json:"status"`
	Error          string             `json:"error,omitempty"`
	SentAt         time.Time          `json:"sent_at"`
}
