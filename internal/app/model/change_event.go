package model

import "time"

// Change event types.
const (
	EventNew    = "new"
	EventUpdate = "update"
	EventDelete = "delete"
)

// ChangeEvent is pushed to observers whenever a record is created, changed or removed.
// Record is nil for delete events; ID is always set.
type ChangeEvent struct {
	Type         string    `json:"type"`
	ResourceType string    `json:"resourceType"`
	ID           string    `json:"id"`
	Record       *Record   `json:"resource,omitempty"`
	Origin       string    `json:"origin,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// Change reasons recorded on events and in the change log.
const (
	ReasonCreate     = "create"
	ReasonEdit       = "edit"
	ReasonDelete     = "delete"
	ReasonAutoEnable = "auto-enable"
	ReasonPin        = "pin"
	ReasonBulk       = "bulk-schedule"
	ReasonSweep      = "sweep"
)

// NewChangeEvent builds an event carrying a snapshot of rec.
func NewChangeEvent(eventType, resourceType, reason string, rec Record, at time.Time) ChangeEvent {
	snapshot := rec.Clone()
	return ChangeEvent{
		Type:         eventType,
		ResourceType: resourceType,
		ID:           rec.ID,
		Record:       &snapshot,
		Reason:       reason,
		At:           at,
	}
}

const (
	ChangeStreamName      = "CONTENT_CHANGES"
	ChangeStreamSubjects  = "content.changelog.>"
	ChangeSubjectPrefix   = "content.changelog."
	ChangeConsumerName    = "changelog-writer"
	ChangeStreamMaxBytes  = 1024 * 1024 * 100 // 100MB
	ChangeFetchBatch      = 10
	ChangeFetchMaxWaitSec = 5
)
