package models

import (
	"time"
)

// Event is a business-level timeline entry, created once per purchase
// order when the order first leaves Draft.
type Event struct {
	ID            int       `gorm:"primary_key" json:"id"`
	EventType     string    `gorm:"size:50;not null" json:"event_type"`
	ReferenceId   int       `gorm:"index;not null" json:"reference_id"`
	ReferenceType string    `gorm:"size:50;not null" json:"reference_type"`
	Description   string    `gorm:"size:255;default:null" json:"description"`
	OccurredAt    time.Time `gorm:"not null" json:"occurred_at"`
	Audited
}

// EventOutbox is the transactional outbox row for an Event. Rows are
// written in the same transaction as the event and published to Pub/Sub
// by the dispatcher afterwards.
type EventOutbox struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	EventId       int                 `gorm:"index;not null" json:"event_id"`
	Payload       string              `gorm:"type:text;not null" json:"payload"`
	PublishStatus OutboxPublishStatus `gorm:"size:20;index;not null" json:"publish_status"`
	Attempts      int                 `gorm:"default:0" json:"attempts"`
	LastError     string              `gorm:"type:text;default:null" json:"last_error"`
	PublishedAt   *time.Time          `gorm:"default:null" json:"published_at"`
	Audited
}
