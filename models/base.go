package models

import (
	"time"
)

// Audited carries the creator/updater audit fields shared by every mutable
// aggregate. Embedded so GORM flattens the columns into each table.
type Audited struct {
	CreatedById int       `gorm:"index;default:null" json:"created_by_id"`
	UpdatedById int       `gorm:"default:null" json:"updated_by_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// StatusChange is the change record returned by every transition and
// propagation, in application order.
type StatusChange struct {
	Kind     EntityKind `json:"kind"`
	EntityId int        `json:"entity_id"`
	From     string     `json:"from"`
	To       string     `json:"to"`
}
