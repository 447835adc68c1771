package models

import "time"

// NumberAction is the kind of change recorded by a NumberEvent.
type NumberAction string

const (
	ActionAdd    NumberAction = "add"
	ActionRemove NumberAction = "remove"
	ActionUpdate NumberAction = "update"
)

// NumberEvent is an append-only audit record for one number change.
type NumberEvent struct {
	ID           string       `gorm:"primaryKey;size:36" json:"id"`
	Number       string       `gorm:"not null;size:64;index" json:"number"`
	Action       NumberAction `gorm:"not null;size:16" json:"action"`
	CustomerName string       `gorm:"size:255" json:"customer_name"`
	ApplianceID  string       `gorm:"size:64" json:"appliance_id"`
	UserID       *string      `gorm:"size:64" json:"user_id,omitempty"`
	FileName     string       `gorm:"size:255" json:"file_name"`
	Details      string       `json:"details,omitempty"`
	Timestamp    time.Time    `gorm:"not null;index" json:"timestamp"`
}

// TableName returns the table name for NumberEvent.
func (NumberEvent) TableName() string {
	return "number_events"
}

// ChangeType is the aggregate direction of a CustomerNumberChange.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeRemove ChangeType = "remove"
)

// CustomerNumberChange is an append-only per-run summary: how many numbers
// were added to or removed from one customer on one appliance.
type CustomerNumberChange struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	CustomerName string     `gorm:"not null;size:255;index" json:"customer_name"`
	ChangeType   ChangeType `gorm:"not null;size:16" json:"change_type"`
	Count        int        `gorm:"not null" json:"count"`
	ApplianceID  string     `gorm:"size:64" json:"appliance_id"`
	UserID       *string    `gorm:"size:64" json:"user_id,omitempty"`
	Details      string     `json:"details,omitempty"`
	Timestamp    time.Time  `gorm:"not null;index" json:"timestamp"`
}

// TableName returns the table name for CustomerNumberChange.
func (CustomerNumberChange) TableName() string {
	return "customer_number_changes"
}
