package models

import "time"

// CustomerNumber is one phone number billed to one customer on one appliance.
// The customer name is the DM filename the number was extracted from. A row
// is active while RemovedDate is null; at most one active row may exist per
// (number, customer_name, appliance_id).
type CustomerNumber struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Number       string     `gorm:"not null;size:64;index:idx_numbers_lookup" json:"number"`
	CustomerName string     `gorm:"not null;size:255;index:idx_numbers_lookup" json:"customer_name"`
	ApplianceID  string     `gorm:"not null;size:64;index:idx_numbers_lookup" json:"appliance_id"`
	AddedDate    time.Time  `gorm:"not null" json:"added_date"`
	RemovedDate  *time.Time `json:"removed_date,omitempty"`
	AddedBy      string     `gorm:"size:64" json:"added_by,omitempty"`
	RemovedBy    string     `gorm:"size:64" json:"removed_by,omitempty"`
}

// TableName returns the table name for CustomerNumber.
func (CustomerNumber) TableName() string {
	return "customer_numbers"
}

// IsActive reports whether the number is currently billed.
func (n *CustomerNumber) IsActive() bool {
	return n.RemovedDate == nil
}

// PendingRemoval schedules the deactivation of one active customer number at
// the end of the current calendar month.
//
// Invariant: a pending removal always has a matching active CustomerNumber
// for (number, appliance_id).
type PendingRemoval struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Number       string    `gorm:"not null;size:64;index" json:"number"`
	CustomerName string    `gorm:"not null;size:255" json:"customer_name"`
	ApplianceID  string    `gorm:"not null;size:64" json:"appliance_id"`
	RemovalDate  time.Time `gorm:"not null;index" json:"removal_date"`
	RemovedBy    string    `gorm:"size:64" json:"removed_by,omitempty"`
}

// TableName returns the table name for PendingRemoval.
func (PendingRemoval) TableName() string {
	return "pending_removals"
}
