package models

import "time"

// InventoryStatus is the sync state of one DM file's inventory row.
type InventoryStatus string

const (
	// InventoryActive means the row reflects the last successful sync.
	InventoryActive InventoryStatus = "active"
	// InventorySyncing means a sync is in flight for this row.
	InventorySyncing InventoryStatus = "syncing"
	// InventoryInactive means the last sync for this row failed.
	InventoryInactive InventoryStatus = "inactive"
)

// DmInventoryRow stores the last-known contents of one digit-map file on one
// appliance: the raw CSV body plus the extracted called-number column.
//
// Invariant: len(ExtractedNumbers) == NumberCount, and ExtractedNumbers is
// derived from CSVBody by the first-column extraction rule (trimmed,
// non-empty, header literal "called" skipped, deduplicated, order preserved).
type DmInventoryRow struct {
	ApplianceID      string          `gorm:"primaryKey;size:64" json:"appliance_id"`
	FileName         string          `gorm:"primaryKey;size:255" json:"file_name"`
	CSVBody          []byte          `json:"-"`
	ExtractedNumbers []string        `gorm:"serializer:json" json:"extracted_numbers"`
	NumberCount      int             `json:"number_count"`
	LastSyncedAt     time.Time       `json:"last_synced_at"`
	Status           InventoryStatus `gorm:"size:16;default:active" json:"status"`
}

// TableName returns the table name for DmInventoryRow.
func (DmInventoryRow) TableName() string {
	return "dm_inventory"
}
