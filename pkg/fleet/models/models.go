// Package models defines the persistent entities of the fleet management
// plane: appliance credentials, the DM-file number inventory, customer
// numbers, scheduled removals and the append-only audit records.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&Appliance{},
		&DmInventoryRow{},
		&CustomerNumber{},
		&PendingRemoval{},
		&NumberEvent{},
		&CustomerNumberChange{},
	}
}
