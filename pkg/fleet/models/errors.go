package models

import "errors"

// Common errors for fleet persistence operations.
var (
	// Appliance errors
	ErrApplianceNotFound  = errors.New("appliance not found")
	ErrDuplicateAppliance = errors.New("appliance already exists")

	// Inventory errors
	ErrInventoryRowNotFound = errors.New("inventory row not found")

	// Number errors
	ErrNumberNotFound  = errors.New("customer number not found")
	ErrDuplicateNumber = errors.New("customer number already active")

	// Pending removal errors
	ErrPendingRemovalNotFound = errors.New("pending removal not found")
)
