package store

import (
	"context"
	"time"

	"github.com/telique/sbcfleet/pkg/fleet/models"
)

// CustomerUsage is one row of the monthly usage report: the count of unique
// numbers billable to a customer during a calendar month.
type CustomerUsage struct {
	CustomerName string `json:"customer_name"`
	ApplianceID  string `json:"appliance_id"`
	NumberCount  int64  `json:"number_count"`
}

// Store provides the fleet persistence interface.
//
// Thread safety: implementations must be safe for concurrent use from
// multiple goroutines.
type Store interface {
	// ============================================
	// APPLIANCE OPERATIONS
	// ============================================

	// GetAppliance returns an appliance by id.
	// Returns models.ErrApplianceNotFound if it doesn't exist.
	GetAppliance(ctx context.Context, id string) (*models.Appliance, error)

	// ListAppliances returns all appliances.
	ListAppliances(ctx context.Context) ([]*models.Appliance, error)

	// ListActiveAppliances returns appliances with Active=true.
	ListActiveAppliances(ctx context.Context) ([]*models.Appliance, error)

	// CreateAppliance creates an appliance row.
	// Returns models.ErrDuplicateAppliance when the id is taken.
	CreateAppliance(ctx context.Context, appliance *models.Appliance) error

	// UpdateAppliance replaces an appliance row.
	// Returns models.ErrApplianceNotFound if it doesn't exist.
	UpdateAppliance(ctx context.Context, appliance *models.Appliance) error

	// DeleteAppliance deletes an appliance by id.
	// Returns models.ErrApplianceNotFound if it doesn't exist.
	DeleteAppliance(ctx context.Context, id string) error

	// ============================================
	// DM INVENTORY OPERATIONS
	// ============================================

	// GetInventoryRow returns the inventory row for (applianceID, fileName).
	// Returns models.ErrInventoryRowNotFound if it doesn't exist.
	GetInventoryRow(ctx context.Context, applianceID, fileName string) (*models.DmInventoryRow, error)

	// ListInventoryRows returns all inventory rows for an appliance.
	ListInventoryRows(ctx context.Context, applianceID string) ([]*models.DmInventoryRow, error)

	// UpsertInventoryRow creates or replaces the row keyed by
	// (ApplianceID, FileName).
	UpsertInventoryRow(ctx context.Context, row *models.DmInventoryRow) error

	// SetInventoryStatus updates only the status column of one row, creating
	// the row if absent (a file seen for the first time is marked syncing
	// before its body is fetched).
	SetInventoryStatus(ctx context.Context, applianceID, fileName string, status models.InventoryStatus) error

	// ============================================
	// CUSTOMER NUMBER OPERATIONS
	// ============================================

	// ListActiveNumbers returns all active (RemovedDate null) numbers for an
	// appliance.
	ListActiveNumbers(ctx context.Context, applianceID string) ([]*models.CustomerNumber, error)

	// BulkInsertNumbers inserts rows in batches, skipping rows that collide
	// with an existing active (number, customer_name, appliance_id) triple.
	// Returns the count actually inserted. Safe to re-run on the same input.
	BulkInsertNumbers(ctx context.Context, rows []*models.CustomerNumber) (int, error)

	// MarkNumberRemoved sets RemovedDate/RemovedBy on the active row matching
	// (number, applianceID). Returns models.ErrNumberNotFound when no active
	// row matches.
	MarkNumberRemoved(ctx context.Context, number, applianceID string, removedDate time.Time, removedBy string) error

	// RenameNumberCustomer moves the active row for (number, applianceID) to
	// a new customer name. Returns models.ErrNumberNotFound when no active
	// row matches.
	RenameNumberCustomer(ctx context.Context, number, applianceID, newCustomer string) error

	// SearchNumbers returns active numbers whose number or customer name
	// contains the query (case-insensitive), capped at limit.
	SearchNumbers(ctx context.Context, query string, limit int) ([]*models.CustomerNumber, error)

	// ============================================
	// PENDING REMOVAL OPERATIONS
	// ============================================

	// CreatePendingRemovals inserts pending removals in batches, skipping
	// duplicates of (number, appliance_id) already scheduled.
	CreatePendingRemovals(ctx context.Context, rows []*models.PendingRemoval) (int, error)

	// ListPendingRemovals returns pending removals, optionally filtered by
	// appliance ("" = all).
	ListPendingRemovals(ctx context.Context, applianceID string) ([]*models.PendingRemoval, error)

	// ListDuePendingRemovals returns removals with RemovalDate <= now.
	ListDuePendingRemovals(ctx context.Context, now time.Time) ([]*models.PendingRemoval, error)

	// DeletePendingRemoval deletes one pending removal by id.
	// Returns models.ErrPendingRemovalNotFound if it doesn't exist.
	DeletePendingRemoval(ctx context.Context, id string) error

	// ============================================
	// AUDIT OPERATIONS
	// ============================================

	// AppendNumberEvents appends audit events in batches.
	AppendNumberEvents(ctx context.Context, events []*models.NumberEvent) error

	// AppendCustomerNumberChange appends one aggregate change record.
	AppendCustomerNumberChange(ctx context.Context, change *models.CustomerNumberChange) error

	// ListNumberEvents returns the most recent audit events for a number.
	ListNumberEvents(ctx context.Context, number string, limit int) ([]*models.NumberEvent, error)

	// ============================================
	// REPORTING
	// ============================================

	// MonthlyUsage returns per-customer unique-number counts for the given
	// calendar month; applianceID "" means all appliances. A number counts
	// when AddedDate <= endOfMonth and (RemovedDate null or >= startOfMonth).
	MonthlyUsage(ctx context.Context, year int, month time.Month, applianceID string) ([]CustomerUsage, error)

	// Close closes the store.
	Close() error
}

// compile-time check
var _ Store = (*GORMStore)(nil)
