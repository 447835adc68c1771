package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telique/sbcfleet/pkg/fleet/models"
)

// GetInventoryRow returns the inventory row for (applianceID, fileName).
func (s *GORMStore) GetInventoryRow(ctx context.Context, applianceID, fileName string) (*models.DmInventoryRow, error) {
	var row models.DmInventoryRow
	err := s.db.WithContext(ctx).
		Where("appliance_id = ? AND file_name = ?", applianceID, fileName).
		First(&row).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrInventoryRowNotFound)
	}
	return &row, nil
}

// ListInventoryRows returns all inventory rows for an appliance ordered by
// file name.
func (s *GORMStore) ListInventoryRows(ctx context.Context, applianceID string) ([]*models.DmInventoryRow, error) {
	return listWhere[models.DmInventoryRow](s.db, ctx, "appliance_id = ?", []any{applianceID}, "file_name")
}

// UpsertInventoryRow creates or replaces the row keyed by
// (ApplianceID, FileName).
func (s *GORMStore) UpsertInventoryRow(ctx context.Context, row *models.DmInventoryRow) error {
	if row.LastSyncedAt.IsZero() {
		row.LastSyncedAt = time.Now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "appliance_id"}, {Name: "file_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"csv_body", "extracted_numbers", "number_count", "last_synced_at", "status",
		}),
	}).Create(row).Error
}

// SetInventoryStatus updates the status column of one row, creating a stub
// row when the file has not been synced before.
func (s *GORMStore) SetInventoryStatus(ctx context.Context, applianceID, fileName string, status models.InventoryStatus) error {
	result := s.db.WithContext(ctx).Model(&models.DmInventoryRow{}).
		Where("appliance_id = ? AND file_name = ?", applianceID, fileName).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		row := &models.DmInventoryRow{
			ApplianceID:      applianceID,
			FileName:         fileName,
			ExtractedNumbers: []string{},
			LastSyncedAt:     time.Now(),
			Status:           status,
		}
		if err := s.db.WithContext(ctx).Create(row).Error; err != nil &&
			!errors.Is(err, gorm.ErrDuplicatedKey) && !isUniqueConstraintError(err) {
			return err
		}
	}
	return nil
}
