package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telique/sbcfleet/pkg/fleet/models"
)

// insertBatchSize bounds bulk writes from the sync pipeline.
const insertBatchSize = 1000

// ListActiveNumbers returns all active numbers for an appliance.
func (s *GORMStore) ListActiveNumbers(ctx context.Context, applianceID string) ([]*models.CustomerNumber, error) {
	return listWhere[models.CustomerNumber](s.db, ctx,
		"appliance_id = ? AND removed_date IS NULL", []any{applianceID}, "number")
}

// BulkInsertNumbers inserts rows in batches of insertBatchSize. Rows whose
// (number, customer_name, appliance_id) triple already has an active row are
// skipped, which makes re-running the diff pipeline on identical input a
// no-op. Returns the count actually inserted.
func (s *GORMStore) BulkInsertNumbers(ctx context.Context, rows []*models.CustomerNumber) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	// Collect the active triples for every appliance involved so duplicates
	// can be filtered without a partial unique index (not portable between
	// sqlite and postgres).
	appliances := map[string]struct{}{}
	for _, r := range rows {
		appliances[r.ApplianceID] = struct{}{}
	}
	active := map[[3]string]struct{}{}
	for applianceID := range appliances {
		existing, err := s.ListActiveNumbers(ctx, applianceID)
		if err != nil {
			return 0, err
		}
		for _, e := range existing {
			active[[3]string{e.Number, e.CustomerName, e.ApplianceID}] = struct{}{}
		}
	}

	toInsert := make([]*models.CustomerNumber, 0, len(rows))
	for _, r := range rows {
		key := [3]string{r.Number, r.CustomerName, r.ApplianceID}
		if _, dup := active[key]; dup {
			continue
		}
		active[key] = struct{}{} // dedupe within the input as well
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.AddedDate.IsZero() {
			r.AddedDate = time.Now()
		}
		toInsert = append(toInsert, r)
	}
	if len(toInsert) == 0 {
		return 0, nil
	}

	if err := s.db.WithContext(ctx).CreateInBatches(toInsert, insertBatchSize).Error; err != nil {
		return 0, err
	}
	return len(toInsert), nil
}

// MarkNumberRemoved closes the active row matching (number, applianceID).
func (s *GORMStore) MarkNumberRemoved(ctx context.Context, number, applianceID string, removedDate time.Time, removedBy string) error {
	result := s.db.WithContext(ctx).Model(&models.CustomerNumber{}).
		Where("number = ? AND appliance_id = ? AND removed_date IS NULL", number, applianceID).
		Updates(map[string]any{
			"removed_date": removedDate,
			"removed_by":   removedBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrNumberNotFound
	}
	return nil
}

// RenameNumberCustomer moves the active row for (number, applianceID) to a
// new customer name.
func (s *GORMStore) RenameNumberCustomer(ctx context.Context, number, applianceID, newCustomer string) error {
	result := s.db.WithContext(ctx).Model(&models.CustomerNumber{}).
		Where("number = ? AND appliance_id = ? AND removed_date IS NULL", number, applianceID).
		Update("customer_name", newCustomer)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrNumberNotFound
	}
	return nil
}

// SearchNumbers returns active numbers whose number or customer name contains
// the query, case-insensitive, capped at limit.
func (s *GORMStore) SearchNumbers(ctx context.Context, query string, limit int) ([]*models.CustomerNumber, error) {
	if limit <= 0 {
		limit = 100
	}
	results := []*models.CustomerNumber{}
	pattern := "%" + query + "%"
	err := s.db.WithContext(ctx).
		Where("removed_date IS NULL").
		Where("number LIKE ? OR LOWER(customer_name) LIKE LOWER(?)", pattern, pattern).
		Order("number").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
