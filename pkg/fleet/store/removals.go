package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telique/sbcfleet/pkg/fleet/models"
)

// CreatePendingRemovals inserts pending removals in batches, skipping
// (number, appliance_id) pairs already scheduled. Returns the count inserted.
func (s *GORMStore) CreatePendingRemovals(ctx context.Context, rows []*models.PendingRemoval) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	existing := []*models.PendingRemoval{}
	if err := s.db.WithContext(ctx).Find(&existing).Error; err != nil {
		return 0, err
	}
	scheduled := map[[2]string]struct{}{}
	for _, e := range existing {
		scheduled[[2]string{e.Number, e.ApplianceID}] = struct{}{}
	}

	toInsert := make([]*models.PendingRemoval, 0, len(rows))
	for _, r := range rows {
		key := [2]string{r.Number, r.ApplianceID}
		if _, dup := scheduled[key]; dup {
			continue
		}
		scheduled[key] = struct{}{}
		if r.ID == "" {
			r.ID = uuid.New().String()
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

// ListPendingRemovals returns pending removals, optionally filtered by
// appliance.
func (s *GORMStore) ListPendingRemovals(ctx context.Context, applianceID string) ([]*models.PendingRemoval, error) {
	if applianceID == "" {
		return listWhere[models.PendingRemoval](s.db, ctx, "", nil, "removal_date")
	}
	return listWhere[models.PendingRemoval](s.db, ctx, "appliance_id = ?", []any{applianceID}, "removal_date")
}

// ListDuePendingRemovals returns removals with RemovalDate <= now.
func (s *GORMStore) ListDuePendingRemovals(ctx context.Context, now time.Time) ([]*models.PendingRemoval, error) {
	return listWhere[models.PendingRemoval](s.db, ctx, "removal_date <= ?", []any{now}, "removal_date")
}

// DeletePendingRemoval deletes one pending removal by id.
func (s *GORMStore) DeletePendingRemoval(ctx context.Context, id string) error {
	return deleteByField[models.PendingRemoval](s.db, ctx, "id", id, models.ErrPendingRemovalNotFound)
}
