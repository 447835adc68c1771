package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telique/sbcfleet/pkg/fleet/models"
)

// AppendNumberEvents appends audit events in batches.
func (s *GORMStore) AppendNumberEvents(ctx context.Context, events []*models.NumberEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
	}
	return s.db.WithContext(ctx).CreateInBatches(events, insertBatchSize).Error
}

// AppendCustomerNumberChange appends one aggregate change record.
func (s *GORMStore) AppendCustomerNumberChange(ctx context.Context, change *models.CustomerNumberChange) error {
	if change.ID == "" {
		change.ID = uuid.New().String()
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}
	return s.db.WithContext(ctx).Create(change).Error
}

// ListNumberEvents returns the most recent audit events for a number.
func (s *GORMStore) ListNumberEvents(ctx context.Context, number string, limit int) ([]*models.NumberEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	results := []*models.NumberEvent{}
	err := s.db.WithContext(ctx).
		Where("number = ?", number).
		Order("timestamp DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
