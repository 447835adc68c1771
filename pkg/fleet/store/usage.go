package store

import (
	"context"
	"time"

	"github.com/telique/sbcfleet/pkg/fleet/models"
)

// MonthlyUsage returns per-customer unique-number counts for the given
// calendar month. A number is billable for the month when it was added on or
// before the end of the month and not removed before the month started.
func (s *GORMStore) MonthlyUsage(ctx context.Context, year int, month time.Month, applianceID string) ([]CustomerUsage, error) {
	startOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	endOfMonth := startOfMonth.AddDate(0, 1, 0).Add(-time.Nanosecond)

	q := s.db.WithContext(ctx).Model(&models.CustomerNumber{}).
		Select("customer_name, appliance_id, COUNT(DISTINCT number) AS number_count").
		Where("added_date <= ?", endOfMonth).
		Where("removed_date IS NULL OR removed_date >= ?", startOfMonth).
		Group("customer_name, appliance_id").
		Order("customer_name, appliance_id")
	if applianceID != "" {
		q = q.Where("appliance_id = ?", applianceID)
	}

	results := []CustomerUsage{}
	if err := q.Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
