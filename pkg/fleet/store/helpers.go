package store

import (
	"context"

	"gorm.io/gorm"
)

// Generic GORM helpers. Unexported; they operate on the raw *gorm.DB and
// convert gorm.ErrRecordNotFound into the caller's domain error.

// getByField retrieves a single record of type T by matching field=value.
func getByField[T any](db *gorm.DB, ctx context.Context, field string, value any, notFoundErr error) (*T, error) {
	var result T
	if err := db.WithContext(ctx).Where(field+" = ?", value).First(&result).Error; err != nil {
		return nil, convertNotFoundError(err, notFoundErr)
	}
	return &result, nil
}

// listWhere retrieves all records of type T matching an optional condition,
// ordered by orderBy when non-empty. Returns an empty slice, not nil, when
// nothing matches.
func listWhere[T any](db *gorm.DB, ctx context.Context, cond string, args []any, orderBy string) ([]*T, error) {
	results := []*T{}
	q := db.WithContext(ctx)
	if cond != "" {
		q = q.Where(cond, args...)
	}
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// deleteByField deletes records of type T matching field=value.
// Returns notFoundErr if no rows were affected.
func deleteByField[T any](db *gorm.DB, ctx context.Context, field string, value any, notFoundErr error) error {
	var zero T
	result := db.WithContext(ctx).Where(field+" = ?", value).Delete(&zero)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFoundErr
	}
	return nil
}
