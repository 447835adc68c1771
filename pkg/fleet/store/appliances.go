package store

import (
	"context"
	"fmt"

	"github.com/telique/sbcfleet/pkg/fleet/models"
)

// GetAppliance returns an appliance by id.
func (s *GORMStore) GetAppliance(ctx context.Context, id string) (*models.Appliance, error) {
	return getByField[models.Appliance](s.db, ctx, "id", id, models.ErrApplianceNotFound)
}

// ListAppliances returns all appliances ordered by id.
func (s *GORMStore) ListAppliances(ctx context.Context) ([]*models.Appliance, error) {
	return listWhere[models.Appliance](s.db, ctx, "", nil, "id")
}

// ListActiveAppliances returns appliances with Active=true ordered by id.
func (s *GORMStore) ListActiveAppliances(ctx context.Context) ([]*models.Appliance, error) {
	return listWhere[models.Appliance](s.db, ctx, "active = ?", []any{true}, "id")
}

// CreateAppliance creates an appliance row after validation.
func (s *GORMStore) CreateAppliance(ctx context.Context, appliance *models.Appliance) error {
	if err := appliance.Validate(); err != nil {
		return fmt.Errorf("invalid appliance: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(appliance).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateAppliance
		}
		return err
	}
	return nil
}

// UpdateAppliance replaces an appliance row.
func (s *GORMStore) UpdateAppliance(ctx context.Context, appliance *models.Appliance) error {
	if err := appliance.Validate(); err != nil {
		return fmt.Errorf("invalid appliance: %w", err)
	}
	result := s.db.WithContext(ctx).Model(&models.Appliance{}).
		Where("id = ?", appliance.ID).
		Updates(map[string]any{
			"base_url":     appliance.BaseURL,
			"username":     appliance.Username,
			"password":     appliance.Password,
			"insecure_tls": appliance.InsecureTLS,
			"active":       appliance.Active,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrApplianceNotFound
	}
	return nil
}

// DeleteAppliance deletes an appliance by id.
func (s *GORMStore) DeleteAppliance(ctx context.Context, id string) error {
	return deleteByField[models.Appliance](s.db, ctx, "id", id, models.ErrApplianceNotFound)
}
