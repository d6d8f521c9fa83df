package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/database"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormMetadataRepository stores heterogeneous file metadata in one physical
// collection through the storage metadata envelope. Correlation-id lookups
// span all variant kinds.
type GormMetadataRepository struct{}

// NewGormMetadataRepository creates a new metadata repository
func NewGormMetadataRepository() *GormMetadataRepository {
	return &GormMetadataRepository{}
}

// Add inserts a new envelope; fails if the identity already exists
func (r *GormMetadataRepository) Add(ctx context.Context, item *models.FileStorageItem) error {
	wrapper, err := models.WrapFileStorageItem(item)
	if err != nil {
		return err
	}
	if err := database.DB.WithContext(ctx).Create(wrapper).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("metadata %s: %w", item.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create metadata envelope: %w", err)
	}
	return nil
}

// AddOrUpdate upserts an envelope by identity
func (r *GormMetadataRepository) AddOrUpdate(ctx context.Context, item *models.FileStorageItem) error {
	wrapper, err := models.WrapFileStorageItem(item)
	if err != nil {
		return err
	}
	if err := database.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity"}},
			DoUpdates: clause.AssignmentColumns([]string{"correlation_id", "is_uploaded", "type_name", "value", "updated_at"}),
		}).
		Create(wrapper).Error; err != nil {
		return fmt.Errorf("failed to upsert metadata envelope: %w", err)
	}
	return nil
}

// Update replaces an existing envelope; fails with ErrNotFound if the
// identity was never added
func (r *GormMetadataRepository) Update(ctx context.Context, item *models.FileStorageItem) error {
	wrapper, err := models.WrapFileStorageItem(item)
	if err != nil {
		return err
	}
	result := database.DB.WithContext(ctx).
		Model(&models.StorageMetadataWrapper{}).
		Where("identity = ?", wrapper.Identity).
		Updates(map[string]interface{}{
			"correlation_id": wrapper.CorrelationID,
			"is_uploaded":    wrapper.IsUploaded,
			"type_name":      wrapper.TypeName,
			"value":          wrapper.Value,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update metadata envelope: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("metadata %s: %w", item.ID, ErrNotFound)
	}
	return nil
}

// GetFileStorageMetadata returns all items for a correlation id, deserialized
// back to their concrete variants
func (r *GormMetadataRepository) GetFileStorageMetadata(ctx context.Context, correlationID string) ([]*models.FileStorageItem, error) {
	var wrappers []models.StorageMetadataWrapper
	if err := database.DB.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("created_at ASC").
		Find(&wrappers).Error; err != nil {
		return nil, fmt.Errorf("failed to get metadata envelopes: %w", err)
	}

	items := make([]*models.FileStorageItem, 0, len(wrappers))
	for i := range wrappers {
		item, err := wrappers[i].Unwrap()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// GetFileStorageMetadataByIdentity returns the single item matching the
// correlation id and identity
func (r *GormMetadataRepository) GetFileStorageMetadataByIdentity(ctx context.Context, correlationID, identity string) (*models.FileStorageItem, error) {
	var wrapper models.StorageMetadataWrapper
	if err := database.DB.WithContext(ctx).
		Where("correlation_id = ? AND identity = ?", correlationID, identity).
		First(&wrapper).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("metadata %s: %w", identity, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get metadata envelope: %w", err)
	}
	return wrapper.Unwrap()
}

// Delete removes exactly one matching envelope and reports whether it existed
func (r *GormMetadataRepository) Delete(ctx context.Context, correlationID, identity string) (bool, error) {
	result := database.DB.WithContext(ctx).
		Where("correlation_id = ? AND identity = ?", correlationID, identity).
		Delete(&models.StorageMetadataWrapper{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete metadata envelope: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeletePendingUploads bulk-removes envelopes whose artifact never finished
// uploading
func (r *GormMetadataRepository) DeletePendingUploads(ctx context.Context) (int64, error) {
	result := database.DB.WithContext(ctx).
		Where("is_uploaded = ?", false).
		Delete(&models.StorageMetadataWrapper{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete pending uploads: %w", result.Error)
	}
	return result.RowsAffected, nil
}
