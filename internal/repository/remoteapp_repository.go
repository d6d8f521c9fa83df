package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/database"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"gorm.io/gorm"
)

// GormRemoteAppExecutionRepository handles remote-execution correlation records
type GormRemoteAppExecutionRepository struct{}

// NewGormRemoteAppExecutionRepository creates a new remote app execution repository
func NewGormRemoteAppExecutionRepository() *GormRemoteAppExecutionRepository {
	return &GormRemoteAppExecutionRepository{}
}

// Add inserts a new correlation record
func (r *GormRemoteAppExecutionRepository) Add(ctx context.Context, execution *models.RemoteAppExecution) error {
	if err := database.DB.WithContext(ctx).Create(execution).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("remote app execution %s: %w", execution.OutgoingUID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create remote app execution: %w", err)
	}
	return nil
}

// GetByOutgoingUID retrieves a correlation record by its proxy identifier
func (r *GormRemoteAppExecutionRepository) GetByOutgoingUID(ctx context.Context, outgoingUID string) (*models.RemoteAppExecution, error) {
	var execution models.RemoteAppExecution
	if err := database.DB.WithContext(ctx).
		Where("outgoing_uid = ?", outgoingUID).
		First(&execution).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("remote app execution %s: %w", outgoingUID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get remote app execution: %w", err)
	}
	return &execution, nil
}

// Remove consumes a correlation record
func (r *GormRemoteAppExecutionRepository) Remove(ctx context.Context, outgoingUID string) error {
	if err := database.DB.WithContext(ctx).
		Delete(&models.RemoteAppExecution{}, "outgoing_uid = ?", outgoingUID).Error; err != nil {
		return fmt.Errorf("failed to remove remote app execution: %w", err)
	}
	return nil
}

// GormAssociationRepository handles association record database operations
type GormAssociationRepository struct{}

// NewGormAssociationRepository creates a new association repository
func NewGormAssociationRepository() *GormAssociationRepository {
	return &GormAssociationRepository{}
}

// Add inserts a new association record
func (r *GormAssociationRepository) Add(ctx context.Context, info *models.DicomAssociationInfo) error {
	if err := database.DB.WithContext(ctx).Create(info).Error; err != nil {
		return fmt.Errorf("failed to create association record: %w", err)
	}
	return nil
}

// Update saves an existing association record
func (r *GormAssociationRepository) Update(ctx context.Context, info *models.DicomAssociationInfo) error {
	result := database.DB.WithContext(ctx).Save(info)
	if result.Error != nil {
		return fmt.Errorf("failed to update association record: %w", result.Error)
	}
	return nil
}

// List retrieves all association records, most recent first
func (r *GormAssociationRepository) List(ctx context.Context) ([]models.DicomAssociationInfo, error) {
	var infos []models.DicomAssociationInfo
	if err := database.DB.WithContext(ctx).
		Order("connected_at DESC").
		Find(&infos).Error; err != nil {
		return nil, fmt.Errorf("failed to list association records: %w", err)
	}
	return infos, nil
}
