package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/database"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPayloadRepository handles payload database operations
type GormPayloadRepository struct{}

// NewGormPayloadRepository creates a new payload repository
func NewGormPayloadRepository() *GormPayloadRepository {
	return &GormPayloadRepository{}
}

// Add inserts a new payload
func (r *GormPayloadRepository) Add(ctx context.Context, payload *models.Payload) error {
	if err := database.DB.WithContext(ctx).Create(payload).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("payload %s: %w", payload.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create payload: %w", err)
	}
	return nil
}

// Update saves an existing payload; the payload must already exist
func (r *GormPayloadRepository) Update(ctx context.Context, payload *models.Payload) error {
	result := database.DB.WithContext(ctx).
		Model(&models.Payload{}).
		Where("id = ?", payload.ID).
		Updates(map[string]interface{}{
			"key":                  payload.Key,
			"state":                payload.State,
			"files":                payload.Files,
			"data_origins":         payload.DataOrigins,
			"correlation_id":       payload.CorrelationID,
			"workflow_instance_id": payload.WorkflowInstanceID,
			"task_id":              payload.TaskID,
			"timeout":              payload.Timeout,
			"retry_count":          payload.RetryCount,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update payload: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("payload %s: %w", payload.ID, ErrNotFound)
	}
	return nil
}

// Remove deletes a payload by id
func (r *GormPayloadRepository) Remove(ctx context.Context, id uuid.UUID) error {
	if err := database.DB.WithContext(ctx).Delete(&models.Payload{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to remove payload: %w", err)
	}
	return nil
}

// Get retrieves a payload by id
func (r *GormPayloadRepository) Get(ctx context.Context, id uuid.UUID) (*models.Payload, error) {
	var payload models.Payload
	if err := database.DB.WithContext(ctx).Where("id = ?", id).First(&payload).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payload %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payload: %w", err)
	}
	return &payload, nil
}

// Contains reports whether a payload with the given id exists
func (r *GormPayloadRepository) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	if err := database.DB.WithContext(ctx).
		Model(&models.Payload{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check payload existence: %w", err)
	}
	return count > 0, nil
}

// GetByKey retrieves all payloads accumulated under a grouping key
func (r *GormPayloadRepository) GetByKey(ctx context.Context, key string) ([]models.Payload, error) {
	var payloads []models.Payload
	if err := database.DB.WithContext(ctx).
		Where("key = ?", key).
		Order("created_at ASC").
		Find(&payloads).Error; err != nil {
		return nil, fmt.Errorf("failed to get payloads by key: %w", err)
	}
	return payloads, nil
}

// List retrieves all payloads
func (r *GormPayloadRepository) List(ctx context.Context) ([]models.Payload, error) {
	var payloads []models.Payload
	if err := database.DB.WithContext(ctx).
		Order("created_at ASC").
		Find(&payloads).Error; err != nil {
		return nil, fmt.Errorf("failed to list payloads: %w", err)
	}
	return payloads, nil
}

// GetPayloadsInState retrieves all payloads in any of the given states
func (r *GormPayloadRepository) GetPayloadsInState(ctx context.Context, states ...models.PayloadState) ([]models.Payload, error) {
	var payloads []models.Payload
	if err := database.DB.WithContext(ctx).
		Where("state IN ?", states).
		Order("created_at ASC").
		Find(&payloads).Error; err != nil {
		return nil, fmt.Errorf("failed to get payloads in state: %w", err)
	}
	return payloads, nil
}

// RemovePendingPayloads discards created-state payloads left by a prior crash
func (r *GormPayloadRepository) RemovePendingPayloads(ctx context.Context) (int64, error) {
	result := database.DB.WithContext(ctx).
		Where("state = ?", models.PayloadStateCreated).
		Delete(&models.Payload{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to remove pending payloads: %w", result.Error)
	}
	return result.RowsAffected, nil
}
