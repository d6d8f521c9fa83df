package repository

import (
	"context"
	"errors"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when an operation requires a record that does not exist
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when inserting a record whose identity is taken
var ErrAlreadyExists = errors.New("record already exists")

// PayloadRepository persists payloads. It is the sole writer of durable
// payload state; components never cache a payload across a suspension point
// without re-validating through it.
type PayloadRepository interface {
	Add(ctx context.Context, payload *models.Payload) error
	Update(ctx context.Context, payload *models.Payload) error
	Remove(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.Payload, error)
	Contains(ctx context.Context, id uuid.UUID) (bool, error)
	GetByKey(ctx context.Context, key string) ([]models.Payload, error)
	List(ctx context.Context) ([]models.Payload, error)

	// GetPayloadsInState supports startup reconciliation: payloads in the
	// move or notify state are resumable after a crash.
	GetPayloadsInState(ctx context.Context, states ...models.PayloadState) ([]models.Payload, error)

	// RemovePendingPayloads discards orphaned created-state payloads left
	// over from a prior crash. Returns the number removed.
	RemovePendingPayloads(ctx context.Context) (int64, error)
}

// MetadataRepository persists heterogeneous file metadata through the
// storage metadata envelope.
type MetadataRepository interface {
	// Add inserts a new envelope; the identity must not already exist.
	Add(ctx context.Context, item *models.FileStorageItem) error

	// AddOrUpdate upserts by identity and always succeeds.
	AddOrUpdate(ctx context.Context, item *models.FileStorageItem) error

	// Update fails with ErrNotFound if the identity is not already present.
	Update(ctx context.Context, item *models.FileStorageItem) error

	// GetFileStorageMetadata returns all items for a correlation id,
	// tolerating mixed variant kinds.
	GetFileStorageMetadata(ctx context.Context, correlationID string) ([]*models.FileStorageItem, error)

	// GetFileStorageMetadataByIdentity returns the single matching item.
	GetFileStorageMetadataByIdentity(ctx context.Context, correlationID, identity string) (*models.FileStorageItem, error)

	// Delete removes exactly one matching envelope and reports whether a
	// match existed.
	Delete(ctx context.Context, correlationID, identity string) (bool, error)

	// DeletePendingUploads bulk-removes all envelopes whose artifact is not
	// fully uploaded. Used for startup cleanup of orphaned pending state.
	DeletePendingUploads(ctx context.Context) (int64, error)
}

// RemoteAppExecutionRepository persists remote-execution correlation records
type RemoteAppExecutionRepository interface {
	Add(ctx context.Context, execution *models.RemoteAppExecution) error
	GetByOutgoingUID(ctx context.Context, outgoingUID string) (*models.RemoteAppExecution, error)
	Remove(ctx context.Context, outgoingUID string) error
}

// AssociationRepository persists inbound association records
type AssociationRepository interface {
	Add(ctx context.Context, info *models.DicomAssociationInfo) error
	Update(ctx context.Context, info *models.DicomAssociationInfo) error
	List(ctx context.Context) ([]models.DicomAssociationInfo, error)
}
