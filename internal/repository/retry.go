package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RetryPolicy is an ordered list of delays applied between attempts of a
// failing repository operation. The operation runs once, then once more per
// configured delay; the final failure is surfaced.
type RetryPolicy struct {
	Delays []time.Duration
}

// DefaultRetryPolicy retries three times with increasing delays
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delays: []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}}
}

// Do runs fn under the policy. Domain errors such as ErrNotFound and
// ErrAlreadyExists are never retried; only transient storage failures are.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	err := fn()
	for attempt, delay := range p.Delays {
		if err == nil || !retryable(err) {
			return err
		}
		log.Warn().Err(err).Str("operation", op).Int("attempt", attempt+1).
			Dur("delay", delay).Msg("Repository operation failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		err = fn()
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// RetryingPayloadRepository decorates a PayloadRepository with a retry policy
// so business code never hand-codes retry loops.
type RetryingPayloadRepository struct {
	inner  PayloadRepository
	policy RetryPolicy
}

// NewRetryingPayloadRepository wraps inner with the given policy
func NewRetryingPayloadRepository(inner PayloadRepository, policy RetryPolicy) *RetryingPayloadRepository {
	return &RetryingPayloadRepository{inner: inner, policy: policy}
}

func (r *RetryingPayloadRepository) Add(ctx context.Context, payload *models.Payload) error {
	return r.policy.Do(ctx, "payload.add", func() error { return r.inner.Add(ctx, payload) })
}

func (r *RetryingPayloadRepository) Update(ctx context.Context, payload *models.Payload) error {
	return r.policy.Do(ctx, "payload.update", func() error { return r.inner.Update(ctx, payload) })
}

func (r *RetryingPayloadRepository) Remove(ctx context.Context, id uuid.UUID) error {
	return r.policy.Do(ctx, "payload.remove", func() error { return r.inner.Remove(ctx, id) })
}

func (r *RetryingPayloadRepository) Get(ctx context.Context, id uuid.UUID) (*models.Payload, error) {
	var payload *models.Payload
	err := r.policy.Do(ctx, "payload.get", func() error {
		var err error
		payload, err = r.inner.Get(ctx, id)
		return err
	})
	return payload, err
}

func (r *RetryingPayloadRepository) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.policy.Do(ctx, "payload.contains", func() error {
		var err error
		exists, err = r.inner.Contains(ctx, id)
		return err
	})
	return exists, err
}

func (r *RetryingPayloadRepository) GetByKey(ctx context.Context, key string) ([]models.Payload, error) {
	var payloads []models.Payload
	err := r.policy.Do(ctx, "payload.get_by_key", func() error {
		var err error
		payloads, err = r.inner.GetByKey(ctx, key)
		return err
	})
	return payloads, err
}

func (r *RetryingPayloadRepository) List(ctx context.Context) ([]models.Payload, error) {
	var payloads []models.Payload
	err := r.policy.Do(ctx, "payload.list", func() error {
		var err error
		payloads, err = r.inner.List(ctx)
		return err
	})
	return payloads, err
}

func (r *RetryingPayloadRepository) GetPayloadsInState(ctx context.Context, states ...models.PayloadState) ([]models.Payload, error) {
	var payloads []models.Payload
	err := r.policy.Do(ctx, "payload.get_in_state", func() error {
		var err error
		payloads, err = r.inner.GetPayloadsInState(ctx, states...)
		return err
	})
	return payloads, err
}

func (r *RetryingPayloadRepository) RemovePendingPayloads(ctx context.Context) (int64, error) {
	var removed int64
	err := r.policy.Do(ctx, "payload.remove_pending", func() error {
		var err error
		removed, err = r.inner.RemovePendingPayloads(ctx)
		return err
	})
	return removed, err
}

// RetryingMetadataRepository decorates a MetadataRepository with a retry policy
type RetryingMetadataRepository struct {
	inner  MetadataRepository
	policy RetryPolicy
}

// NewRetryingMetadataRepository wraps inner with the given policy
func NewRetryingMetadataRepository(inner MetadataRepository, policy RetryPolicy) *RetryingMetadataRepository {
	return &RetryingMetadataRepository{inner: inner, policy: policy}
}

func (r *RetryingMetadataRepository) Add(ctx context.Context, item *models.FileStorageItem) error {
	return r.policy.Do(ctx, "metadata.add", func() error { return r.inner.Add(ctx, item) })
}

func (r *RetryingMetadataRepository) AddOrUpdate(ctx context.Context, item *models.FileStorageItem) error {
	return r.policy.Do(ctx, "metadata.add_or_update", func() error { return r.inner.AddOrUpdate(ctx, item) })
}

func (r *RetryingMetadataRepository) Update(ctx context.Context, item *models.FileStorageItem) error {
	return r.policy.Do(ctx, "metadata.update", func() error { return r.inner.Update(ctx, item) })
}

func (r *RetryingMetadataRepository) GetFileStorageMetadata(ctx context.Context, correlationID string) ([]*models.FileStorageItem, error) {
	var items []*models.FileStorageItem
	err := r.policy.Do(ctx, "metadata.get", func() error {
		var err error
		items, err = r.inner.GetFileStorageMetadata(ctx, correlationID)
		return err
	})
	return items, err
}

func (r *RetryingMetadataRepository) GetFileStorageMetadataByIdentity(ctx context.Context, correlationID, identity string) (*models.FileStorageItem, error) {
	var item *models.FileStorageItem
	err := r.policy.Do(ctx, "metadata.get_by_identity", func() error {
		var err error
		item, err = r.inner.GetFileStorageMetadataByIdentity(ctx, correlationID, identity)
		return err
	})
	return item, err
}

func (r *RetryingMetadataRepository) Delete(ctx context.Context, correlationID, identity string) (bool, error) {
	var found bool
	err := r.policy.Do(ctx, "metadata.delete", func() error {
		var err error
		found, err = r.inner.Delete(ctx, correlationID, identity)
		return err
	})
	return found, err
}

func (r *RetryingMetadataRepository) DeletePendingUploads(ctx context.Context) (int64, error) {
	var removed int64
	err := r.policy.Do(ctx, "metadata.delete_pending", func() error {
		var err error
		removed, err = r.inner.DeletePendingUploads(ctx)
		return err
	})
	return removed, err
}

// RetryingRemoteAppExecutionRepository decorates a RemoteAppExecutionRepository
// with a retry policy
type RetryingRemoteAppExecutionRepository struct {
	inner  RemoteAppExecutionRepository
	policy RetryPolicy
}

// NewRetryingRemoteAppExecutionRepository wraps inner with the given policy
func NewRetryingRemoteAppExecutionRepository(inner RemoteAppExecutionRepository, policy RetryPolicy) *RetryingRemoteAppExecutionRepository {
	return &RetryingRemoteAppExecutionRepository{inner: inner, policy: policy}
}

func (r *RetryingRemoteAppExecutionRepository) Add(ctx context.Context, execution *models.RemoteAppExecution) error {
	return r.policy.Do(ctx, "remote_app.add", func() error { return r.inner.Add(ctx, execution) })
}

func (r *RetryingRemoteAppExecutionRepository) GetByOutgoingUID(ctx context.Context, outgoingUID string) (*models.RemoteAppExecution, error) {
	var execution *models.RemoteAppExecution
	err := r.policy.Do(ctx, "remote_app.get", func() error {
		var err error
		execution, err = r.inner.GetByOutgoingUID(ctx, outgoingUID)
		return err
	})
	return execution, err
}

func (r *RetryingRemoteAppExecutionRepository) Remove(ctx context.Context, outgoingUID string) error {
	return r.policy.Do(ctx, "remote_app.remove", func() error { return r.inner.Remove(ctx, outgoingUID) })
}

// RetryingAssociationRepository decorates an AssociationRepository with a
// retry policy
type RetryingAssociationRepository struct {
	inner  AssociationRepository
	policy RetryPolicy
}

// NewRetryingAssociationRepository wraps inner with the given policy
func NewRetryingAssociationRepository(inner AssociationRepository, policy RetryPolicy) *RetryingAssociationRepository {
	return &RetryingAssociationRepository{inner: inner, policy: policy}
}

func (r *RetryingAssociationRepository) Add(ctx context.Context, info *models.DicomAssociationInfo) error {
	return r.policy.Do(ctx, "association.add", func() error { return r.inner.Add(ctx, info) })
}

func (r *RetryingAssociationRepository) Update(ctx context.Context, info *models.DicomAssociationInfo) error {
	return r.policy.Do(ctx, "association.update", func() error { return r.inner.Update(ctx, info) })
}

func (r *RetryingAssociationRepository) List(ctx context.Context) ([]models.DicomAssociationInfo, error) {
	var infos []models.DicomAssociationInfo
	err := r.policy.Do(ctx, "association.list", func() error {
		var err error
		infos, err = r.inner.List(ctx)
		return err
	})
	return infos, err
}
