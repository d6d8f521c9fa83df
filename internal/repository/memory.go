package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/google/uuid"
)

// MemoryPayloadRepository implements PayloadRepository with in-memory storage
type MemoryPayloadRepository struct {
	mu       sync.RWMutex
	payloads map[uuid.UUID]*models.Payload
}

// NewMemoryPayloadRepository creates a new in-memory payload repository
func NewMemoryPayloadRepository() *MemoryPayloadRepository {
	return &MemoryPayloadRepository{payloads: make(map[uuid.UUID]*models.Payload)}
}

// Add inserts a new payload
func (m *MemoryPayloadRepository) Add(ctx context.Context, payload *models.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if payload.ID == uuid.Nil {
		payload.ID = uuid.New()
	}
	if _, exists := m.payloads[payload.ID]; exists {
		return fmt.Errorf("payload %s: %w", payload.ID, ErrAlreadyExists)
	}
	now := time.Now().UTC()
	payload.CreatedAt = now
	payload.UpdatedAt = now
	stored := *payload
	m.payloads[payload.ID] = &stored
	return nil
}

// Update replaces an existing payload
func (m *MemoryPayloadRepository) Update(ctx context.Context, payload *models.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.payloads[payload.ID]
	if !exists {
		return fmt.Errorf("payload %s: %w", payload.ID, ErrNotFound)
	}
	payload.CreatedAt = existing.CreatedAt
	payload.UpdatedAt = time.Now().UTC()
	stored := *payload
	m.payloads[payload.ID] = &stored
	return nil
}

// Remove deletes a payload by id
func (m *MemoryPayloadRepository) Remove(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.payloads, id)
	return nil
}

// Get retrieves a payload by id
func (m *MemoryPayloadRepository) Get(ctx context.Context, id uuid.UUID) (*models.Payload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, exists := m.payloads[id]
	if !exists {
		return nil, fmt.Errorf("payload %s: %w", id, ErrNotFound)
	}
	copied := *payload
	return &copied, nil
}

// Contains reports whether a payload with the given id exists
func (m *MemoryPayloadRepository) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.payloads[id]
	return exists, nil
}

// GetByKey retrieves all payloads accumulated under a grouping key
func (m *MemoryPayloadRepository) GetByKey(ctx context.Context, key string) ([]models.Payload, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]models.Payload, 0, len(all))
	for _, p := range all {
		if p.Key == key {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// List retrieves all payloads ordered by creation time
func (m *MemoryPayloadRepository) List(ctx context.Context) ([]models.Payload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payloads := make([]models.Payload, 0, len(m.payloads))
	for _, p := range m.payloads {
		payloads = append(payloads, *p)
	}
	sort.Slice(payloads, func(i, j int) bool { return payloads[i].CreatedAt.Before(payloads[j].CreatedAt) })
	return payloads, nil
}

// GetPayloadsInState retrieves all payloads in any of the given states
func (m *MemoryPayloadRepository) GetPayloadsInState(ctx context.Context, states ...models.PayloadState) ([]models.Payload, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]models.Payload, 0, len(all))
	for _, p := range all {
		for _, s := range states {
			if p.State == s {
				matched = append(matched, p)
				break
			}
		}
	}
	return matched, nil
}

// RemovePendingPayloads discards created-state payloads
func (m *MemoryPayloadRepository) RemovePendingPayloads(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, p := range m.payloads {
		if p.State == models.PayloadStateCreated {
			delete(m.payloads, id)
			removed++
		}
	}
	return removed, nil
}

// MemoryMetadataRepository implements MetadataRepository with in-memory storage
type MemoryMetadataRepository struct {
	mu       sync.RWMutex
	wrappers map[string]*models.StorageMetadataWrapper
	order    []string
}

// NewMemoryMetadataRepository creates a new in-memory metadata repository
func NewMemoryMetadataRepository() *MemoryMetadataRepository {
	return &MemoryMetadataRepository{wrappers: make(map[string]*models.StorageMetadataWrapper)}
}

// Add inserts a new envelope; fails if the identity already exists
func (m *MemoryMetadataRepository) Add(ctx context.Context, item *models.FileStorageItem) error {
	wrapper, err := models.WrapFileStorageItem(item)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.wrappers[wrapper.Identity]; exists {
		return fmt.Errorf("metadata %s: %w", item.ID, ErrAlreadyExists)
	}
	m.store(wrapper)
	return nil
}

// AddOrUpdate upserts an envelope by identity
func (m *MemoryMetadataRepository) AddOrUpdate(ctx context.Context, item *models.FileStorageItem) error {
	wrapper, err := models.WrapFileStorageItem(item)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(wrapper)
	return nil
}

// Update replaces an existing envelope; fails with ErrNotFound otherwise
func (m *MemoryMetadataRepository) Update(ctx context.Context, item *models.FileStorageItem) error {
	wrapper, err := models.WrapFileStorageItem(item)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.wrappers[wrapper.Identity]; !exists {
		return fmt.Errorf("metadata %s: %w", item.ID, ErrNotFound)
	}
	m.store(wrapper)
	return nil
}

func (m *MemoryMetadataRepository) store(wrapper *models.StorageMetadataWrapper) {
	if existing, exists := m.wrappers[wrapper.Identity]; exists {
		wrapper.CreatedAt = existing.CreatedAt
	} else {
		wrapper.CreatedAt = time.Now().UTC()
		m.order = append(m.order, wrapper.Identity)
	}
	wrapper.UpdatedAt = time.Now().UTC()
	m.wrappers[wrapper.Identity] = wrapper
}

// GetFileStorageMetadata returns all items for a correlation id
func (m *MemoryMetadataRepository) GetFileStorageMetadata(ctx context.Context, correlationID string) ([]*models.FileStorageItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []*models.FileStorageItem
	for _, identity := range m.order {
		wrapper, exists := m.wrappers[identity]
		if !exists || wrapper.CorrelationID != correlationID {
			continue
		}
		item, err := wrapper.Unwrap()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// GetFileStorageMetadataByIdentity returns the single matching item
func (m *MemoryMetadataRepository) GetFileStorageMetadataByIdentity(ctx context.Context, correlationID, identity string) (*models.FileStorageItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wrapper, exists := m.wrappers[identity]
	if !exists || wrapper.CorrelationID != correlationID {
		return nil, fmt.Errorf("metadata %s: %w", identity, ErrNotFound)
	}
	return wrapper.Unwrap()
}

// Delete removes exactly one matching envelope
func (m *MemoryMetadataRepository) Delete(ctx context.Context, correlationID, identity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wrapper, exists := m.wrappers[identity]
	if !exists || wrapper.CorrelationID != correlationID {
		return false, nil
	}
	m.remove(identity)
	return true, nil
}

// DeletePendingUploads bulk-removes not-yet-uploaded envelopes
func (m *MemoryMetadataRepository) DeletePendingUploads(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for identity, wrapper := range m.wrappers {
		if !wrapper.IsUploaded {
			m.remove(identity)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryMetadataRepository) remove(identity string) {
	delete(m.wrappers, identity)
	for i, id := range m.order {
		if id == identity {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// MemoryRemoteAppExecutionRepository implements RemoteAppExecutionRepository
// with in-memory storage
type MemoryRemoteAppExecutionRepository struct {
	mu         sync.RWMutex
	executions map[string]*models.RemoteAppExecution
}

// NewMemoryRemoteAppExecutionRepository creates a new in-memory remote app
// execution repository
func NewMemoryRemoteAppExecutionRepository() *MemoryRemoteAppExecutionRepository {
	return &MemoryRemoteAppExecutionRepository{executions: make(map[string]*models.RemoteAppExecution)}
}

// Add inserts a new correlation record
func (m *MemoryRemoteAppExecutionRepository) Add(ctx context.Context, execution *models.RemoteAppExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.executions[execution.OutgoingUID]; exists {
		return fmt.Errorf("remote app execution %s: %w", execution.OutgoingUID, ErrAlreadyExists)
	}
	now := time.Now().UTC()
	execution.CreatedAt = now
	execution.UpdatedAt = now
	stored := *execution
	m.executions[execution.OutgoingUID] = &stored
	return nil
}

// GetByOutgoingUID retrieves a correlation record by its proxy identifier
func (m *MemoryRemoteAppExecutionRepository) GetByOutgoingUID(ctx context.Context, outgoingUID string) (*models.RemoteAppExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	execution, exists := m.executions[outgoingUID]
	if !exists {
		return nil, fmt.Errorf("remote app execution %s: %w", outgoingUID, ErrNotFound)
	}
	copied := *execution
	return &copied, nil
}

// Remove consumes a correlation record
func (m *MemoryRemoteAppExecutionRepository) Remove(ctx context.Context, outgoingUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.executions, outgoingUID)
	return nil
}

// MemoryAssociationRepository implements AssociationRepository with in-memory
// storage
type MemoryAssociationRepository struct {
	mu    sync.RWMutex
	infos map[uuid.UUID]*models.DicomAssociationInfo
}

// NewMemoryAssociationRepository creates a new in-memory association repository
func NewMemoryAssociationRepository() *MemoryAssociationRepository {
	return &MemoryAssociationRepository{infos: make(map[uuid.UUID]*models.DicomAssociationInfo)}
}

// Add inserts a new association record
func (m *MemoryAssociationRepository) Add(ctx context.Context, info *models.DicomAssociationInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info.ID == uuid.Nil {
		info.ID = uuid.New()
	}
	now := time.Now().UTC()
	info.CreatedAt = now
	info.UpdatedAt = now
	stored := *info
	m.infos[info.ID] = &stored
	return nil
}

// Update replaces an existing association record
func (m *MemoryAssociationRepository) Update(ctx context.Context, info *models.DicomAssociationInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.infos[info.ID]; !exists {
		return fmt.Errorf("association %s: %w", info.ID, ErrNotFound)
	}
	info.UpdatedAt = time.Now().UTC()
	stored := *info
	m.infos[info.ID] = &stored
	return nil
}

// List retrieves all association records
func (m *MemoryAssociationRepository) List(ctx context.Context) ([]models.DicomAssociationInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]models.DicomAssociationInfo, 0, len(m.infos))
	for _, info := range m.infos {
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.After(infos[j].ConnectedAt) })
	return infos, nil
}
