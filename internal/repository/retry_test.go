package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
)

var errFlaky = errors.New("connection reset")

func fastPolicy() RetryPolicy {
	return RetryPolicy{Delays: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}}
}

// flakyPayloadRepository fails its first failures-many calls of each method
type flakyPayloadRepository struct {
	*MemoryPayloadRepository
	failures int
	calls    int
}

func (f *flakyPayloadRepository) Add(ctx context.Context, payload *models.Payload) error {
	f.calls++
	if f.calls <= f.failures {
		return errFlaky
	}
	return f.MemoryPayloadRepository.Add(ctx, payload)
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	flaky := &flakyPayloadRepository{MemoryPayloadRepository: NewMemoryPayloadRepository(), failures: 2}
	repo := NewRetryingPayloadRepository(flaky, fastPolicy())

	payload := models.NewPayload("key", models.FileStorageItem{ID: "a", Kind: models.FileStorageKindDicom}, models.DataOrigin{Source: "pacs"}, time.Now().Add(time.Minute))
	require.NoError(t, repo.Add(context.Background(), payload))
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryGivesUpAfterConfiguredAttempts(t *testing.T) {
	flaky := &flakyPayloadRepository{MemoryPayloadRepository: NewMemoryPayloadRepository(), failures: 100}
	repo := NewRetryingPayloadRepository(flaky, fastPolicy())

	payload := models.NewPayload("key", models.FileStorageItem{ID: "a", Kind: models.FileStorageKindDicom}, models.DataOrigin{Source: "pacs"}, time.Now().Add(time.Minute))
	err := repo.Add(context.Background(), payload)
	assert.True(t, errors.Is(err, errFlaky))
	// One initial attempt plus one per configured delay
	assert.Equal(t, 4, flaky.calls)
}

func TestRetryNeverRetriesDomainErrors(t *testing.T) {
	inner := NewMemoryPayloadRepository()
	repo := NewRetryingPayloadRepository(inner, fastPolicy())
	ctx := context.Background()

	payload := models.NewPayload("key", models.FileStorageItem{ID: "a", Kind: models.FileStorageKindDicom}, models.DataOrigin{Source: "pacs"}, time.Now().Add(time.Minute))
	require.NoError(t, repo.Add(ctx, payload))

	// A duplicate insert is a domain error and must surface immediately
	dup := *payload
	err := repo.Add(ctx, &dup)
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	// So is a lookup miss
	missing := models.NewPayload("other", models.FileStorageItem{ID: "b", Kind: models.FileStorageKindDicom}, models.DataOrigin{Source: "pacs"}, time.Now().Add(time.Minute))
	err = repo.Update(ctx, missing)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	flaky := &flakyPayloadRepository{MemoryPayloadRepository: NewMemoryPayloadRepository(), failures: 100}
	repo := NewRetryingPayloadRepository(flaky, RetryPolicy{Delays: []time.Duration{time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload := models.NewPayload("key", models.FileStorageItem{ID: "a", Kind: models.FileStorageKindDicom}, models.DataOrigin{Source: "pacs"}, time.Now().Add(time.Minute))
	err := repo.Add(ctx, payload)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, flaky.calls)
}

func TestRetryPolicyDoReportsOperation(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), "metadata.add", func() error {
		attempts++
		return fmt.Errorf("write failed: %w", errFlaky)
	})
	assert.Error(t, err)
	assert.Equal(t, 4, attempts)
}
