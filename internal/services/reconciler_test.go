package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
)

func TestReconcilerDiscardsIncompleteState(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{RetryDelay: time.Millisecond})
	metadata := repository.NewMemoryMetadataRepository()
	ctx := context.Background()

	// A payload that was still collecting when the process died
	pending := dispatchPayload(t, f.payloads, models.PayloadStateCreated)

	// An envelope whose artifact never finished uploading
	require.NoError(t, metadata.Add(ctx, &models.FileStorageItem{
		ID:            "orphan",
		CorrelationID: "corr-orphan",
		Kind:          models.FileStorageKindHL7,
	}))

	require.NoError(t, NewReconciler(f.payloads, metadata).Run(ctx, f.disp))

	_, err := f.payloads.Get(ctx, pending.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	stored, err := metadata.GetFileStorageMetadata(ctx, "corr-orphan")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestReconcilerResumesSealedPayloads(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{RetryDelay: time.Millisecond})
	ctx := context.Background()

	notify := dispatchPayload(t, f.payloads, models.PayloadStateNotify)
	move := dispatchPayload(t, f.payloads, models.PayloadStateMove)

	f.disp.Start(ctx, nil)
	require.NoError(t, NewReconciler(f.payloads, repository.NewMemoryMetadataRepository()).Run(ctx, f.disp))

	waitFor(t, time.Second, func() bool { return f.publisher.requestCount() == 1 }, "notify payload was not resumed")
	waitFor(t, time.Second, func() bool { return f.publisher.completionCount() == 1 }, "move payload was not resumed")
	waitFor(t, time.Second, func() bool {
		return isRemoved(f.payloads, notify.ID) && isRemoved(f.payloads, move.ID)
	}, "resumed payloads were not removed")
}
