package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
)

func TestAssociationRecorderLifecycle(t *testing.T) {
	repo := repository.NewMemoryAssociationRepository()
	recorder := NewAssociationRecorder(repo)
	ctx := context.Background()

	info, err := recorder.Begin(ctx, "GATEWAY", "MODALITY", "10.0.0.5", 11112, "corr-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.False(t, info.ConnectedAt.IsZero())

	recorder.FileReceived(ctx, info)
	recorder.FileReceived(ctx, info)
	recorder.Close(ctx, info)

	stored, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	got := stored[0]
	assert.Equal(t, "GATEWAY", got.CalledAETitle)
	assert.Equal(t, "MODALITY", got.CallingAETitle)
	assert.Equal(t, "10.0.0.5", got.RemoteHost)
	assert.Equal(t, 2, got.FileCount)
	require.NotNil(t, got.DisconnectedAt)
	assert.GreaterOrEqual(t, got.DurationMs, int64(0))
}

func TestAssociationRecorderTracksConcurrentAssociations(t *testing.T) {
	repo := repository.NewMemoryAssociationRepository()
	recorder := NewAssociationRecorder(repo)
	ctx := context.Background()

	first, err := recorder.Begin(ctx, "GATEWAY", "CT01", "10.0.0.5", 11112, "corr-1")
	require.NoError(t, err)
	second, err := recorder.Begin(ctx, "GATEWAY", "MR02", "10.0.0.6", 11112, "corr-2")
	require.NoError(t, err)

	recorder.FileReceived(ctx, second)
	recorder.Close(ctx, first)

	stored, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	byCaller := make(map[string]int)
	for _, info := range stored {
		byCaller[info.CallingAETitle] = info.FileCount
	}
	assert.Equal(t, 0, byCaller["CT01"])
	assert.Equal(t, 1, byCaller["MR02"])
}
