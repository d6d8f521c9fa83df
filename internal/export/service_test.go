package export

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
)

func testService(t *testing.T, provider ExporterProvider) *Service {
	t.Helper()
	q := fastQueue(provider)
	t.Cleanup(q.Shutdown)
	return NewService(q, plugins.NewRegistry())
}

func exportPayload(trigger string, origins ...string) *models.Payload {
	p := &models.Payload{
		ID:            uuid.New(),
		CorrelationID: "corr-1",
		Trigger:       models.DataOrigin{Destination: trigger},
		Files: []models.FileStorageItem{{
			ID:   "file-1",
			Kind: models.FileStorageKindHL7,
			File: models.StorageObject{TemporaryPath: "/tmp/file-1"},
		}},
	}
	for _, o := range origins {
		p.DataOrigins = append(p.DataOrigins, models.DataOrigin{Destination: o})
	}
	return p
}

func TestAddDestinationFailsFastOnUnknownPlugIn(t *testing.T) {
	svc := testService(t, newFakeProvider())

	err := svc.AddDestination(Destination{Name: "pacs", Type: DestinationTypeDIMSE}, []string{"no-such-plugin"})
	require.Error(t, err)
	assert.NotContains(t, svc.Destinations(), "pacs")
}

func TestExportDeliversToTriggerDestination(t *testing.T) {
	provider := newFakeProvider()
	svc := testService(t, provider)
	require.NoError(t, svc.AddDestination(Destination{Name: "pacs", Type: DestinationTypeDIMSE}, nil))

	result, err := svc.Export(context.Background(), exportPayload("pacs"))
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusSuccess, result.Status)
	assert.Equal(t, 1, provider.exporter("pacs").calls)
}

func TestExportFansOutToDistinctDestinations(t *testing.T) {
	provider := newFakeProvider()
	svc := testService(t, provider)
	require.NoError(t, svc.AddDestination(Destination{Name: "pacs", Type: DestinationTypeDIMSE}, nil))
	require.NoError(t, svc.AddDestination(Destination{Name: "archive", Type: DestinationTypeDICOMWeb}, nil))

	// The trigger destination repeats in the data origins; it must only be
	// delivered to once
	result, err := svc.Export(context.Background(), exportPayload("pacs", "pacs", "archive"))
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusSuccess, result.Status)
	assert.Equal(t, 1, provider.exporter("pacs").calls)
	assert.Equal(t, 1, provider.exporter("archive").calls)
}

func TestExportUnknownDestinationIsConfigurationError(t *testing.T) {
	svc := testService(t, newFakeProvider())

	_, err := svc.Export(context.Background(), exportPayload("nowhere"))
	assert.ErrorContains(t, err, "unknown destination")
}

func TestExportWithoutDestinationIsRejected(t *testing.T) {
	svc := testService(t, newFakeProvider())

	_, err := svc.Export(context.Background(), exportPayload(""))
	assert.ErrorContains(t, err, "no destination")
}

func TestExportAggregatesPartialOutcome(t *testing.T) {
	provider := newFakeProvider()
	down := provider.exporter("down")
	down.results = []*DeliveryResult{
		failed(ErrorUnreachable, "connection refused"),
		failed(ErrorUnreachable, "connection refused"),
		failed(ErrorUnreachable, "connection refused"),
	}

	svc := testService(t, provider)
	require.NoError(t, svc.AddDestination(Destination{Name: "pacs", Type: DestinationTypeDIMSE}, nil))
	require.NoError(t, svc.AddDestination(Destination{Name: "down", Type: DestinationTypeDIMSE}, nil))

	result, err := svc.Export(context.Background(), exportPayload("pacs", "down"))
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusPartial, result.Status)
	assert.Contains(t, result.Message, "down")
	assert.Contains(t, result.Message, "unreachable")
}

func TestExportAggregatesTotalFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.exporter("down").results = []*DeliveryResult{
		failed(ErrorAssociationRejected, "called AE title not recognized"),
		failed(ErrorAssociationRejected, "called AE title not recognized"),
		failed(ErrorAssociationRejected, "called AE title not recognized"),
	}

	svc := testService(t, provider)
	require.NoError(t, svc.AddDestination(Destination{Name: "down", Type: DestinationTypeDIMSE}, nil))

	result, err := svc.Export(context.Background(), exportPayload("down"))
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailure, result.Status)
	assert.Contains(t, result.Message, "association_rejected")
}

func TestExportHonorsContextCancellation(t *testing.T) {
	provider := newFakeProvider()
	provider.exporter("slow").results = []*DeliveryResult{
		failed(ErrorTimeout, "deadline exceeded"),
		failed(ErrorTimeout, "deadline exceeded"),
		failed(ErrorTimeout, "deadline exceeded"),
	}

	q := NewQueue(provider, QueueConfig{
		RetryDelays: []time.Duration{10 * time.Second, 10 * time.Second},
	}, noFiles())
	t.Cleanup(q.Shutdown)
	svc := NewService(q, plugins.NewRegistry())
	require.NoError(t, svc.AddDestination(Destination{Name: "slow", Type: DestinationTypeDIMSE}, nil))

	// Occupy the destination worker so the export below cannot complete
	// before its context expires
	_, err := q.Submit(context.Background(), storeRequest("blocker", "slow"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = svc.Export(ctx, exportPayload("slow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
