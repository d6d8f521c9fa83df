package correlator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
)

func outgoingDataset(t *testing.T) *dicom.Dataset {
	t.Helper()
	ds := &dicom.Dataset{}
	require.NoError(t, plugins.SetTagValue(ds, tag.StudyInstanceUID, "1.2.3.4"))
	require.NoError(t, plugins.SetTagValue(ds, tag.SeriesInstanceUID, "1.2.3.4.1"))
	require.NoError(t, plugins.SetTagValue(ds, tag.SOPInstanceUID, "1.2.3.4.1.1"))
	require.NoError(t, plugins.SetTagValue(ds, tag.PatientID, "PAT-1"))
	require.NoError(t, plugins.SetTagValue(ds, tag.AccessionNumber, "ACC-1"))
	return ds
}

func exportTask() *plugins.ExportTaskContext {
	return &plugins.ExportTaskContext{
		CorrelationID:      "corr-1",
		WorkflowInstanceID: "wf-1",
		ExportTaskID:       "task-1",
		Destination:        "remote-app",
	}
}

func sequentialUIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("2.25.%d", n)
	}
}

func TestSubstituteReplacesIdentifyingTags(t *testing.T) {
	repo := repository.NewMemoryRemoteAppExecutionRepository()
	c := New(repo, WithUIDGenerator(sequentialUIDs()))

	ds := outgoingDataset(t)
	subs, err := c.Substitute(context.Background(), ds, exportTask())
	require.NoError(t, err)
	assert.Len(t, subs, 5)

	studyUID, _ := plugins.TagValue(ds, tag.StudyInstanceUID)
	assert.NotEqual(t, "1.2.3.4", studyUID)

	patientID, _ := plugins.TagValue(ds, tag.PatientID)
	assert.NotEqual(t, "PAT-1", patientID)

	// The record is keyed by the outgoing proxy study UID
	execution, err := repo.GetByOutgoingUID(context.Background(), studyUID)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", execution.CorrelationID)
	assert.Equal(t, "1.2.3.4", execution.StudyUID)
}

func TestSubstituteIsIdempotentAcrossRetries(t *testing.T) {
	repo := repository.NewMemoryRemoteAppExecutionRepository()
	c := New(repo, WithUIDGenerator(sequentialUIDs()))
	ctx := context.Background()

	ds := outgoingDataset(t)
	first, err := c.Substitute(ctx, ds, exportTask())
	require.NoError(t, err)

	// A delivery retry runs the stage again on the already-substituted dataset
	second, err := c.Substitute(ctx, ds, exportTask())
	require.NoError(t, err)
	assert.ElementsMatch(t, first, second)

	studyUID, _ := plugins.TagValue(ds, tag.StudyInstanceUID)
	_, err = repo.GetByOutgoingUID(ctx, studyUID)
	require.NoError(t, err)
}

func TestRoundTripRestoresOriginals(t *testing.T) {
	repo := repository.NewMemoryRemoteAppExecutionRepository()
	c := New(repo)
	ctx := context.Background()

	ds := outgoingDataset(t)
	_, err := c.Substitute(ctx, ds, exportTask())
	require.NoError(t, err)

	// Simulate the remote application returning the processed dataset
	item := &models.FileStorageItem{
		ID:    "returned",
		Kind:  models.FileStorageKindDicom,
		Dicom: &models.DicomStorageInfo{},
	}
	restored, err := c.Restore(ctx, ds, item)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", restored.CorrelationID)
	assert.Equal(t, "wf-1", restored.WorkflowInstanceID)
	assert.Equal(t, "task-1", restored.ExportTaskID)

	studyUID, _ := plugins.TagValue(ds, tag.StudyInstanceUID)
	assert.Equal(t, "1.2.3.4", studyUID)
	patientID, _ := plugins.TagValue(ds, tag.PatientID)
	assert.Equal(t, "PAT-1", patientID)
	accession, _ := plugins.TagValue(ds, tag.AccessionNumber)
	assert.Equal(t, "ACC-1", accession)

	assert.Equal(t, "corr-1", item.CorrelationID)
	assert.Equal(t, "1.2.3.4", item.Dicom.StudyInstanceUID)
}

func TestRestoreConsumesTheRecord(t *testing.T) {
	repo := repository.NewMemoryRemoteAppExecutionRepository()
	c := New(repo)
	ctx := context.Background()

	ds := outgoingDataset(t)
	_, err := c.Substitute(ctx, ds, exportTask())
	require.NoError(t, err)

	proxyStudyUID, _ := plugins.TagValue(ds, tag.StudyInstanceUID)

	_, err = c.Restore(ctx, ds, nil)
	require.NoError(t, err)

	// Records are single use: a second artifact with the same proxy UID has
	// no record to match
	require.NoError(t, plugins.SetTagValue(ds, tag.StudyInstanceUID, proxyStudyUID))
	_, err = c.Restore(ctx, ds, nil)
	assert.True(t, errors.Is(err, ErrCorrelationMiss))
}

func TestRestoreUnknownProxyIsHardError(t *testing.T) {
	repo := repository.NewMemoryRemoteAppExecutionRepository()
	c := New(repo)

	ds := &dicom.Dataset{}
	require.NoError(t, plugins.SetTagValue(ds, tag.StudyInstanceUID, "2.25.999"))

	_, err := c.Restore(context.Background(), ds, nil)
	assert.True(t, errors.Is(err, ErrCorrelationMiss))
}

func TestProxyUIDFormat(t *testing.T) {
	uid := NewProxyUID()
	assert.Regexp(t, `^2\.25\.\d+$`, uid)
	assert.NotEqual(t, uid, NewProxyUID())
	assert.LessOrEqual(t, len(uid), 44)
}
