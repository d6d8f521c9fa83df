package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapCarriesVariantTag(t *testing.T) {
	item := &FileStorageItem{
		ID:            "1.2.840.1",
		CorrelationID: "corr-1",
		Kind:          FileStorageKindDicom,
		File:          StorageObject{TemporaryPath: "/tmp/a.dcm", IsUploaded: true},
		Dicom:         &DicomStorageInfo{SOPInstanceUID: "1.2.840.1"},
	}

	wrapper, err := WrapFileStorageItem(item)
	require.NoError(t, err)
	assert.Equal(t, "1.2.840.1", wrapper.Identity)
	assert.Equal(t, "dicom", wrapper.TypeName)
	assert.True(t, wrapper.IsUploaded)

	restored, err := wrapper.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, item.Dicom.SOPInstanceUID, restored.Dicom.SOPInstanceUID)
}

func TestWrapRequiresIdentity(t *testing.T) {
	_, err := WrapFileStorageItem(&FileStorageItem{Kind: FileStorageKindHL7})
	assert.Error(t, err)
}

func TestUnwrapRejectsVariantMismatch(t *testing.T) {
	item := &FileStorageItem{ID: "msg-1", CorrelationID: "corr-1", Kind: FileStorageKindHL7}
	wrapper, err := WrapFileStorageItem(item)
	require.NoError(t, err)

	// A wrapper whose tag disagrees with its serialized value must not decode
	wrapper.TypeName = string(FileStorageKindDicom)
	_, err = wrapper.Unwrap()
	assert.ErrorContains(t, err, "type mismatch")
}

func TestUnwrapRejectsCorruptValue(t *testing.T) {
	wrapper := &StorageMetadataWrapper{Identity: "msg-1", TypeName: "hl7", Value: "{truncated"}
	_, err := wrapper.Unwrap()
	assert.Error(t, err)
}

func TestPendingUploadConsidersSidecar(t *testing.T) {
	item := &FileStorageItem{
		ID:   "msg-1",
		Kind: FileStorageKindHL7,
		File: StorageObject{IsUploaded: true},
	}
	assert.False(t, item.PendingUpload())

	item.Sidecar = &StorageObject{}
	assert.True(t, item.PendingUpload())

	item.Sidecar.IsUploaded = true
	assert.False(t, item.PendingUpload())

	item.File.IsUploaded = false
	assert.True(t, item.PendingUpload())
}
