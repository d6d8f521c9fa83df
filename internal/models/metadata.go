package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// FileStorageKind is the variant tag carried by the storage metadata envelope.
// It replaces a runtime type name so the persisted form stays portable.
type FileStorageKind string

const (
	FileStorageKindDicom FileStorageKind = "dicom"
	FileStorageKindHL7   FileStorageKind = "hl7"
	FileStorageKindFhir  FileStorageKind = "fhir"
)

// StorageObject describes one stored blob: where it was staged, where it is
// (or will be) uploaded, and whether the upload has completed.
type StorageObject struct {
	TemporaryPath string `json:"temporary_path,omitempty"`
	UploadPath    string `json:"upload_path,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	IsUploaded    bool   `json:"is_uploaded"`
}

// FileStorageItem is the per-artifact metadata shared by all ingestion
// protocols. Variant-specific fields live behind the Kind discriminator;
// exactly one of Dicom, HL7 or Fhir is set.
type FileStorageItem struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	Kind          FileStorageKind `json:"kind"`
	Source        string          `json:"source,omitempty"`
	Destination   string          `json:"destination,omitempty"`
	Service       ServiceType     `json:"service"`
	File          StorageObject   `json:"file"`
	Sidecar       *StorageObject  `json:"sidecar,omitempty"` // JSON companion written alongside the artifact

	Dicom *DicomStorageInfo `json:"dicom,omitempty"`
	HL7   *HL7StorageInfo   `json:"hl7,omitempty"`
	Fhir  *FhirStorageInfo  `json:"fhir,omitempty"`
}

// DicomStorageInfo carries DICOM instance identity
type DicomStorageInfo struct {
	StudyInstanceUID  string `json:"study_instance_uid"`
	SeriesInstanceUID string `json:"series_instance_uid"`
	SOPInstanceUID    string `json:"sop_instance_uid"`
	CalledAETitle     string `json:"called_ae_title,omitempty"`
	CallingAETitle    string `json:"calling_ae_title,omitempty"`
}

// HL7StorageInfo carries HL7 message identity
type HL7StorageInfo struct {
	MessageID   string `json:"message_id"`
	MessageType string `json:"message_type,omitempty"`
	BatchKey    string `json:"batch_key,omitempty"`
}

// FhirStorageInfo carries FHIR resource identity
type FhirStorageInfo struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// PendingUpload reports whether any part of the artifact has not yet been
// uploaded. An item is complete only when the primary file and, if present,
// its sidecar are both uploaded.
func (f *FileStorageItem) PendingUpload() bool {
	if !f.File.IsUploaded {
		return true
	}
	if f.Sidecar != nil && !f.Sidecar.IsUploaded {
		return true
	}
	return false
}

// StorageMetadataWrapper is the persistence envelope that stores
// heterogeneous metadata variants in one collection. TypeName holds the
// variant tag used to validate deserialization of Value.
type StorageMetadataWrapper struct {
	Identity      string `gorm:"type:varchar(1024);primaryKey" json:"identity"`
	CorrelationID string `gorm:"type:varchar(255);not null;index" json:"correlation_id"`
	IsUploaded    bool   `gorm:"index" json:"is_uploaded"`
	TypeName      string `gorm:"type:varchar(64);not null" json:"type_name"`
	Value         string `gorm:"type:text;not null" json:"value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (StorageMetadataWrapper) TableName() string {
	return "storage_metadata_wrappers"
}

// WrapFileStorageItem serializes an item into its persistence envelope
func WrapFileStorageItem(item *FileStorageItem) (*StorageMetadataWrapper, error) {
	if item.ID == "" {
		return nil, fmt.Errorf("file storage item has no identity")
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize file storage item: %w", err)
	}
	return &StorageMetadataWrapper{
		Identity:      item.ID,
		CorrelationID: item.CorrelationID,
		IsUploaded:    !item.PendingUpload(),
		TypeName:      string(item.Kind),
		Value:         string(raw),
	}, nil
}

// Unwrap deserializes the envelope back into the concrete variant. The
// decoded variant tag must match TypeName.
func (w *StorageMetadataWrapper) Unwrap() (*FileStorageItem, error) {
	var item FileStorageItem
	if err := json.Unmarshal([]byte(w.Value), &item); err != nil {
		return nil, fmt.Errorf("failed to deserialize envelope %s: %w", w.Identity, err)
	}
	if string(item.Kind) != w.TypeName {
		return nil, fmt.Errorf("envelope %s type mismatch: wrapper says %q, value says %q", w.Identity, w.TypeName, item.Kind)
	}
	return &item, nil
}
