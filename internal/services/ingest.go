package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/aggregator"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
)

// IngestSource identifies the front end an artifact arrived through
type IngestSource struct {
	// Name is the configured source name used for grouping configuration
	Name string
	// CalledAETitle and CallingAETitle are set for DIMSE arrivals
	CalledAETitle  string
	CallingAETitle string
	// CorrelationID groups all artifacts of one transaction; minted when empty
	CorrelationID string
	// Destination optionally routes the resulting payload to an export target
	Destination string
	// Service is the receiving protocol service; DIMSE when unset
	Service models.ServiceType
}

// IngestConfig holds ingestion settings
type IngestConfig struct {
	// TemporaryPath is the staging directory for inbound artifacts
	TemporaryPath string
	// PlugIns are the input plug-in names applied to DICOM arrivals
	PlugIns []string
}

// IngestService is the artifact entry point shared by all front ends. It
// stages the artifact, runs the input plug-in pipeline, persists the
// metadata envelope and submits the artifact for payload grouping.
type IngestService struct {
	cfg      IngestConfig
	metadata repository.MetadataRepository
	agg      *aggregator.Aggregator
	pipeline *plugins.InputPipeline
}

// NewIngestService creates an ingest service. Unknown plug-in names fail
// here, before any front end starts.
func NewIngestService(cfg IngestConfig, metadata repository.MetadataRepository, agg *aggregator.Aggregator, registry *plugins.Registry) (*IngestService, error) {
	pipeline, err := registry.ResolveInput(cfg.PlugIns)
	if err != nil {
		return nil, fmt.Errorf("ingest pipeline: %w", err)
	}
	return &IngestService{
		cfg:      cfg,
		metadata: metadata,
		agg:      agg,
		pipeline: pipeline,
	}, nil
}

// ReceiveDicom admits one DICOM instance. The grouping key combines the
// source with the called and calling AE titles, so instances of one
// association window coalesce into one payload.
func (s *IngestService) ReceiveDicom(ctx context.Context, src IngestSource, data []byte) (*models.FileStorageItem, error) {
	correlationID := src.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	service := src.Service
	if service == "" {
		service = models.ServiceTypeDIMSE
	}

	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM instance: %w", err)
	}

	item := &models.FileStorageItem{
		ID:            uuid.New().String(),
		CorrelationID: correlationID,
		Kind:          models.FileStorageKindDicom,
		Source:        src.Name,
		Destination:   src.Destination,
		Service:       service,
		Dicom: &models.DicomStorageInfo{
			StudyInstanceUID:  tagValue(&ds, tag.StudyInstanceUID),
			SeriesInstanceUID: tagValue(&ds, tag.SeriesInstanceUID),
			SOPInstanceUID:    tagValue(&ds, tag.SOPInstanceUID),
			CalledAETitle:     src.CalledAETitle,
			CallingAETitle:    src.CallingAETitle,
		},
	}
	if item.Dicom.SOPInstanceUID == "" {
		return nil, fmt.Errorf("DICOM instance carries no SOP instance UID")
	}

	if err := s.pipeline.Execute(ctx, &ds, item); err != nil {
		return nil, err
	}

	// Re-encode after the pipeline so staged bytes match the transformed
	// dataset
	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds); err != nil {
		return nil, fmt.Errorf("failed to encode DICOM instance: %w", err)
	}

	if err := s.stage(ctx, item, buf.Bytes(), item.Dicom.SOPInstanceUID+".dcm"); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s/%s", src.Name, src.CalledAETitle, src.CallingAETitle)
	origin := models.DataOrigin{Source: src.Name, Destination: src.Destination, Service: service}
	if err := s.agg.Submit(ctx, key, *item, origin, false); err != nil {
		return nil, err
	}

	log.Debug().
		Str("correlation_id", correlationID).
		Str("sop_instance_uid", item.Dicom.SOPInstanceUID).
		Str("source", src.Name).
		Msg("DICOM instance admitted")
	return item, nil
}

// ReceiveHL7 admits one HL7 message. HL7 arrivals have no grouping
// semantics; the payload flushes immediately.
func (s *IngestService) ReceiveHL7(ctx context.Context, src IngestSource, message []byte) (*models.FileStorageItem, error) {
	correlationID := src.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	item := &models.FileStorageItem{
		ID:            uuid.New().String(),
		CorrelationID: correlationID,
		Kind:          models.FileStorageKindHL7,
		Source:        src.Name,
		Destination:   src.Destination,
		Service:       models.ServiceTypeHL7,
		HL7: &models.HL7StorageInfo{
			MessageID:   hl7MessageControlID(message),
			MessageType: hl7MessageType(message),
		},
	}

	if err := s.stage(ctx, item, message, item.ID+".hl7"); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s", src.Name, correlationID)
	origin := models.DataOrigin{Source: src.Name, Destination: src.Destination, Service: models.ServiceTypeHL7}
	if err := s.agg.Submit(ctx, key, *item, origin, true); err != nil {
		return nil, err
	}

	log.Debug().
		Str("correlation_id", correlationID).
		Str("message_id", item.HL7.MessageID).
		Str("source", src.Name).
		Msg("HL7 message admitted")
	return item, nil
}

// stage writes the artifact and its JSON sidecar to temporary storage and
// persists the metadata envelope. The envelope is inserted before the bytes
// land and updated to uploaded afterwards, so a crash between the two leaves
// a pending-upload record for startup cleanup.
func (s *IngestService) stage(ctx context.Context, item *models.FileStorageItem, data []byte, filename string) error {
	dir := filepath.Join(s.cfg.TemporaryPath, item.CorrelationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	path := filepath.Join(dir, filename)
	item.File = models.StorageObject{TemporaryPath: path}
	item.Sidecar = &models.StorageObject{TemporaryPath: path + ".json"}

	if err := s.metadata.Add(ctx, item); err != nil {
		return fmt.Errorf("failed to persist metadata envelope: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to stage artifact: %w", err)
	}
	sidecar, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	if err := os.WriteFile(item.Sidecar.TemporaryPath, sidecar, 0o644); err != nil {
		return fmt.Errorf("failed to stage sidecar: %w", err)
	}

	item.File.IsUploaded = true
	item.Sidecar.IsUploaded = true
	if err := s.metadata.Update(ctx, item); err != nil {
		return fmt.Errorf("failed to mark artifact uploaded: %w", err)
	}
	return nil
}

func tagValue(ds *dicom.Dataset, t tag.Tag) string {
	value, _ := plugins.TagValue(ds, t)
	return value
}

// hl7MessageControlID extracts MSH-10 from a raw message
func hl7MessageControlID(message []byte) string {
	return hl7Field(message, 9)
}

// hl7MessageType extracts MSH-9 from a raw message
func hl7MessageType(message []byte) string {
	return hl7Field(message, 8)
}

func hl7Field(message []byte, index int) string {
	header := message
	if i := bytes.IndexByte(message, '\r'); i >= 0 {
		header = message[:i]
	}
	fields := bytes.Split(header, []byte("|"))
	if len(fields) <= index {
		return ""
	}
	return string(fields[index])
}
