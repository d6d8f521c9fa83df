package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/metrics"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
)

// AssociationRecorder tracks inbound association lifecycles for auditing
type AssociationRecorder struct {
	repo repository.AssociationRepository
}

// NewAssociationRecorder creates an association recorder
func NewAssociationRecorder(repo repository.AssociationRepository) *AssociationRecorder {
	return &AssociationRecorder{repo: repo}
}

// Begin records a newly accepted association
func (r *AssociationRecorder) Begin(ctx context.Context, calledAET, callingAET, remoteHost string, remotePort int, correlationID string) (*models.DicomAssociationInfo, error) {
	info := &models.DicomAssociationInfo{
		CalledAETitle:  calledAET,
		CallingAETitle: callingAET,
		RemoteHost:     remoteHost,
		RemotePort:     remotePort,
		CorrelationID:  correlationID,
		ConnectedAt:    time.Now().UTC(),
	}
	if err := r.repo.Add(ctx, info); err != nil {
		return nil, err
	}

	metrics.ActiveAssociations.Inc()
	log.Info().
		Str("called_aet", calledAET).
		Str("calling_aet", callingAET).
		Str("remote_host", remoteHost).
		Str("correlation_id", correlationID).
		Msg("Association accepted")
	return info, nil
}

// FileReceived counts one artifact against the association
func (r *AssociationRecorder) FileReceived(ctx context.Context, info *models.DicomAssociationInfo) {
	info.FileReceived()
	if err := r.repo.Update(ctx, info); err != nil {
		log.Error().Err(err).
			Str("correlation_id", info.CorrelationID).
			Msg("Failed to update association file count")
	}
}

// Close records the end of an association
func (r *AssociationRecorder) Close(ctx context.Context, info *models.DicomAssociationInfo) {
	info.Disconnect(time.Now().UTC())
	metrics.ActiveAssociations.Dec()
	if err := r.repo.Update(ctx, info); err != nil {
		log.Error().Err(err).
			Str("correlation_id", info.CorrelationID).
			Msg("Failed to record association end")
	}

	log.Info().
		Str("called_aet", info.CalledAETitle).
		Str("calling_aet", info.CallingAETitle).
		Int("files", info.FileCount).
		Int64("duration_ms", info.DurationMs).
		Msg("Association closed")
}
