package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
)

// Reconciler restores durable state after a restart. Payloads that were
// still collecting artifacts are discarded along with their pending upload
// metadata; payloads that had already been sealed are re-dispatched.
type Reconciler struct {
	payloads repository.PayloadRepository
	metadata repository.MetadataRepository
}

// NewReconciler creates a startup reconciler
func NewReconciler(payloads repository.PayloadRepository, metadata repository.MetadataRepository) *Reconciler {
	return &Reconciler{payloads: payloads, metadata: metadata}
}

// Run performs startup reconciliation and hands resumable payloads to the
// dispatcher. It must run before the gateway starts accepting traffic.
func (r *Reconciler) Run(ctx context.Context, dispatcher *Dispatcher) error {
	discarded, err := r.payloads.RemovePendingPayloads(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove pending payloads: %w", err)
	}
	if discarded > 0 {
		log.Warn().Int64("count", discarded).Msg("Discarded incomplete payloads from previous run")
	}

	orphaned, err := r.metadata.DeletePendingUploads(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete pending uploads: %w", err)
	}
	if orphaned > 0 {
		log.Warn().Int64("count", orphaned).Msg("Discarded metadata for uploads that never completed")
	}

	resumable, err := r.payloads.GetPayloadsInState(ctx, models.PayloadStateMove, models.PayloadStateNotify)
	if err != nil {
		return fmt.Errorf("failed to load resumable payloads: %w", err)
	}
	for i := range resumable {
		payload := resumable[i]
		log.Info().
			Str("payload_id", payload.ID.String()).
			Str("state", string(payload.State)).
			Msg("Resuming payload from previous run")
		dispatcher.Enqueue(&payload)
	}

	log.Info().
		Int64("discarded_payloads", discarded).
		Int64("orphaned_uploads", orphaned).
		Int("resumed_payloads", len(resumable)).
		Msg("Startup reconciliation complete")
	return nil
}
