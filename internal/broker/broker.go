package broker

import (
	"context"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
)

// Publisher announces gateway events to the workflow message broker.
// Delivery is at-least-once; consumers deduplicate by correlation id and
// task id.
type Publisher interface {
	// Notify announces a completed payload for workflow processing
	Notify(ctx context.Context, event *models.WorkflowRequestEvent) error

	// Publish reports the terminal outcome of an export
	Publish(ctx context.Context, event *models.ExportCompleteEvent) error

	Close() error
}
