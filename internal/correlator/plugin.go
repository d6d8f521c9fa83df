package correlator

import (
	"context"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
	"github.com/suyashkumar/dicom"
)

const (
	// OutgoingPlugInName identifies the egress substitution stage
	OutgoingPlugInName = "remote_app.outgoing"
	// IncomingPlugInName identifies the ingress restoration stage
	IncomingPlugInName = "remote_app.incoming"
)

// OutgoingPlugIn is the output stage applied before data is sent to an
// external application
type OutgoingPlugIn struct {
	correlator *Correlator
}

// Name returns the stable plug-in identifier
func (p *OutgoingPlugIn) Name() string {
	return OutgoingPlugInName
}

// Execute substitutes identifying tags and records the mapping
func (p *OutgoingPlugIn) Execute(ctx context.Context, ds *dicom.Dataset, task *plugins.ExportTaskContext) ([]plugins.Substitution, error) {
	return p.correlator.Substitute(ctx, ds, task)
}

// IncomingPlugIn is the input stage applied when an external application
// returns data carrying proxy identifiers
type IncomingPlugIn struct {
	correlator *Correlator
}

// Name returns the stable plug-in identifier
func (p *IncomingPlugIn) Name() string {
	return IncomingPlugInName
}

// Execute restores original identifiers and workflow context
func (p *IncomingPlugIn) Execute(ctx context.Context, ds *dicom.Dataset, item *models.FileStorageItem) error {
	_, err := p.correlator.Restore(ctx, ds, item)
	return err
}

// RegisterPlugIns adds the correlator's egress/ingress pair to the registry
func RegisterPlugIns(registry *plugins.Registry, c *Correlator) {
	registry.RegisterOutput(OutgoingPlugInName, "Replaces identifying tags with proxy values before export to an external application",
		func() plugins.OutputDataPlugIn { return &OutgoingPlugIn{correlator: c} })
	registry.RegisterInput(IncomingPlugInName, "Restores original identifiers on data returned by an external application",
		func() plugins.InputDataPlugIn { return &IncomingPlugIn{correlator: c} })
}
