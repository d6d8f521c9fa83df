package plugins

import (
	"context"
	"fmt"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// InputDataPlugIn transforms an artifact and its metadata on ingestion,
// before the artifact enters a payload. Stages must be idempotent: a stage
// may run again for the same artifact after a retry and must not
// double-apply its transformation.
type InputDataPlugIn interface {
	Name() string
	Execute(ctx context.Context, ds *dicom.Dataset, item *models.FileStorageItem) error
}

// OutputDataPlugIn transforms an artifact on export. Any tag substitutions
// performed are returned so they can be reported and later reversed.
type OutputDataPlugIn interface {
	Name() string
	Execute(ctx context.Context, ds *dicom.Dataset, task *ExportTaskContext) ([]Substitution, error)
}

// ExportTaskContext carries the workflow identifiers of the export task an
// output stage is running for.
type ExportTaskContext struct {
	CorrelationID      string
	WorkflowInstanceID string
	ExportTaskID       string
	Destination        string
}

// Substitution records one tag value replacement performed by a stage
type Substitution struct {
	Tag      string `json:"tag"`
	Original string `json:"original"`
	Proxy    string `json:"proxy"`
}

// InputPipeline applies input stages in configuration order
type InputPipeline struct {
	stages []InputDataPlugIn
}

// Execute runs every stage in order, stopping at the first failure
func (p *InputPipeline) Execute(ctx context.Context, ds *dicom.Dataset, item *models.FileStorageItem) error {
	for _, stage := range p.stages {
		if err := stage.Execute(ctx, ds, item); err != nil {
			return fmt.Errorf("input plug-in %q failed: %w", stage.Name(), err)
		}
	}
	return nil
}

// OutputPipeline applies output stages in configuration order, accumulating
// the substitutions they perform
type OutputPipeline struct {
	stages []OutputDataPlugIn
}

// Execute runs every stage in order, stopping at the first failure
func (p *OutputPipeline) Execute(ctx context.Context, ds *dicom.Dataset, task *ExportTaskContext) ([]Substitution, error) {
	var substitutions []Substitution
	for _, stage := range p.stages {
		subs, err := stage.Execute(ctx, ds, task)
		if err != nil {
			return substitutions, fmt.Errorf("output plug-in %q failed: %w", stage.Name(), err)
		}
		substitutions = append(substitutions, subs...)
	}
	return substitutions, nil
}

// TagValue reads a string tag value from the dataset
func TagValue(ds *dicom.Dataset, t tag.Tag) (string, bool) {
	element, err := ds.FindElementByTag(t)
	if err != nil || element == nil {
		return "", false
	}
	if values, ok := element.Value.GetValue().([]string); ok && len(values) > 0 {
		return values[0], true
	}
	return "", false
}

// SetTagValue writes a string tag value into the dataset, replacing any
// existing element for the tag
func SetTagValue(ds *dicom.Dataset, t tag.Tag, value string) error {
	element, err := dicom.NewElement(t, []string{value})
	if err != nil {
		return fmt.Errorf("failed to build element for %s: %w", TagName(t), err)
	}
	for i, existing := range ds.Elements {
		if existing.Tag == t {
			ds.Elements[i] = element
			return nil
		}
	}
	ds.Elements = append(ds.Elements, element)
	return nil
}

// RemoveTag drops an element from the dataset; removing an absent tag is a no-op
func RemoveTag(ds *dicom.Dataset, t tag.Tag) {
	for i, existing := range ds.Elements {
		if existing.Tag == t {
			ds.Elements = append(ds.Elements[:i], ds.Elements[i+1:]...)
			return
		}
	}
}

// TagName returns the dictionary keyword for a tag, falling back to its
// group/element form
func TagName(t tag.Tag) string {
	if info, err := tag.Find(t); err == nil && info.Name != "" {
		return info.Name
	}
	return t.String()
}
