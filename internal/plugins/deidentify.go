package plugins

import (
	"context"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// DeidentifierName is the stable identifier of the patient-identity remover
const DeidentifierName = "dicom.deidentifier"

// identityTags are cleared before data leaves the gateway
var identityTags = []tag.Tag{
	tag.PatientName,
	tag.PatientBirthDate,
	tag.PatientAddress,
	tag.OtherPatientIDs,
	tag.OtherPatientNames,
}

// Deidentifier removes patient-identifying attributes from a dataset.
// Removal is naturally idempotent under retries.
type Deidentifier struct{}

// Name returns the stable plug-in identifier
func (d *Deidentifier) Name() string {
	return DeidentifierName
}

// Execute clears identity tags and blanks the patient ID
func (d *Deidentifier) Execute(ctx context.Context, ds *dicom.Dataset, item *models.FileStorageItem) error {
	for _, t := range identityTags {
		RemoveTag(ds, t)
	}
	return SetTagValue(ds, tag.PatientID, "ANONYMIZED")
}

// RegisterBuiltIn registers the plug-ins that ship with the gateway
func RegisterBuiltIn(registry *Registry) {
	registry.RegisterInput(DeidentifierName, "Removes patient-identifying attributes from incoming DICOM instances",
		func() InputDataPlugIn { return &Deidentifier{} })
}
