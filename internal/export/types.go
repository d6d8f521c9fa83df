package export

import (
	"fmt"
	"time"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
)

// DestinationType selects the transport used to reach a destination
type DestinationType string

const (
	DestinationTypeDIMSE    DestinationType = "dimse"
	DestinationTypeDICOMWeb DestinationType = "dicomweb"
	DestinationTypeHL7      DestinationType = "hl7"
)

// Destination describes one configured export target
type Destination struct {
	Name           string
	Type           DestinationType
	Host           string
	Port           int
	AETitle        string // called AE title for DIMSE destinations
	CallingAETitle string
	Endpoint       string // base URL for DICOMweb destinations
	Timeout        time.Duration
}

// Addr returns the host:port form of the destination
func (d Destination) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Operation is the DIMSE-level operation a work request performs
type Operation string

const (
	OperationStore Operation = "store"
	OperationEcho  Operation = "echo"
)

// Status is the outcome of a work request
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ErrorKind classifies expected delivery failures. These are results, not
// exceptions; only unexpected faults surface as errors.
type ErrorKind string

const (
	ErrorNone                ErrorKind = "none"
	ErrorAssociationRejected ErrorKind = "association_rejected"
	ErrorUnreachable         ErrorKind = "unreachable"
	ErrorTimeout             ErrorKind = "timeout"
	ErrorAborted             ErrorKind = "aborted"
	ErrorCancelled           ErrorKind = "cancelled"
)

// ScuWorkRequest is one unit of work for a destination's queue
type ScuWorkRequest struct {
	ID                 string
	CorrelationID      string
	TaskID             string
	WorkflowInstanceID string
	Destination        Destination
	Operation          Operation
	Files              []models.FileStorageItem
	Pipeline           *plugins.OutputPipeline
}

// ScuWorkResponse is the structured result of one work request
type ScuWorkResponse struct {
	RequestID     string
	Status        Status
	Error         ErrorKind
	Message       string
	FileStatuses  map[string]string
	Substitutions []plugins.Substitution
}

// ExportFile is a prepared artifact ready for transport
type ExportFile struct {
	Identity string
	Data     []byte
}

// DeliveryResult is what a transport reports for one delivery attempt
type DeliveryResult struct {
	Status       Status
	Error        ErrorKind
	Message      string
	FileStatuses map[string]string
}

func succeeded() *DeliveryResult {
	return &DeliveryResult{Status: StatusSuccess, Error: ErrorNone}
}

func failed(kind ErrorKind, message string) *DeliveryResult {
	return &DeliveryResult{Status: StatusFailure, Error: kind, Message: message}
}
