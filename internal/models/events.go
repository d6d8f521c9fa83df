package models

import (
	"time"
)

// ExportStatus is the terminal status carried by an export completion event
type ExportStatus string

const (
	ExportStatusSuccess ExportStatus = "success"
	ExportStatusFailure ExportStatus = "failure"
	ExportStatusPartial ExportStatus = "partial"
)

// WorkflowRequestEvent announces a completed payload to the workflow broker.
// Delivery is at-least-once; consumers deduplicate by CorrelationID.
type WorkflowRequestEvent struct {
	PayloadID     string       `json:"payload_id" msgpack:"payload_id"`
	CorrelationID string       `json:"correlation_id" msgpack:"correlation_id"`
	FileCount     int          `json:"file_count" msgpack:"file_count"`
	DataOrigins   []DataOrigin `json:"data_origins" msgpack:"data_origins"`
	Trigger       DataOrigin   `json:"trigger" msgpack:"trigger"`
	Timestamp     time.Time    `json:"timestamp" msgpack:"timestamp"`
}

// ExportCompleteEvent reports the terminal outcome of exporting a payload to
// a destination. Exactly one is emitted per payload per terminal outcome.
type ExportCompleteEvent struct {
	PayloadID     string            `json:"payload_id" msgpack:"payload_id"`
	CorrelationID string            `json:"correlation_id" msgpack:"correlation_id"`
	TaskID        string            `json:"task_id,omitempty" msgpack:"task_id"`
	Destination   string            `json:"destination" msgpack:"destination"`
	Status        ExportStatus      `json:"status" msgpack:"status"`
	Message       string            `json:"message,omitempty" msgpack:"message"`
	FileStatuses  map[string]string `json:"file_statuses,omitempty" msgpack:"file_statuses"`
	Timestamp     time.Time         `json:"timestamp" msgpack:"timestamp"`
}

// NewWorkflowRequestEvent builds the broker announcement for a payload
func NewWorkflowRequestEvent(p *Payload) *WorkflowRequestEvent {
	return &WorkflowRequestEvent{
		PayloadID:     p.ID.String(),
		CorrelationID: p.CorrelationID,
		FileCount:     p.FileCount(),
		DataOrigins:   p.DataOrigins,
		Trigger:       p.Trigger,
		Timestamp:     time.Now().UTC(),
	}
}
