package models

import (
	"time"
)

// RemoteAppExecution correlates data sent to an external application with
// its original identifiers so the round-tripped result can be matched back
// to its originating workflow. Records are single-use: consumed on
// successful restoration.
type RemoteAppExecution struct {
	OutgoingUID        string    `gorm:"type:varchar(255);primaryKey" json:"outgoing_uid"`
	CorrelationID      string    `gorm:"type:varchar(255);not null;index" json:"correlation_id"`
	WorkflowInstanceID string    `gorm:"type:varchar(255)" json:"workflow_instance_id"`
	ExportTaskID       string    `gorm:"type:varchar(255)" json:"export_task_id"`
	StudyUID           string    `gorm:"type:varchar(255);index" json:"study_uid"`
	RequestTime        time.Time `json:"request_time"`
	OriginalValues     StringMap `gorm:"type:jsonb" json:"original_values"`
	ProxyValues        StringMap `gorm:"type:jsonb" json:"proxy_values"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (RemoteAppExecution) TableName() string {
	return "remote_app_executions"
}
