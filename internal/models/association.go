package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DicomAssociationInfo records one inbound network association. It is
// created on association open, mutated on each file received, finalized on
// disconnect and read-only afterward.
type DicomAssociationInfo struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CalledAETitle  string     `gorm:"type:varchar(64);not null;index" json:"called_ae_title"`
	CallingAETitle string     `gorm:"type:varchar(64);not null" json:"calling_ae_title"`
	RemoteHost     string     `gorm:"type:varchar(255)" json:"remote_host"`
	RemotePort     int        `json:"remote_port"`
	CorrelationID  string     `gorm:"type:varchar(255);index" json:"correlation_id"`
	FileCount      int        `gorm:"default:0" json:"file_count"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	DurationMs     int64      `json:"duration_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (DicomAssociationInfo) TableName() string {
	return "dicom_association_info"
}

// BeforeCreate hook
func (a *DicomAssociationInfo) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// FileReceived increments the per-association file counter
func (a *DicomAssociationInfo) FileReceived() {
	a.FileCount++
}

// Disconnect stamps the association closed and derives its duration
func (a *DicomAssociationInfo) Disconnect(now time.Time) {
	a.DisconnectedAt = &now
	a.DurationMs = now.Sub(a.ConnectedAt).Milliseconds()
}
