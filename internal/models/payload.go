package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PayloadState represents the lifecycle state of a payload
type PayloadState string

const (
	// PayloadStateCreated means the payload is still accumulating files
	PayloadStateCreated PayloadState = "created"
	// PayloadStateMove means the payload is being exported to a destination
	PayloadStateMove PayloadState = "move"
	// PayloadStateNotify means the payload is being announced to the workflow broker
	PayloadStateNotify PayloadState = "notify"
)

// ServiceType identifies the protocol service an artifact arrived through
// or is destined for
type ServiceType string

const (
	ServiceTypeDIMSE     ServiceType = "dimse"
	ServiceTypeDICOMWeb  ServiceType = "dicomweb"
	ServiceTypeHL7       ServiceType = "hl7"
	ServiceTypeRemoteApp ServiceType = "remote_app"
)

// DataOrigin records where a contributing artifact came from and where it is headed
type DataOrigin struct {
	Source      string      `json:"source"`
	Destination string      `json:"destination,omitempty"`
	Service     ServiceType `json:"service"`
}

// Payload is the durable unit of aggregated work. It is created on the first
// artifact arrival for a grouping key, accumulates files while in the created
// state, and is removed after terminal handling.
type Payload struct {
	ID                 uuid.UUID           `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Key                string              `gorm:"type:varchar(512);not null;index" json:"key"`
	State              PayloadState        `gorm:"type:varchar(20);not null;index" json:"state"`
	Files              FileStorageItemList `gorm:"type:jsonb" json:"files"`
	DataOrigins        DataOriginList      `gorm:"type:jsonb" json:"data_origins"`
	Trigger            DataOrigin          `gorm:"embedded;embeddedPrefix:trigger_" json:"trigger"`
	CorrelationID      string              `gorm:"type:varchar(255);index" json:"correlation_id"`
	WorkflowInstanceID string              `gorm:"type:varchar(255)" json:"workflow_instance_id,omitempty"`
	TaskID             string              `gorm:"type:varchar(255)" json:"task_id,omitempty"`
	Timeout            time.Time           `gorm:"index" json:"timeout"` // absolute flush deadline
	RetryCount         int                 `gorm:"default:0" json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Payload) TableName() string {
	return "payloads"
}

// BeforeCreate hook
func (p *Payload) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// NewPayload creates a payload in the created state for a grouping key,
// seeded with the artifact that triggered it.
func NewPayload(key string, item FileStorageItem, origin DataOrigin, timeout time.Time) *Payload {
	return &Payload{
		ID:            uuid.New(),
		Key:           key,
		State:         PayloadStateCreated,
		Files:         FileStorageItemList{item},
		DataOrigins:   DataOriginList{origin},
		Trigger:       origin,
		CorrelationID: item.CorrelationID,
		Timeout:       timeout,
	}
}

// Add appends an artifact and its origin to the payload
func (p *Payload) Add(item FileStorageItem, origin DataOrigin) {
	p.Files = append(p.Files, item)
	p.DataOrigins = append(p.DataOrigins, origin)
}

// FileCount returns the number of accumulated files
func (p *Payload) FileCount() int {
	return len(p.Files)
}

// Expired reports whether the flush deadline has elapsed
func (p *Payload) Expired(now time.Time) bool {
	return !now.Before(p.Timeout)
}

// FileStorageItemList is stored as a single jsonb column
type FileStorageItemList []FileStorageItem

// Value implements driver.Valuer
func (l FileStorageItemList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *FileStorageItemList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// DataOriginList is stored as a single jsonb column
type DataOriginList []DataOrigin

// Value implements driver.Valuer
func (l DataOriginList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *DataOriginList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// StringMap is a tag-to-value map stored as a single jsonb column
type StringMap map[string]string

// Value implements driver.Valuer
func (m StringMap) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *StringMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

func scanJSON(value, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported column type %T", value)
	}
}
