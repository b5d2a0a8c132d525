package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionAction is a session lifecycle transition
type SessionAction string

const (
	ActionLogin         SessionAction = "login"
	ActionLogout        SessionAction = "logout"
	ActionStaleRecovery SessionAction = "stale_recovery"
)

// SessionAudit records session transitions inside a tenant's data store
type SessionAudit struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantScoped
	EmployeeID uuid.UUID     `json:"employee_id" gorm:"type:uuid;not null;index"`
	Action     SessionAction `json:"action" gorm:"type:varchar(20);not null"`
	// ReplacedBy is set on stale recoveries to the principal that took the device
	ReplacedBy *uuid.UUID `json:"replaced_by,omitempty" gorm:"type:uuid"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName returns the table name for the SessionAudit model
func (SessionAudit) TableName() string {
	return "session_audits"
}

// BeforeCreate assigns an ID when the caller did not
func (a *SessionAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
