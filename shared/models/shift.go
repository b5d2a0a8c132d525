package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ShiftStatus represents the status of a cash-drawer shift
type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "OPEN"
	ShiftClosed ShiftStatus = "CLOSED"
)

// Shift is a cash-drawer working period. An OPEN shift is the signal that the
// device is in active use.
type Shift struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantScoped
	// At most one OPEN shift per employee
	EmployeeID  uuid.UUID   `json:"employee_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_shifts_one_open,where:status = 'OPEN'"`
	Status      ShiftStatus `json:"status" gorm:"type:varchar(10);not null;default:'OPEN';index"`
	OpeningCash int64       `json:"opening_cash"`
	ClosingCash *int64      `json:"closing_cash,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	Duration    int         `json:"duration"` // in seconds
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	Employee *Employee `json:"employee,omitempty" gorm:"foreignKey:EmployeeID"`
}

// TableName returns the table name for the Shift model
func (Shift) TableName() string {
	return "shifts"
}

// BeforeCreate assigns an ID when the caller did not
func (s *Shift) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsOpen checks if the shift is still running
func (s *Shift) IsOpen() bool {
	return s.Status == ShiftOpen
}

// Close ends the shift at now with the counted drawer amount
func (s *Shift) Close(now time.Time, closingCash int64) {
	s.ClosedAt = &now
	s.ClosingCash = &closingCash
	s.Status = ShiftClosed
	s.Duration = int(now.Sub(s.OpenedAt).Seconds())
}
