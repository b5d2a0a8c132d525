package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantStatus is the subscription state of a tenant
type TenantStatus string

const (
	TenantStatusTrial    TenantStatus = "trial"
	TenantStatusPaid     TenantStatus = "paid"
	TenantStatusInactive TenantStatus = "inactive"
)

// Valid reports whether s is a known subscription state
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantStatusTrial, TenantStatusPaid, TenantStatusInactive:
		return true
	}
	return false
}

// Tenant represents a cafe registered on the platform. It lives in the master store.
type Tenant struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string         `json:"name" gorm:"type:varchar(255);not null"`
	Slug        string         `json:"slug" gorm:"type:varchar(50);uniqueIndex;not null"`
	DataStoreID string         `json:"data_store_id" gorm:"type:varchar(63);not null"`
	Status      TenantStatus   `json:"status" gorm:"type:varchar(20);not null;default:'trial'"`
	TrialEndsAt *time.Time     `json:"trial_ends_at,omitempty"`
	IsActive    bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// BeforeCreate assigns an ID when the caller did not
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// IsOperational reports whether requests for this tenant should be served at now.
// A cleared active flag, an inactive status or a lapsed trial stops the tenant.
func (t *Tenant) IsOperational(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	switch t.Status {
	case TenantStatusPaid:
		return true
	case TenantStatusTrial:
		return t.TrialEndsAt == nil || now.Before(*t.TrialEndsAt)
	}
	return false
}

// TrialDaysRemaining returns the whole days left in the trial, rounded up.
// Tenants that are not on trial report zero.
func (t *Tenant) TrialDaysRemaining(now time.Time) int {
	if t.Status != TenantStatusTrial || t.TrialEndsAt == nil {
		return 0
	}
	left := t.TrialEndsAt.Sub(now)
	if left <= 0 {
		return 0
	}
	days := int(left / (24 * time.Hour))
	if left%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// Account maps a login email to the tenant that owns it, so staff can sign in
// without knowing their cafe's slug. It lives in the master store.
type Account struct {
	Email     string    `json:"email" gorm:"type:varchar(255);primaryKey"`
	TenantID  uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	CreatedAt time.Time `json:"created_at"`

	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}

// TableName returns the table name for the Account model
func (Account) TableName() string {
	return "accounts"
}
