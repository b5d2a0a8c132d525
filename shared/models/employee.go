package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmployeeRole is the role of a staff member inside a tenant
type EmployeeRole string

const (
	RoleOwner   EmployeeRole = "owner"
	RoleAdmin   EmployeeRole = "admin"
	RoleManager EmployeeRole = "manager"
	RoleCashier EmployeeRole = "kasir"
	RoleBarista EmployeeRole = "barista"
)

// AuthProvider is how a principal proves identity
type AuthProvider string

const (
	ProviderLocal  AuthProvider = "local"
	ProviderGoogle AuthProvider = "google"
)

// Employee is a principal inside a tenant's data store
type Employee struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantScoped
	Name         string       `json:"name" gorm:"type:varchar(255);not null"`
	Username     string       `json:"username" gorm:"type:varchar(100);not null;uniqueIndex:idx_employees_username"`
	Email        string       `json:"email,omitempty" gorm:"type:varchar(255);index"`
	Role         EmployeeRole `json:"role" gorm:"type:varchar(20);not null"`
	AuthProvider AuthProvider `json:"auth_provider" gorm:"type:varchar(20);not null;default:'local'"`
	PasswordHash string       `json:"-" gorm:"type:varchar(255)"`
	PinHash      string       `json:"-" gorm:"type:varchar(255)"`
	PinDigest    string       `json:"-" gorm:"type:varchar(64)"`
	IsLoggedIn   bool         `json:"is_logged_in" gorm:"not null;default:false;index"`
	IsVerified   bool         `json:"is_verified" gorm:"not null;default:false"`
	IsActive     bool         `json:"is_active" gorm:"not null;default:true"`
	LastLoginAt  *time.Time   `json:"last_login_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName returns the table name for the Employee model
func (Employee) TableName() string {
	return "employees"
}

// BeforeCreate assigns an ID when the caller did not
func (e *Employee) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// RequiresVerification reports whether the principal must confirm their email
// before signing in. Only locally registered accounts are ever unverified.
func (e *Employee) RequiresVerification() bool {
	return e.AuthProvider == ProviderLocal && e.Email != "" && !e.IsVerified
}
