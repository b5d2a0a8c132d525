package models

import "github.com/google/uuid"

// TenantOwned marks models whose rows belong to exactly one tenant. Statements on
// these models are scoped by the tenancy guard.
type TenantOwned interface {
	OwnerTenantID() uuid.UUID
}

// TenantScoped is embedded by tenant-owned models
type TenantScoped struct {
	TenantID uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
}

// OwnerTenantID returns the owning tenant
func (s TenantScoped) OwnerTenantID() uuid.UUID {
	return s.TenantID
}

// TenantModels lists every tenant-owned model, in migration order
func TenantModels() []interface{} {
	return []interface{}{&Employee{}, &Shift{}, &SessionAudit{}}
}
