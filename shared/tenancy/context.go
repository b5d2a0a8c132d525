// Package tenancy carries the resolved tenant through a request, hands out
// per-tenant data store handles and scopes every tenant-owned statement.
package tenancy

import (
	"context"

	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
)

// Meta is the tenant identity established for one logical request
type Meta struct {
	ID          uuid.UUID           `json:"id"`
	Slug        string              `json:"slug"`
	DataStoreID string              `json:"data_store_id"`
	Status      models.TenantStatus `json:"status"`
}

// MetaFromTenant builds the request identity for a registry record
func MetaFromTenant(t *models.Tenant) Meta {
	return Meta{ID: t.ID, Slug: t.Slug, DataStoreID: t.DataStoreID, Status: t.Status}
}

type tenantKey struct{}

var (
	// ErrNoTenantContext is returned when tenant-scoped work runs without a tenant
	ErrNoTenantContext = &errs.Error{Code: errs.EInternal, Op: "tenancy", Msg: "no tenant established for this request"}
	// ErrNestedContext is returned when a request tries to establish a second tenant
	ErrNestedContext = &errs.Error{Code: errs.EInternal, Op: "tenancy", Msg: "tenant context already established"}
)

// WithTenant returns a child of ctx carrying meta. Contexts are never nested:
// establishing a tenant on a context that already has one fails.
func WithTenant(ctx context.Context, meta Meta) (context.Context, error) {
	if meta.ID == uuid.Nil {
		return nil, &errs.Error{Code: errs.EInvalid, Op: "tenancy.WithTenant", Msg: "tenant id is required"}
	}
	if _, ok := FromContext(ctx); ok {
		return nil, ErrNestedContext
	}
	return context.WithValue(ctx, tenantKey{}, meta), nil
}

// Run executes fn with meta established. The tenant is visible only to fn and to
// goroutines it starts from the context it receives.
func Run(ctx context.Context, meta Meta, fn func(ctx context.Context) error) error {
	scoped, err := WithTenant(ctx, meta)
	if err != nil {
		return err
	}
	return fn(scoped)
}

// FromContext returns the tenant established on ctx, if any
func FromContext(ctx context.Context) (Meta, bool) {
	if ctx == nil {
		return Meta{}, false
	}
	meta, ok := ctx.Value(tenantKey{}).(Meta)
	return meta, ok
}

// MustFromContext returns the tenant established on ctx or panics with ErrNoTenantContext
func MustFromContext(ctx context.Context) Meta {
	meta, ok := FromContext(ctx)
	if !ok {
		panic(ErrNoTenantContext)
	}
	return meta
}
