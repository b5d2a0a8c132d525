package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
)

// TenantHeader carries the tenant slug on routes without a slug path segment
const TenantHeader = "X-Tenant-Slug"

// Resolver looks tenants up by slug
type Resolver interface {
	Resolve(ctx context.Context, slug string) (*models.Tenant, error)
}

// TenantResolver establishes the tenant of unauthenticated tenant routes
type TenantResolver struct {
	registry Resolver
	pool     HandleSource
	now      func() time.Time
}

// NewTenantResolver creates a resolver middleware factory
func NewTenantResolver(r Resolver, pool HandleSource) *TenantResolver {
	return &TenantResolver{registry: r, pool: pool, now: time.Now}
}

// ResolveTenant reads the slug from the named path parameter, falling back to
// the X-Tenant-Slug header, and establishes that tenant for the request.
// Inactive tenants and lapsed trials are refused.
func (tr *TenantResolver) ResolveTenant(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		slug := c.Param(param)
		if slug == "" {
			slug = c.GetHeader(TenantHeader)
		}
		if slug == "" {
			utils.BadRequestResponse(c, "Tenant slug is required")
			c.Abort()
			return
		}

		t, err := tr.registry.Resolve(c.Request.Context(), slug)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if !t.IsOperational(tr.now()) {
			utils.ErrorFromErr(c, errs.New(errs.EForbidden, "middleware.ResolveTenant", "tenant %q is not active", t.Slug))
			return
		}

		establish(c, tr.pool, tenancy.MetaFromTenant(t))
	}
}

// GetTenant returns the tenant established for the request
func GetTenant(c *gin.Context) (tenancy.Meta, bool) {
	v, ok := c.Get(TenantKey)
	if !ok {
		return tenancy.Meta{}, false
	}
	meta, ok := v.(tenancy.Meta)
	return meta, ok
}
