package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/registry"
	"github.com/pavitra93/go-multi-tenant-pos/shared/session"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
)

// Context keys set by the middleware in this package
const (
	ClaimsKey = "claims"
	HandleKey = "tenant_handle"
	TenantKey = "tenant"
)

// TokenValidator validates session tokens
type TokenValidator interface {
	ValidateToken(token string) (*session.Claims, error)
}

// HandleSource hands out tenant data store handles
type HandleSource interface {
	Handle(ctx context.Context, meta tenancy.Meta) (tenancy.Handle, error)
}

// AuthMiddleware handles session token validation
type AuthMiddleware struct {
	tokens TokenValidator
	pool   HandleSource
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenValidator, pool HandleSource) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, pool: pool}
}

// RequireAuth validates the bearer token and re-establishes the tenant from its
// claims. No registry lookup is needed.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			utils.UnauthorizedResponse(c, "Authorization token required")
			c.Abort()
			return
		}

		claims, err := am.tokens.ValidateToken(tokenString)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		meta := tenancy.Meta{
			ID:          claims.TenantID,
			Slug:        claims.TenantSlug,
			DataStoreID: registry.DataStoreID(claims.TenantSlug),
		}
		if !establish(c, am.pool, meta) {
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireRole allows only principals holding one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			utils.UnauthorizedResponse(c, "Authentication required")
			c.Abort()
			return
		}

		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, utils.APIResponse{
			Success: false,
			Error:   "Insufficient permissions",
			Data: gin.H{
				"required_roles": roles,
				"user_role":      claims.Role,
			},
		})
		c.Abort()
	}
}

// RequireTenantParam rejects requests whose path tenant differs from the
// tenant the token was issued for
func RequireTenantParam(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			utils.UnauthorizedResponse(c, "Authentication required")
			c.Abort()
			return
		}
		if registry.NormalizeSlug(c.Param(param)) != claims.TenantSlug {
			utils.ForbiddenResponse(c, "Access denied to this tenant")
			c.Abort()
			return
		}
		c.Next()
	}
}

// establish acquires the tenant handle and places the tenant on the request context
func establish(c *gin.Context, pool HandleSource, meta tenancy.Meta) bool {
	h, err := pool.Handle(c.Request.Context(), meta)
	if err != nil {
		utils.ErrorFromErr(c, err)
		return false
	}
	ctx, err := tenancy.WithTenant(c.Request.Context(), meta)
	if err != nil {
		utils.ErrorFromErr(c, err)
		return false
	}
	c.Request = c.Request.WithContext(ctx)
	c.Set(HandleKey, h)
	c.Set(TenantKey, meta)
	return true
}

// extractToken extracts the bearer token from the Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return authHeader
}

// GetClaims returns the session claims set by RequireAuth
func GetClaims(c *gin.Context) (*session.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*session.Claims)
	return claims, ok
}

// GetHandle returns the tenant handle established for the request
func GetHandle(c *gin.Context) (tenancy.Handle, error) {
	v, ok := c.Get(HandleKey)
	if !ok {
		return tenancy.Handle{}, tenancy.ErrNoTenantContext
	}
	h, ok := v.(tenancy.Handle)
	if !ok {
		return tenancy.Handle{}, errs.New(errs.EInternal, "middleware.GetHandle", "unexpected handle type")
	}
	return h, nil
}
