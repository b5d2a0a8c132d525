package main

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/middleware"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/registry"
	"github.com/pavitra93/go-multi-tenant-pos/shared/session"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
)

// DirectLoginRequest is a login on a route without a tenant path segment
type DirectLoginRequest struct {
	TenantSlug string `json:"tenant_slug"`
	session.LoginInput
}

// CreateEmployeeRequest represents the staff creation request
type CreateEmployeeRequest struct {
	Name     string              `json:"name" binding:"required"`
	Username string              `json:"username" binding:"required"`
	Email    string              `json:"email"`
	Role     models.EmployeeRole `json:"role" binding:"required"`
	Password string              `json:"password"`
	PIN      string              `json:"pin"`
}

// handleLogin logs in against the tenant resolved from the path
func handleLogin(authority *session.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req session.LoginInput
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		h, err := middleware.GetHandle(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		result, err := authority.Login(c.Request.Context(), h, req)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Login successful", result)
	}
}

// handleDirectLogin finds the tenant from the body, the X-Tenant-Slug header or,
// for email identifiers, the account directory, then logs in
func handleDirectLogin(reg *registry.Registry, pool *tenancy.Pool, authority *session.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DirectLoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		ctx := c.Request.Context()

		tenant, err := findTenant(ctx, reg, req, c.GetHeader(middleware.TenantHeader))
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if !tenant.IsOperational(time.Now()) {
			utils.ErrorFromErr(c, errs.New(errs.EForbidden, "auth.Login", "tenant %q is not active", tenant.Slug))
			return
		}

		meta := tenancy.MetaFromTenant(tenant)
		h, err := pool.Handle(ctx, meta)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var result *session.LoginResult
		err = tenancy.Run(ctx, meta, func(ctx context.Context) error {
			result, err = authority.Login(ctx, h, req.LoginInput)
			return err
		})
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Login successful", result)
	}
}

func findTenant(ctx context.Context, reg *registry.Registry, req DirectLoginRequest, header string) (*models.Tenant, error) {
	if slug := req.TenantSlug; slug != "" {
		return reg.Resolve(ctx, slug)
	}
	if header != "" {
		return reg.Resolve(ctx, header)
	}
	if strings.Contains(req.Identifier, "@") {
		return reg.LookupAccount(ctx, req.Identifier)
	}
	return nil, errs.New(errs.EInvalid, "auth.Login", "tenant_slug is required when signing in with a username")
}

// handleLogout ends the caller's session
func handleLogout(authority *session.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := middleware.GetClaims(c)
		h, err := middleware.GetHandle(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		if err := authority.Logout(c.Request.Context(), h, claims.PrincipalID); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Logout successful", nil)
	}
}

// handleVerifyToken returns the identity carried by a valid token
func handleVerifyToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := middleware.GetClaims(c)
		utils.OKResponse(c, "Token is valid", gin.H{
			"principal_id": claims.PrincipalID,
			"name":         claims.Name,
			"role":         claims.Role,
			"tenant_id":    claims.TenantID,
			"tenant_slug":  claims.TenantSlug,
			"expires_at":   claims.ExpiresAt,
		})
	}
}

// handleCreateEmployee creates a staff member in the caller's tenant. Only
// owners may create owners and admins.
func handleCreateEmployee(authority *session.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEmployeeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		claims, _ := middleware.GetClaims(c)
		if (req.Role == models.RoleOwner || req.Role == models.RoleAdmin) && claims.Role != string(models.RoleOwner) {
			utils.ForbiddenResponse(c, "Only owners can create owners and admins")
			return
		}

		h, err := middleware.GetHandle(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		emp, err := authority.Enroll(c.Request.Context(), h, session.EnrollInput{
			Name:         req.Name,
			Username:     req.Username,
			Email:        req.Email,
			Role:         req.Role,
			Password:     req.Password,
			PIN:          req.PIN,
			AuthProvider: models.ProviderLocal,
			Verified:     true,
		})
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.CreatedResponse(c, "Employee created successfully", emp)
	}
}

// handleListEmployees lists the staff of the caller's tenant
func handleListEmployees() gin.HandlerFunc {
	return func(c *gin.Context) {
		h, err := middleware.GetHandle(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		employees, err := tenancy.NewRepository[models.Employee](h).Find(c.Request.Context(), "is_active = ?", true)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Employees retrieved successfully", employees)
	}
}
