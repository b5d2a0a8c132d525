package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/registry"
	"github.com/pavitra93/go-multi-tenant-pos/shared/session"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
	"github.com/sirupsen/logrus"
)

// RegisterTenantRequest represents the tenant registration request
type RegisterTenantRequest struct {
	Name  string        `json:"name" binding:"required"`
	Slug  string        `json:"slug" binding:"required"`
	Owner *OwnerRequest `json:"owner"`
}

// OwnerRequest is the first principal created with a tenant
type OwnerRequest struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required,min=8"`
	PIN      string `json:"pin"`
}

// RegisterTenantResponse is returned after registration
type RegisterTenantResponse struct {
	Tenant *models.Tenant         `json:"tenant"`
	Status *registry.StatusReport `json:"status"`
	Owner  *session.PrincipalView `json:"owner,omitempty"`
}

// SetActiveRequest toggles a tenant
type SetActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// SetStatusRequest changes the subscription status
type SetStatusRequest struct {
	Status models.TenantStatus `json:"status" binding:"required"`
}

// handleRegisterTenant registers a tenant on trial and onboards its owner.
// The owner is validated before the tenant is created, and a tenant whose
// onboarding fails is abandoned so the slug stays free.
func handleRegisterTenant(reg *registry.Registry, pool *tenancy.Pool, authority *session.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		ctx := c.Request.Context()

		var owner *session.EnrollInput
		if req.Owner != nil {
			owner = &session.EnrollInput{
				Name:         req.Owner.Name,
				Username:     req.Owner.Username,
				Email:        req.Owner.Email,
				Role:         models.RoleOwner,
				Password:     req.Owner.Password,
				PIN:          req.Owner.PIN,
				AuthProvider: models.ProviderLocal,
				Verified:     true,
			}
			if err := checkOwner(ctx, reg, owner); err != nil {
				utils.ErrorFromErr(c, err)
				return
			}
		}

		tenant, err := reg.Register(ctx, req.Name, req.Slug)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		resp := RegisterTenantResponse{Tenant: tenant, Status: registry.Report(tenant, time.Now())}
		if owner != nil {
			view, err := onboardOwner(ctx, reg, pool, authority, tenant, owner)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"tenant_id": tenant.ID,
					"slug":      tenant.Slug,
				}).WithError(err).Error("Owner onboarding failed, abandoning tenant")
				if aerr := reg.Abandon(context.WithoutCancel(ctx), tenant.ID); aerr != nil {
					logrus.WithField("tenant_id", tenant.ID).WithError(aerr).Error("Failed to abandon tenant")
				}
				pool.Evict(tenant.DataStoreID)
				utils.ErrorFromErr(c, err)
				return
			}
			resp.Owner = view
		}

		utils.CreatedResponse(c, "Tenant registered successfully", resp)
	}
}

// checkOwner rejects an owner that could not be onboarded
func checkOwner(ctx context.Context, reg *registry.Registry, owner *session.EnrollInput) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	if owner.Email == "" {
		return nil
	}
	_, err := reg.LookupAccount(ctx, owner.Email)
	switch {
	case err == nil:
		return errs.New(errs.EConflict, "tenant.Register", "email %q is already registered", owner.Email)
	case errs.Is(err, errs.ENotFound):
		return nil
	}
	return err
}

// onboardOwner links the owner's email to the tenant for slug-less login and
// creates the owner principal in the tenant's data store
func onboardOwner(ctx context.Context, reg *registry.Registry, pool *tenancy.Pool, authority *session.Authority, tenant *models.Tenant, in *session.EnrollInput) (*session.PrincipalView, error) {
	if in.Email != "" {
		if err := reg.LinkAccount(ctx, in.Email, tenant.ID); err != nil {
			return nil, err
		}
	}

	meta := tenancy.MetaFromTenant(tenant)
	h, err := pool.Handle(ctx, meta)
	if err != nil {
		return nil, err
	}

	var owner *models.Employee
	err = tenancy.Run(ctx, meta, func(ctx context.Context) error {
		owner, err = authority.Enroll(ctx, h, *in)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &session.PrincipalView{
		ID:       owner.ID,
		Name:     owner.Name,
		Username: owner.Username,
		Email:    owner.Email,
		Role:     owner.Role,
	}, nil
}

// handleListTenants lists every tenant (platform admin)
func handleListTenants(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenants, err := reg.List(c.Request.Context())
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Tenants retrieved successfully", tenants)
	}
}

// handleGetTenant returns the public view of one tenant
func handleGetTenant(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, err := reg.Resolve(c.Request.Context(), c.Param("slug"))
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Tenant retrieved successfully", gin.H{
			"name":      tenant.Name,
			"slug":      tenant.Slug,
			"status":    tenant.Status,
			"is_active": tenant.IsActive,
		})
	}
}

// handleTenantStatus reports the subscription state of a tenant
func handleTenantStatus(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := reg.Status(c.Request.Context(), c.Param("slug"))
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Tenant status retrieved successfully", report)
	}
}

// handleSetActive activates or deactivates a tenant. A deactivated tenant is
// refused at tenant resolution and login; its pooled handle stays open for
// requests already in flight.
func handleSetActive(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SetActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		tenant, err := reg.Resolve(c.Request.Context(), c.Param("slug"))
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		tenant, err = reg.SetActive(c.Request.Context(), tenant.ID, *req.IsActive)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Tenant updated successfully", tenant)
	}
}

// handleSetStatus changes the subscription status of a tenant
func handleSetStatus(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SetStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		tenant, err := reg.Resolve(c.Request.Context(), c.Param("slug"))
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		tenant, err = reg.SetStatus(c.Request.Context(), tenant.ID, req.Status)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		utils.OKResponse(c, "Tenant status updated successfully", tenant)
	}
}
