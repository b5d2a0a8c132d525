package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/bootstrap"
	"github.com/pavitra93/go-multi-tenant-pos/shared/config"
	"github.com/pavitra93/go-multi-tenant-pos/shared/events"
	"github.com/pavitra93/go-multi-tenant-pos/shared/middleware"
	"github.com/pavitra93/go-multi-tenant-pos/shared/registry"
	"github.com/pavitra93/go-multi-tenant-pos/shared/session"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	cfg.ConfigureLogging()

	rt, err := bootstrap.Start(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to initialize tenant service:", err)
	}
	defer rt.Close()

	// onboarding enrolls owners only; login events come from the auth service
	authority := rt.Authority(events.NopPublisher{})

	router := bootstrap.NewRouter("Tenant service")
	registerRoutes(router, rt.Registry, rt.Pool, authority, cfg)

	port := config.ServicePort("TENANT", "8002")
	if err := bootstrap.Serve("Tenant service", port, router); err != nil {
		log.Fatal("Failed to start tenant service:", err)
	}
}

func registerRoutes(router *gin.Engine, reg *registry.Registry, pool *tenancy.Pool, authority *session.Authority, cfg *config.Config) {
	signup := middleware.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateBurst)

	tenants := router.Group("/tenants")
	{
		// Self-service registration
		tenants.POST("", signup.Limit(), handleRegisterTenant(reg, pool, authority))

		tenants.GET("/:slug", handleGetTenant(reg))
		tenants.GET("/:slug/status", handleTenantStatus(reg))

		// Platform administration
		admin := tenants.Group("", middleware.RequirePlatformKey(cfg.PlatformAdminKey))
		admin.GET("", handleListTenants(reg))
		admin.PUT("/:slug/active", handleSetActive(reg))
		admin.PUT("/:slug/status", handleSetStatus(reg))
	}
}
