package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/bootstrap"
	"github.com/pavitra93/go-multi-tenant-pos/shared/config"
	"github.com/pavitra93/go-multi-tenant-pos/shared/middleware"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
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
		log.Fatal("Failed to initialize auth service:", err)
	}
	defer rt.Close()

	publisher, closePublisher := rt.Publisher()
	defer closePublisher()
	authority := rt.Authority(publisher)

	router := bootstrap.NewRouter("Auth service")
	registerRoutes(router, rt.Registry, rt.Pool, authority, middleware.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateBurst))

	port := config.ServicePort("AUTH", "8001")
	if err := bootstrap.Serve("Auth service", port, router); err != nil {
		log.Fatal("Failed to start auth service:", err)
	}
}

func registerRoutes(router *gin.Engine, reg *registry.Registry, pool *tenancy.Pool, authority *session.Authority, limiter *middleware.RateLimiter) {
	authMiddleware := middleware.NewAuthMiddleware(authority, pool)
	resolver := middleware.NewTenantResolver(reg, pool)

	// Tenant-addressed routes
	t := router.Group("/t/:tenant")
	{
		t.POST("/auth/login", limiter.Limit(), resolver.ResolveTenant("tenant"), handleLogin(authority))

		employees := t.Group("/employees")
		employees.Use(
			authMiddleware.RequireAuth(),
			middleware.RequireTenantParam("tenant"),
			middleware.RequireRole(string(models.RoleOwner), string(models.RoleAdmin)),
		)
		{
			employees.POST("", handleCreateEmployee(authority))
			employees.GET("", handleListEmployees())
		}
	}

	// Authentication routes
	auth := router.Group("/auth")
	{
		auth.POST("/login", limiter.Limit(), handleDirectLogin(reg, pool, authority))
		auth.POST("/logout", authMiddleware.RequireAuth(), handleLogout(authority))
		auth.GET("/verify", authMiddleware.RequireAuth(), handleVerifyToken())
	}
}
