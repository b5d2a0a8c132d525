package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/bootstrap"
	"github.com/pavitra93/go-multi-tenant-pos/shared/config"
	"github.com/pavitra93/go-multi-tenant-pos/shared/middleware"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	cfg.ConfigureLogging()

	serviceClients := &ServiceClients{
		AuthService:     NewServiceClient("auth_service", cfg.AuthServiceURL),
		TenantService:   NewServiceClient("tenant_service", cfg.TenantServiceURL),
		ShiftService:    NewServiceClient("shift_service", cfg.ShiftServiceURL),
		NotifierService: NewServiceClient("notifier_service", cfg.NotifierServiceURL),
	}

	router := bootstrap.NewRouter("API Gateway")
	registerRoutes(router, serviceClients, middleware.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateBurst))

	port := config.ServicePort("GATEWAY", "8080")
	if err := bootstrap.Serve("API Gateway", port, router); err != nil {
		log.Fatal("Failed to start API Gateway:", err)
	}
}

func registerRoutes(router *gin.Engine, serviceClients *ServiceClients, limiter *middleware.RateLimiter) {
	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Tenant-Slug, X-Platform-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health/services", func(c *gin.Context) {
		utils.OKResponse(c, "Service status retrieved", serviceClients.GetServiceStatus())
	})

	// Authentication routes
	auth := router.Group("/auth")
	{
		auth.POST("/login", limiter.Limit(), serviceClients.AuthService.ProxyRequest)
		auth.POST("/logout", serviceClients.AuthService.ProxyRequest)
		auth.GET("/verify", serviceClients.AuthService.ProxyRequest)
	}

	// Tenant-addressed routes
	t := router.Group("/t/:tenant")
	{
		t.POST("/auth/login", limiter.Limit(), serviceClients.AuthService.ProxyRequest)
		t.POST("/employees", serviceClients.AuthService.ProxyRequest)
		t.GET("/employees", serviceClients.AuthService.ProxyRequest)
	}

	// Tenant management routes
	tenants := router.Group("/tenants")
	{
		tenants.POST("", limiter.Limit(), serviceClients.TenantService.ProxyRequest)
		tenants.GET("", serviceClients.TenantService.ProxyRequest)
		tenants.GET("/:slug", serviceClients.TenantService.ProxyRequest)
		tenants.GET("/:slug/status", serviceClients.TenantService.ProxyRequest)
		tenants.PUT("/:slug/active", serviceClients.TenantService.ProxyRequest)
		tenants.PUT("/:slug/status", serviceClients.TenantService.ProxyRequest)
	}

	// Shift routes
	shifts := router.Group("/shifts")
	{
		shifts.POST("/open", serviceClients.ShiftService.ProxyRequest)
		shifts.POST("/:id/close", serviceClients.ShiftService.ProxyRequest)
		shifts.GET("/current", serviceClients.ShiftService.ProxyRequest)
		shifts.GET("", serviceClients.ShiftService.ProxyRequest)
	}

	router.GET("/notifier/status", serviceClients.NotifierService.ProxyRequest)
}
