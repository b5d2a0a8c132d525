package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/bootstrap"
	"github.com/pavitra93/go-multi-tenant-pos/shared/config"
	"github.com/pavitra93/go-multi-tenant-pos/shared/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	cfg.ConfigureLogging()

	rt, err := bootstrap.Start(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to initialize shift service:", err)
	}
	defer rt.Close()

	router := bootstrap.NewRouter("Shift service")
	registerRoutes(router, middleware.NewAuthMiddleware(rt.Tokens, rt.Pool))

	port := config.ServicePort("SHIFT", "8003")
	if err := bootstrap.Serve("Shift service", port, router); err != nil {
		log.Fatal("Failed to start shift service:", err)
	}
}

func registerRoutes(router *gin.Engine, authMiddleware *middleware.AuthMiddleware) {
	shifts := router.Group("/shifts")
	shifts.Use(authMiddleware.RequireAuth())
	{
		shifts.POST("/open", handleOpenShift())
		shifts.POST("/:id/close", handleCloseShift())
		shifts.GET("/current", handleCurrentShift())
		shifts.GET("", handleListShifts())
	}
}
