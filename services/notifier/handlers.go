package main

import (
	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
)

// handleGetStatus reports webhook delivery status
func handleGetStatus(client *WebhookClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		utils.OKResponse(c, "Notifier status retrieved successfully", client.GetStatus())
	}
}
