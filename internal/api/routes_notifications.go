package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/handlers"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.POST("/read_all", handler.MarkAllRead)
		group.POST("/:id/read", handler.MarkRead)
	}
}
