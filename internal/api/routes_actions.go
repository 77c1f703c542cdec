package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/handlers"
	"github.com/charlesng35/feedguard/internal/middleware"
)

func registerActionRoutes(api *gin.RouterGroup, handler *handlers.ActionHandler, throttler *middleware.Throttler) {
	api.GET("/quota/:action", handler.Quota)
	api.POST("/actions/:action", middleware.Throttle(throttler), handler.Perform)
}
