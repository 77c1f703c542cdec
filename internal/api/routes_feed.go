package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/handlers"
)

func registerFeedRoutes(api *gin.RouterGroup, handler *handlers.FeedHandler) {
	api.GET("/feed/trending", handler.Trending)
}
