package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/handlers"
)

func registerRealtimeRoutes(r *gin.Engine, handler *handlers.RealtimeHandler, auth gin.HandlerFunc) {
	r.GET("/ws", auth, handler.Stream)
}
