package api

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, db *gorm.DB, rdb redis.UniversalClient) {
	live := handlers.Health()
	ready := handlers.Ready(db, rdb)

	for _, router := range []gin.IRouter{r, r.Group("/api")} {
		router.GET("/health", live)
		router.GET("/health/live", live)
		router.GET("/health/ready", ready)
	}
}
