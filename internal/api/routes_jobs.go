package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/handlers"
	"github.com/charlesng35/feedguard/internal/middleware"
)

// registerJobRoutes mounts scheduler triggers. They authenticate with the job secret,
// not a user token, so they sit outside the authenticated /api group.
func registerJobRoutes(r *gin.Engine, handler *handlers.JobHandler, throttler *middleware.Throttler) {
	jobs := r.Group("/api/jobs")
	jobs.POST("/trending", middleware.Throttle(throttler), handler.Trending)
}
