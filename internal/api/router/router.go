package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opticrew/fieldsync/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "fieldsync-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Create a new assignment
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs by assignee/status with pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// PATCH /api/v1/jobs/:job_id/status - Review outcomes, cancellation
			jobs.PATCH("/:job_id/status", jobHandler.UpdateStatus)
		}

		sync := v1.Group("/sync")
		{
			// POST /api/v1/sync/operations - Idempotent mutation ingest
			sync.POST("/operations", jobHandler.PushOperation)
		}
	}

	return r
}
