package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opticrew/fieldsync/internal/agent/handler"
	apirouter "github.com/opticrew/fieldsync/internal/api/router"
)

// SetupRouter configures the Gin router for the agent service
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(apirouter.RequestIDMiddleware())
	r.Use(apirouter.LoggerMiddleware(deps.Logger))
	r.Use(apirouter.CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "crew-agent-service",
		})
	})

	agentHandler := handler.NewAgentHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("/:job_id", agentHandler.GetJob)
			jobs.POST("/:job_id/start", agentHandler.StartWork)
			jobs.POST("/:job_id/resume", agentHandler.ResumeWork)
			jobs.POST("/:job_id/checklist", agentHandler.CompleteChecklist)
			jobs.POST("/:job_id/production", agentHandler.SubmitProduction)
			jobs.POST("/:job_id/photos", agentHandler.CapturePhoto)
		}

		v1.GET("/checklist/items", agentHandler.ChecklistItems)

		notifications := v1.Group("/notifications")
		{
			notifications.GET("/unseen-count", agentHandler.UnseenCount)
			notifications.POST("/mark-seen", agentHandler.MarkSeen)
		}

		sync := v1.Group("/sync")
		{
			sync.POST("/drain", agentHandler.DrainQueue)
			sync.GET("/operations", agentHandler.ListOperations)
		}
	}

	return r
}
