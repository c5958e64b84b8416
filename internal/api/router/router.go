package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dpcore/statement-service/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "statement-api-service",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	exportHandler := handler.NewExportHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		exports := v1.Group("/exports")
		{
			// POST /api/v1/exports - Start a batch export
			exports.POST("", exportHandler.CreateExport)

			// GET /api/v1/exports/:export_id - Poll export progress
			exports.GET("/:export_id", exportHandler.GetExport)

			// GET /api/v1/exports/:export_id/download - Fetch the archive
			exports.GET("/:export_id/download", exportHandler.DownloadExport)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		// GET /api/v1/queues/:queue/stats - Job counts per status
		v1.GET("/queues/:queue/stats", jobHandler.QueueStats)
	}

	return r
}
