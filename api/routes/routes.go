package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/timechange/api/handlers"
	"github.com/feichai0017/timechange/api/middleware"
	"github.com/feichai0017/timechange/pkg/logger"
)

// SetupRoutes wires every route onto r.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger, origins ...string) {
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(origins...))

	v1 := r.Group("/api/v1")
	v1.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	p := v1.Group("/projects/current")
	{
		p.GET("", h.Project.GetProject)

		p.GET("/labels", h.Project.ListLabels)
		p.GET("/labels/:label/files", h.Project.ListFiles)
		p.POST("/labels/:label/files", h.Project.UploadFiles)
		p.DELETE("/labels/:label/files/:file", h.Project.DeleteFile)
		p.GET("/labels/:label/files/:file/columns", h.Project.GetColumns)

		p.PUT("/columns", h.Project.SetColumns)
		p.GET("/parameters/transform", h.Project.GetTransformParameters)
		p.PUT("/parameters/transform", h.Project.SetTransformParameters)
		p.GET("/parameters/model", h.Project.GetModelParameters)
		p.PUT("/parameters/model", h.Project.SetModelParameters)

		p.POST("/jobs/:job", h.Project.SubmitJob)
		p.GET("/results/next", h.Project.NextResult)
		p.GET("/results/wait", h.Project.WaitResult)

		p.GET("/journal", h.Project.ListJournal)
		p.GET("/journal/:id", h.Project.GetJournalEntry)
	}
}
