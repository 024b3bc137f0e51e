package api

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/route"
	"gorm.io/gorm"

	"task-tracker/internal/task-tracker/storage"
)

// Dependencies are what the HTTP layer needs; Recurrence may be nil in tests.
type Dependencies struct {
	DB         *gorm.DB
	Files      *storage.FileStore
	Recurrence RecurrenceRunner
}

// RegisterRoutes mounts every tracker endpoint on the engine.
func RegisterRoutes(r *route.Engine, deps Dependencies) {
	taskHandler := NewTaskHandler(deps.DB, deps.Files, deps.Recurrence)
	fileHandler := NewFileHandler(deps.DB, deps.Files)
	assigneeHandler := NewAssigneeHandler(deps.DB)
	templateHandler := NewRecurringTemplateHandler(deps.DB)

	r.GET("/ping", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(http.StatusOK, utils.H{"message": "pong"})
	})

	taskGroup := r.Group("/tasks")
	{
		taskGroup.GET("", taskHandler.GetTasks)
		taskGroup.GET("/by-assignee", taskHandler.GetTasksByAssignee)
		taskGroup.POST("", taskHandler.CreateTask)
		taskGroup.GET("/:id", taskHandler.GetTaskByID)
		taskGroup.PUT("/:id", taskHandler.UpdateTask)
		taskGroup.DELETE("/:id", taskHandler.DeleteTask)
		taskGroup.POST("/:id/start", taskHandler.StartTask)
		taskGroup.POST("/:id/complete", taskHandler.CompleteTask)
		taskGroup.POST("/:id/files", fileHandler.UploadFiles)
	}
	fileGroup := r.Group("/files")
	{
		fileGroup.GET("/:task_id/:filename", fileHandler.DownloadFile)
		fileGroup.DELETE("/:id", fileHandler.DeleteFile)
	}
	assigneeGroup := r.Group("/assignees")
	{
		assigneeGroup.GET("", assigneeHandler.GetAssignees)
		assigneeGroup.POST("", assigneeHandler.AddAssignee)
		assigneeGroup.DELETE("/:name", assigneeHandler.DeleteAssignee)
	}
	recurringGroup := r.Group("/recurring")
	{
		recurringGroup.GET("", templateHandler.GetRecurringTemplates)
		recurringGroup.POST("", templateHandler.CreateRecurringTemplate)
		recurringGroup.DELETE("/:id", templateHandler.DeleteRecurringTemplate)
	}

	adminGroup := r.Group("/admin")
	adminGroup.POST("/recurrence/run", func(ctx context.Context, c *app.RequestContext) {
		if deps.Recurrence == nil {
			c.JSON(http.StatusServiceUnavailable, utils.H{"error": "Recurrence engine is not configured"})
			return
		}
		ids, err := deps.Recurrence.RunOnce(ctx, taskHandler.now())
		if err != nil {
			hlog.CtxErrorf(ctx, "Admin: recurrence run failed: %v", err)
			c.JSON(http.StatusInternalServerError, utils.H{"error": "Recurrence run failed: " + err.Error()})
			return
		}
		if ids == nil {
			ids = []uint{}
		}
		c.JSON(http.StatusOK, utils.H{"generated_task_ids": ids})
	})
}
