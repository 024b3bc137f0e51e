package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"gorm.io/gorm"

	taskDB "task-tracker/internal/task-tracker/db"
	"task-tracker/internal/task-tracker/recurrence"
)

type RecurringTemplateHandler struct {
	DB *gorm.DB
}

func NewRecurringTemplateHandler(db *gorm.DB) *RecurringTemplateHandler {
	return &RecurringTemplateHandler{DB: db}
}

type CreateRecurringTemplateRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Prerequisites string `json:"prerequisites"`
	Assignee      string `json:"assignee"`
	Frequency     string `json:"frequency"`
	Interval      int    `json:"interval"`
	StartDate     string `json:"start_date"`
}

// CreateRecurringTemplate stores a template; it generates nothing until the next recurrence run.
func (h *RecurringTemplateHandler) CreateRecurringTemplate(ctx context.Context, c *app.RequestContext) {
	if err := recurringTemplateSchema.Validate(c.Request.Body()); err != nil {
		hlog.CtxWarnf(ctx, "CreateRecurringTemplate: schema validation failed: %v", err)
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload.", "validation_errors": err.Error()})
		return
	}
	var req CreateRecurringTemplateRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request format: " + err.Error()})
		return
	}
	if req.Interval == 0 {
		req.Interval = 1
	}

	tmpl := taskDB.RecurringTemplate{
		Title:         req.Title,
		Description:   req.Description,
		Prerequisites: req.Prerequisites,
		Assignee:      assigneeOrDefault(req.Assignee),
		Frequency:     req.Frequency,
		Interval:      req.Interval,
		StartDate:     req.StartDate,
	}
	if err := recurrence.ValidateTemplate(&tmpl); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}
	if err := h.DB.WithContext(ctx).Create(&tmpl).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to create recurring template: " + err.Error()})
		return
	}

	if next, err := recurrence.NextDue(&tmpl); err == nil {
		hlog.CtxInfof(ctx, "RecurringTemplate %d (%s, every %d %s) created, first due %s",
			tmpl.ID, tmpl.Title, tmpl.Interval, tmpl.Frequency, recurrence.FormatDate(next))
	}
	c.JSON(http.StatusCreated, tmpl)
}

// GetRecurringTemplates lists templates, newest first.
func (h *RecurringTemplateHandler) GetRecurringTemplates(ctx context.Context, c *app.RequestContext) {
	var templates []taskDB.RecurringTemplate
	if err := h.DB.WithContext(ctx).Order("id DESC").Find(&templates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch recurring templates: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, templates)
}

// DeleteRecurringTemplate stops future generation; tasks it already produced stay.
func (h *RecurringTemplateHandler) DeleteRecurringTemplate(ctx context.Context, c *app.RequestContext) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var tmpl taskDB.RecurringTemplate
	if err := h.DB.WithContext(ctx).First(&tmpl, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": "Recurring template not found"})
		} else {
			c.JSON(http.StatusInternalServerError, utils.H{"error": "Error finding recurring template: " + err.Error()})
		}
		return
	}
	if err := h.DB.WithContext(ctx).Delete(&taskDB.RecurringTemplate{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to delete recurring template: " + err.Error()})
		return
	}
	hlog.CtxInfof(ctx, "RecurringTemplate %d (%s) deleted", id, tmpl.Title)
	c.JSON(http.StatusOK, utils.H{"message": "Recurring template deleted successfully"})
}
