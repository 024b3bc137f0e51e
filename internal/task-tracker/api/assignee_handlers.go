package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	taskDB "task-tracker/internal/task-tracker/db"
)

var errAssigneeNotFound = errors.New("assignee not found")

type AssigneeHandler struct {
	DB *gorm.DB
}

func NewAssigneeHandler(db *gorm.DB) *AssigneeHandler {
	return &AssigneeHandler{DB: db}
}

type AddAssigneeRequest struct {
	Name string `json:"name"`
}

func (h *AssigneeHandler) GetAssignees(ctx context.Context, c *app.RequestContext) {
	var names []string
	if err := h.DB.WithContext(ctx).Model(&taskDB.Assignee{}).Order("name").Pluck("name", &names).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch assignees: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, names)
}

// AddAssignee is idempotent: blank and duplicate names are accepted and ignored.
func (h *AssigneeHandler) AddAssignee(ctx context.Context, c *app.RequestContext) {
	if err := addAssigneeSchema.Validate(c.Request.Body()); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload.", "validation_errors": err.Error()})
		return
	}
	var req AddAssigneeRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request format: " + err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusOK, utils.H{"message": "Empty name ignored"})
		return
	}

	res := h.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&taskDB.Assignee{Name: name})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to add assignee: " + res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusOK, utils.H{"message": "Assignee already exists", "name": name})
		return
	}
	hlog.CtxInfof(ctx, "Assignee %q added", name)
	c.JSON(http.StatusCreated, utils.H{"message": "Assignee added", "name": name})
}

// DeleteAssignee hands the assignee's tasks to Unassigned before removing them.
func (h *AssigneeHandler) DeleteAssignee(ctx context.Context, c *app.RequestContext) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Assignee name is required"})
		return
	}
	if name == taskDB.Unassigned {
		c.JSON(http.StatusBadRequest, utils.H{"error": "The Unassigned assignee cannot be deleted"})
		return
	}

	var reassigned int64
	err := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("name = ?", name).Delete(&taskDB.Assignee{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAssigneeNotFound
		}
		res = tx.Model(&taskDB.Task{}).Where("assignee = ?", name).Update("assignee", taskDB.Unassigned)
		reassigned = res.RowsAffected
		return res.Error
	})
	if errors.Is(err, errAssigneeNotFound) {
		c.JSON(http.StatusNotFound, utils.H{"error": "Assignee not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to delete assignee: " + err.Error()})
		return
	}
	hlog.CtxInfof(ctx, "Assignee %q deleted, %d task(s) moved to %s", name, reassigned, taskDB.Unassigned)
	c.JSON(http.StatusOK, utils.H{"message": "Assignee deleted", "reassigned_tasks": reassigned})
}
