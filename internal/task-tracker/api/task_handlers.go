package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"gorm.io/gorm"

	taskDB "task-tracker/internal/task-tracker/db"
	"task-tracker/internal/task-tracker/recurrence"
	"task-tracker/internal/task-tracker/storage"
)

// RecurrenceRunner generates due recurring instances; listing tasks runs it first.
type RecurrenceRunner interface {
	RunOnce(ctx context.Context, today time.Time) ([]uint, error)
}

type TaskHandler struct {
	DB         *gorm.DB
	Files      *storage.FileStore
	Recurrence RecurrenceRunner
	now        func() time.Time
}

func NewTaskHandler(db *gorm.DB, files *storage.FileStore, runner RecurrenceRunner) *TaskHandler {
	return &TaskHandler{DB: db, Files: files, Recurrence: runner, now: time.Now}
}

type CreateTaskRequest struct {
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Prerequisites string  `json:"prerequisites"`
	Assignee      string  `json:"assignee"`
	DueDate       *string `json:"due_date"`
}

type UpdateTaskRequest struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Prerequisites *string `json:"prerequisites"`
	Assignee      *string `json:"assignee"`
	DueDate       *string `json:"due_date"`
}

type TaskListResponse struct {
	Status string           `json:"status"`
	Tasks  []taskDB.Task    `json:"tasks"`
	Counts map[string]int64 `json:"counts"`
}

type AssigneeTasksResponse struct {
	Status     string           `json:"status"`
	Assignee   string           `json:"assignee"`
	Assignees  []string         `json:"assignees"`
	Tasks      []taskDB.Task    `json:"tasks"`
	Counts     map[string]int64 `json:"counts"`
	TotalCount int64            `json:"total_count"`
}

const allAssignees = "All"

// GetTasks runs the recurrence engine, then lists tasks of one status with
// due dates ascending and undated tasks last.
func (h *TaskHandler) GetTasks(ctx context.Context, c *app.RequestContext) {
	status, ok := statusQuery(c)
	if !ok {
		return
	}

	if h.Recurrence != nil {
		if ids, err := h.Recurrence.RunOnce(ctx, h.now()); err != nil {
			hlog.CtxErrorf(ctx, "GetTasks: recurrence run failed, listing existing tasks: %v", err)
		} else if len(ids) > 0 {
			hlog.CtxInfof(ctx, "GetTasks: recurrence generated tasks %v", ids)
		}
	}

	var tasks []taskDB.Task
	err := h.DB.WithContext(ctx).Preload("Files").
		Where("status = ?", status).
		Order("due_date IS NULL, due_date").
		Find(&tasks).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch tasks: " + err.Error()})
		return
	}

	counts, err := h.statusCounts(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to count tasks: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, TaskListResponse{Status: status, Tasks: tasks, Counts: counts})
}

// GetTasksByAssignee lists tasks of one status for an assignee, or for everyone with assignee=All.
func (h *TaskHandler) GetTasksByAssignee(ctx context.Context, c *app.RequestContext) {
	status, ok := statusQuery(c)
	if !ok {
		return
	}
	assignee := c.DefaultQuery("assignee", allAssignees)
	gormDB := h.DB.WithContext(ctx)

	var names []string
	if err := gormDB.Model(&taskDB.Assignee{}).Order("name").Pluck("name", &names).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch assignees: " + err.Error()})
		return
	}

	var rows []struct {
		Assignee string
		Count    int64
	}
	err := gormDB.Model(&taskDB.Task{}).
		Select("assignee, COUNT(*) AS count").
		Where("status = ?", status).
		Group("assignee").
		Scan(&rows).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to count tasks: " + err.Error()})
		return
	}
	counts := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		counts[row.Assignee] = row.Count
		total += row.Count
	}

	query := gormDB.Preload("Files").Where("status = ?", status)
	if assignee != allAssignees {
		query = query.Where("assignee = ?", assignee)
	}
	var tasks []taskDB.Task
	if err := query.Order("due_date IS NULL, due_date").Find(&tasks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch tasks: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, AssigneeTasksResponse{
		Status:     status,
		Assignee:   assignee,
		Assignees:  names,
		Tasks:      tasks,
		Counts:     counts,
		TotalCount: total,
	})
}

func (h *TaskHandler) CreateTask(ctx context.Context, c *app.RequestContext) {
	if err := createTaskSchema.Validate(c.Request.Body()); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload.", "validation_errors": err.Error()})
		return
	}
	var req CreateTaskRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request format: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, utils.H{"error": "title is required"})
		return
	}
	dueDate, err := normalizeDueDate(req.DueDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}

	task := taskDB.Task{
		Title:         req.Title,
		Description:   req.Description,
		Prerequisites: req.Prerequisites,
		Status:        taskDB.StatusCreated,
		Assignee:      assigneeOrDefault(req.Assignee),
		DueDate:       dueDate,
	}
	if err := h.DB.WithContext(ctx).Create(&task).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to create task: " + err.Error()})
		return
	}
	hlog.CtxInfof(ctx, "CreateTask: task %d (%s) created for %s", task.ID, task.Title, task.Assignee)
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTaskByID(ctx context.Context, c *app.RequestContext) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	task, ok := h.findTask(ctx, c, id, true)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(ctx context.Context, c *app.RequestContext) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := updateTaskSchema.Validate(c.Request.Body()); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload.", "validation_errors": err.Error()})
		return
	}
	var req UpdateTaskRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request format: " + err.Error()})
		return
	}
	task, ok := h.findTask(ctx, c, id, false)
	if !ok {
		return
	}

	updateData := make(map[string]interface{})
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			c.JSON(http.StatusBadRequest, utils.H{"error": "title must not be empty"})
			return
		}
		updateData["title"] = *req.Title
	}
	if req.Description != nil {
		updateData["description"] = *req.Description
	}
	if req.Prerequisites != nil {
		updateData["prerequisites"] = *req.Prerequisites
	}
	if req.Assignee != nil {
		updateData["assignee"] = assigneeOrDefault(*req.Assignee)
	}
	if rawDue, present := jsonFieldPresent(c.Request.Body(), "due_date"); present {
		dueDate, err := normalizeDueDate(rawDue)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
			return
		}
		updateData["due_date"] = dueDate
	}
	if len(updateData) == 0 {
		c.JSON(http.StatusBadRequest, utils.H{"error": "No update fields provided"})
		return
	}

	if err := h.DB.WithContext(ctx).Model(&task).Updates(updateData).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to update task: " + err.Error()})
		return
	}
	updated, ok := h.findTask(ctx, c, id, true)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, updated)
}

// StartTask moves a created task to ongoing.
func (h *TaskHandler) StartTask(ctx context.Context, c *app.RequestContext) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res := h.DB.WithContext(ctx).Model(&taskDB.Task{}).
		Where("id = ? AND status = ?", id, taskDB.StatusCreated).
		Update("status", taskDB.StatusOngoing)
	h.respondTransition(ctx, c, id, res, "Only created tasks can be started")
}

// CompleteTask moves a created or ongoing task to completed and stamps completed_at.
func (h *TaskHandler) CompleteTask(ctx context.Context, c *app.RequestContext) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res := h.DB.WithContext(ctx).Model(&taskDB.Task{}).
		Where("id = ? AND status <> ?", id, taskDB.StatusCompleted).
		Updates(map[string]interface{}{"status": taskDB.StatusCompleted, "completed_at": h.now()})
	h.respondTransition(ctx, c, id, res, "Task is already completed")
}

func (h *TaskHandler) respondTransition(ctx context.Context, c *app.RequestContext, id uint, res *gorm.DB, conflictMsg string) {
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to update task: " + res.Error.Error()})
		return
	}
	task, ok := h.findTask(ctx, c, id, true)
	if !ok {
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusConflict, utils.H{"error": conflictMsg, "status": task.Status})
		return
	}
	hlog.CtxInfof(ctx, "Task %d is now %s", task.ID, task.Status)
	c.JSON(http.StatusOK, task)
}

// DeleteTask removes the task, its file rows and its upload directory.
func (h *TaskHandler) DeleteTask(ctx context.Context, c *app.RequestContext) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if _, ok := h.findTask(ctx, c, id, false); !ok {
		return
	}
	err := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Delete(&taskDB.TaskFile{}).Error; err != nil {
			return err
		}
		return tx.Delete(&taskDB.Task{}, id).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to delete task: " + err.Error()})
		return
	}
	if h.Files != nil {
		if err := h.Files.RemoveTaskDir(id); err != nil {
			hlog.CtxWarnf(ctx, "DeleteTask: task %d deleted but files remain: %v", id, err)
		}
	}
	c.JSON(http.StatusOK, utils.H{"message": "Task deleted successfully"})
}

func (h *TaskHandler) findTask(ctx context.Context, c *app.RequestContext, id uint, withFiles bool) (taskDB.Task, bool) {
	var task taskDB.Task
	query := h.DB.WithContext(ctx)
	if withFiles {
		query = query.Preload("Files")
	}
	if err := query.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": "Task not found"})
		} else {
			c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch task: " + err.Error()})
		}
		return task, false
	}
	return task, true
}

func (h *TaskHandler) statusCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := h.DB.WithContext(ctx).Model(&taskDB.Task{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(taskDB.Statuses))
	for _, s := range taskDB.Statuses {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func statusQuery(c *app.RequestContext) (string, bool) {
	status := c.DefaultQuery("status", taskDB.StatusCreated)
	if !taskDB.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Unknown status: " + status})
		return "", false
	}
	return status, true
}

func idParam(c *app.RequestContext, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid ID format"})
		return 0, false
	}
	return uint(id), true
}

func assigneeOrDefault(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return taskDB.Unassigned
	}
	return name
}

// normalizeDueDate turns "" into NULL and rejects anything that is not a calendar date.
func normalizeDueDate(due *string) (*string, error) {
	if due == nil || strings.TrimSpace(*due) == "" {
		return nil, nil
	}
	d, err := recurrence.ParseDate(strings.TrimSpace(*due))
	if err != nil {
		return nil, errors.New("due_date must be a YYYY-MM-DD date")
	}
	formatted := recurrence.FormatDate(d)
	return &formatted, nil
}

// jsonFieldPresent reports whether body carries key, so an explicit null can
// clear a field while an absent key leaves it alone.
func jsonFieldPresent(body []byte, key string) (*string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, false
	}
	raw, ok := fields[key]
	if !ok {
		return nil, false
	}
	var value *string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}
	return value, true
}
