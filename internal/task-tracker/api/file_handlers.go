package api

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"gorm.io/gorm"

	taskDB "task-tracker/internal/task-tracker/db"
	"task-tracker/internal/task-tracker/storage"
)

const uploadField = "files"

type FileHandler struct {
	DB    *gorm.DB
	Files *storage.FileStore
	now   func() time.Time
}

func NewFileHandler(db *gorm.DB, files *storage.FileStore) *FileHandler {
	return &FileHandler{DB: db, Files: files, now: time.Now}
}

type UploadResponse struct {
	Saved   []taskDB.TaskFile `json:"saved"`
	Skipped []string          `json:"skipped"`
}

// UploadFiles stores every allow-listed file of the multipart "files" field
// under the task's directory. Rejected names are reported, not fatal.
func (h *FileHandler) UploadFiles(ctx context.Context, c *app.RequestContext) {
	taskID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var task taskDB.Task
	if err := h.DB.WithContext(ctx).Select("id").First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": "Task not found"})
		} else {
			c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch task: " + err.Error()})
		}
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Expected a multipart form: " + err.Error()})
		return
	}

	resp := UploadResponse{Saved: []taskDB.TaskFile{}, Skipped: []string{}}
	if _, err := h.Files.TaskDir(taskID); err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	for _, fh := range form.File[uploadField] {
		if fh == nil || fh.Filename == "" {
			continue
		}
		filename := storage.SecureFilename(fh.Filename)
		if !storage.Allowed(fh.Filename) || filename == "" {
			resp.Skipped = append(resp.Skipped, fh.Filename)
			continue
		}
		path, err := h.Files.Path(taskID, filename)
		if err != nil {
			resp.Skipped = append(resp.Skipped, fh.Filename)
			continue
		}
		if err := c.SaveUploadedFile(fh, path); err != nil {
			hlog.CtxErrorf(ctx, "UploadFiles: failed to save %s for task %d: %v", filename, taskID, err)
			c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to save file: " + err.Error()})
			return
		}
		row := taskDB.TaskFile{TaskID: taskID, Filename: filename, UploadedAt: h.now()}
		if err := h.DB.WithContext(ctx).Create(&row).Error; err != nil {
			c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to record file: " + err.Error()})
			return
		}
		resp.Saved = append(resp.Saved, row)
	}

	hlog.CtxInfof(ctx, "UploadFiles: task %d saved %d file(s), skipped %d", taskID, len(resp.Saved), len(resp.Skipped))
	c.JSON(http.StatusOK, resp)
}

func (h *FileHandler) DownloadFile(ctx context.Context, c *app.RequestContext) {
	taskID, ok := idParam(c, "task_id")
	if !ok {
		return
	}
	path, err := h.Files.Path(taskID, c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, utils.H{"error": "File not found"})
		} else {
			c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to read file: " + err.Error()})
		}
		return
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

// DeleteFile removes an attachment from disk, then its row.
func (h *FileHandler) DeleteFile(ctx context.Context, c *app.RequestContext) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var file taskDB.TaskFile
	if err := h.DB.WithContext(ctx).First(&file, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": "File not found"})
		} else {
			c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch file: " + err.Error()})
		}
		return
	}
	if err := h.Files.Remove(file.TaskID, file.Filename); err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	if err := h.DB.WithContext(ctx).Delete(&taskDB.TaskFile{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to delete file record: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, utils.H{"message": "File deleted successfully", "task_id": file.TaskID})
}
