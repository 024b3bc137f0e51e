package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"task-tracker/internal/task-tracker/db"
)

var (
	// ErrNotFound is returned when a template id does not exist.
	ErrNotFound = errors.New("recurring template not found")
	// ErrCursorConflict means the cursor changed since it was read.
	ErrCursorConflict = errors.New("recurring template cursor changed concurrently")
	// ErrCursorRegression means an advance would move the cursor backwards.
	ErrCursorRegression = errors.New("recurring template cursor cannot move backwards")
	// ErrStore wraps every persistence failure surfaced by the runner.
	ErrStore = errors.New("recurrence store error")
)

// TaskFields are the values copied from a template into a generated task.
type TaskFields struct {
	Title         string
	Description   string
	Prerequisites string
	Assignee      string
	DueDate       string
	CreatedAt     time.Time
}

// FieldsFrom copies the template's text fields at generation time.
func FieldsFrom(tmpl *db.RecurringTemplate, due time.Time, createdAt time.Time) TaskFields {
	assignee := tmpl.Assignee
	if assignee == "" {
		assignee = db.Unassigned
	}
	return TaskFields{
		Title:         tmpl.Title,
		Description:   tmpl.Description,
		Prerequisites: tmpl.Prerequisites,
		Assignee:      assignee,
		DueDate:       FormatDate(due),
		CreatedAt:     createdAt,
	}
}

// Store is the persistence the runner needs.
type Store interface {
	ListTemplates(ctx context.Context) ([]db.RecurringTemplate, error)
	// AdvanceCursor moves the cursor of template id from prev to next. It fails
	// with ErrNotFound for unknown ids and ErrCursorConflict when the stored
	// cursor is no longer prev.
	AdvanceCursor(ctx context.Context, id uint, prev *string, next string) error
	InsertTaskInstance(ctx context.Context, fields TaskFields) (uint, error)
	// WithinTx runs fn in one unit of work; any error rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// GormStore is the Store backed by the shared GORM pool.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(gormDB *gorm.DB) *GormStore {
	return &GormStore{db: gormDB}
}

func (s *GormStore) ListTemplates(ctx context.Context) ([]db.RecurringTemplate, error) {
	var templates []db.RecurringTemplate
	if err := s.db.WithContext(ctx).Order("id").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("list recurring templates: %w", err)
	}
	return templates, nil
}

func (s *GormStore) AdvanceCursor(ctx context.Context, id uint, prev *string, next string) error {
	if _, err := ParseDate(next); err != nil {
		return fmt.Errorf("advance cursor of template %d: %w", id, err)
	}
	if prev != nil && next <= *prev {
		return fmt.Errorf("%w: template %d from %s to %s", ErrCursorRegression, id, *prev, next)
	}

	q := s.db.WithContext(ctx).Model(&db.RecurringTemplate{}).Where("id = ?", id)
	if prev == nil {
		q = q.Where("last_generated IS NULL")
	} else {
		q = q.Where("last_generated = ?", *prev)
	}
	res := q.Update("last_generated", next)
	if res.Error != nil {
		return fmt.Errorf("advance cursor of template %d: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&db.RecurringTemplate{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("look up template %d: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return fmt.Errorf("%w: template %d", ErrCursorConflict, id)
}

func (s *GormStore) InsertTaskInstance(ctx context.Context, fields TaskFields) (uint, error) {
	due := fields.DueDate
	task := db.Task{
		Title:         fields.Title,
		Description:   fields.Description,
		Prerequisites: fields.Prerequisites,
		Assignee:      fields.Assignee,
		Status:        db.StatusCreated,
		DueDate:       &due,
	}
	task.CreatedAt = fields.CreatedAt
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return 0, fmt.Errorf("insert generated task %q: %w", fields.Title, err)
	}
	return task.ID, nil
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}
