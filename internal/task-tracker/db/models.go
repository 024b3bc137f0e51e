package db

import (
	"time"

	"gorm.io/gorm"
)

// Task statuses. Generated tasks always start as StatusCreated.
const (
	StatusCreated   = "created"
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
)

// Unassigned is the reserved assignee that owns orphaned tasks.
const Unassigned = "Unassigned"

// Statuses lists every task status in lifecycle order.
var Statuses = []string{StatusCreated, StatusOngoing, StatusCompleted}

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	for _, status := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Task is a concrete unit of work, either entered by hand or generated from a RecurringTemplate.
type Task struct {
	gorm.Model
	Title         string     `json:"title" gorm:"not null"`
	Description   string     `json:"description"`
	Prerequisites string     `json:"prerequisites"`
	Status        string     `json:"status" gorm:"index;not null;default:created"`
	Assignee      string     `json:"assignee" gorm:"index"`
	DueDate       *string    `json:"due_date" gorm:"index;size:10"` // YYYY-MM-DD
	CompletedAt   *time.Time `json:"completed_at"`
	Files         []TaskFile `json:"files,omitempty" gorm:"foreignKey:TaskID"`
}

// RecurringTemplate spawns a Task every Interval periods of Frequency, starting at StartDate.
type RecurringTemplate struct {
	gorm.Model
	Title         string  `json:"title" gorm:"not null"`
	Description   string  `json:"description"`
	Prerequisites string  `json:"prerequisites"`
	Assignee      string  `json:"assignee"`
	Frequency     string  `json:"frequency" gorm:"index;not null"` // weekly | monthly | annual
	Interval      int     `json:"interval" gorm:"column:repeat_interval;not null"`
	StartDate     string  `json:"start_date" gorm:"size:10;not null"`
	LastGenerated *string `json:"last_generated" gorm:"size:10"` // cursor, NULL until the first generation
}

// TaskFile is an attachment stored on disk under the task's upload directory.
type TaskFile struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	TaskID     uint      `json:"task_id" gorm:"index;not null"`
	Filename   string    `json:"filename" gorm:"not null"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Assignee is a person tasks can be assigned to.
type Assignee struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;size:191;not null"`
}

// All returns every model for migration.
func All() []interface{} {
	return []interface{}{&Task{}, &RecurringTemplate{}, &TaskFile{}, &Assignee{}}
}

// EnsureDefaultAssignee makes sure the reserved Unassigned assignee exists.
func EnsureDefaultAssignee(gormDB *gorm.DB) error {
	return gormDB.Where(Assignee{Name: Unassigned}).FirstOrCreate(&Assignee{}).Error
}
