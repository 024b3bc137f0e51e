package recurrence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"task-tracker/internal/task-tracker/db"
	"task-tracker/internal/task-tracker/events"
)

// CatchUpMode decides where the cursor lands after a template generates.
type CatchUpMode string

const (
	// CatchUpNone moves the cursor to the run date; periods missed while the
	// runner was not invoked are never generated.
	CatchUpNone CatchUpMode = "none"
	// CatchUpSingle moves the cursor by one period, so each later run
	// generates one of the missed periods.
	CatchUpSingle CatchUpMode = "single"
)

// ParseCatchUpMode accepts "none" and "single"; empty means none.
func ParseCatchUpMode(s string) (CatchUpMode, error) {
	switch CatchUpMode(s) {
	case "", CatchUpNone:
		return CatchUpNone, nil
	case CatchUpSingle:
		return CatchUpSingle, nil
	}
	return "", fmt.Errorf("unsupported catch-up mode %q (want %q or %q)", s, CatchUpNone, CatchUpSingle)
}

// Publisher receives generated tasks after their transaction committed.
type Publisher interface {
	PublishTaskGenerated(ctx context.Context, payload events.TaskGeneratedPayload) error
}

// Runner generates due task instances from recurring templates.
type Runner struct {
	store     Store
	mode      CatchUpMode
	publisher Publisher
	now       func() time.Time

	mu         sync.Mutex
	publishing sync.WaitGroup
}

type Option func(*Runner)

func WithCatchUpMode(mode CatchUpMode) Option {
	return func(r *Runner) { r.mode = mode }
}

func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithClock overrides the timestamp source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(store Store, opts ...Option) *Runner {
	r := &Runner{store: store, mode: CatchUpNone, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce makes one pass over every template and generates at most one task
// per due template. It returns the ids of the generated tasks in template
// order. The whole pass is one transaction: on a store failure nothing is
// generated and the error wraps ErrStore. A template whose own data cannot
// be scheduled or whose cursor cannot move is logged and skipped.
//
// Events for the generated tasks are published in the background once the
// pass has committed; Wait blocks until they have been handed off.
func (r *Runner) RunOnce(ctx context.Context, today time.Time) ([]uint, error) {
	today = CalendarDate(today)
	generated, err := r.generate(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("%w: recurrence run for %s: %w", ErrStore, FormatDate(today), err)
	}

	ids := make([]uint, 0, len(generated))
	for _, payload := range generated {
		ids = append(ids, payload.TaskID)
	}
	if r.publisher != nil && len(generated) > 0 {
		r.publishing.Add(1)
		go r.publish(context.WithoutCancel(ctx), generated)
	}
	return ids, nil
}

// Wait blocks until every event queued by earlier runs has been published or
// has failed.
func (r *Runner) Wait() {
	r.publishing.Wait()
}

func (r *Runner) publish(ctx context.Context, generated []events.TaskGeneratedPayload) {
	defer r.publishing.Done()
	for _, payload := range generated {
		if err := r.publisher.PublishTaskGenerated(ctx, payload); err != nil {
			hlog.Errorf("RecurrenceRunner: failed to publish generated task %d: %v", payload.TaskID, err)
		}
	}
}

// generate runs the transactional part of a pass. Passes are serialized.
func (r *Runner) generate(ctx context.Context, today time.Time) ([]events.TaskGeneratedPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var generated []events.TaskGeneratedPayload

	err := r.store.WithinTx(ctx, func(tx Store) error {
		generated = generated[:0]

		templates, err := tx.ListTemplates(ctx)
		if err != nil {
			return err
		}

		for i := range templates {
			tmpl := &templates[i]
			next, due, err := IsDue(tmpl, today)
			if err != nil {
				hlog.Warnf("RecurrenceRunner: skipping template %d (%s): %v", tmpl.ID, tmpl.Title, err)
				continue
			}
			if !due {
				continue
			}

			cursor := today
			if r.mode == CatchUpSingle {
				cursor = next
			}
			if err := tx.AdvanceCursor(ctx, tmpl.ID, tmpl.LastGenerated, FormatDate(cursor)); err != nil {
				if errors.Is(err, ErrCursorConflict) || errors.Is(err, ErrNotFound) {
					hlog.Warnf("RecurrenceRunner: template %d changed during run, skipping: %v", tmpl.ID, err)
					continue
				}
				if errors.Is(err, ErrCursorRegression) {
					hlog.Warnf("RecurrenceRunner: skipping template %d (%s): %v", tmpl.ID, tmpl.Title, err)
					continue
				}
				return err
			}

			fields := FieldsFrom(tmpl, next, r.now())
			taskID, err := tx.InsertTaskInstance(ctx, fields)
			if err != nil {
				return err
			}
			hlog.Infof("RecurrenceRunner: created task %d from template %d (%s), due %s, cursor now %s",
				taskID, tmpl.ID, tmpl.Title, fields.DueDate, FormatDate(cursor))

			generated = append(generated, events.TaskGeneratedPayload{
				TaskID:        taskID,
				Title:         fields.Title,
				Description:   fields.Description,
				Prerequisites: fields.Prerequisites,
				Assignee:      fields.Assignee,
				DueDate:       fields.DueDate,
				Status:        db.StatusCreated,
				GeneratedAt:   fields.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return generated, nil
}
