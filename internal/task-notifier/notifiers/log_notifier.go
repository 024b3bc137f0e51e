package notifiers

import (
	"context"
	"fmt"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"task-tracker/internal/task-tracker/events"
)

// LogNotifier writes one line per generated task to the hertz logger.
type LogNotifier struct{}

func (n *LogNotifier) Notify(ctx context.Context, payload events.TaskGeneratedPayload) error {
	hlog.CtxInfof(ctx, "LogNotifier: %s", Describe(payload))
	return nil
}

// Describe renders a generated task as a short human-readable line.
func Describe(payload events.TaskGeneratedPayload) string {
	line := fmt.Sprintf("task %d %q for %s", payload.TaskID, payload.Title, payload.Assignee)
	if payload.DueDate != "" {
		line += ", due " + payload.DueDate
	}
	if payload.Prerequisites != "" {
		line += ", needs " + payload.Prerequisites
	}
	return line
}
