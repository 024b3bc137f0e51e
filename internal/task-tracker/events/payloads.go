package events

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// TaskGeneratedPayload is published once per task materialized from a recurring template.
type TaskGeneratedPayload struct {
	TaskID        uint      `json:"task_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Prerequisites string    `json:"prerequisites"`
	Assignee      string    `json:"assignee"`
	DueDate       string    `json:"due_date"`
	Status        string    `json:"status"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Marshal encodes the payload as a protobuf google.protobuf.Struct.
func (p TaskGeneratedPayload) Marshal() ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"task_id":       float64(p.TaskID),
		"title":         p.Title,
		"description":   p.Description,
		"prerequisites": p.Prerequisites,
		"assignee":      p.Assignee,
		"due_date":      p.DueDate,
		"status":        p.Status,
		"generated_at":  p.GeneratedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("build task generated struct: %w", err)
	}
	b, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal task generated payload: %w", err)
	}
	return b, nil
}

// UnmarshalTaskGenerated decodes a payload written by Marshal.
func UnmarshalTaskGenerated(b []byte) (TaskGeneratedPayload, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(b, &msg); err != nil {
		return TaskGeneratedPayload{}, fmt.Errorf("unmarshal task generated payload: %w", err)
	}
	fields := msg.GetFields()
	p := TaskGeneratedPayload{
		TaskID:        uint(fields["task_id"].GetNumberValue()),
		Title:         fields["title"].GetStringValue(),
		Description:   fields["description"].GetStringValue(),
		Prerequisites: fields["prerequisites"].GetStringValue(),
		Assignee:      fields["assignee"].GetStringValue(),
		DueDate:       fields["due_date"].GetStringValue(),
		Status:        fields["status"].GetStringValue(),
	}
	if p.TaskID == 0 {
		return TaskGeneratedPayload{}, fmt.Errorf("task generated payload has no task_id")
	}
	if raw := fields["generated_at"].GetStringValue(); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return TaskGeneratedPayload{}, fmt.Errorf("parse generated_at %q: %w", raw, err)
		}
		p.GeneratedAt = ts
	}
	return p, nil
}
