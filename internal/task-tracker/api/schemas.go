package api

import "task-tracker/pkg/validation"

const isoDatePattern = `^[0-9]{4}-[0-9]{2}-[0-9]{2}$`

var recurringTemplateSchema = validation.MustCompileSchema("recurring_template.json", `{
	"type": "object",
	"required": ["title", "frequency", "start_date"],
	"properties": {
		"title":         {"type": "string", "minLength": 1},
		"description":   {"type": "string"},
		"prerequisites": {"type": "string"},
		"assignee":      {"type": "string"},
		"frequency":     {"enum": ["weekly", "monthly", "annual"]},
		"interval":      {"type": "integer", "minimum": 1, "maximum": 5200},
		"start_date":    {"type": "string", "pattern": "`+isoDatePattern+`"}
	}
}`)

var createTaskSchema = validation.MustCompileSchema("create_task.json", `{
	"type": "object",
	"required": ["title"],
	"properties": {
		"title":         {"type": "string", "minLength": 1},
		"description":   {"type": "string"},
		"prerequisites": {"type": "string"},
		"assignee":      {"type": "string"},
		"due_date":      {"type": ["string", "null"], "pattern": "`+isoDatePattern+`|^$"}
	}
}`)

var updateTaskSchema = validation.MustCompileSchema("update_task.json", `{
	"type": "object",
	"minProperties": 1,
	"properties": {
		"title":         {"type": "string", "minLength": 1},
		"description":   {"type": "string"},
		"prerequisites": {"type": "string"},
		"assignee":      {"type": "string"},
		"due_date":      {"type": ["string", "null"], "pattern": "`+isoDatePattern+`|^$"}
	}
}`)

var addAssigneeSchema = validation.MustCompileSchema("add_assignee.json", `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string"}
	}
}`)
