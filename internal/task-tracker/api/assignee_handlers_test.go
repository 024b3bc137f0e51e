package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskDB "task-tracker/internal/task-tracker/db"
)

func TestAssigneesAPI_AddAndList(t *testing.T) {
	app := setupTestApp(t, nil)

	resp := app.do("POST", "/assignees", map[string]string{"name": "  Zoe  "})
	require.Equal(t, http.StatusCreated, resp.StatusCode(), string(resp.Body()))

	resp = app.do("POST", "/assignees", map[string]string{"name": "Zoe"})
	assert.Equal(t, http.StatusOK, resp.StatusCode(), "duplicates are ignored")

	resp = app.do("POST", "/assignees", map[string]string{"name": "   "})
	assert.Equal(t, http.StatusOK, resp.StatusCode(), "blank names are ignored")

	resp = app.do("POST", "/assignees", map[string]int{"name": 3})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())

	app.do("POST", "/assignees", map[string]string{"name": "Adam"})

	resp = app.do("GET", "/assignees", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, []string{"Adam", taskDB.Unassigned, "Zoe"}, decode[[]string](t, resp))
}

func TestAssigneesAPI_DeleteReassignsTasks(t *testing.T) {
	app := setupTestApp(t, nil)
	require.NoError(t, app.db.Create(&taskDB.Assignee{Name: "Bob"}).Error)
	t1 := app.createTask(t, taskDB.Task{Title: "one", Status: taskDB.StatusCreated, Assignee: "Bob"})
	t2 := app.createTask(t, taskDB.Task{Title: "two", Status: taskDB.StatusCompleted, Assignee: "Bob"})
	other := app.createTask(t, taskDB.Task{Title: "three", Status: taskDB.StatusCreated, Assignee: "Carol"})

	resp := app.do("DELETE", "/assignees/Bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode(), string(resp.Body()))
	out := decode[map[string]interface{}](t, resp)
	assert.EqualValues(t, 2, out["reassigned_tasks"])

	for _, id := range []uint{t1.ID, t2.ID} {
		var task taskDB.Task
		require.NoError(t, app.db.First(&task, id).Error)
		assert.Equal(t, taskDB.Unassigned, task.Assignee)
	}
	var untouched taskDB.Task
	require.NoError(t, app.db.First(&untouched, other.ID).Error)
	assert.Equal(t, "Carol", untouched.Assignee)

	assert.Equal(t, http.StatusNotFound, app.do("DELETE", "/assignees/Bob", nil).StatusCode())
}

func TestAssigneesAPI_UnassignedIsProtected(t *testing.T) {
	app := setupTestApp(t, nil)

	resp := app.do("DELETE", "/assignees/"+taskDB.Unassigned, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())

	var count int64
	app.db.Model(&taskDB.Assignee{}).Where("name = ?", taskDB.Unassigned).Count(&count)
	assert.Equal(t, int64(1), count)
}
