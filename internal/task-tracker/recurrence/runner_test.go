package recurrence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"task-tracker/internal/task-tracker/db"
	"task-tracker/internal/task-tracker/events"
)

var fixedNow = time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)

func newTestRunner(gormDB *gorm.DB, opts ...Option) *Runner {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewRunner(NewGormStore(gormDB), opts...)
}

func cursorOf(t *testing.T, gormDB *gorm.DB, id uint) *string {
	t.Helper()
	var tmpl db.RecurringTemplate
	require.NoError(t, gormDB.First(&tmpl, id).Error)
	return tmpl.LastGenerated
}

func countTasks(gormDB *gorm.DB) int64 {
	var n int64
	gormDB.Model(&db.Task{}).Count(&n)
	return n
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishTaskGenerated(ctx context.Context, payload events.TaskGeneratedPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListTemplates(ctx context.Context) ([]db.RecurringTemplate, error) {
	args := m.Called(ctx)
	if v, ok := args.Get(0).([]db.RecurringTemplate); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) AdvanceCursor(ctx context.Context, id uint, prev *string, next string) error {
	return m.Called(ctx, id, prev, next).Error(0)
}

func (m *MockStore) InsertTaskInstance(ctx context.Context, fields TaskFields) (uint, error) {
	args := m.Called(ctx, fields)
	return args.Get(0).(uint), args.Error(1)
}

func (m *MockStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(m)
}

func TestRunOnce_FirstRunGeneratesOnStartDate(t *testing.T) {
	gormDB := setupTestDB(t)
	tmpl := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Stand-up notes", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-15",
	})

	ids, err := newTestRunner(gormDB).RunOnce(context.Background(), date(t, "2024-01-15"))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	var task db.Task
	require.NoError(t, gormDB.First(&task, ids[0]).Error)
	assert.Equal(t, "2024-01-15", *task.DueDate)
	assert.Equal(t, db.StatusCreated, task.Status)
	assert.Equal(t, db.Unassigned, task.Assignee)
	assert.Equal(t, "2024-01-15", *cursorOf(t, gormDB, tmpl.ID))
}

func TestRunOnce_IdempotentWithinADay(t *testing.T) {
	gormDB := setupTestDB(t)
	createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Water plants", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01", LastGenerated: strPtr("2024-01-08"),
	})
	runner := newTestRunner(gormDB)
	today := date(t, "2024-01-15")

	first, err := runner.RunOnce(context.Background(), today)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := runner.RunOnce(context.Background(), today.Add(18*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, int64(1), countTasks(gormDB))
}

func TestRunOnce_ConcurrentCallsGenerateOnce(t *testing.T) {
	gormDB := setupTestDB(t)
	createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Invoice", Frequency: FrequencyMonthly, Interval: 1, StartDate: "2024-01-15",
	})
	runners := []*Runner{newTestRunner(gormDB), newTestRunner(gormDB)}
	today := date(t, "2024-01-15")

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			_, err := r.RunOnce(context.Background(), today)
			assert.NoError(t, err)
		}(runners[i%2])
	}
	wg.Wait()

	assert.Equal(t, int64(1), countTasks(gormDB))
}

func TestRunOnce_CursorJumpsToToday(t *testing.T) {
	gormDB := setupTestDB(t)
	tmpl := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Review budget", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01", LastGenerated: strPtr("2024-01-01"),
	})
	runner := newTestRunner(gormDB)

	// Three periods were missed; only one instance is generated and it is due on the first missed date.
	ids, err := runner.RunOnce(context.Background(), date(t, "2024-01-24"))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	var task db.Task
	require.NoError(t, gormDB.First(&task, ids[0]).Error)
	assert.Equal(t, "2024-01-08", *task.DueDate)
	assert.Equal(t, "2024-01-24", *cursorOf(t, gormDB, tmpl.ID))

	ids, err = runner.RunOnce(context.Background(), date(t, "2024-01-25"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRunOnce_SingleCatchUpAdvancesOnePeriod(t *testing.T) {
	gormDB := setupTestDB(t)
	tmpl := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Review budget", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01", LastGenerated: strPtr("2024-01-01"),
	})
	runner := newTestRunner(gormDB, WithCatchUpMode(CatchUpSingle))
	today := date(t, "2024-01-24")

	var dues []string
	for i := 0; i < 4; i++ {
		ids, err := runner.RunOnce(context.Background(), today)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(ids), 1)
		for _, id := range ids {
			var task db.Task
			require.NoError(t, gormDB.First(&task, id).Error)
			dues = append(dues, *task.DueDate)
		}
	}

	assert.Equal(t, []string{"2024-01-08", "2024-01-15", "2024-01-22"}, dues)
	assert.Equal(t, "2024-01-22", *cursorOf(t, gormDB, tmpl.ID))
}

func TestRunOnce_CursorNeverMovesBackwards(t *testing.T) {
	gormDB := setupTestDB(t)
	tmpl := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Rotate keys", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01",
	})
	runner := newTestRunner(gormDB)

	var previous string
	for _, day := range []string{"2024-01-01", "2023-12-25", "2024-01-03", "2024-01-09", "2024-01-05", "2024-02-01"} {
		_, err := runner.RunOnce(context.Background(), date(t, day))
		require.NoError(t, err)
		cursor := cursorOf(t, gormDB, tmpl.ID)
		require.NotNil(t, cursor)
		assert.GreaterOrEqual(t, *cursor, previous)
		previous = *cursor
	}
	assert.Equal(t, "2024-02-01", previous)
}

func TestRunOnce_SkipsUnrecognizedTemplates(t *testing.T) {
	gormDB := setupTestDB(t)
	daily := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Daily", Frequency: "daily", Interval: 1, StartDate: "2024-01-01",
	})
	broken := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Broken", Frequency: FrequencyWeekly, Interval: 0, StartDate: "2024-01-01",
	})
	ok := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Weekly", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01",
	})

	ids, err := newTestRunner(gormDB).RunOnce(context.Background(), date(t, "2024-01-15"))
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Nil(t, cursorOf(t, gormDB, daily.ID))
	assert.Nil(t, cursorOf(t, gormDB, broken.ID))
	assert.NotNil(t, cursorOf(t, gormDB, ok.ID))
}

func TestRunOnce_CopiesFieldsAtGenerationTime(t *testing.T) {
	gormDB := setupTestDB(t)
	tmpl := createTemplate(t, gormDB, db.RecurringTemplate{
		Title:         "Clean kitchen",
		Description:   "Counters and floor",
		Prerequisites: "Buy cleaner",
		Assignee:      "Jordan",
		Frequency:     FrequencyWeekly,
		Interval:      1,
		StartDate:     "2024-01-15",
	})

	ids, err := newTestRunner(gormDB).RunOnce(context.Background(), date(t, "2024-01-15"))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.NoError(t, gormDB.Model(&db.RecurringTemplate{}).Where("id = ?", tmpl.ID).Updates(map[string]interface{}{
		"title": "Deep clean kitchen", "assignee": "Casey",
	}).Error)

	var task db.Task
	require.NoError(t, gormDB.First(&task, ids[0]).Error)
	assert.Equal(t, "Clean kitchen", task.Title)
	assert.Equal(t, "Counters and floor", task.Description)
	assert.Equal(t, "Buy cleaner", task.Prerequisites)
	assert.Equal(t, "Jordan", task.Assignee)
	assert.True(t, fixedNow.Equal(task.CreatedAt))
}

func TestRunOnce_OnlyDueTemplateGenerates(t *testing.T) {
	gormDB := setupTestDB(t)
	weekly := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Weekly sync", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01", LastGenerated: strPtr("2024-01-08"),
	})
	monthly := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Monthly close", Frequency: FrequencyMonthly, Interval: 1, StartDate: "2024-01-01", LastGenerated: strPtr("2024-01-01"),
	})

	ids, err := newTestRunner(gormDB).RunOnce(context.Background(), date(t, "2024-01-15"))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	var task db.Task
	require.NoError(t, gormDB.First(&task, ids[0]).Error)
	assert.Equal(t, weekly.Title, task.Title)
	assert.Equal(t, "2024-01-01", *cursorOf(t, gormDB, monthly.ID))
	assert.Equal(t, "2024-01-15", *cursorOf(t, gormDB, weekly.ID))
}

// failingInsertStore fails inserts for one title to exercise the rollback path.
type failingInsertStore struct {
	*GormStore
	failOn string
}

func (s *failingInsertStore) InsertTaskInstance(ctx context.Context, fields TaskFields) (uint, error) {
	if fields.Title == s.failOn {
		return 0, errors.New("disk I/O error")
	}
	return s.GormStore.InsertTaskInstance(ctx, fields)
}

func (s *failingInsertStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.GormStore.WithinTx(ctx, func(tx Store) error {
		return fn(&failingInsertStore{GormStore: tx.(*GormStore), failOn: s.failOn})
	})
}

func TestRunOnce_StoreFailureRollsBackWholePass(t *testing.T) {
	gormDB := setupTestDB(t)
	first := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "First", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01",
	})
	createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Second", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01",
	})
	publisher := new(MockPublisher)
	store := &failingInsertStore{GormStore: NewGormStore(gormDB), failOn: "Second"}
	runner := NewRunner(store, WithPublisher(publisher))

	ids, err := runner.RunOnce(context.Background(), date(t, "2024-01-15"))
	assert.Nil(t, ids)
	assert.ErrorIs(t, err, ErrStore)
	assert.Contains(t, err.Error(), "disk I/O error")

	assert.Zero(t, countTasks(gormDB))
	assert.Nil(t, cursorOf(t, gormDB, first.ID))
	publisher.AssertNotCalled(t, "PublishTaskGenerated", mock.Anything, mock.Anything)
}

func TestRunOnce_ListFailureIsStoreError(t *testing.T) {
	store := new(MockStore)
	store.On("ListTemplates", mock.Anything).Return(nil, errors.New("database is locked"))

	_, err := NewRunner(store).RunOnce(context.Background(), fixedNow)
	assert.ErrorIs(t, err, ErrStore)
	store.AssertExpectations(t)
}

func TestRunOnce_ConflictSkipsTemplate(t *testing.T) {
	store := new(MockStore)
	templates := []db.RecurringTemplate{
		{Title: "Raced", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01"},
		{Title: "Clean", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01"},
	}
	templates[0].ID = 1
	templates[1].ID = 2
	store.On("ListTemplates", mock.Anything).Return(templates, nil)
	store.On("AdvanceCursor", mock.Anything, uint(1), (*string)(nil), "2024-01-15").Return(ErrCursorConflict)
	store.On("AdvanceCursor", mock.Anything, uint(2), (*string)(nil), "2024-01-15").Return(nil)
	store.On("InsertTaskInstance", mock.Anything, mock.MatchedBy(func(f TaskFields) bool {
		return f.Title == "Clean" && f.DueDate == "2024-01-01"
	})).Return(uint(7), nil)

	ids, err := NewRunner(store, WithClock(func() time.Time { return fixedNow })).RunOnce(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, []uint{7}, ids)
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "InsertTaskInstance", 1)
}

func TestRunOnce_PublishesAfterCommit(t *testing.T) {
	gormDB := setupTestDB(t)
	createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Pay rent", Assignee: "Morgan", Frequency: FrequencyMonthly, Interval: 1, StartDate: "2024-01-15",
	})
	publisher := new(MockPublisher)
	publisher.On("PublishTaskGenerated", mock.Anything, mock.MatchedBy(func(p events.TaskGeneratedPayload) bool {
		return p.Title == "Pay rent" && p.Assignee == "Morgan" && p.DueDate == "2024-01-15" && p.Status == db.StatusCreated
	})).Return(errors.New("broker unavailable")).Once()

	runner := newTestRunner(gormDB, WithPublisher(publisher))
	ids, err := runner.RunOnce(context.Background(), date(t, "2024-01-15"))
	require.NoError(t, err, "publish failures must not fail the run")
	assert.Len(t, ids, 1)
	assert.Equal(t, int64(1), countTasks(gormDB))
	runner.Wait()
	publisher.AssertExpectations(t)
}

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	release chan struct{}
	calls   chan publishCall
}

type publishCall struct {
	taskID uint
	ctxErr error
}

func (p *blockingPublisher) PublishTaskGenerated(ctx context.Context, payload events.TaskGeneratedPayload) error {
	<-p.release
	p.calls <- publishCall{taskID: payload.TaskID, ctxErr: ctx.Err()}
	return nil
}

func runWithin(t *testing.T, ctx context.Context, runner *Runner, day string) []uint {
	t.Helper()
	today := date(t, day)
	type result struct {
		ids []uint
		err error
	}
	done := make(chan result, 1)
	go func() {
		ids, err := runner.RunOnce(ctx, today)
		done <- result{ids, err}
	}()
	select {
	case res := <-done:
		require.NoError(t, res.err)
		return res.ids
	case <-time.After(5 * time.Second):
		t.Fatalf("RunOnce for %s blocked on the publisher", day)
		return nil
	}
}

func TestRunOnce_SlowPublisherDoesNotBlockRuns(t *testing.T) {
	gormDB := setupTestDB(t)
	createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Monday report", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-15",
	})
	createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Tuesday report", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-16",
	})
	publisher := &blockingPublisher{release: make(chan struct{}), calls: make(chan publishCall, 2)}
	runner := newTestRunner(gormDB, WithPublisher(publisher))

	ctx, cancel := context.WithCancel(context.Background())
	first := runWithin(t, ctx, runner, "2024-01-15")
	cancel()
	second := runWithin(t, context.Background(), runner, "2024-01-16")
	require.Len(t, first, 1)
	require.Len(t, second, 1)

	close(publisher.release)
	runner.Wait()
	close(publisher.calls)

	var published []uint
	for call := range publisher.calls {
		assert.NoError(t, call.ctxErr, "publishing must outlive the caller's context")
		published = append(published, call.taskID)
	}
	assert.ElementsMatch(t, []uint{first[0], second[0]}, published)
}

func TestRunOnce_OversizedIntervalDoesNotStallOtherTemplates(t *testing.T) {
	gormDB := setupTestDB(t)
	oversized := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Overflow", Frequency: FrequencyWeekly, Interval: 1 << 61, StartDate: "2024-01-15",
	})
	weekly := createTemplate(t, gormDB, db.RecurringTemplate{
		Title: "Weekly", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-15",
	})
	runner := newTestRunner(gormDB)

	for _, day := range []string{"2024-01-15", "2024-01-15", "2024-01-22", "2024-01-29"} {
		_, err := runner.RunOnce(context.Background(), date(t, day))
		require.NoError(t, err, day)
	}
	assert.Equal(t, int64(3), countTasks(gormDB))
	assert.Nil(t, cursorOf(t, gormDB, oversized.ID))
	assert.Equal(t, "2024-01-29", *cursorOf(t, gormDB, weekly.ID))
}

func TestRunOnce_CursorRegressionSkipsTemplate(t *testing.T) {
	store := new(MockStore)
	templates := []db.RecurringTemplate{
		{Title: "Stuck", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01", LastGenerated: strPtr("2024-01-08")},
		{Title: "Clean", Frequency: FrequencyWeekly, Interval: 1, StartDate: "2024-01-01"},
	}
	templates[0].ID = 1
	templates[1].ID = 2
	store.On("ListTemplates", mock.Anything).Return(templates, nil)
	store.On("AdvanceCursor", mock.Anything, uint(1), mock.Anything, "2024-01-15").Return(ErrCursorRegression)
	store.On("AdvanceCursor", mock.Anything, uint(2), (*string)(nil), "2024-01-15").Return(nil)
	store.On("InsertTaskInstance", mock.Anything, mock.MatchedBy(func(f TaskFields) bool {
		return f.Title == "Clean"
	})).Return(uint(4), nil)

	ids, err := NewRunner(store, WithClock(func() time.Time { return fixedNow })).RunOnce(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, []uint{4}, ids)
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "InsertTaskInstance", 1)
}
