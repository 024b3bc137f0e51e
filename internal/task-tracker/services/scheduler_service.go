package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/go-co-op/gocron/v2"
)

const recurrenceJobTag = "recurrence_runner"

// RecurrenceRunner is what the scheduler triggers; *recurrence.Runner implements it.
type RecurrenceRunner interface {
	RunOnce(ctx context.Context, today time.Time) ([]uint, error)
}

// SchedulerService runs the recurrence engine on a cron timer, once at
// startup and then on every tick.
type SchedulerService struct {
	Scheduler      gocron.Scheduler
	Runner         RecurrenceRunner
	CronExpression string
	appContext     context.Context
	now            func() time.Time
}

func NewSchedulerService(ctx context.Context, runner RecurrenceRunner, cronExpression string) (*SchedulerService, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &SchedulerService{
		Scheduler:      s,
		Runner:         runner,
		CronExpression: cronExpression,
		appContext:     ctx,
		now:            time.Now,
	}, nil
}

// Start registers the recurrence job and starts the scheduler.
func (s *SchedulerService) Start() error {
	hlog.Info("SchedulerService starting...")
	job, err := s.Scheduler.NewJob(
		gocron.CronJob(s.CronExpression, false),
		gocron.NewTask(s.runScheduled),
		gocron.WithName("recurrence"),
		gocron.WithTags(recurrenceJobTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule recurrence job with cron '%s': %w", s.CronExpression, err)
	}
	s.Scheduler.Start()

	if nextRun, err := job.NextRun(); err != nil {
		hlog.Infof("SchedulerService started. Recurrence cron '%s', Next Run: (error: %v)", s.CronExpression, err)
	} else {
		hlog.Infof("SchedulerService started. Recurrence cron '%s', Next Run: %s", s.CronExpression, nextRun.Format(time.RFC3339))
	}
	return nil
}

func (s *SchedulerService) Stop() {
	hlog.Info("SchedulerService stopping...")
	if err := s.Scheduler.Shutdown(); err != nil {
		hlog.Errorf("Error shutting down gocron scheduler: %v", err)
	} else {
		hlog.Info("Gocron scheduler shut down successfully.")
	}
}

// RunNow triggers one recurrence pass outside the timer.
func (s *SchedulerService) RunNow(ctx context.Context) ([]uint, error) {
	return s.Runner.RunOnce(ctx, s.now())
}

func (s *SchedulerService) runScheduled() {
	ids, err := s.Runner.RunOnce(s.appContext, s.now())
	if err != nil {
		hlog.Errorf("SchedulerService: recurrence run failed: %v", err)
		return
	}
	hlog.Infof("SchedulerService: recurrence run generated %d task(s): %v", len(ids), ids)
}
