// Package scheduler runs registered periodic tasks on a gocron scheduler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// TaskFunc is one periodic unit of work. It should honor ctx cancellation.
type TaskFunc func(ctx context.Context) error

// Task binds a TaskFunc to a cron schedule. An empty Schedule disables it.
type Task struct {
	Schedule string
	Run      TaskFunc
}

// Scheduler wraps gocron with per-task logging and a context that is
// cancelled when Run returns.
type Scheduler struct {
	scheduler gocron.Scheduler
	tasks     map[string]Task
	log       *zap.Logger
}

func New(logger *zap.Logger, tasks map[string]Task) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "scheduler"))
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(gocronLogger{log.Sugar()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, tasks: tasks, log: log}, nil
}

// Run schedules every enabled task, starts ticking and blocks until ctx is
// cancelled. Shutdown waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	scheduled := 0
	for _, name := range names {
		task := s.tasks[name]
		if task.Schedule == "" || task.Run == nil {
			s.log.Info("skipping disabled task", zap.String("task_name", name))
			continue
		}
		if err := s.add(ctx, name, task); err != nil {
			return err
		}
		scheduled++
	}

	s.scheduler.Start()
	s.log.Info("scheduler started", zap.Int("tasks_scheduled", scheduled))

	<-ctx.Done()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) add(ctx context.Context, name string, task Task) error {
	wrapped := func() {
		start := time.Now()
		err := task.Run(ctx)
		switch {
		case err == nil:
			s.log.Debug("task finished", zap.String("task_name", name), zap.Duration("duration", time.Since(start)))
		case errors.Is(err, context.Canceled):
			s.log.Info("task cancelled", zap.String("task_name", name))
		default:
			s.log.Error("task failed", zap.String("task_name", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
		}
	}

	job, err := s.scheduler.NewJob(
		gocron.CronJob(task.Schedule, false),
		gocron.NewTask(wrapped),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule task %q: %w", name, err)
	}

	fields := []zap.Field{zap.String("task_name", name), zap.String("schedule", task.Schedule)}
	if next, err := job.NextRun(); err == nil {
		fields = append(fields, zap.Time("next_run", next))
	}
	s.log.Info("task scheduled", fields...)
	return nil
}

// gocronLogger adapts zap to gocron's key/value logger.
type gocronLogger struct {
	s *zap.SugaredLogger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
