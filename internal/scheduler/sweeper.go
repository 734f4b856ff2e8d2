package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/factotum-ai/factotum/internal/events"
	"github.com/factotum-ai/factotum/internal/tasks"
	"github.com/factotum-ai/factotum/internal/workflow"
)

// Resumer continues a waiting task; the workflow engine implements it.
type Resumer interface {
	Resume(ctx context.Context, taskID, category string, event map[string]any) (workflow.ResumeOutcome, error)
}

// Config holds the sweeper's dependencies.
type Config struct {
	Lifecycle *tasks.Manager
	Resumer   Resumer
	Bus       *events.Bus
	SweepCron string // 5-field cron, default every minute
}

// Sweeper periodically resumes tasks whose scheduled wait has arrived and
// publishes overdue signals for tasks past their scheduled_for.
type Sweeper struct {
	lifecycle *tasks.Manager
	resumer   Resumer
	bus       *events.Bus
	cron      *CronExpr
	lastSweep time.Time
	done      chan struct{}
	now       func() time.Time
}

// New creates a sweeper from the config.
func New(cfg Config) (*Sweeper, error) {
	spec := cfg.SweepCron
	if spec == "" {
		spec = "* * * * *"
	}
	expr, err := ParseCron(spec)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		lifecycle: cfg.Lifecycle,
		resumer:   cfg.Resumer,
		bus:       cfg.Bus,
		cron:      expr,
		done:      make(chan struct{}),
		now:       time.Now,
	}, nil
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("scheduler started", "cron", s.cron.String())
	go s.loop(ctx)
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	close(s.done)
	slog.Info("scheduler stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.cron.Matches(now) {
				continue
			}
			if now.Truncate(time.Minute).Equal(s.lastSweep) {
				continue
			}
			s.lastSweep = now.Truncate(time.Minute)
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: release due scheduled_time waits, then flag overdue
// tasks. Exported so the CLI can trigger it directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()
	s.releaseDueWaits(ctx, now)
	s.flagOverdue(ctx, now)
}

func (s *Sweeper) releaseDueWaits(ctx context.Context, now time.Time) {
	waiting, err := s.lifecycle.Store().List(ctx, tasks.ListFilter{
		Status:     tasks.TaskWaiting,
		WaitingFor: tasks.WaitScheduledTime,
	})
	if err != nil {
		slog.Warn("scheduler: list scheduled waits", "error", err)
		return
	}

	for _, t := range waiting {
		due, ok := resumeTime(t)
		if !ok || due.After(now) {
			continue
		}

		outcome, err := s.resumer.Resume(ctx, t.ID, string(tasks.WaitScheduledTime), map[string]any{
			"trigger": "schedule",
		})
		if err != nil {
			slog.Warn("scheduler: resume scheduled task", "task_id", t.ID, "error", err)
			continue
		}
		slog.Info("scheduler: released scheduled wait", "task_id", t.ID, "outcome", outcome)
	}
}

// resumeTime reads the wake-up time from the wait descriptor, falling back
// to the task's scheduled_for.
func resumeTime(t *tasks.Task) (time.Time, bool) {
	if raw := t.WaitingForData["resume_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts, true
		}
		slog.Warn("scheduler: unparseable resume_at", "task_id", t.ID, "resume_at", raw)
	}
	if t.ScheduledFor != nil {
		return *t.ScheduledFor, true
	}
	return time.Time{}, false
}

func (s *Sweeper) flagOverdue(ctx context.Context, now time.Time) {
	overdue, err := s.lifecycle.Store().List(ctx, tasks.ListFilter{DueBefore: &now})
	if err != nil {
		slog.Warn("scheduler: list overdue", "error", err)
		return
	}

	for _, t := range overdue {
		if t.Status.Terminal() || t.ScheduledFor == nil {
			continue
		}
		// Scheduled waits are released above, not flagged.
		if t.Status == tasks.TaskWaiting && t.WaitingFor == tasks.WaitScheduledTime {
			continue
		}
		if s.bus != nil {
			s.bus.Publish(events.NewTypedEventWithUser(events.SourceScheduler, events.TaskOverduePayload{
				TaskID: t.ID, ScheduledFor: *t.ScheduledFor,
			}, t.UserID))
		}
	}
}
