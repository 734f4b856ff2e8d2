package tasks

import (
	"context"
	"log/slog"
)

// RecoverInterrupted resets tasks stranded in in_progress by a crash back to
// pending so the orchestrator picks them up again. Waiting tasks keep their
// wait descriptor untouched; their resume path is event-driven, not
// scheduler-driven. Returns the number of tasks reset.
func RecoverInterrupted(ctx context.Context, store Store) (int, error) {
	stranded, err := store.List(ctx, ListFilter{Status: TaskInProgress})
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, t := range stranded {
		t.Status = TaskPending
		if err := store.Update(ctx, t); err != nil {
			slog.Warn("recover interrupted task", "task_id", t.ID, "error", err)
			continue
		}
		slog.Info("reset interrupted task to pending", "task_id", t.ID, "title", t.Title)
		reset++
	}
	return reset, nil
}
