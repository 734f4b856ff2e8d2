package tasks

import (
	"context"
	"time"
)

// ListFilter defines criteria for filtering task lists.
type ListFilter struct {
	UserID     string
	Status     TaskStatus
	WaitingFor WaitKind
	ParentID   string
	// DueBefore matches tasks whose scheduled_for is set and earlier than it.
	DueBefore *time.Time
}

// Store defines the persistence interface for tasks.
//
// Update applies optimistic concurrency: it only writes when the stored
// version equals t.Version, then bumps it. A stale write returns
// ErrVersionConflict with the row unchanged.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, filter ListFilter) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
	AppendActivity(ctx context.Context, taskID string, a Activity) error
	LoadActivity(ctx context.Context, taskID string) ([]Activity, error)
	Close() error
}
