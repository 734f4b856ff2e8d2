package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/factotum-ai/factotum/internal/storage/dirstore"
)

// FileStore persists tasks as directories with meta.json + activity.jsonl.
// Intended for development and tests; the sqlite store is the default backend.
type FileStore struct {
	ds *dirstore.DirStore
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{ds: dirstore.NewDirStore(baseDir, "task")}
}

// Create persists a new task to disk.
func (fs *FileStore) Create(_ context.Context, t *Task) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	if t.ID == "" {
		t.ID = GenerateTaskID()
	}

	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1

	if err := fs.ds.EnsureDir(t.ID); err != nil {
		return err
	}

	return fs.ds.WriteMeta(t.ID, t)
}

// Get reads task metadata by ID.
func (fs *FileStore) Get(_ context.Context, id string) (*Task, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	return fs.read(id)
}

func (fs *FileStore) read(id string) (*Task, error) {
	var t Task
	if err := fs.ds.ReadMeta(id, &t); err != nil {
		if errors.Is(err, dirstore.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

// List returns tasks matching the filter, newest first.
func (fs *FileStore) List(_ context.Context, filter ListFilter) ([]*Task, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	dirs, err := fs.ds.ListDirs()
	if err != nil {
		return nil, err
	}

	var result []*Task
	for _, name := range dirs {
		var t Task
		if err := fs.ds.ReadMeta(name, &t); err != nil {
			continue // skip corrupted tasks
		}
		if !matchesFilter(&t, filter) {
			continue
		}
		result = append(result, &t)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

func matchesFilter(t *Task, filter ListFilter) bool {
	if filter.UserID != "" && t.UserID != filter.UserID {
		return false
	}
	if filter.Status != "" && t.Status != filter.Status {
		return false
	}
	if filter.WaitingFor != "" && t.WaitingFor != filter.WaitingFor {
		return false
	}
	if filter.ParentID != "" && t.ParentTaskID != filter.ParentID {
		return false
	}
	if filter.DueBefore != nil {
		if t.ScheduledFor == nil || !t.ScheduledFor.Before(*filter.DueBefore) {
			return false
		}
	}
	return true
}

// Update rewrites a task's meta.json if the caller holds the current version.
func (fs *FileStore) Update(_ context.Context, t *Task) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	current, err := fs.read(t.ID)
	if err != nil {
		return err
	}
	if current.Version != t.Version {
		return fmt.Errorf("%s: stored version %d, caller has %d: %w",
			t.ID, current.Version, t.Version, ErrVersionConflict)
	}

	t.Version++
	t.UpdatedAt = time.Now()
	return fs.ds.WriteMeta(t.ID, t)
}

// Delete removes a task directory.
func (fs *FileStore) Delete(_ context.Context, id string) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	return fs.ds.RemoveDir(id)
}

// AppendActivity appends an activity entry to the JSONL file.
func (fs *FileStore) AppendActivity(_ context.Context, taskID string, a Activity) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	return fs.ds.AppendJSONL(taskID, "activity.jsonl", a)
}

// LoadActivity reads all activity entries from the JSONL file.
func (fs *FileStore) LoadActivity(_ context.Context, taskID string) ([]Activity, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	return dirstore.LoadJSONL[Activity](fs.ds, taskID, "activity.jsonl")
}

// Close is a no-op for the file store.
func (fs *FileStore) Close() error { return nil }
