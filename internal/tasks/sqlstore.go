package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore persists tasks in a sqlite database. The two hot query paths
// (active-task listing, waiting-task matching) are covered by composite
// indexes on (user_id, status) and (user_id, status, waiting_for).
type SQLStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	task_type        TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	original_request TEXT NOT NULL DEFAULT '',
	priority         TEXT NOT NULL,
	status           TEXT NOT NULL,
	next_step        TEXT NOT NULL DEFAULT '',
	steps            TEXT NOT NULL DEFAULT '[]',
	steps_completed  TEXT NOT NULL DEFAULT '[]',
	workflow_state   TEXT NOT NULL DEFAULT '{}',
	waiting_for      TEXT NOT NULL DEFAULT '',
	waiting_for_data TEXT NOT NULL DEFAULT '{}',
	failure_reason   TEXT NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	max_retries      INTEGER NOT NULL DEFAULT 3,
	parent_task_id   TEXT NOT NULL DEFAULT '',
	scheduled_for    TIMESTAMP,
	completed_at     TIMESTAMP,
	failed_at        TIMESTAMP,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	last_activity_at TIMESTAMP NOT NULL,
	version          INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_status
	ON tasks(user_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_user_status_waiting
	ON tasks(user_id, status, waiting_for);

CREATE TABLE IF NOT EXISTS task_activity (
	task_id TEXT NOT NULL,
	ts      TIMESTAMP NOT NULL,
	type    TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_task_activity_task ON task_activity(task_id, ts);
`

// NewSQLStore opens (and if needed initializes) a sqlite task store at path.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows a single writer; serialize access at the pool level.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Create persists a new task.
func (s *SQLStore) Create(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = GenerateTaskID()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1

	steps, stepsDone, state, waitData, err := marshalTaskJSON(t)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, user_id, task_type, title, description, original_request,
			priority, status, next_step, steps, steps_completed, workflow_state,
			waiting_for, waiting_for_data, failure_reason, retry_count,
			max_retries, parent_task_id, scheduled_for, completed_at, failed_at,
			created_at, updated_at, last_activity_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TaskType, t.Title, t.Description, t.OriginalRequest,
		t.Priority, t.Status, t.NextStep, steps, stepsDone, state,
		t.WaitingFor, waitData, t.FailureReason, t.RetryCount,
		t.MaxRetries, t.ParentTaskID, nullTime(t.ScheduledFor), nullTime(t.CompletedAt), nullTime(t.FailedAt),
		t.CreatedAt, t.UpdatedAt, t.LastActivityAt, t.Version,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get reads a task by ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns tasks matching the filter, newest first.
func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	query := selectColumns + ` FROM tasks`
	var conds []string
	var args []any

	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.WaitingFor != "" {
		conds = append(conds, "waiting_for = ?")
		args = append(args, filter.WaitingFor)
	}
	if filter.ParentID != "" {
		conds = append(conds, "parent_task_id = ?")
		args = append(args, filter.ParentID)
	}
	if filter.DueBefore != nil {
		conds = append(conds, "scheduled_for IS NOT NULL AND scheduled_for < ?")
		args = append(args, *filter.DueBefore)
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var result []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// Update writes a task if the caller holds the current version, then bumps it.
func (s *SQLStore) Update(ctx context.Context, t *Task) error {
	steps, stepsDone, state, waitData, err := marshalTaskJSON(t)
	if err != nil {
		return err
	}

	t.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			task_type = ?, title = ?, description = ?, original_request = ?,
			priority = ?, status = ?, next_step = ?, steps = ?,
			steps_completed = ?, workflow_state = ?, waiting_for = ?,
			waiting_for_data = ?, failure_reason = ?, retry_count = ?,
			max_retries = ?, parent_task_id = ?, scheduled_for = ?,
			completed_at = ?, failed_at = ?, updated_at = ?,
			last_activity_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		t.TaskType, t.Title, t.Description, t.OriginalRequest,
		t.Priority, t.Status, t.NextStep, steps,
		stepsDone, state, t.WaitingFor,
		waitData, t.FailureReason, t.RetryCount,
		t.MaxRetries, t.ParentTaskID, nullTime(t.ScheduledFor),
		nullTime(t.CompletedAt), nullTime(t.FailedAt), t.UpdatedAt,
		t.LastActivityAt, t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		// Either the row is gone or someone else wrote first.
		if _, getErr := s.Get(ctx, t.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%s: %w", t.ID, ErrVersionConflict)
	}

	t.Version++
	return nil
}

// Delete removes a task and its activity log.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_activity WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// AppendActivity records an activity entry for a task.
func (s *SQLStore) AppendActivity(ctx context.Context, taskID string, a Activity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_activity (task_id, ts, type, summary) VALUES (?, ?, ?, ?)`,
		taskID, a.Ts, a.Type, a.Summary)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// LoadActivity returns a task's activity entries in chronological order.
func (s *SQLStore) LoadActivity(ctx context.Context, taskID string) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, type, summary FROM task_activity WHERE task_id = ? ORDER BY ts`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}
	defer rows.Close()

	var result []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.Ts, &a.Type, &a.Summary); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.db.Close() }

const selectColumns = `SELECT
	id, user_id, task_type, title, description, original_request,
	priority, status, next_step, steps, steps_completed, workflow_state,
	waiting_for, waiting_for_data, failure_reason, retry_count,
	max_retries, parent_task_id, scheduled_for, completed_at, failed_at,
	created_at, updated_at, last_activity_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var steps, stepsDone, state, waitData string
	var scheduledFor, completedAt, failedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.UserID, &t.TaskType, &t.Title, &t.Description, &t.OriginalRequest,
		&t.Priority, &t.Status, &t.NextStep, &steps, &stepsDone, &state,
		&t.WaitingFor, &waitData, &t.FailureReason, &t.RetryCount,
		&t.MaxRetries, &t.ParentTaskID, &scheduledFor, &completedAt, &failedAt,
		&t.CreatedAt, &t.UpdatedAt, &t.LastActivityAt, &t.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(steps), &t.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsDone), &t.StepsCompleted); err != nil {
		return nil, fmt.Errorf("decode steps_completed: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &t.State); err != nil {
		return nil, fmt.Errorf("decode workflow_state: %w", err)
	}
	if err := json.Unmarshal([]byte(waitData), &t.WaitingForData); err != nil {
		return nil, fmt.Errorf("decode waiting_for_data: %w", err)
	}

	if scheduledFor.Valid {
		t.ScheduledFor = &scheduledFor.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		t.FailedAt = &failedAt.Time
	}
	return &t, nil
}

func marshalTaskJSON(t *Task) (steps, stepsDone, state, waitData string, err error) {
	b, err := json.Marshal(orEmptySteps(t.Steps))
	if err != nil {
		return "", "", "", "", fmt.Errorf("encode steps: %w", err)
	}
	steps = string(b)

	b, err = json.Marshal(orEmptyStrings(t.StepsCompleted))
	if err != nil {
		return "", "", "", "", fmt.Errorf("encode steps_completed: %w", err)
	}
	stepsDone = string(b)

	b, err = json.Marshal(t.State)
	if err != nil {
		return "", "", "", "", fmt.Errorf("encode workflow_state: %w", err)
	}
	state = string(b)

	b, err = json.Marshal(orEmptyMap(t.WaitingForData))
	if err != nil {
		return "", "", "", "", fmt.Errorf("encode waiting_for_data: %w", err)
	}
	waitData = string(b)
	return steps, stepsDone, state, waitData, nil
}

func orEmptySteps(s []Step) []Step {
	if s == nil {
		return []Step{}
	}
	return s
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
