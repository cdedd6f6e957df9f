package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mguest/inspectd/platform/apperr"
)

const taskNotFoundMsg = "task not found"

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// TaskRepository provides data access for inspection tasks.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// Upsert creates the task row or refreshes its descriptive fields.
// Status, assignment, and prompt coordinates are preserved on conflict so a
// duplicate creation webhook cannot clobber progress.
func (r *TaskRepository) Upsert(ctx context.Context, t Task) error {
	status := t.Status
	if status == "" {
		status = StatusPending
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, nomber, restaurant_name, restaurant_address, visit_date, deadline, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO UPDATE SET
			nomber = EXCLUDED.nomber,
			restaurant_name = EXCLUDED.restaurant_name,
			restaurant_address = EXCLUDED.restaurant_address,
			visit_date = EXCLUDED.visit_date,
			deadline = EXCLUDED.deadline
	`, t.TaskID, t.Nomber, t.RestaurantName, t.RestaurantAddress, t.VisitDate, t.Deadline, status)
	return err
}

// GetByID retrieves a task by its internal numeric id.
func (r *TaskRepository) GetByID(ctx context.Context, taskID int64) (*Task, error) {
	return r.getOne(ctx, `
		SELECT task_id, COALESCE(nomber, ''), restaurant_name, COALESCE(restaurant_address, ''),
		       COALESCE(visit_date, ''), deadline, status, assigned_guest_id,
		       assignment_chat_id, assignment_message_id, created_at
		FROM tasks
		WHERE task_id = $1
	`, taskID)
}

// GetByRef retrieves a task by its external reference.
func (r *TaskRepository) GetByRef(ctx context.Context, nomber string) (*Task, error) {
	return r.getOne(ctx, `
		SELECT task_id, COALESCE(nomber, ''), restaurant_name, COALESCE(restaurant_address, ''),
		       COALESCE(visit_date, ''), deadline, status, assigned_guest_id,
		       assignment_chat_id, assignment_message_id, created_at
		FROM tasks
		WHERE nomber = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, nomber)
}

func (r *TaskRepository) getOne(ctx context.Context, query string, arg any) (*Task, error) {
	var t Task
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&t.TaskID, &t.Nomber, &t.RestaurantName, &t.RestaurantAddress,
		&t.VisitDate, &t.Deadline, &t.Status, &t.AssignedGuestID,
		&t.AssignmentChatID, &t.AssignmentMessageID, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(taskNotFoundMsg)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatus sets the lifecycle status of one task.
func (r *TaskRepository) UpdateStatus(ctx context.Context, taskID int64, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $2 WHERE task_id = $1
	`, taskID, status)
	return err
}

// UpdateStatusDeadline sets both the status and the deadline of one task.
func (r *TaskRepository) UpdateStatusDeadline(ctx context.Context, taskID int64, status, deadline string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, deadline = $3 WHERE task_id = $1
	`, taskID, status, deadline)
	return err
}

// UpdateDeadline sets the deadline of one task.
func (r *TaskRepository) UpdateDeadline(ctx context.Context, taskID int64, deadline string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET deadline = $2 WHERE task_id = $1
	`, taskID, deadline)
	return err
}

// SetAssignedGuest records the assigned guest without changing the lifecycle
// status; status transitions arrive via their own webhook events.
func (r *TaskRepository) SetAssignedGuest(ctx context.Context, taskID, guestID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET assigned_guest_id = $2 WHERE task_id = $1
	`, taskID, guestID)
	return err
}

// SetAssignmentPrompt records the chat coordinates of the outstanding
// survey-start prompt so it can be retracted later.
func (r *TaskRepository) SetAssignmentPrompt(ctx context.Context, taskID, chatID, messageID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET assignment_chat_id = $2, assignment_message_id = $3 WHERE task_id = $1
	`, taskID, chatID, messageID)
	return err
}

// ClearAssignmentPrompt drops the stored prompt coordinates.
func (r *TaskRepository) ClearAssignmentPrompt(ctx context.Context, taskID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET assignment_chat_id = NULL, assignment_message_id = NULL WHERE task_id = $1
	`, taskID)
	return err
}

// ListAssigned returns the most recently created tasks that carry a local
// guest assignment, newest first. This feeds the reconciliation loop.
func (r *TaskRepository) ListAssigned(ctx context.Context, limit int) ([]Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT task_id, COALESCE(nomber, ''), restaurant_name, COALESCE(restaurant_address, ''),
		       COALESCE(visit_date, ''), deadline, status, assigned_guest_id,
		       assignment_chat_id, assignment_message_id, created_at
		FROM tasks
		WHERE assigned_guest_id IS NOT NULL
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.TaskID, &t.Nomber, &t.RestaurantName, &t.RestaurantAddress,
			&t.VisitDate, &t.Deadline, &t.Status, &t.AssignedGuestID,
			&t.AssignmentChatID, &t.AssignmentMessageID, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
