package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mguest/inspectd/platform/apperr"
)

const sessionNotFoundMsg = "form session not found"

// SessionRepository provides data access for survey form sessions.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new form session repository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Insert records a freshly started session.
func (r *SessionRepository) Insert(ctx context.Context, s FormSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO form_sessions (session_id, task_id, guest_planfix_id, form)
		VALUES ($1, $2, $3, $4)
	`, s.SessionID, s.TaskID, s.GuestID, s.Form)
	return err
}

// GetByID retrieves a session by its id.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*FormSession, error) {
	var s FormSession
	err := r.pool.QueryRow(ctx, `
		SELECT session_id, task_id, guest_planfix_id, form, started_at,
		       completed_at, score, COALESCE(summary, ''), payload
		FROM form_sessions
		WHERE session_id = $1
	`, sessionID).Scan(
		&s.SessionID, &s.TaskID, &s.GuestID, &s.Form, &s.StartedAt,
		&s.CompletedAt, &s.Score, &s.Summary, &s.Payload,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(sessionNotFoundMsg)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Complete marks the session complete if it is not already. It reports
// whether this call was the one that completed it; a second completion for
// the same session leaves the stored result untouched.
func (r *SessionRepository) Complete(ctx context.Context, sessionID string, score *int, summary string, payload []byte) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE form_sessions
		SET completed_at = now(), score = $2, summary = $3, payload = $4
		WHERE session_id = $1 AND completed_at IS NULL
	`, sessionID, score, summary, payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// HasCompletedForTask reports whether any session for the task was
// submitted. The deadline-expiry job uses this to decide between a no-op
// and cancellation.
func (r *SessionRepository) HasCompletedForTask(ctx context.Context, taskID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM form_sessions WHERE task_id = $1 AND completed_at IS NOT NULL
		)
	`, taskID).Scan(&exists)
	return exists, err
}
