package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InvitationRepository provides data access for task invitations.
type InvitationRepository struct {
	pool *pgxpool.Pool
}

// NewInvitationRepository creates a new invitation repository.
func NewInvitationRepository(pool *pgxpool.Pool) *InvitationRepository {
	return &InvitationRepository{pool: pool}
}

// Insert records a dispatched invitation and returns its id.
func (r *InvitationRepository) Insert(ctx context.Context, inv Invitation) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO invitations (task_id, guest_planfix_id, telegram_id, chat_id, message_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, inv.TaskID, inv.GuestID, inv.TelegramID, inv.ChatID, inv.MessageID).Scan(&id)
	return id, err
}

// Withdraw marks one guest's delivered invitation withdrawn, matched by chat
// message so repeated callbacks stay idempotent. It reports whether a row was
// actually withdrawn by this call.
func (r *InvitationRepository) Withdraw(ctx context.Context, taskID, telegramID, messageID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invitations
		SET withdrawn_at = now()
		WHERE task_id = $1 AND telegram_id = $2 AND message_id = $3 AND withdrawn_at IS NULL
	`, taskID, telegramID, messageID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// WithdrawExcept marks all active invitations for the task withdrawn except
// the accepted guest's, returning the affected rows so their chat messages
// can be retracted.
func (r *InvitationRepository) WithdrawExcept(ctx context.Context, taskID, keepGuestID int64) ([]Invitation, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE invitations
		SET withdrawn_at = now()
		WHERE task_id = $1 AND guest_planfix_id <> $2 AND withdrawn_at IS NULL
		RETURNING id, task_id, guest_planfix_id, telegram_id, chat_id, message_id
	`, taskID, keepGuestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdrawn []Invitation
	for rows.Next() {
		var inv Invitation
		if err := rows.Scan(&inv.ID, &inv.TaskID, &inv.GuestID, &inv.TelegramID, &inv.ChatID, &inv.MessageID); err != nil {
			return nil, err
		}
		withdrawn = append(withdrawn, inv)
	}
	return withdrawn, rows.Err()
}

// ActiveCount returns how many invitations for the task are still
// outstanding.
func (r *InvitationRepository) ActiveCount(ctx context.Context, taskID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM invitations WHERE task_id = $1 AND withdrawn_at IS NULL
	`, taskID).Scan(&count)
	return count, err
}
