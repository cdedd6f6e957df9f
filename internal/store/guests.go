package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mguest/inspectd/platform/apperr"
)

const guestNotFoundMsg = "guest mapping not found"

// GuestRepository provides data access for CRM-contact to chat-identity
// mappings.
type GuestRepository struct {
	pool *pgxpool.Pool
}

// NewGuestRepository creates a new guest mapping repository.
func NewGuestRepository(pool *pgxpool.Pool) *GuestRepository {
	return &GuestRepository{pool: pool}
}

// Upsert records the mapping for a registered guest, refreshing the chat
// identity and username on re-registration. A chat identity that re-registers
// under a new CRM contact takes over the mapping from its stale contact row.
func (r *GuestRepository) Upsert(ctx context.Context, contactID, telegramID int64, username string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM guest_contacts WHERE telegram_id = $1 AND planfix_contact_id <> $2
	`, telegramID, contactID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO guest_contacts (planfix_contact_id, telegram_id, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (planfix_contact_id) DO UPDATE SET
			telegram_id = EXCLUDED.telegram_id,
			username = EXCLUDED.username,
			updated_at = now()
	`, contactID, telegramID, username); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// TelegramIDByContact resolves the chat identity for a CRM contact.
func (r *GuestRepository) TelegramIDByContact(ctx context.Context, contactID int64) (int64, error) {
	var telegramID int64
	err := r.pool.QueryRow(ctx, `
		SELECT telegram_id FROM guest_contacts WHERE planfix_contact_id = $1
	`, contactID).Scan(&telegramID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.NotFound(guestNotFoundMsg)
	}
	return telegramID, err
}

// ContactByTelegram resolves the CRM contact for a chat identity.
func (r *GuestRepository) ContactByTelegram(ctx context.Context, telegramID int64) (int64, error) {
	var contactID int64
	err := r.pool.QueryRow(ctx, `
		SELECT planfix_contact_id FROM guest_contacts WHERE telegram_id = $1
	`, telegramID).Scan(&contactID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.NotFound(guestNotFoundMsg)
	}
	return contactID, err
}
