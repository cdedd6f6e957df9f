// Package updates receives bot API webhook updates and routes them to
// the registration wizard and the invitation coordinator.
package updates

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mguest/inspectd/internal/chat"
	"github.com/mguest/inspectd/internal/invitations"
	"github.com/mguest/inspectd/internal/registration"
	"github.com/mguest/inspectd/platform/httpkit"
	"github.com/mguest/inspectd/platform/logger"
)

const (
	sourceChat = "chat"

	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

	msgInvalidSecret = "Invalid secret token"
	msgInvalidUpdate = "Invalid update payload"
)

// Handler receives inbound bot API updates.
type Handler struct {
	client  *chat.Client
	wizard  *registration.Wizard
	invites *invitations.Coordinator
	secret  string
	log     *logger.Logger
}

// NewHandler creates the update handler. secret guards the webhook;
// empty disables the check.
func NewHandler(
	client *chat.Client,
	wizard *registration.Wizard,
	invites *invitations.Coordinator,
	secret string,
	log *logger.Logger,
) *Handler {
	return &Handler{
		client:  client,
		wizard:  wizard,
		invites: invites,
		secret:  secret,
		log:     log,
	}
}

// HandleUpdate processes one inbound bot API update. Processing
// failures are logged and acknowledged so the platform does not
// redeliver the update.
func (h *Handler) HandleUpdate(c *gin.Context) {
	if !h.verifySecret(c.GetHeader(secretTokenHeader)) {
		h.log.WebhookDiscarded(sourceChat, "invalid secret token")
		httpkit.Error(c, http.StatusUnauthorized, msgInvalidSecret, nil)
		return
	}

	var update chat.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.log.WebhookDiscarded(sourceChat, err.Error())
		httpkit.Error(c, http.StatusBadRequest, msgInvalidUpdate, nil)
		return
	}

	ctx := c.Request.Context()
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		if err := h.wizard.HandleMessage(ctx, update.Message); err != nil {
			h.log.Error("chat_message_failed", "chat_id", update.Message.Chat.ID, "error", err.Error())
		}
	default:
		h.log.Debug("chat_update_ignored", "update_id", update.UpdateID)
	}
	httpkit.StatusOK(c)
}

// handleCallback acknowledges the button press and dispatches it by its
// callback data.
func (h *Handler) handleCallback(ctx context.Context, cb *chat.CallbackQuery) {
	if err := h.client.AnswerCallback(ctx, cb.ID); err != nil {
		h.log.Warn("chat_callback_answer_failed", "callback_id", cb.ID, "error", err.Error())
	}

	switch {
	case strings.HasPrefix(cb.Data, invitations.AcceptPrefix):
		h.handleInvitationReply(ctx, cb, true)
	case strings.HasPrefix(cb.Data, invitations.DeclinePrefix):
		h.handleInvitationReply(ctx, cb, false)
	case registration.HandlesCallback(cb.Data):
		if err := h.wizard.HandleCallback(ctx, cb); err != nil {
			h.log.Error("chat_registration_callback_failed", "data", cb.Data, "error", err.Error())
		}
	default:
		h.log.Debug("chat_callback_ignored", "data", cb.Data)
	}
}

func (h *Handler) handleInvitationReply(ctx context.Context, cb *chat.CallbackQuery, accepted bool) {
	if cb.Message == nil {
		h.log.Warn("chat_callback_without_message", "data", cb.Data)
		return
	}

	prefix := invitations.DeclinePrefix
	if accepted {
		prefix = invitations.AcceptPrefix
	}
	taskID, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, prefix), 10, 64)
	if err != nil {
		h.log.Warn("chat_callback_bad_task_id", "data", cb.Data)
		return
	}

	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID
	if accepted {
		err = h.invites.Accept(ctx, taskID, cb.From.ID, chatID, messageID)
	} else {
		err = h.invites.Decline(ctx, taskID, cb.From.ID, chatID, messageID)
	}
	if err != nil {
		h.log.Error("chat_invitation_reply_failed",
			"task_id", taskID, "accepted", accepted, "error", err.Error())
	}
}

func (h *Handler) verifySecret(token string) bool {
	if h.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
