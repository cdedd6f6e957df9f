package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/mguest/inspectd/internal/events"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"
)

// AdminNotifier forwards domain events to the admin chat channel.
type AdminNotifier struct {
	client      *Client
	adminChatID int64
	log         *logger.Logger
}

// NewAdminNotifier creates the notifier. A nil client or zero chat id
// turns every notification into a no-op.
func NewAdminNotifier(client *Client, cfg config.ChatConfig, log *logger.Logger) *AdminNotifier {
	return &AdminNotifier{
		client:      client,
		adminChatID: cfg.GetAdminChatID(),
		log:         log,
	}
}

// RegisterHandlers subscribes the notifier to the events it reports on.
func (n *AdminNotifier) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.DeadlineExpired{}.EventName(), n)
	bus.Subscribe(events.TaskCancelled{}.EventName(), n)
	bus.Subscribe(events.TaskCompleted{}.EventName(), n)
	bus.Subscribe(events.GuestsUnmapped{}.EventName(), n)
	bus.Subscribe(events.InvitationsExhausted{}.EventName(), n)
	bus.Subscribe(events.FormReceived{}.EventName(), n)
	bus.Subscribe(events.GuestRegistered{}.EventName(), n)
}

// Handle routes events to the appropriate admin message.
func (n *AdminNotifier) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.DeadlineExpired:
		return n.notify(ctx, fmt.Sprintf("⏰ Дедлайн истёк для задачи #%d. Проверка не была пройдена. Задача отменена.", e.TaskID))
	case events.TaskCancelled:
		reason := e.Reason
		if reason == "" {
			reason = "не указана"
		}
		return n.notify(ctx, fmt.Sprintf("❌ Задача #%d отменена вручную. Причина: %s", e.TaskID, reason))
	case events.TaskCompleted:
		return n.notify(ctx, fmt.Sprintf("✅ Задача #%d завершена, к компенсации. Гость: %d", e.TaskID, e.GuestID))
	case events.GuestsUnmapped:
		ids := make([]string, len(e.GuestIDs))
		for i, id := range e.GuestIDs {
			ids[i] = fmt.Sprintf("%d", id)
		}
		return n.notify(ctx, fmt.Sprintf(
			"⚠️ Для задачи #%d не найдены зарегистрированные гости в боте:\nPlanfix Contact IDs: %s\nЭти гости должны зарегистрироваться в боте через /start",
			e.TaskID, strings.Join(ids, ", ")))
	case events.InvitationsExhausted:
		return n.notify(ctx, fmt.Sprintf("⚠️ Все гости отказались от проверки задачи #%d.", e.TaskID))
	case events.FormReceived:
		text := fmt.Sprintf("✅ Проверка завершена!\nЗадача: #%d\nГость: %d\nФорма: %s\n", e.TaskID, e.GuestID, e.Form)
		if e.Score != "" {
			text += "Оценка: " + e.Score
		} else {
			text += "Оценка не указана"
		}
		return n.notify(ctx, text)
	case events.GuestRegistered:
		text := fmt.Sprintf("Новая регистрация Тайного гостя.\nТелефон: %s\nPlanfix ID: %d", e.Phone, e.ContactID)
		switch {
		case e.Username != "":
			text += "\nTelegram: @" + strings.TrimPrefix(e.Username, "@")
		case e.TelegramID != 0:
			text += fmt.Sprintf("\nTelegram ID: %d", e.TelegramID)
		}
		if e.ContactURL != "" {
			text += "\nСсылка: " + e.ContactURL
		}
		return n.notify(ctx, text)
	default:
		return nil
	}
}

func (n *AdminNotifier) notify(ctx context.Context, text string) error {
	if !n.client.Enabled() || n.adminChatID == 0 {
		return nil
	}
	_, err := n.client.SendMessage(ctx, n.adminChatID, text)
	if err != nil {
		n.log.Error("admin notification failed", "error", err)
	}
	return err
}
