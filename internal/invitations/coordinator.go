// Package invitations coordinates the race between invited guests for an
// inspection task: dispatching invitation messages, handling accept/decline
// callbacks, and reconciling local assignments against the CRM, which may
// not yet expose a freshly created task through its read API.
package invitations

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mguest/inspectd/internal/chat"
	"github.com/mguest/inspectd/internal/crm"
	"github.com/mguest/inspectd/internal/events"
	"github.com/mguest/inspectd/internal/store"
	"github.com/mguest/inspectd/internal/webapp"
	"github.com/mguest/inspectd/platform/apperr"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"

	"golang.org/x/sync/errgroup"
)

// Callback data prefixes for the invitation keyboard.
const (
	AcceptPrefix  = "accept|"
	DeclinePrefix = "decline|"
)

// Form variants offered to guests. The delivery variant is picked when the
// task name mentions delivery.
const (
	formRestaurant = "resto_a"
	formDelivery   = "delivery_a"
)

const (
	msgNotRegistered   = "Ошибка: не найдена связь с контактом в Planfix. Обратитесь к администратору."
	msgInternalError   = "Произошла внутренняя ошибка. Пожалуйста, попробуй позже."
	msgAlreadyAssigned = "Мы уже нашли тайного гостя для этой проверки. Спасибо!"
	msgAssignFailed    = "Ошибка при назначении. Попробуй позже."
	msgDeclineThanks   = "Спасибо, что ответил(а)! До встречи на следующей проверке!"

	msgAcceptedWithForm = "Отлично! Ты закреплён(а) за этой проверкой. Нажми «Начать прохождение», чтобы заполнить анкету."
	msgAcceptedNoForm   = "Отлично! Ты закреплён(а) за этой проверкой. Свяжемся с тобой для дальнейших инструкций."
	msgReserved         = "Отлично! Ты закреплён(а) за этой проверкой. Ссылку на анкету пришлём, как только система синхронизируется."

	msgReconciledWithForm = "✅ Отлично! Ты теперь назначен(а) исполнителем задачи. Нажми «Начать прохождение», чтобы заполнить анкету."
	msgReconciledNoForm   = "✅ Отлично! Ты теперь назначен(а) исполнителем задачи. Свяжемся с тобой для дальнейших инструкций."

	startSurveyButton = "Начать прохождение"
	acceptButton      = "Принять"
	declineButton     = "Отказаться"

	commentAccepted    = "✅ Гость (ID: %d) принял приглашение и назначен исполнителем."
	commentAllDeclined = "⚠️ Все приглашённые гости отказались от проверки."
)

// TaskStore is the slice of task persistence the coordinator uses.
// Satisfied by store.TaskRepository.
type TaskStore interface {
	GetByID(ctx context.Context, taskID int64) (*store.Task, error)
	SetAssignedGuest(ctx context.Context, taskID, guestID int64) error
	SetAssignmentPrompt(ctx context.Context, taskID, chatID, messageID int64) error
	ListAssigned(ctx context.Context, limit int) ([]store.Task, error)
}

// InvitationStore persists invitation rows and their retraction state.
// Satisfied by store.InvitationRepository.
type InvitationStore interface {
	Insert(ctx context.Context, inv store.Invitation) (int64, error)
	Withdraw(ctx context.Context, taskID, telegramID, messageID int64) (bool, error)
	WithdrawExcept(ctx context.Context, taskID, keepGuestID int64) ([]store.Invitation, error)
	ActiveCount(ctx context.Context, taskID int64) (int, error)
}

// GuestDirectory maps between CRM contacts and chat identities. Satisfied by
// store.GuestRepository.
type GuestDirectory interface {
	ContactByTelegram(ctx context.Context, telegramID int64) (int64, error)
	TelegramIDByContact(ctx context.Context, contactID int64) (int64, error)
}

// TaskAssigner is the slice of the CRM client the coordinator drives.
type TaskAssigner interface {
	GetTask(ctx context.Context, ref, fields string) (*crm.TaskSnapshot, error)
	GetAssignees(ctx context.Context, ref string) ([]crm.ContactRef, error)
	SetExecutors(ctx context.Context, ref string, contactIDs []int64) error
	UpdateStatus(ctx context.Context, ref string, statusID int64) error
	AddComment(ctx context.Context, ref, text string) error
}

// Messenger delivers invitation and assignment messages to guests.
// Satisfied by chat.Client.
type Messenger interface {
	Enabled() bool
	SendMessage(ctx context.Context, chatID int64, text string) (chat.Message, error)
	SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, keyboard *chat.InlineKeyboard) (chat.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// Coordinator owns invitation state for inspection tasks and the per-task
// critical section around executor assignment.
type Coordinator struct {
	tasks   TaskStore
	invites InvitationStore
	guests  GuestDirectory
	crm     TaskAssigner
	bot     Messenger
	bus     events.Bus
	log     *logger.Logger

	statuses     config.StatusIDs
	webAppBase   string
	webAppSecret string
	batch        int

	locks taskLocks
}

// NewCoordinator wires the invitation coordinator.
func NewCoordinator(
	tasks TaskStore,
	invites InvitationStore,
	guests GuestDirectory,
	crmClient TaskAssigner,
	bot Messenger,
	bus events.Bus,
	lifecycleCfg config.LifecycleConfig,
	webAppCfg config.WebAppConfig,
	reconcileCfg config.ReconcileConfig,
	log *logger.Logger,
) *Coordinator {
	return &Coordinator{
		tasks:        tasks,
		invites:      invites,
		guests:       guests,
		crm:          crmClient,
		bot:          bot,
		bus:          bus,
		log:          log,
		statuses:     lifecycleCfg.GetStatusIDs(),
		webAppBase:   webAppCfg.GetWebAppBaseURL(),
		webAppSecret: webAppCfg.GetWebAppSecret(),
		batch:        reconcileCfg.GetReconcileBatch(),
	}
}

// Dispatch sends invitation messages for the task to every guest with a
// registered chat identity and records each delivery. Guests without a
// mapping are reported to the admin channel via the event bus. Returns the
// number of invitations delivered.
func (c *Coordinator) Dispatch(ctx context.Context, task *store.Task, guestIDs []int64, reward string) (int, error) {
	if !c.bot.Enabled() {
		c.log.Warn("invitations_skipped_bot_disabled", "task_id", task.TaskID)
		return 0, nil
	}

	text := invitationText(task, reward)
	keyboard := chat.ButtonRow(
		chat.InlineButton{Text: acceptButton, CallbackData: AcceptPrefix + strconv.FormatInt(task.TaskID, 10)},
		chat.InlineButton{Text: declineButton, CallbackData: DeclinePrefix + strconv.FormatInt(task.TaskID, 10)},
	)

	sent := 0
	var unmapped []int64
	for _, guestID := range guestIDs {
		telegramID, err := c.guests.TelegramIDByContact(ctx, guestID)
		if apperr.Is(err, apperr.KindNotFound) {
			unmapped = append(unmapped, guestID)
			continue
		}
		if err != nil {
			return sent, err
		}

		msg, err := c.bot.SendMessageWithKeyboard(ctx, telegramID, text, keyboard)
		if err != nil {
			continue
		}
		if msg.MessageID == 0 {
			continue
		}
		messageID := msg.MessageID
		if _, err := c.invites.Insert(ctx, store.Invitation{
			TaskID:     task.TaskID,
			GuestID:    guestID,
			TelegramID: telegramID,
			ChatID:     msg.Chat.ID,
			MessageID:  &messageID,
		}); err != nil {
			c.log.DatabaseError("invitation_insert", err)
			continue
		}
		sent++
	}

	if len(unmapped) > 0 {
		c.bus.Publish(ctx, events.GuestsUnmapped{
			BaseEvent: events.NewBaseEvent(),
			TaskID:    task.TaskID,
			GuestIDs:  unmapped,
		})
	}
	c.log.Info("invitations_dispatched", "task_id", task.TaskID, "sent", sent, "unmapped", len(unmapped))
	return sent, nil
}

// Accept handles a guest tapping the invitation accept button. The per-task
// lock closes the gap between checking the current executor and assigning
// one, so exactly one guest wins a contested task.
func (c *Coordinator) Accept(ctx context.Context, taskID, telegramID, chatID, messageID int64) error {
	contactID, err := c.guests.ContactByTelegram(ctx, telegramID)
	if apperr.Is(err, apperr.KindNotFound) {
		c.reply(ctx, chatID, msgNotRegistered)
		return nil
	}
	if err != nil {
		c.reply(ctx, chatID, msgInternalError)
		return err
	}

	mu := c.locks.forTask(taskID)
	mu.Lock()
	defer mu.Unlock()

	task, _ := c.tasks.GetByID(ctx, taskID)
	if task != nil && task.AssignedGuestID != nil {
		c.rejectLate(ctx, taskID, telegramID, chatID, messageID)
		return nil
	}

	ref := taskRef(task, taskID)
	refs, err := c.crm.GetAssignees(ctx, ref)
	if err == nil && len(refs) > 0 {
		c.rejectLate(ctx, taskID, telegramID, chatID, messageID)
		return nil
	}
	if err != nil {
		// The task may simply not be queryable yet; assignment decides below.
		c.log.Warn("accept_assignee_check_failed", "task_ref", ref, "error", err.Error())
	}

	if err := c.crm.SetExecutors(ctx, ref, []int64{contactID}); err != nil {
		if crm.IsNotFound(err) {
			return c.reserveLocally(ctx, taskID, contactID, chatID)
		}
		c.log.Error("accept_assignment_failed", "task_ref", ref, "error", err.Error())
		c.reply(ctx, chatID, msgAssignFailed)
		return nil
	}

	if err := c.crm.AddComment(ctx, ref, fmt.Sprintf(commentAccepted, contactID)); err != nil {
		c.log.Warn("accept_comment_failed", "task_ref", ref, "error", err.Error())
	}
	if err := c.tasks.SetAssignedGuest(ctx, taskID, contactID); err != nil {
		c.log.DatabaseError("accept_assignment_store", err)
	}

	c.sendSurveyPrompt(ctx, ref, taskID, contactID, chatID, msgAcceptedWithForm, msgAcceptedNoForm, false)
	c.withdrawCompeting(ctx, taskID, contactID)
	return nil
}

// reserveLocally records the assignment when the CRM cannot see the task
// yet. The reconciliation loop completes the CRM side once the task becomes
// queryable.
func (c *Coordinator) reserveLocally(ctx context.Context, taskID, contactID, chatID int64) error {
	c.log.Info("accept_reserved_pending_sync", "task_id", taskID, "guest_id", contactID)
	if err := c.tasks.SetAssignedGuest(ctx, taskID, contactID); err != nil {
		c.log.DatabaseError("accept_reservation_store", err)
		c.reply(ctx, chatID, msgAssignFailed)
		return err
	}
	c.reply(ctx, chatID, msgReserved)
	c.withdrawCompeting(ctx, taskID, contactID)
	return nil
}

// rejectLate tells a guest the task is already taken and withdraws their
// invitation.
func (c *Coordinator) rejectLate(ctx context.Context, taskID, telegramID, chatID, messageID int64) {
	c.reply(ctx, chatID, msgAlreadyAssigned)
	if _, err := c.invites.Withdraw(ctx, taskID, telegramID, messageID); err != nil {
		c.log.DatabaseError("invitation_withdraw", err)
	}
}

// Decline handles a guest tapping the decline button. When the last active
// invitation is withdrawn, the admin channel is notified and an audit comment
// is left on the CRM task, both exactly once.
func (c *Coordinator) Decline(ctx context.Context, taskID, telegramID, chatID, messageID int64) error {
	mu := c.locks.forTask(taskID)
	mu.Lock()
	defer mu.Unlock()

	withdrew, err := c.invites.Withdraw(ctx, taskID, telegramID, messageID)
	if err != nil {
		c.reply(ctx, chatID, msgInternalError)
		return err
	}

	c.reply(ctx, chatID, msgDeclineThanks)
	if err := c.bot.DeleteMessage(ctx, chatID, messageID); err != nil {
		c.log.Warn("invitation_delete_failed", "chat_id", chatID, "message_id", messageID, "error", err.Error())
	}

	if !withdrew {
		return nil
	}
	active, err := c.invites.ActiveCount(ctx, taskID)
	if err != nil {
		c.log.DatabaseError("invitation_active_count", err)
		return nil
	}
	if active > 0 {
		return nil
	}

	c.bus.Publish(ctx, events.InvitationsExhausted{BaseEvent: events.NewBaseEvent(), TaskID: taskID})
	task, _ := c.tasks.GetByID(ctx, taskID)
	if err := c.crm.AddComment(ctx, taskRef(task, taskID), commentAllDeclined); err != nil {
		c.log.Warn("decline_comment_failed", "task_id", taskID, "error", err.Error())
	}
	return nil
}

// ReconcileOnce runs one reconciliation pass: every task carrying a local
// assignment is checked against the CRM and the assignment is re-driven
// where the CRM does not reflect it yet.
func (c *Coordinator) ReconcileOnce(ctx context.Context) error {
	tasks, err := c.tasks.ListAssigned(ctx, c.batch)
	if err != nil {
		return err
	}
	for i := range tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.reconcileTask(ctx, &tasks[i])
	}
	return nil
}

func (c *Coordinator) reconcileTask(ctx context.Context, task *store.Task) {
	mu := c.locks.forTask(task.TaskID)
	mu.Lock()
	defer mu.Unlock()

	if task.AssignedGuestID == nil {
		return
	}
	guestID := *task.AssignedGuestID
	ref := task.Ref()

	refs, err := c.crm.GetAssignees(ctx, ref)
	if err != nil {
		if crm.IsNotFound(err) {
			c.log.Debug("reconcile_task_not_visible", "task_ref", ref)
		} else {
			c.log.Warn("reconcile_assignee_check_failed", "task_ref", ref, "error", err.Error())
		}
		return
	}
	if crm.ContainsContact(refs, guestID) {
		c.log.Debug("reconcile_already_assigned", "task_ref", ref, "guest_id", guestID)
		return
	}

	if err := c.crm.SetExecutors(ctx, ref, []int64{guestID}); err != nil {
		if crm.IsNotFound(err) {
			c.log.Debug("reconcile_task_not_visible", "task_ref", ref)
		} else {
			c.log.Warn("reconcile_assignment_failed", "task_ref", ref, "error", err.Error())
		}
		return
	}
	c.log.Info("reconcile_assignment_applied", "task_ref", ref, "guest_id", guestID)

	if err := c.crm.AddComment(ctx, ref, fmt.Sprintf(commentAccepted, guestID)); err != nil {
		c.log.Warn("reconcile_comment_failed", "task_ref", ref, "error", err.Error())
	}
	for _, statusID := range []int64{c.statuses.WaitingVisit, c.statuses.WaitingForm} {
		if statusID == 0 {
			continue
		}
		if err := c.crm.UpdateStatus(ctx, ref, statusID); err != nil {
			c.log.Warn("reconcile_status_failed", "task_ref", ref, "status_id", statusID, "error", err.Error())
		}
	}

	telegramID, err := c.guests.TelegramIDByContact(ctx, guestID)
	if err != nil {
		c.log.Warn("reconcile_guest_unmapped", "task_ref", ref, "guest_id", guestID)
		return
	}
	c.sendSurveyPrompt(ctx, ref, task.TaskID, guestID, telegramID, msgReconciledWithForm, msgReconciledNoForm, true)
}

// sendSurveyPrompt delivers the survey-start message, with a web-app button
// when the web app is configured. When storePrompt is set, the message
// coordinates are recorded so the prompt can be retracted after submission.
func (c *Coordinator) sendSurveyPrompt(ctx context.Context, ref string, taskID, contactID, chatID int64, withForm, withoutForm string, storePrompt bool) {
	url := c.surveyStartURL(ctx, ref, taskID, contactID)
	var (
		msg chat.Message
		err error
	)
	if url != "" {
		keyboard := chat.ButtonRow(chat.InlineButton{Text: startSurveyButton, WebApp: &chat.WebAppInfo{URL: url}})
		msg, err = c.bot.SendMessageWithKeyboard(ctx, chatID, withForm, keyboard)
	} else {
		msg, err = c.bot.SendMessage(ctx, chatID, withoutForm)
	}
	if err != nil || !storePrompt || msg.MessageID == 0 {
		return
	}
	if err := c.tasks.SetAssignmentPrompt(ctx, taskID, msg.Chat.ID, msg.MessageID); err != nil {
		c.log.DatabaseError("assignment_prompt_store", err)
	}
}

// surveyStartURL builds the signed web-app entry URL, or returns empty when
// the web app is not configured.
func (c *Coordinator) surveyStartURL(ctx context.Context, ref string, taskID, contactID int64) string {
	if c.webAppBase == "" {
		return ""
	}
	return webapp.StartURL(c.webAppBase, taskID, contactID, c.formVariant(ctx, ref), c.webAppSecret)
}

// formVariant picks the survey form for the task: the delivery variant when
// the task name mentions delivery, the restaurant variant otherwise.
func (c *Coordinator) formVariant(ctx context.Context, ref string) string {
	snapshot, err := c.crm.GetTask(ctx, ref, "id,name,description,customFieldData")
	if err != nil {
		c.log.Warn("form_variant_lookup_failed", "task_ref", ref, "error", err.Error())
		return formRestaurant
	}
	name := strings.ToLower(snapshot.Name)
	if strings.Contains(name, "доставка") || strings.Contains(name, "delivery") {
		return formDelivery
	}
	return formRestaurant
}

// withdrawCompeting marks every other guest's invitation withdrawn and
// deletes their chat messages where possible. Deletions are independent
// best-effort calls and run a few at a time.
func (c *Coordinator) withdrawCompeting(ctx context.Context, taskID, winnerID int64) {
	withdrawn, err := c.invites.WithdrawExcept(ctx, taskID, winnerID)
	if err != nil {
		c.log.DatabaseError("invitation_withdraw_competing", err)
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, inv := range withdrawn {
		if inv.MessageID == nil {
			continue
		}
		chatID, messageID := inv.ChatID, *inv.MessageID
		g.Go(func() error {
			if err := c.bot.DeleteMessage(ctx, chatID, messageID); err != nil {
				c.log.Warn("invitation_message_delete_failed",
					"chat_id", chatID, "message_id", messageID, "error", err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()
}

// reply sends a plain message to the guest, logging delivery failures.
func (c *Coordinator) reply(ctx context.Context, chatID int64, text string) {
	if _, err := c.bot.SendMessage(ctx, chatID, text); err != nil {
		c.log.Warn("invitation_reply_failed", "chat_id", chatID, "error", err.Error())
	}
}

// invitationText builds the invitation message for a task, with the reward
// line included when a reward amount is known.
func invitationText(task *store.Task, reward string) string {
	rewardLine := ""
	if strings.TrimSpace(reward) != "" {
		rewardLine = fmt.Sprintf("Вознаграждение: %s\n", reward)
	}
	return fmt.Sprintf(
		"Привет! Мы ищем Тайного гостя для ресторана «%s».\nАдрес: %s\nПроверка: %s\n%sНажми «Принять», если готов(а) пройти проверку.",
		task.RestaurantName, task.RestaurantAddress, task.VisitDate, rewardLine,
	)
}

// taskRef resolves the reference for CRM calls: the stored external number
// when the task row is known, the numeric id otherwise.
func taskRef(task *store.Task, taskID int64) string {
	if task != nil {
		return task.Ref()
	}
	return strconv.FormatInt(taskID, 10)
}
