// Package lifecycle reacts to CRM task events: it normalizes the webhook
// payloads, mirrors task state into the store, and drives the side effects
// each lifecycle stage requires (invitations, status transitions, audit
// comments, guest and admin notifications, deadline jobs).
package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mguest/inspectd/internal/chat"
	"github.com/mguest/inspectd/internal/crm"
	"github.com/mguest/inspectd/internal/events"
	"github.com/mguest/inspectd/internal/store"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"
)

// Lifecycle event discriminators sent by the CRM automation rules.
const (
	EventCreated               = "task.created"
	EventAssigneeManual        = "task.assignee.manual"
	EventWaitForm              = "task.wait_form"
	EventDeadlineFailed        = "task.deadline_failed"
	EventCancelledManual       = "task.cancelled_manual"
	EventCompletedCompensation = "task.completed_compensation"
	EventDeadlineUpdated       = "task.deadline_updated"
	EventUpdated               = "task.updated"
	EventUpdate                = "task.update"
	EventStatusAnswersReview   = "task.status_answers_review"
	EventStatusPayment         = "task.status_payment_notification"
)

const (
	msgSurveyUnderReview = "Ваша анкета на проверке."
	msgCompensationFmt   = "✅ Вы успешно прошли проверку.\n\nВам будет выплачена сумма: %s."
	amountPending        = "будет указана"

	commentCreatedFmt      = "✅ Задача создана. Отправлено приглашений: %d"
	commentManualAssignFmt = "✅ Исполнитель назначен вручную: контакт ID %d"
	commentWaitFormFmt     = "⏳ Ожидаем заполнение анкеты. Дедлайн: %s"
	commentDeadlineExpired = "⏰ Дедлайн истёк. Проверка не была пройдена. Задача отменена."
	deadlineUnset          = "не указан"
)

// DeadlineScheduler schedules the one-shot deadline expiry check for a task,
// replacing any check previously scheduled for it.
type DeadlineScheduler interface {
	ScheduleDeadlineCheck(ctx context.Context, taskID int64, due time.Time) error
}

// TaskStore is the slice of task persistence the engine mirrors state into.
// Satisfied by store.TaskRepository.
type TaskStore interface {
	Upsert(ctx context.Context, t store.Task) error
	GetByID(ctx context.Context, taskID int64) (*store.Task, error)
	GetByRef(ctx context.Context, nomber string) (*store.Task, error)
	UpdateStatus(ctx context.Context, taskID int64, status string) error
	UpdateStatusDeadline(ctx context.Context, taskID int64, status, deadline string) error
	UpdateDeadline(ctx context.Context, taskID int64, deadline string) error
	SetAssignedGuest(ctx context.Context, taskID, guestID int64) error
}

// GuestDirectory resolves the chat identity for a CRM contact. Satisfied by
// store.GuestRepository.
type GuestDirectory interface {
	TelegramIDByContact(ctx context.Context, contactID int64) (int64, error)
}

// SessionReader reports form-session completion state. Satisfied by
// store.SessionRepository.
type SessionReader interface {
	HasCompletedForTask(ctx context.Context, taskID int64) (bool, error)
}

// CRMGateway is the slice of the CRM client the engine drives.
type CRMGateway interface {
	GetTask(ctx context.Context, ref, fields string) (*crm.TaskSnapshot, error)
	GetAssignees(ctx context.Context, ref string) ([]crm.ContactRef, error)
	UpdateStatus(ctx context.Context, ref string, statusID int64) error
	AddComment(ctx context.Context, ref, text string) error
}

// Messenger delivers lifecycle notifications to guests. Satisfied by
// chat.Client.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (chat.Message, error)
}

// InvitationDispatcher fans an invitation out to candidate guests. Satisfied
// by invitations.Coordinator.
type InvitationDispatcher interface {
	Dispatch(ctx context.Context, task *store.Task, guestIDs []int64, reward string) (int, error)
}

// Engine applies CRM lifecycle events to local state and external systems.
type Engine struct {
	tasks    TaskStore
	guests   GuestDirectory
	sessions SessionReader
	crm      CRMGateway
	bot      Messenger
	invites  InvitationDispatcher
	bus      events.Bus
	log      *logger.Logger

	deadlines   DeadlineScheduler
	templateIDs []int64
	statuses    config.StatusIDs
	fields      config.FieldIDs
}

// NewEngine wires the lifecycle engine. deadlines may be nil when no job
// backend is configured; deadline checks are then skipped.
func NewEngine(
	tasks TaskStore,
	guests GuestDirectory,
	sessions SessionReader,
	crmClient CRMGateway,
	bot Messenger,
	invites InvitationDispatcher,
	bus events.Bus,
	deadlines DeadlineScheduler,
	cfg config.LifecycleConfig,
	log *logger.Logger,
) *Engine {
	return &Engine{
		tasks:       tasks,
		guests:      guests,
		sessions:    sessions,
		crm:         crmClient,
		bot:         bot,
		invites:     invites,
		bus:         bus,
		log:         log,
		deadlines:   deadlines,
		templateIDs: cfg.GetTaskTemplateIDs(),
		statuses:    cfg.GetStatusIDs(),
		fields:      cfg.GetFieldIDs(),
	}
}

// HandleEvent dispatches one normalized webhook payload to its handler.
// Unknown events are logged and acknowledged.
func (e *Engine) HandleEvent(ctx context.Context, p Payload) error {
	switch p.Event() {
	case EventCreated:
		return e.handleCreated(ctx, p)
	case EventAssigneeManual:
		return e.handleAssigneeManual(ctx, p)
	case EventWaitForm:
		return e.handleWaitForm(ctx, p)
	case EventDeadlineFailed:
		return e.handleDeadlineFailed(ctx, p)
	case EventCancelledManual:
		return e.handleCancelledManual(ctx, p)
	case EventCompletedCompensation:
		return e.handleCompletedCompensation(ctx, p)
	case EventDeadlineUpdated:
		return e.handleDeadlineUpdated(ctx, p)
	case EventUpdated, EventUpdate, EventStatusAnswersReview, EventStatusPayment:
		return e.handleUpdated(ctx, p)
	default:
		e.log.Info("lifecycle_unknown_event", "event", p.Event(), "task_ref", p.TaskRef())
		return nil
	}
}

// handleCreated mirrors a new task locally and dispatches invitations. The
// CRM read API may not expose the task yet, so the webhook payload is the
// fallback source for every field. A redelivered created webhook finds the
// mirrored row and is acknowledged without a second fan-out.
func (e *Engine) handleCreated(ctx context.Context, p Payload) error {
	ref := p.TaskRef()
	taskID := p.TaskID()
	if ref == "" || taskID == 0 {
		e.log.Error("task_created_missing_reference", "task_ref", ref)
		return nil
	}
	if _, err := e.tasks.GetByID(ctx, taskID); err == nil {
		e.log.Info("task_created_duplicate", "task_ref", ref)
		return nil
	}

	snapshot, err := e.crm.GetTask(ctx, ref, crm.FieldsTaskDetail)
	if err != nil {
		e.log.Warn("task_detail_fetch_failed", "task_ref", ref, "error", err.Error())
		snapshot = nil
	}
	if snapshot != nil && !e.templateAllowed(snapshot.Template) {
		e.log.Info("task_ignored_foreign_template", "task_ref", ref)
		return nil
	}

	restaurant := p.Restaurant()
	name := restaurant.Name
	if name == "" && snapshot != nil {
		name = snapshot.Name
	}
	deadline := p.Deadline()
	if deadline == "" && snapshot != nil {
		deadline = snapshot.EndDateTime.Best()
	}
	guestIDs := p.GuestIDs()

	task := store.Task{
		TaskID:            taskID,
		Nomber:            ref,
		RestaurantName:    name,
		RestaurantAddress: restaurant.Address,
		VisitDate:         p.VisitDate(),
		Deadline:          NormalizeDate(deadline),
		Status:            store.StatusPending,
	}
	if err := e.tasks.Upsert(ctx, task); err != nil {
		return err
	}

	refs, err := e.crm.GetAssignees(ctx, ref)
	if err != nil {
		e.log.Warn("task_assignee_check_failed", "task_ref", ref, "error", err.Error())
	} else if len(refs) > 0 {
		e.log.Info("task_already_assigned", "task_ref", ref)
		return nil
	}

	if _, err := e.invites.Dispatch(ctx, &task, guestIDs, e.rewardAmount(snapshot, p)); err != nil {
		return err
	}

	if e.statuses.GuestSelection != 0 {
		if err := e.crm.UpdateStatus(ctx, ref, e.statuses.GuestSelection); err != nil {
			e.log.Warn("task_status_guest_selection_failed", "task_ref", ref, "error", err.Error())
		}
	}
	e.scheduleDeadline(ctx, taskID, deadline)
	e.comment(ctx, ref, fmt.Sprintf(commentCreatedFmt, len(guestIDs)))
	return nil
}

// handleAssigneeManual records an executor picked by an operator in the CRM.
func (e *Engine) handleAssigneeManual(ctx context.Context, p Payload) error {
	taskID := p.TaskID()
	guestID := p.GuestID()
	e.log.Info("task_assignee_manual", "task_id", taskID, "guest_id", guestID)

	if guestID != 0 {
		if err := e.tasks.SetAssignedGuest(ctx, taskID, guestID); err != nil {
			return err
		}
	}
	if err := e.tasks.UpdateStatus(ctx, taskID, store.StatusAssigned); err != nil {
		return err
	}
	e.comment(ctx, e.refFor(ctx, p), fmt.Sprintf(commentManualAssignFmt, guestID))
	return nil
}

// handleWaitForm moves the task to the waiting-form stage and (re)schedules
// its deadline check.
func (e *Engine) handleWaitForm(ctx context.Context, p Payload) error {
	taskID := p.TaskID()
	deadline := p.Deadline()
	e.log.Info("task_wait_form", "task_id", taskID, "deadline", deadline)

	if err := e.tasks.UpdateStatusDeadline(ctx, taskID, store.StatusWaitingForm, NormalizeDate(deadline)); err != nil {
		return err
	}
	e.scheduleDeadline(ctx, taskID, deadline)

	display := deadline
	if display == "" {
		display = deadlineUnset
	}
	e.comment(ctx, e.refFor(ctx, p), fmt.Sprintf(commentWaitFormFmt, display))
	return nil
}

// handleDeadlineFailed records a deadline cancellation already performed by
// the CRM automation and alerts the admin channel.
func (e *Engine) handleDeadlineFailed(ctx context.Context, p Payload) error {
	taskID := p.TaskID()
	e.log.Info("task_deadline_failed", "task_id", taskID)

	if err := e.tasks.UpdateStatus(ctx, taskID, store.StatusCancelledDeadline); err != nil {
		return err
	}
	e.bus.Publish(ctx, events.DeadlineExpired{BaseEvent: events.NewBaseEvent(), TaskID: taskID})
	return nil
}

// handleCancelledManual records a manual cancellation and alerts the admin
// channel with the operator's reason.
func (e *Engine) handleCancelledManual(ctx context.Context, p Payload) error {
	taskID := p.TaskID()
	reason := p.CancelReason()
	e.log.Info("task_cancelled_manual", "task_id", taskID, "reason", reason)

	if err := e.tasks.UpdateStatus(ctx, taskID, store.StatusCancelledManual); err != nil {
		return err
	}
	e.bus.Publish(ctx, events.TaskCancelled{BaseEvent: events.NewBaseEvent(), TaskID: taskID, Reason: reason})
	return nil
}

// handleCompletedCompensation closes out a passed inspection: the guest is
// told the payout amount, the CRM task gets a results comment, and the admin
// channel is notified.
func (e *Engine) handleCompletedCompensation(ctx context.Context, p Payload) error {
	taskID := p.TaskID()
	ref := e.refFor(ctx, p)
	finance := p.Finance()
	result := p.Result()
	e.log.Info("task_completed_compensation", "task_id", taskID)

	guestID, telegramID := e.resolveRecipient(ctx, ref, taskID, p.GuestID())
	if telegramID != 0 {
		amount := strings.TrimSpace(finance.Actual)
		if amount == "" {
			amount = amountPending
		}
		if _, err := e.bot.SendMessage(ctx, telegramID, fmt.Sprintf(msgCompensationFmt, amount)); err == nil {
			e.log.Info("guest_compensation_notified", "guest_id", guestID, "amount", amount)
		}
	}

	if err := e.tasks.UpdateStatus(ctx, taskID, store.StatusCompletedCompensation); err != nil {
		return err
	}
	e.comment(ctx, ref, compensationComment(result, finance))

	if guestID == 0 {
		guestID = p.GuestID()
	}
	e.bus.Publish(ctx, events.TaskCompleted{BaseEvent: events.NewBaseEvent(), TaskID: taskID, GuestID: guestID})
	return nil
}

// handleDeadlineUpdated stores the new deadline and reschedules the expiry
// check.
func (e *Engine) handleDeadlineUpdated(ctx context.Context, p Payload) error {
	taskID := p.TaskID()
	deadline := p.Deadline()
	e.log.Info("task_deadline_updated", "task_id", taskID, "deadline", deadline)

	if err := e.tasks.UpdateDeadline(ctx, taskID, NormalizeDate(deadline)); err != nil {
		return err
	}
	e.scheduleDeadline(ctx, taskID, deadline)
	return nil
}

// handleUpdated reacts to CRM status changes. The answers-review status
// notifies the guest; the payment status is owned by the compensation event
// and skipped here so the guest is not notified twice.
func (e *Engine) handleUpdated(ctx context.Context, p Payload) error {
	ref := p.TaskRef()
	if ref == "" {
		e.log.Warn("task_updated_missing_reference")
		return nil
	}

	statusID := p.StatusID()
	if statusID == 0 {
		snapshot, err := e.crm.GetTask(ctx, ref, crm.FieldsStatus)
		if err != nil {
			e.log.Warn("task_updated_fetch_failed", "task_ref", ref, "error", err.Error())
			return nil
		}
		statusID = snapshot.StatusID()
	}
	if statusID == 0 {
		return nil
	}
	e.log.Info("task_updated", "task_ref", ref, "status_id", statusID)

	guestID, telegramID := e.resolveRecipient(ctx, ref, p.TaskID(), p.GuestID())
	if telegramID == 0 {
		e.log.Warn("task_updated_guest_not_registered", "task_ref", ref, "guest_id", guestID)
		return nil
	}

	switch statusID {
	case e.statuses.AnswersReview:
		if _, err := e.bot.SendMessage(ctx, telegramID, msgSurveyUnderReview); err == nil {
			e.log.Info("guest_notified_answers_review", "task_ref", ref, "guest_id", guestID)
		}
	case e.statuses.Payment:
		// Payment is announced by the completed_compensation event.
	default:
		e.log.Info("task_updated_no_notification", "task_ref", ref, "status_id", statusID)
	}
	return nil
}

// DeadlineExpiry cancels a task whose deadline passed without a completed
// survey. Invoked by the scheduled one-shot deadline job; the matching local
// status change arrives later via the CRM's deadline_failed webhook.
func (e *Engine) DeadlineExpiry(ctx context.Context, taskID int64) error {
	done, err := e.sessions.HasCompletedForTask(ctx, taskID)
	if err != nil {
		return err
	}
	if done {
		e.log.Info("deadline_check_skipped_completed", "task_id", taskID)
		return nil
	}
	if e.statuses.Cancelled == 0 {
		return nil
	}

	ref := e.refForTask(ctx, taskID)
	if err := e.crm.UpdateStatus(ctx, ref, e.statuses.Cancelled); err != nil {
		e.log.Error("deadline_cancel_failed", "task_ref", ref, "error", err.Error())
		return err
	}
	e.comment(ctx, ref, commentDeadlineExpired)
	e.log.Info("task_deadline_cancelled", "task_id", taskID)
	e.bus.Publish(ctx, events.DeadlineExpired{BaseEvent: events.NewBaseEvent(), TaskID: taskID})
	return nil
}

// resolveRecipient finds the guest to notify about a task, trying the
// webhook's guest reference, the locally recorded assignment, and finally
// the CRM's current assignees. Returns zeroes when no referenced guest has
// a registered chat identity.
func (e *Engine) resolveRecipient(ctx context.Context, ref string, taskID, guestID int64) (int64, int64) {
	if guestID != 0 {
		if telegramID, err := e.guests.TelegramIDByContact(ctx, guestID); err == nil {
			return guestID, telegramID
		}
	}

	if task := e.taskRow(ctx, ref, taskID); task != nil && task.AssignedGuestID != nil {
		assigned := *task.AssignedGuestID
		if telegramID, err := e.guests.TelegramIDByContact(ctx, assigned); err == nil {
			return assigned, telegramID
		}
	}

	refs, err := e.crm.GetAssignees(ctx, ref)
	if err != nil {
		e.log.Warn("recipient_assignee_lookup_failed", "task_ref", ref, "error", err.Error())
		return guestID, 0
	}
	for _, contact := range refs {
		if contact.ID == 0 {
			continue
		}
		if telegramID, err := e.guests.TelegramIDByContact(ctx, contact.ID); err == nil {
			return contact.ID, telegramID
		}
	}
	return guestID, 0
}

// taskRow loads the local task row by external reference first, then by id.
func (e *Engine) taskRow(ctx context.Context, ref string, taskID int64) *store.Task {
	if ref != "" {
		if task, err := e.tasks.GetByRef(ctx, ref); err == nil {
			return task
		}
	}
	if taskID != 0 {
		if task, err := e.tasks.GetByID(ctx, taskID); err == nil {
			return task
		}
	}
	return nil
}

// refFor resolves the CRM reference for a webhook payload: the payload's
// task number, then the stored one, then the numeric task id.
func (e *Engine) refFor(ctx context.Context, p Payload) string {
	for _, v := range []any{p["nomber"], p.Task()["nomber"]} {
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return e.refForTask(ctx, p.TaskID())
}

// refForTask resolves the CRM reference for a task id via the store.
func (e *Engine) refForTask(ctx context.Context, taskID int64) string {
	if task, err := e.tasks.GetByID(ctx, taskID); err == nil && task.Nomber != "" {
		return task.Nomber
	}
	return strconv.FormatInt(taskID, 10)
}

// templateAllowed checks the task template against the configured allow
// list. An empty list allows everything.
func (e *Engine) templateAllowed(template *crm.TemplateRef) bool {
	if len(e.templateIDs) == 0 {
		return true
	}
	if template == nil {
		return false
	}
	for _, id := range e.templateIDs {
		if template.ID == id {
			return true
		}
	}
	return false
}

// rewardAmount extracts the inspection budget for the invitation text,
// preferring the CRM snapshot over the inline webhook fields.
func (e *Engine) rewardAmount(snapshot *crm.TaskSnapshot, p Payload) string {
	if e.fields.Budget == 0 {
		return ""
	}
	if s := snapshot.CustomFieldString(e.fields.Budget); s != "" {
		return s
	}
	return p.CustomField(e.fields.Budget)
}

// scheduleDeadline registers the one-shot expiry check when a parseable
// deadline and a job backend are present.
func (e *Engine) scheduleDeadline(ctx context.Context, taskID int64, deadline string) {
	if deadline == "" || e.deadlines == nil {
		return
	}
	due, ok := ParseDate(deadline)
	if !ok {
		e.log.Warn("deadline_unparseable", "task_id", taskID, "deadline", deadline)
		return
	}
	if err := e.deadlines.ScheduleDeadlineCheck(ctx, taskID, due); err != nil {
		e.log.Error("deadline_schedule_failed", "task_id", taskID, "error", err.Error())
	}
}

// comment leaves a best-effort audit comment on the CRM task.
func (e *Engine) comment(ctx context.Context, ref, text string) {
	if err := e.crm.AddComment(ctx, ref, text); err != nil {
		e.log.Warn("task_comment_failed", "task_ref", ref, "error", err.Error())
	}
}

// compensationComment renders the results comment for a completed task.
func compensationComment(result Result, finance Finance) string {
	var b strings.Builder
	b.WriteString("✅ Задача завершена, к компенсации.")
	if result.Score != "" {
		fmt.Fprintf(&b, " Оценка: %s.", result.Score)
	}
	if result.Summary != "" {
		b.WriteString(" " + result.Summary)
	}
	if finance.Budget != "" || finance.Actual != "" {
		budget := finance.Budget
		if budget == "" {
			budget = deadlineUnset
		}
		actual := finance.Actual
		if actual == "" {
			actual = deadlineUnset
		}
		fmt.Fprintf(&b, " Бюджет: %s, Факт: %s.", budget, actual)
	}
	if finance.Status != "" {
		fmt.Fprintf(&b, " Статус возмещения: %s.", finance.Status)
	}
	return b.String()
}
