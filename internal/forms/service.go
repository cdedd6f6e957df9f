package forms

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mguest/inspectd/internal/chat"
	"github.com/mguest/inspectd/internal/crm"
	"github.com/mguest/inspectd/internal/events"
	"github.com/mguest/inspectd/internal/store"
	"github.com/mguest/inspectd/platform/apperr"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"

	"github.com/google/uuid"
)

const (
	msgThankYou = "Благодарим за прохождение проверки! Скоро вы получите вознаграждение."

	resultStatusDone = "Завершено"
	syncStatusLayout = "02.01.2006 15:04"
)

// SessionStore opens form sessions and completes them at most once.
// Satisfied by store.SessionRepository.
type SessionStore interface {
	Insert(ctx context.Context, s store.FormSession) error
	Complete(ctx context.Context, sessionID string, score *int, summary string, payload []byte) (bool, error)
}

// TaskReader is the slice of task persistence the service uses. Satisfied by
// store.TaskRepository.
type TaskReader interface {
	GetByID(ctx context.Context, taskID int64) (*store.Task, error)
	ClearAssignmentPrompt(ctx context.Context, taskID int64) error
}

// GuestDirectory resolves the chat identity for a CRM contact. Satisfied by
// store.GuestRepository.
type GuestDirectory interface {
	TelegramIDByContact(ctx context.Context, contactID int64) (int64, error)
}

// CRMWriter is the slice of the CRM client the service writes results
// through.
type CRMWriter interface {
	GetTask(ctx context.Context, ref, fields string) (*crm.TaskSnapshot, error)
	UpdateTask(ctx context.Context, ref string, update crm.TaskUpdate) error
	AddComment(ctx context.Context, ref, text string) error
	UploadFileFromURL(ctx context.Context, ref, fileURL string) (int64, error)
}

// Messenger thanks the guest and retracts the survey prompt. Satisfied by
// chat.Client.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (chat.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// Service owns form sessions: it opens them for the survey-launch page and
// completes them when the provider's webhook arrives.
type Service struct {
	sessions SessionStore
	tasks    TaskReader
	guests   GuestDirectory
	crm      CRMWriter
	bot      Messenger
	bus      events.Bus
	log      *logger.Logger

	statuses config.StatusIDs
	fields   config.FieldIDs
	formURLs map[string]string
}

// NewService wires the forms service.
func NewService(
	sessions SessionStore,
	tasks TaskReader,
	guests GuestDirectory,
	crmClient CRMWriter,
	bot Messenger,
	bus events.Bus,
	formsCfg config.FormsConfig,
	lifecycleCfg config.LifecycleConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		sessions: sessions,
		tasks:    tasks,
		guests:   guests,
		crm:      crmClient,
		bot:      bot,
		bus:      bus,
		log:      log,
		statuses: lifecycleCfg.GetStatusIDs(),
		fields:   lifecycleCfg.GetFieldIDs(),
		formURLs: formsCfg.GetFormURLs(),
	}
}

// SurveyPage is the rendered survey-launch page content.
type SurveyPage struct {
	TaskName        string
	DeadlineDisplay string
	RedirectURL     string
}

// StartSurvey opens a form session and resolves the provider form URL the
// guest is sent to. Task name and deadline are display-only and degrade to
// placeholders when the CRM cannot be reached.
func (s *Service) StartSurvey(ctx context.Context, taskID, guestID int64, form string) (*SurveyPage, error) {
	sessionID := uuid.NewString()
	session := store.FormSession{
		SessionID: sessionID,
		TaskID:    taskID,
		GuestID:   guestID,
		Form:      form,
	}
	if err := s.sessions.Insert(ctx, session); err != nil {
		return nil, err
	}

	formURL, ok := s.formURLs[form]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("Form %s not found", form))
	}

	page := &SurveyPage{
		TaskName: fmt.Sprintf("Задача #%d", taskID),
		RedirectURL: fmt.Sprintf("%s?taskId=%d&guestId=%d&formCode=%s&sessionId=%s",
			formURL, taskID, guestID, form, sessionID),
	}
	if snapshot, err := s.crm.GetTask(ctx, s.taskRef(ctx, taskID), "id,name,description,endDateTime"); err == nil {
		if snapshot.Name != "" {
			page.TaskName = snapshot.Name
		}
		page.DeadlineDisplay = deadlineDisplay(snapshot.EndDateTime)
	}

	s.log.Info("form_session_started", "session_id", sessionID, "task_id", taskID, "guest_id", guestID, "form", form)
	return page, nil
}

// ProcessSubmission applies one completion callback: it closes the session,
// writes the results into the CRM task, cleans up the survey prompt, thanks
// the guest, and announces the completion. A session already completed is
// acknowledged without repeating any side effect.
func (s *Service) ProcessSubmission(ctx context.Context, sub Submission) error {
	payload, err := json.Marshal(sub.Raw)
	if err != nil {
		payload = []byte("{}")
	}
	completed, err := s.sessions.Complete(ctx, sub.SessionID, scoreValue(sub.Score), sub.Summary, payload)
	if err != nil {
		return err
	}
	if !completed {
		s.log.Info("form_submission_already_processed", "session_id", sub.SessionID)
		return nil
	}

	ref := s.taskRef(ctx, sub.TaskID)
	writes := s.resultWrites(sub, time.Now())
	writes = append(writes, s.uploadAttachments(ctx, ref, sub.Attachments)...)

	update := crm.TaskUpdate{CustomFieldData: writes}
	if s.statuses.FormReceived != 0 {
		update.Status = &crm.StatusRef{ID: s.statuses.FormReceived}
	}
	if len(update.CustomFieldData) > 0 || update.Status != nil {
		if err := s.crm.UpdateTask(ctx, ref, update); err != nil {
			s.log.Error("form_result_task_update_failed", "task_ref", ref, "error", err.Error())
		}
	}

	if err := s.crm.AddComment(ctx, ref, submissionComment(sub)); err != nil {
		s.log.Warn("form_result_comment_failed", "task_ref", ref, "error", err.Error())
	}

	s.cleanupPrompt(ctx, sub.TaskID)
	s.thankGuest(ctx, sub.GuestID)

	s.bus.Publish(ctx, events.FormReceived{
		BaseEvent: events.NewBaseEvent(),
		TaskID:    sub.TaskID,
		GuestID:   sub.GuestID,
		Form:      sub.Form,
		Score:     sub.Score,
	})
	s.log.Info("form_submission_processed", "session_id", sub.SessionID, "task_id", sub.TaskID)
	return nil
}

// resultWrites builds the custom-field writes for a completed survey.
// Unconfigured field ids are skipped.
func (s *Service) resultWrites(sub Submission, now time.Time) []crm.FieldWrite {
	var writes []crm.FieldWrite
	add := func(fieldID int64, value any) {
		if fieldID != 0 {
			writes = append(writes, crm.FieldWrite{Field: crm.StatusRef{ID: fieldID}, Value: value})
		}
	}

	add(s.fields.Result, resultText(sub))
	if sub.Score != "" {
		add(s.fields.Score, sub.Score)
	}
	add(s.fields.ResultStatus, resultStatusDone)
	add(s.fields.SessionID, sub.SessionID)
	add(s.fields.SyncStatus, "Анкета получена "+now.Format(syncStatusLayout))
	add(s.fields.IntegrationComment, integrationComment(sub))
	return writes
}

// uploadAttachments pushes answer files into the CRM and returns the file
// field write when anything made it through.
func (s *Service) uploadAttachments(ctx context.Context, ref string, urls []string) []crm.FieldWrite {
	if len(urls) == 0 || s.fields.ResultFiles == 0 {
		return nil
	}
	fileIDs := make([]int64, 0, len(urls))
	for _, fileURL := range urls {
		id, err := s.crm.UploadFileFromURL(ctx, ref, fileURL)
		if err != nil {
			s.log.Error("form_file_upload_failed", "url", fileURL, "error", err.Error())
			continue
		}
		if id != 0 {
			fileIDs = append(fileIDs, id)
		}
	}
	if len(fileIDs) == 0 {
		return nil
	}
	return []crm.FieldWrite{{Field: crm.StatusRef{ID: s.fields.ResultFiles}, Value: fileIDs}}
}

// cleanupPrompt deletes the stored survey prompt message so the guest
// cannot start a second run of the same survey.
func (s *Service) cleanupPrompt(ctx context.Context, taskID int64) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil || task.AssignmentChatID == nil || task.AssignmentMessageID == nil {
		return
	}
	if err := s.bot.DeleteMessage(ctx, *task.AssignmentChatID, *task.AssignmentMessageID); err != nil {
		s.log.Warn("assignment_prompt_delete_failed", "task_id", taskID, "error", err.Error())
	}
	if err := s.tasks.ClearAssignmentPrompt(ctx, taskID); err != nil {
		s.log.Warn("assignment_prompt_clear_failed", "task_id", taskID, "error", err.Error())
	}
}

func (s *Service) thankGuest(ctx context.Context, guestID int64) {
	telegramID, err := s.guests.TelegramIDByContact(ctx, guestID)
	if err != nil {
		return
	}
	if _, err := s.bot.SendMessage(ctx, telegramID, msgThankYou); err == nil {
		s.log.Info("guest_thank_you_sent", "guest_id", guestID)
	}
}

// taskRef resolves the CRM reference for a task id via the store.
func (s *Service) taskRef(ctx context.Context, taskID int64) string {
	if task, err := s.tasks.GetByID(ctx, taskID); err == nil && task.Nomber != "" {
		return task.Nomber
	}
	return strconv.FormatInt(taskID, 10)
}

// resultText renders the human-readable result summary for the CRM.
func resultText(sub Submission) string {
	var parts []string
	if sub.ResponseLink != "" {
		parts = append(parts, "Ссылка на ответы: "+sub.ResponseLink)
	}
	if sub.Score != "" {
		parts = append(parts, "Оценка: "+sub.Score)
	}
	if sub.Summary != "" {
		parts = append(parts, sub.Summary)
	}
	return strings.Join(parts, "\n")
}

// integrationComment renders the technical trace field.
func integrationComment(sub Submission) string {
	return fmt.Sprintf("session_id=%s; form=%s; guest_id=%d; score=%s; task_id=%d",
		sub.SessionID, sub.Form, sub.GuestID, sub.Score, sub.TaskID)
}

// submissionComment renders the audit comment for the CRM task.
func submissionComment(sub Submission) string {
	text := fmt.Sprintf("✅ Анкета получена от гостя (ID: %d). Форма: %s.", sub.GuestID, sub.Form)
	if sub.Score != "" {
		text += fmt.Sprintf(" Оценка: %s.", sub.Score)
	}
	return text
}

// deadlineDisplay renders the deadline line for the survey-launch page.
func deadlineDisplay(dv *crm.DateValue) string {
	if dv == nil || dv.Date == "" {
		return ""
	}
	display := "Дедлайн: " + dv.Date
	if dv.Time != "" {
		display += " " + dv.Time
	}
	return display
}

// scoreValue converts the textual score to its stored integer form.
func scoreValue(score string) *int {
	if score == "" {
		return nil
	}
	f, err := strconv.ParseFloat(score, 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}
