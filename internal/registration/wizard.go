package registration

import (
	"context"
	"fmt"
	"strings"

	"github.com/mguest/inspectd/internal/chat"
	"github.com/mguest/inspectd/internal/crm"
	"github.com/mguest/inspectd/internal/events"
	"github.com/mguest/inspectd/internal/store"
	"github.com/mguest/inspectd/platform/apperr"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"
)

// Keyboard texts the wizard reacts to.
const (
	ButtonRegister     = "Зарегистрироваться как Тайный гость"
	ButtonShareContact = "Поделиться контактом"
)

// Callback identifiers of the confirmation-stage inline buttons.
const (
	CallbackConfirm      = "confirm_registration"
	CallbackChange       = "change_registration"
	CallbackDuplicateYes = "duplicate_update_yes"
	CallbackDuplicateNo  = "duplicate_update_no"
)

const (
	msgGreeting        = "Привет! Я помогу твоей регистрации как Тайный гость — всё займёт пару минут."
	msgAskPhone        = "Поделись номером — нажми кнопку «Поделиться контактом» или введи вручную."
	msgContactNoPhone  = "Не удалось получить номер. Попробуй ещё раз, пожалуйста."
	msgAskLastNameWarm = "Отлично! Теперь напиши, пожалуйста, фамилию."
	msgAskLastName     = "Спасибо! Введи, пожалуйста, фамилию."
	msgAskFirstName    = "Отлично! Теперь укажи, пожалуйста, имя."
	msgAskPatronymic   = "Если есть отчество — напиши его, иначе можешь отправить прочерк."
	msgAskGender       = "Выбери, пожалуйста, пол."
	msgGenderFromList  = "Выбери вариант из списка, пожалуйста."
	msgAskBirthdate    = "Укажи дату рождения в формате ДД.ММ.ГГГГ, пожалуйста."
	msgAskCity         = "Напиши, пожалуйста, город проживания."
	msgChangeRestart   = "Хорошо, начнём с фамилии. Напиши, пожалуйста, снова."
	msgTemporaryIssue  = "Упс — временная проблема. Я попробую ещё раз через несколько секунд."
	msgDuplicateFound  = "Контакт с таким номером уже зарегистрирован. Обновить данные?"
	msgDuplicateBye    = "Хорошо, если решишь попробовать снова — просто напиши /start."
	msgRegistered      = "Спасибо — мы всё записали. Ты зарегистрирован(а). Ожидай уведомления в боте о задании."
	msgAskAdminFmt     = "Если появятся вопросы — напиши %s."

	buttonConfirm      = "Подтвердить регистрацию"
	buttonChange       = "Изменить данные"
	buttonDuplicateYes = "Обновить данные"
	buttonDuplicateNo  = "Отмена"

	labelLastName  = "Фамилия"
	labelFirstName = "Имя"

	summaryFmt  = "Проверь, пожалуйста, данные:\nТелефон: %s\nФамилия: %s\nИмя: %s\nОтчество: %s\nПол: %s\nДата рождения: %s\nГород: %s"
	summaryDash = "—"

	birthdateDisplayLayout = "02.01.2006"
)

// Genders lists the options shown on the gender reply keyboard.
var Genders = []string{"Мужской", "Женский", "Другой/Не хочу указывать!"}

// Wizard drives the registration questionnaire over chat and records
// the confirmed contact in the CRM and the guest mapping store.
type Wizard struct {
	sessions *Store
	guests   *store.GuestRepository
	crm      *crm.Client
	bot      *chat.Client
	bus      events.Bus
	log      *logger.Logger

	templateID  int64
	accountURL  string
	adminChatID int64
	adminName   string
}

// NewWizard wires the registration wizard.
func NewWizard(
	sessions *Store,
	guests *store.GuestRepository,
	crmClient *crm.Client,
	bot *chat.Client,
	bus events.Bus,
	crmCfg config.CRMConfig,
	chatCfg config.ChatConfig,
	log *logger.Logger,
) *Wizard {
	return &Wizard{
		sessions:    sessions,
		guests:      guests,
		crm:         crmClient,
		bot:         bot,
		bus:         bus,
		log:         log,
		templateID:  crmCfg.GetContactTemplateID(),
		accountURL:  crmCfg.GetCRMAccountURL(),
		adminChatID: chatCfg.GetAdminChatID(),
		adminName:   chatCfg.GetAdminName(),
	}
}

// HandlesCallback reports whether the callback data belongs to the
// registration wizard.
func HandlesCallback(data string) bool {
	switch data {
	case CallbackConfirm, CallbackChange, CallbackDuplicateYes, CallbackDuplicateNo:
		return true
	}
	return false
}

// HandleMessage advances the wizard with one inbound chat message.
// Messages that do not belong to a running questionnaire are ignored.
func (w *Wizard) HandleMessage(ctx context.Context, msg *chat.Message) error {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if isStartCommand(text) {
		return w.greet(ctx, chatID, msg.From)
	}
	if text == ButtonRegister {
		return w.beginQuestionnaire(ctx, chatID, msg.From)
	}

	sess, ok := w.sessions.Get(chatID)
	if !ok {
		return nil
	}

	switch sess.Step {
	case StepPhone:
		return w.stepPhone(ctx, chatID, sess, msg)
	case StepLastName:
		return w.stepLastName(ctx, chatID, sess, text)
	case StepFirstName:
		return w.stepFirstName(ctx, chatID, sess, text)
	case StepPatronymic:
		return w.stepPatronymic(ctx, chatID, sess, text)
	case StepGender:
		return w.stepGender(ctx, chatID, sess, text)
	case StepBirthdate:
		return w.stepBirthdate(ctx, chatID, sess, text)
	case StepCity:
		return w.stepCity(ctx, chatID, sess, text)
	default:
		return nil
	}
}

// HandleCallback processes a confirmation-stage button press. The
// caller is expected to have answered the callback query already.
func (w *Wizard) HandleCallback(ctx context.Context, cb *chat.CallbackQuery) error {
	if cb.Message == nil {
		return nil
	}
	chatID := cb.Message.Chat.ID
	sess, ok := w.sessions.Get(chatID)
	if !ok {
		return nil
	}

	switch {
	case cb.Data == CallbackChange && sess.Step == StepConfirm:
		sess.Step = StepLastName
		w.sessions.Put(chatID, sess)
		_, err := w.bot.SendMessage(ctx, chatID, msgChangeRestart)
		return err
	case cb.Data == CallbackConfirm && sess.Step == StepConfirm:
		return w.confirm(ctx, chatID, sess)
	case cb.Data == CallbackDuplicateYes && sess.Step == StepDuplicate:
		return w.register(ctx, chatID, sess, true)
	case cb.Data == CallbackDuplicateNo && sess.Step == StepDuplicate:
		w.sessions.Delete(chatID)
		_, err := w.bot.SendMessage(ctx, chatID, msgDuplicateBye)
		return err
	default:
		return nil
	}
}

func (w *Wizard) greet(ctx context.Context, chatID int64, from *chat.User) error {
	sess := Session{Step: StepGreeted}
	applyIdentity(&sess, from)
	w.sessions.Put(chatID, sess)

	keyboard := &chat.ReplyKeyboard{
		Keyboard:       [][]chat.KeyboardButton{{{Text: ButtonRegister}}},
		ResizeKeyboard: true,
	}
	_, err := w.bot.SendMessageWithReplyKeyboard(ctx, chatID, msgGreeting, keyboard)
	return err
}

func (w *Wizard) beginQuestionnaire(ctx context.Context, chatID int64, from *chat.User) error {
	sess, _ := w.sessions.Get(chatID)
	sess.Step = StepPhone
	applyIdentity(&sess, from)
	w.sessions.Put(chatID, sess)

	keyboard := &chat.ReplyKeyboard{
		Keyboard:        [][]chat.KeyboardButton{{{Text: ButtonShareContact, RequestContact: true}}},
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}
	_, err := w.bot.SendMessageWithReplyKeyboard(ctx, chatID, msgAskPhone, keyboard)
	return err
}

func (w *Wizard) stepPhone(ctx context.Context, chatID int64, sess Session, msg *chat.Message) error {
	raw := msg.Text
	prompt := msgAskLastName
	if msg.Contact != nil {
		if msg.Contact.PhoneNumber == "" {
			_, err := w.bot.SendMessage(ctx, chatID, msgContactNoPhone)
			return err
		}
		raw = msg.Contact.PhoneNumber
		prompt = msgAskLastNameWarm
	}

	normalized, err := NormalizePhone(raw)
	if err != nil {
		return w.reject(ctx, chatID, err)
	}

	sess.Phone = normalized
	sess.Step = StepLastName
	w.sessions.Put(chatID, sess)
	_, err = w.bot.SendMessageRemovingKeyboard(ctx, chatID, prompt)
	return err
}

func (w *Wizard) stepLastName(ctx context.Context, chatID int64, sess Session, text string) error {
	lastName, err := ValidateName(text, labelLastName)
	if err != nil {
		return w.reject(ctx, chatID, err)
	}

	sess.LastName = lastName
	sess.Step = StepFirstName
	w.sessions.Put(chatID, sess)
	_, err = w.bot.SendMessage(ctx, chatID, msgAskFirstName)
	return err
}

func (w *Wizard) stepFirstName(ctx context.Context, chatID int64, sess Session, text string) error {
	firstName, err := ValidateName(text, labelFirstName)
	if err != nil {
		return w.reject(ctx, chatID, err)
	}

	sess.FirstName = firstName
	sess.Step = StepPatronymic
	w.sessions.Put(chatID, sess)
	_, err = w.bot.SendMessage(ctx, chatID, msgAskPatronymic)
	return err
}

func (w *Wizard) stepPatronymic(ctx context.Context, chatID int64, sess Session, text string) error {
	if text == "-" {
		text = ""
	}
	sess.Patronymic = text
	sess.Step = StepGender
	w.sessions.Put(chatID, sess)

	rows := make([][]chat.KeyboardButton, len(Genders))
	for i, gender := range Genders {
		rows[i] = []chat.KeyboardButton{{Text: gender}}
	}
	keyboard := &chat.ReplyKeyboard{Keyboard: rows, ResizeKeyboard: true, OneTimeKeyboard: true}
	_, err := w.bot.SendMessageWithReplyKeyboard(ctx, chatID, msgAskGender, keyboard)
	return err
}

func (w *Wizard) stepGender(ctx context.Context, chatID int64, sess Session, text string) error {
	if !isKnownGender(text) {
		_, err := w.bot.SendMessage(ctx, chatID, msgGenderFromList)
		return err
	}

	sess.Gender = text
	sess.Step = StepBirthdate
	w.sessions.Put(chatID, sess)
	_, err := w.bot.SendMessageRemovingKeyboard(ctx, chatID, msgAskBirthdate)
	return err
}

func (w *Wizard) stepBirthdate(ctx context.Context, chatID int64, sess Session, text string) error {
	birthdate, err := ParseBirthdate(text)
	if err != nil {
		return w.reject(ctx, chatID, err)
	}

	sess.Birthdate = birthdate
	sess.Step = StepCity
	w.sessions.Put(chatID, sess)
	_, err = w.bot.SendMessage(ctx, chatID, msgAskCity)
	return err
}

func (w *Wizard) stepCity(ctx context.Context, chatID int64, sess Session, text string) error {
	city, err := ValidateCity(text)
	if err != nil {
		return w.reject(ctx, chatID, err)
	}

	sess.City = city
	sess.Step = StepConfirm
	w.sessions.Put(chatID, sess)

	keyboard := &chat.InlineKeyboard{InlineKeyboard: [][]chat.InlineButton{
		{{Text: buttonConfirm, CallbackData: CallbackConfirm}},
		{{Text: buttonChange, CallbackData: CallbackChange}},
	}}
	_, err = w.bot.SendMessageWithKeyboard(ctx, chatID, summary(sess), keyboard)
	return err
}

func (w *Wizard) confirm(ctx context.Context, chatID int64, sess Session) error {
	existing, err := w.crm.SearchContactsByPhone(ctx, sess.Phone)
	if err != nil {
		w.log.Error("registration_contact_search_failed", "error", err)
		_, serr := w.bot.SendMessage(ctx, chatID, msgTemporaryIssue)
		return serr
	}

	if len(existing) > 0 {
		sess.ExistingContactID = existing[0].ID
		sess.Step = StepDuplicate
		w.sessions.Put(chatID, sess)

		keyboard := &chat.InlineKeyboard{InlineKeyboard: [][]chat.InlineButton{
			{{Text: buttonDuplicateYes, CallbackData: CallbackDuplicateYes}},
			{{Text: buttonDuplicateNo, CallbackData: CallbackDuplicateNo}},
		}}
		_, serr := w.bot.SendMessageWithKeyboard(ctx, chatID, msgDuplicateFound, keyboard)
		return serr
	}

	return w.register(ctx, chatID, sess, false)
}

// register writes the contact to the CRM, records the guest mapping,
// and announces the registration. The session survives a CRM failure
// so the guest can press the button again.
func (w *Wizard) register(ctx context.Context, chatID int64, sess Session, updateExisting bool) error {
	contactID, err := w.ensureContact(ctx, sess, updateExisting)
	if err != nil {
		w.log.Error("registration_contact_write_failed", "error", err)
		_, serr := w.bot.SendMessage(ctx, chatID, msgTemporaryIssue)
		return serr
	}

	if _, err := w.bot.SendMessage(ctx, chatID, msgRegistered); err != nil {
		w.log.Error("registration_confirmation_send_failed", "error", err)
	}

	if contactID != 0 {
		w.log.Info("registration_contact_recorded",
			"contact_id", contactID, "chat_id", chatID, "updated", updateExisting)

		if sess.TelegramID != 0 {
			if err := w.guests.Upsert(ctx, contactID, sess.TelegramID, sess.Username); err != nil {
				w.log.DatabaseError("guest_contacts.upsert", err)
			}
		}

		w.bus.Publish(ctx, events.GuestRegistered{
			BaseEvent:  events.NewBaseEvent(),
			ContactID:  contactID,
			TelegramID: sess.TelegramID,
			Phone:      sess.Phone,
			Username:   sess.Username,
			ContactURL: w.contactURL(contactID),
		})

		if w.adminChatID == 0 && w.adminName != "" {
			if _, err := w.bot.SendMessage(ctx, chatID, fmt.Sprintf(msgAskAdminFmt, w.adminName)); err != nil {
				w.log.Error("registration_admin_hint_failed", "error", err)
			}
		}
	}

	w.sessions.Delete(chatID)
	return nil
}

func (w *Wizard) ensureContact(ctx context.Context, sess Session, updateExisting bool) (int64, error) {
	template, err := w.crm.GetContactTemplate(ctx, w.templateID)
	if err != nil {
		return 0, err
	}
	payload := buildContactPayload(sess, template, w.templateID)

	if !updateExisting {
		return w.crm.CreateContact(ctx, payload)
	}

	contactID := sess.ExistingContactID
	if contactID == 0 {
		existing, err := w.crm.SearchContactsByPhone(ctx, sess.Phone)
		if err != nil {
			return 0, err
		}
		if len(existing) == 0 {
			return 0, apperr.NotFound("contact to update not found")
		}
		contactID = existing[0].ID
	}
	return w.crm.UpdateContact(ctx, contactID, payload)
}

// reject sends a validation message back to the guest. The step is not
// advanced; the guest answers again.
func (w *Wizard) reject(ctx context.Context, chatID int64, vErr error) error {
	_, err := w.bot.SendMessage(ctx, chatID, vErr.Error())
	return err
}

func (w *Wizard) contactURL(contactID int64) string {
	if w.accountURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/contact/%d", w.accountURL, contactID)
}

func summary(sess Session) string {
	patronymic := sess.Patronymic
	if patronymic == "" {
		patronymic = summaryDash
	}
	return fmt.Sprintf(summaryFmt,
		sess.Phone, sess.LastName, sess.FirstName, patronymic, sess.Gender,
		sess.Birthdate.Format(birthdateDisplayLayout), sess.City)
}

func isKnownGender(text string) bool {
	for _, gender := range Genders {
		if text == gender {
			return true
		}
	}
	return false
}

func isStartCommand(text string) bool {
	return text == "/start" || strings.HasPrefix(text, "/start ")
}

func applyIdentity(sess *Session, from *chat.User) {
	if from == nil {
		return
	}
	sess.TelegramID = from.ID
	sess.Username = from.Username
}
