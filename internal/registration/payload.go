package registration

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mguest/inspectd/internal/crm"
)

const (
	crmBirthdateLayout = "02-01-2006"
	telegramLinkFmt    = "https://t.me/%s"
)

// genderValues maps the questionnaire's gender options to the CRM's
// enumeration. The option with the exclamation mark is the button text;
// older sessions may carry the value without it. Unknown values pass
// through unchanged.
var genderValues = map[string]string{
	"Мужской":                   "Male",
	"Женский":                   "Female",
	"Другой/Не хочу указывать":  "Other",
	"Другой/Не хочу указывать!": "Other",
}

// buildContactPayload assembles the CRM contact write from the guest's
// answers, matching custom fields by their template labels.
func buildContactPayload(sess Session, template *crm.ContactTemplate, templateID int64) crm.ContactPayload {
	payload := crm.ContactPayload{
		Template:  crm.TemplateRef{ID: templateID},
		Lastname:  sess.LastName,
		Name:      sess.FirstName,
		Midname:   sess.Patronymic,
		Gender:    genderValue(sess.Gender),
		Address:   sess.City,
		BirthDate: &crm.DateValue{Date: sess.Birthdate.Format(crmBirthdateLayout)},
		Phones:    []crm.ContactPhone{{Number: sess.Phone, Type: 1}},
		IsCompany: false,
		IsDeleted: false,
	}
	if sess.TelegramID != 0 {
		id := strconv.FormatInt(sess.TelegramID, 10)
		payload.SourceObjectID = id
		payload.TelegramID = id
	}
	if sess.Username != "" {
		payload.Telegram = telegramLink(sess.Username)
	}
	if template != nil {
		payload.CustomFieldData = customFieldWrites(sess, template.CustomFields)
	}
	return payload
}

func customFieldWrites(sess Session, fields []crm.TemplateCustomField) []crm.FieldWrite {
	var writes []crm.FieldWrite
	add := func(fieldID int64, value any) {
		writes = append(writes, crm.FieldWrite{Field: crm.StatusRef{ID: fieldID}, Value: value})
	}

	for _, field := range fields {
		if field.ID == 0 {
			continue
		}
		label := field.DisplayLabel()
		lower := strings.ToLower(label)

		if label == "Город" && sess.City != "" {
			add(field.ID, sess.City)
		}
		if lower == "пол" && sess.Gender != "" {
			add(field.ID, genderValue(sess.Gender))
		}
		if sess.Username != "" && isUsernameLabel(lower) {
			add(field.ID, telegramLink(sess.Username))
		}
		if sess.TelegramID != 0 && strings.Contains(lower, "telegram") && strings.Contains(lower, "id") {
			add(field.ID, strconv.FormatInt(sess.TelegramID, 10))
		}
	}
	return writes
}

// isUsernameLabel matches the label variants the contact templates have
// used for the guest's messenger handle.
func isUsernameLabel(lower string) bool {
	hasID := strings.Contains(lower, "id")
	if strings.Contains(lower, "telegram") && !hasID {
		return true
	}
	if strings.Contains(lower, "телеграм") && !hasID {
		return true
	}
	return strings.Contains(lower, "ник") &&
		(strings.Contains(lower, "тел") || strings.Contains(lower, "tg"))
}

func genderValue(gender string) string {
	if mapped, ok := genderValues[gender]; ok {
		return mapped
	}
	return gender
}

func telegramLink(username string) string {
	return fmt.Sprintf(telegramLinkFmt, strings.TrimPrefix(username, "@"))
}
