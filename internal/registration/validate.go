package registration

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mguest/inspectd/platform/apperr"
	"github.com/mguest/inspectd/platform/phone"
)

// Validation messages are shown to the guest as-is.
const (
	msgPhoneMissing    = "Пожалуйста, укажи номер телефона."
	msgPhoneMalformed  = "Кажется, формат номера некорректен. Попробуй ещё раз, пожалуйста."
	msgBirthdateEmpty  = "Укажи, пожалуйста, дату рождения."
	msgBirthdateFormat = "Не получилось распознать дату. Используй формат ДД.ММ.ГГГГ, пожалуйста."
	msgBirthdateRange  = "Похоже, дата рождения указана неверно. Проверь, пожалуйста, и попробуй снова."
	msgCityTooShort    = "Напиши, пожалуйста, название города — хотя бы два символа."

	msgNameTooShortFmt = "%s должно содержать хотя бы два символа. Попробуй ещё раз."
	msgNameBadCharsFmt = "%s содержит недопустимые символы. Попробуй снова, пожалуйста."
)

var namePattern = regexp.MustCompile(`^[\p{L}\p{N}_\s-]+$`)

var birthdateLayouts = []string{"02.01.2006", "2006-01-02"}

// NormalizePhone converts typed or shared phone input to E.164.
func NormalizePhone(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperr.Validation(msgPhoneMissing)
	}
	normalized, err := phone.ParseE164(raw)
	if err != nil {
		return "", apperr.Validation(msgPhoneMalformed)
	}
	return normalized, nil
}

// ParseBirthdate accepts ДД.ММ.ГГГГ or ГГГГ-ММ-ДД and bounds the age
// to a plausible range.
func ParseBirthdate(value string) (time.Time, error) {
	return parseBirthdateAt(value, time.Now())
}

func parseBirthdateAt(value string, today time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, apperr.Validation(msgBirthdateEmpty)
	}

	var parsed time.Time
	var err error
	for _, layout := range birthdateLayouts {
		parsed, err = time.Parse(layout, trimmed)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, apperr.Validation(msgBirthdateFormat)
	}

	age := today.Year() - parsed.Year()
	if today.Month() < parsed.Month() ||
		(today.Month() == parsed.Month() && today.Day() < parsed.Day()) {
		age--
	}
	if age < 10 || age > 120 {
		return time.Time{}, apperr.Validation(msgBirthdateRange)
	}
	return parsed, nil
}

// ValidateName checks a name-like answer. label names the field in the
// error message ("Фамилия", "Имя").
func ValidateName(value, label string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if len([]rune(trimmed)) < 2 {
		return "", apperr.Validation(fmt.Sprintf(msgNameTooShortFmt, label))
	}
	if !namePattern.MatchString(trimmed) {
		return "", apperr.Validation(fmt.Sprintf(msgNameBadCharsFmt, label))
	}
	return trimmed, nil
}

// ValidateCity checks the city answer.
func ValidateCity(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if len([]rune(trimmed)) < 2 {
		return "", apperr.Validation(msgCityTooShort)
	}
	return trimmed, nil
}
