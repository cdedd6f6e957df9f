// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/mguest/inspectd/platform/apperr"
)

const defaultRegion = "RU"

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	normalized, err := ParseE164(input)
	if err != nil {
		return strings.TrimSpace(input)
	}
	return normalized
}

// ParseE164 formats a phone number to E.164 and rejects anything that does not
// parse as a plausible number. A leading "8" on an eleven-digit number is
// treated as the Russian trunk prefix.
func ParseE164(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", apperr.Validation("phone number is empty")
	}

	digits := keepDigits(trimmed)
	if strings.HasPrefix(digits, "8") && len(digits) == 11 {
		trimmed = "+7" + digits[1:]
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "phone number is malformed", err)
	}
	if !phonenumbers.IsPossibleNumber(number) {
		return "", apperr.Validation("phone number is not valid")
	}

	return phonenumbers.Format(number, phonenumbers.E164), nil
}

func keepDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
