package registration

import (
	"testing"
	"time"

	"github.com/mguest/inspectd/platform/apperr"
)

const (
	fmtUnexpectedErr = "unexpected error: %v"
	fmtWrongValue    = "got %q, want %q"
	fmtWrongMessage  = "got message %q, want %q"
	fmtExpectedError = "expected an error, got value %q"
)

func TestNormalizePhone_RussianFormats(t *testing.T) {
	got, err := NormalizePhone("+7 926 000 00 00")
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if got != "+79260000000" {
		t.Fatalf(fmtWrongValue, got, "+79260000000")
	}

	got, err = NormalizePhone("8 926 000 00 00")
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if got != "+79260000000" {
		t.Fatalf(fmtWrongValue, got, "+79260000000")
	}
}

func TestNormalizePhone_InternationalNumber(t *testing.T) {
	got, err := NormalizePhone("+1-202-555-0100")
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if got != "+12025550100" {
		t.Fatalf(fmtWrongValue, got, "+12025550100")
	}
}

func TestNormalizePhone_Idempotent(t *testing.T) {
	first, err := NormalizePhone("8 926 000 00 00")
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	second, err := NormalizePhone(first)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if second != first {
		t.Fatalf(fmtWrongValue, second, first)
	}
}

func TestNormalizePhone_RejectsEmptyInput(t *testing.T) {
	_, err := NormalizePhone("   ")
	if err == nil {
		t.Fatal("expected an error for empty input")
	}
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if err.Error() != msgPhoneMissing {
		t.Fatalf(fmtWrongMessage, err.Error(), msgPhoneMissing)
	}
}

func TestNormalizePhone_RejectsShortInput(t *testing.T) {
	got, err := NormalizePhone("123")
	if err == nil {
		t.Fatalf(fmtExpectedError, got)
	}
	if err.Error() != msgPhoneMalformed {
		t.Fatalf(fmtWrongMessage, err.Error(), msgPhoneMalformed)
	}
}

func TestParseBirthdate_DottedFormat(t *testing.T) {
	today := time.Date(2026, time.August, 22, 0, 0, 0, 0, time.UTC)
	got, err := parseBirthdateAt("15.06.1990", today)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if got.Year() != 1990 || got.Month() != time.June || got.Day() != 15 {
		t.Fatalf("parsed wrong date: %v", got)
	}
}

func TestParseBirthdate_ISOFormat(t *testing.T) {
	today := time.Date(2026, time.August, 22, 0, 0, 0, 0, time.UTC)
	got, err := parseBirthdateAt("1990-06-15", today)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if got.Year() != 1990 || got.Month() != time.June || got.Day() != 15 {
		t.Fatalf("parsed wrong date: %v", got)
	}
}

func TestParseBirthdate_RejectsGarbage(t *testing.T) {
	today := time.Date(2026, time.August, 22, 0, 0, 0, 0, time.UTC)
	_, err := parseBirthdateAt("завтра", today)
	if err == nil {
		t.Fatal("expected a format error")
	}
	if err.Error() != msgBirthdateFormat {
		t.Fatalf(fmtWrongMessage, err.Error(), msgBirthdateFormat)
	}
}

func TestParseBirthdate_RejectsImplausibleAge(t *testing.T) {
	today := time.Date(2026, time.August, 22, 0, 0, 0, 0, time.UTC)

	if _, err := parseBirthdateAt("01.01.2020", today); err == nil {
		t.Fatal("expected a too-young rejection")
	} else if err.Error() != msgBirthdateRange {
		t.Fatalf(fmtWrongMessage, err.Error(), msgBirthdateRange)
	}

	if _, err := parseBirthdateAt("01.01.1900", today); err == nil {
		t.Fatal("expected a too-old rejection")
	} else if err.Error() != msgBirthdateRange {
		t.Fatalf(fmtWrongMessage, err.Error(), msgBirthdateRange)
	}
}

func TestParseBirthdate_AgeBoundaryCountsBirthday(t *testing.T) {
	today := time.Date(2026, time.August, 22, 0, 0, 0, 0, time.UTC)

	if _, err := parseBirthdateAt("22.08.2016", today); err != nil {
		t.Fatalf("tenth birthday today should pass: %v", err)
	}
	if _, err := parseBirthdateAt("23.08.2016", today); err == nil {
		t.Fatal("nine-year-old should be rejected")
	}
}

func TestValidateName_AcceptsAndTrims(t *testing.T) {
	got, err := ValidateName("  Иванов  ", labelLastName)
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if got != "Иванов" {
		t.Fatalf(fmtWrongValue, got, "Иванов")
	}

	if _, err := ValidateName("Анна-Мария", labelFirstName); err != nil {
		t.Fatalf("hyphenated name rejected: %v", err)
	}
}

func TestValidateName_RejectsTooShort(t *testing.T) {
	_, err := ValidateName("И", labelLastName)
	if err == nil {
		t.Fatal("expected a length error")
	}
	want := "Фамилия должно содержать хотя бы два символа. Попробуй ещё раз."
	if err.Error() != want {
		t.Fatalf(fmtWrongMessage, err.Error(), want)
	}
}

func TestValidateName_RejectsBadCharacters(t *testing.T) {
	_, err := ValidateName("Иванов!", labelLastName)
	if err == nil {
		t.Fatal("expected a character error")
	}
	want := "Фамилия содержит недопустимые символы. Попробуй снова, пожалуйста."
	if err.Error() != want {
		t.Fatalf(fmtWrongMessage, err.Error(), want)
	}
}

func TestValidateCity_MinimumLength(t *testing.T) {
	got, err := ValidateCity(" Москва ")
	if err != nil {
		t.Fatalf(fmtUnexpectedErr, err)
	}
	if got != "Москва" {
		t.Fatalf(fmtWrongValue, got, "Москва")
	}

	if _, err := ValidateCity("М"); err == nil {
		t.Fatal("expected a length error")
	} else if err.Error() != msgCityTooShort {
		t.Fatalf(fmtWrongMessage, err.Error(), msgCityTooShort)
	}
}
