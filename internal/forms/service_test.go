package forms

import (
	"testing"
	"time"

	"github.com/mguest/inspectd/internal/crm"
	"github.com/mguest/inspectd/platform/config"
)

const fmtExpectedText = "expected %q, got %q"

func TestResultText_AllParts(t *testing.T) {
	sub := Submission{
		ResponseLink: "https://forms.example/answers/1",
		Score:        "87",
		Summary:      "Сервис на высоте.",
	}
	want := "Ссылка на ответы: https://forms.example/answers/1\nОценка: 87\nСервис на высоте."
	if got := resultText(sub); got != want {
		t.Fatalf(fmtExpectedText, want, got)
	}
}

func TestResultText_EmptySubmission(t *testing.T) {
	if got := resultText(Submission{}); got != "" {
		t.Fatalf("expected empty result text, got %q", got)
	}
}

func TestIntegrationComment_Rendering(t *testing.T) {
	sub := Submission{
		SessionID: "d6f3a1b2",
		Form:      "resto_a",
		GuestID:   427,
		Score:     "87",
		TaskID:    17859014,
	}
	want := "session_id=d6f3a1b2; form=resto_a; guest_id=427; score=87; task_id=17859014"
	if got := integrationComment(sub); got != want {
		t.Fatalf(fmtExpectedText, want, got)
	}
}

func TestSubmissionComment_WithScore(t *testing.T) {
	sub := Submission{GuestID: 427, Form: "resto_a", Score: "87"}
	want := "✅ Анкета получена от гостя (ID: 427). Форма: resto_a. Оценка: 87."
	if got := submissionComment(sub); got != want {
		t.Fatalf(fmtExpectedText, want, got)
	}
}

func TestSubmissionComment_WithoutScore(t *testing.T) {
	sub := Submission{GuestID: 427, Form: "resto_a"}
	want := "✅ Анкета получена от гостя (ID: 427). Форма: resto_a."
	if got := submissionComment(sub); got != want {
		t.Fatalf(fmtExpectedText, want, got)
	}
}

func TestDeadlineDisplay_DateAndTime(t *testing.T) {
	dv := &crm.DateValue{Date: "25-08-2026", Time: "18:00"}
	want := "Дедлайн: 25-08-2026 18:00"
	if got := deadlineDisplay(dv); got != want {
		t.Fatalf(fmtExpectedText, want, got)
	}
}

func TestDeadlineDisplay_DateOnly(t *testing.T) {
	want := "Дедлайн: 25-08-2026"
	if got := deadlineDisplay(&crm.DateValue{Date: "25-08-2026"}); got != want {
		t.Fatalf(fmtExpectedText, want, got)
	}
}

func TestDeadlineDisplay_Empty(t *testing.T) {
	if got := deadlineDisplay(nil); got != "" {
		t.Fatalf("expected empty display for nil value, got %q", got)
	}
	if got := deadlineDisplay(&crm.DateValue{Time: "18:00"}); got != "" {
		t.Fatalf("expected empty display without a date, got %q", got)
	}
}

func TestScoreValue_Conversions(t *testing.T) {
	if v := scoreValue(""); v != nil {
		t.Fatalf("expected nil for empty score, got %d", *v)
	}
	if v := scoreValue("87"); v == nil || *v != 87 {
		t.Fatalf("expected 87, got %v", v)
	}
	if v := scoreValue("87.5"); v == nil || *v != 87 {
		t.Fatalf("expected 87 for fractional score, got %v", v)
	}
	if v := scoreValue("n/a"); v != nil {
		t.Fatalf("expected nil for non-numeric score, got %d", *v)
	}
}

func TestResultWrites_FullConfiguration(t *testing.T) {
	s := &Service{fields: config.FieldIDs{
		Result:             136,
		Score:              138,
		ResultStatus:       140,
		SessionID:          142,
		SyncStatus:         144,
		IntegrationComment: 146,
	}}
	sub := Submission{SessionID: "d6f3a1b2", TaskID: 17859014, GuestID: 427, Form: "resto_a", Score: "87"}
	now := time.Date(2026, 8, 22, 14, 30, 0, 0, time.UTC)

	writes := s.resultWrites(sub, now)
	if len(writes) != 6 {
		t.Fatalf("expected 6 field writes, got %d", len(writes))
	}

	byField := map[int64]any{}
	for _, w := range writes {
		byField[w.Field.ID] = w.Value
	}
	if byField[138] != "87" {
		t.Fatalf("expected score write %q, got %v", "87", byField[138])
	}
	if byField[140] != "Завершено" {
		t.Fatalf("expected result status write, got %v", byField[140])
	}
	if byField[144] != "Анкета получена 22.08.2026 14:30" {
		t.Fatalf("expected sync status write, got %v", byField[144])
	}
}

func TestResultWrites_SkipsUnconfiguredAndEmptyScore(t *testing.T) {
	s := &Service{fields: config.FieldIDs{Result: 136, Score: 138}}
	writes := s.resultWrites(Submission{SessionID: "abc"}, time.Now())
	if len(writes) != 1 {
		t.Fatalf("expected only the result write, got %d", len(writes))
	}
	if writes[0].Field.ID != 136 {
		t.Fatalf("expected result field 136, got %d", writes[0].Field.ID)
	}
}
