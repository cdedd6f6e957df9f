package forms

import (
	"testing"

	"github.com/mguest/inspectd/platform/apperr"
)

const (
	fmtUnexpectedParseErr = "unexpected parse error: %v"
	fmtExpectedField      = "expected %s %q, got %q"
)

func TestParseSubmission_JSONRPCEnvelope(t *testing.T) {
	body := []byte(`{
		"jsonrpc": "2.0",
		"method": "form.submitted",
		"id": 7,
		"params": {
			"sessionId": "d6f3a1b2",
			"taskId": "17859014",
			"guestId": 427,
			"formCode": "resto_a",
			"result": {"score": 87, "summary": "Сервис на высоте.", "raw": {"q1": "да"}},
			"responseUrl": "https://forms.example/answers/1"
		}
	}`)

	sub, envelope, err := ParseSubmission(body)
	if err != nil {
		t.Fatalf(fmtUnexpectedParseErr, err)
	}
	if !envelope.RPC {
		t.Fatal("expected JSON-RPC envelope to be detected")
	}
	if envelope.ID != "7" {
		t.Fatalf("expected id normalized to %q, got %v", "7", envelope.ID)
	}
	if sub.SessionID != "d6f3a1b2" {
		t.Fatalf(fmtExpectedField, "session", "d6f3a1b2", sub.SessionID)
	}
	if sub.TaskID != 17859014 {
		t.Fatalf("expected task id 17859014, got %d", sub.TaskID)
	}
	if sub.GuestID != 427 {
		t.Fatalf("expected guest id 427, got %d", sub.GuestID)
	}
	if sub.Form != "resto_a" {
		t.Fatalf(fmtExpectedField, "form", "resto_a", sub.Form)
	}
	if sub.Score != "87" {
		t.Fatalf(fmtExpectedField, "score", "87", sub.Score)
	}
	if sub.Summary != "Сервис на высоте." {
		t.Fatalf(fmtExpectedField, "summary", "Сервис на высоте.", sub.Summary)
	}
	if sub.Raw["q1"] != "да" {
		t.Fatalf("expected raw payload to carry answers, got %v", sub.Raw)
	}
	if sub.ResponseLink != "https://forms.example/answers/1" {
		t.Fatalf(fmtExpectedField, "response link", "https://forms.example/answers/1", sub.ResponseLink)
	}
}

func TestParseSubmission_DirectBody(t *testing.T) {
	body := []byte(`{"sessionId": "abc", "taskId": 100, "guestId": "427", "form": "delivery_a", "result": 92}`)

	sub, envelope, err := ParseSubmission(body)
	if err != nil {
		t.Fatalf(fmtUnexpectedParseErr, err)
	}
	if envelope.RPC {
		t.Fatal("expected direct body, not JSON-RPC")
	}
	if sub.TaskID != 100 || sub.GuestID != 427 {
		t.Fatalf("expected ids 100/427, got %d/%d", sub.TaskID, sub.GuestID)
	}
	if sub.Form != "delivery_a" {
		t.Fatalf(fmtExpectedField, "form", "delivery_a", sub.Form)
	}
	if sub.Score != "92" {
		t.Fatalf(fmtExpectedField, "score", "92", sub.Score)
	}
}

func TestParseSubmission_NumericStringResult(t *testing.T) {
	sub, _, err := ParseSubmission([]byte(`{"sessionId": "abc", "taskId": 1, "result": "87.5"}`))
	if err != nil {
		t.Fatalf(fmtUnexpectedParseErr, err)
	}
	if sub.Score != "87.5" {
		t.Fatalf(fmtExpectedField, "score", "87.5", sub.Score)
	}
}

func TestParseSubmission_NonNumericResultHasNoScore(t *testing.T) {
	sub, _, err := ParseSubmission([]byte(`{"sessionId": "abc", "taskId": 1, "result": "отлично"}`))
	if err != nil {
		t.Fatalf(fmtUnexpectedParseErr, err)
	}
	if sub.Score != "" {
		t.Fatalf("expected empty score, got %q", sub.Score)
	}
}

func TestParseSubmission_AttachmentURLStringIsResponseLink(t *testing.T) {
	sub, _, err := ParseSubmission([]byte(`{"sessionId": "abc", "taskId": 1, "attachments": "https://forms.example/answers/2"}`))
	if err != nil {
		t.Fatalf(fmtUnexpectedParseErr, err)
	}
	if len(sub.Attachments) != 0 {
		t.Fatalf("expected no attachments, got %v", sub.Attachments)
	}
	if sub.ResponseLink != "https://forms.example/answers/2" {
		t.Fatalf(fmtExpectedField, "response link", "https://forms.example/answers/2", sub.ResponseLink)
	}
}

func TestParseSubmission_AttachmentListShapes(t *testing.T) {
	body := []byte(`{
		"sessionId": "abc",
		"taskId": 1,
		"attachments": [
			{"url": "https://files.example/a.jpg"},
			"https://files.example/b.jpg",
			{"name": "no-url"}
		]
	}`)
	sub, _, err := ParseSubmission(body)
	if err != nil {
		t.Fatalf(fmtUnexpectedParseErr, err)
	}
	if len(sub.Attachments) != 2 {
		t.Fatalf("expected 2 attachment urls, got %v", sub.Attachments)
	}
	if sub.Attachments[0] != "https://files.example/a.jpg" || sub.Attachments[1] != "https://files.example/b.jpg" {
		t.Fatalf("unexpected attachment urls: %v", sub.Attachments)
	}
}

func TestParseSubmission_RejectsInvalidJSON(t *testing.T) {
	_, _, err := ParseSubmission([]byte(`{"sessionId": `))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request kind, got %v", err)
	}
}

func TestParseSubmission_MissingFieldsDetected(t *testing.T) {
	sub, envelope, err := ParseSubmission([]byte(`{"jsonrpc": "2.0", "id": "req-1", "params": {"guestId": 427}}`))
	if err != nil {
		t.Fatalf(fmtUnexpectedParseErr, err)
	}
	if sub.SessionID != "" || sub.TaskID != 0 {
		t.Fatalf("expected empty session and task, got %q/%d", sub.SessionID, sub.TaskID)
	}
	if !envelope.RPC || envelope.ID != "req-1" {
		t.Fatalf("expected RPC envelope with id req-1, got %+v", envelope)
	}
}
