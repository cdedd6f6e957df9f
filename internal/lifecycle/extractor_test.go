package lifecycle

import (
	"testing"

	"github.com/mguest/inspectd/platform/apperr"
)

const (
	fmtUnexpectedParseErr = "unexpected parse error: %v"
	fmtExpectedValue      = "expected %q, got %q"
	fmtExpectedID         = "expected %d, got %d"
)

func TestParsePayload_FullTaskCreatedBody(t *testing.T) {
	body := []byte(`{
		"event": "task.created",
		"nomber": "86190",
		"taskId": 17859014,
		"restaurant": {"name": "Хинкальная №1", "address": "Тверская, 1"},
		"visit": {"date": "15-02-2026", "deadline": "20-02-2026"},
		"guests": [
			{"planfixContactId": "427", "name": "Иван"},
			{"id": 428},
			431
		]
	}`)

	p, err := ParsePayload(body)
	if err != nil {
		t.Fatalf(fmtUnexpectedParseErr, err)
	}
	if p.Event() != "task.created" {
		t.Fatalf(fmtExpectedValue, "task.created", p.Event())
	}
	if p.TaskRef() != "86190" {
		t.Fatalf(fmtExpectedValue, "86190", p.TaskRef())
	}
	if p.TaskID() != 17859014 {
		t.Fatalf(fmtExpectedID, int64(17859014), p.TaskID())
	}
	r := p.Restaurant()
	if r.Name != "Хинкальная №1" || r.Address != "Тверская, 1" {
		t.Fatalf("unexpected restaurant: %+v", r)
	}
	if p.VisitDate() != "15-02-2026" {
		t.Fatalf(fmtExpectedValue, "15-02-2026", p.VisitDate())
	}
	if p.Deadline() != "20-02-2026" {
		t.Fatalf(fmtExpectedValue, "20-02-2026", p.Deadline())
	}
	ids := p.GuestIDs()
	if len(ids) != 3 {
		t.Fatalf("expected 3 guest IDs, got %v", ids)
	}
	if ids[0] != 427 || ids[1] != 428 || ids[2] != 431 {
		t.Fatalf("unexpected guest IDs: %v", ids)
	}
}

func TestParsePayload_RepairsTruncatedBody(t *testing.T) {
	// Closing brace of the root object is missing.
	body := []byte(`{"event": "task.wait_form", "nomber": "86190", "visit": {"deadline": "20-02-2026"}` + "\n")

	p, err := ParsePayload(body)
	if err != nil {
		t.Fatalf(fmtUnexpectedParseErr, err)
	}
	if p.Event() != "task.wait_form" {
		t.Fatalf(fmtExpectedValue, "task.wait_form", p.Event())
	}
	if p.Deadline() != "20-02-2026" {
		t.Fatalf(fmtExpectedValue, "20-02-2026", p.Deadline())
	}
}

func TestParsePayload_RepairsDeeperTruncation(t *testing.T) {
	body := []byte(`{"event": "task.updated", "task": {"statusId": 116, "restaurant": {"name": "Бар"}`)

	p, err := ParsePayload(body)
	if err != nil {
		t.Fatalf(fmtUnexpectedParseErr, err)
	}
	if p.StatusID() != 116 {
		t.Fatalf(fmtExpectedID, int64(116), p.StatusID())
	}
}

func TestParsePayload_RejectsGarbage(t *testing.T) {
	_, err := ParsePayload([]byte(`event=task.created&nomber=86190`))
	if err == nil {
		t.Fatal("expected parse error for non-JSON body")
	}
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request kind, got %v", err)
	}
}

func TestTaskRef_PrefersNomberOverIDs(t *testing.T) {
	p := Payload{
		"nomber": "86190",
		"taskId": float64(17859014),
		"task":   map[string]any{"id": float64(17859014), "nomber": "99999"},
	}

	if p.TaskRef() != "86190" {
		t.Fatalf(fmtExpectedValue, "86190", p.TaskRef())
	}
}

func TestTaskRef_NestedNomberBeatsTaskID(t *testing.T) {
	p := Payload{
		"taskId": float64(17859014),
		"task":   map[string]any{"nomber": float64(86190)},
	}

	if p.TaskRef() != "86190" {
		t.Fatalf(fmtExpectedValue, "86190", p.TaskRef())
	}
}

func TestTaskRef_FallsBackToTaskID(t *testing.T) {
	p := Payload{"task": map[string]any{"id": float64(17859014)}}

	if p.TaskRef() != "17859014" {
		t.Fatalf(fmtExpectedValue, "17859014", p.TaskRef())
	}
}

func TestTaskID_NumericNomberFallback(t *testing.T) {
	p := Payload{"nomber": "86190"}

	if p.TaskID() != 86190 {
		t.Fatalf(fmtExpectedID, int64(86190), p.TaskID())
	}
}

func TestTaskID_PrefersExplicitID(t *testing.T) {
	p := Payload{"nomber": "86190", "taskId": "17859014"}

	if p.TaskID() != 17859014 {
		t.Fatalf(fmtExpectedID, int64(17859014), p.TaskID())
	}
}

func TestDeadline_ObjectWithNewValue(t *testing.T) {
	p := Payload{"deadline": map[string]any{"new": "15-02-2026"}}

	if p.Deadline() != "15-02-2026" {
		t.Fatalf(fmtExpectedValue, "15-02-2026", p.Deadline())
	}
}

func TestDeadline_VisitWinsOverTask(t *testing.T) {
	p := Payload{
		"visit": map[string]any{"deadline": "20-02-2026"},
		"task":  map[string]any{"deadline": "25-02-2026"},
	}

	if p.Deadline() != "20-02-2026" {
		t.Fatalf(fmtExpectedValue, "20-02-2026", p.Deadline())
	}
}

func TestDeadline_TaskLevelFallback(t *testing.T) {
	p := Payload{"task": map[string]any{"deadline": map[string]any{"date": "25-02-2026"}}}

	if p.Deadline() != "25-02-2026" {
		t.Fatalf(fmtExpectedValue, "25-02-2026", p.Deadline())
	}
}

func TestGuestID_Shapes(t *testing.T) {
	byKey := Payload{"guest": map[string]any{"planfixContactId": "427"}}
	if byKey.GuestID() != 427 {
		t.Fatalf(fmtExpectedID, int64(427), byKey.GuestID())
	}

	bySnakeKey := Payload{"guest": map[string]any{"planfix_contact_id": float64(427)}}
	if bySnakeKey.GuestID() != 427 {
		t.Fatalf(fmtExpectedID, int64(427), bySnakeKey.GuestID())
	}

	bare := Payload{"guest": float64(427)}
	if bare.GuestID() != 427 {
		t.Fatalf(fmtExpectedID, int64(427), bare.GuestID())
	}

	asString := Payload{"guest": "427"}
	if asString.GuestID() != 427 {
		t.Fatalf(fmtExpectedID, int64(427), asString.GuestID())
	}

	missing := Payload{}
	if missing.GuestID() != 0 {
		t.Fatalf(fmtExpectedID, int64(0), missing.GuestID())
	}
}

func TestCancelReason_ObjectAndString(t *testing.T) {
	obj := Payload{"cancel": map[string]any{"reason": "ресторан закрыт"}}
	if obj.CancelReason() != "ресторан закрыт" {
		t.Fatalf(fmtExpectedValue, "ресторан закрыт", obj.CancelReason())
	}

	str := Payload{"cancel": "дубль задачи"}
	if str.CancelReason() != "дубль задачи" {
		t.Fatalf(fmtExpectedValue, "дубль задачи", str.CancelReason())
	}

	none := Payload{}
	if none.CancelReason() != "" {
		t.Fatalf(fmtExpectedValue, "", none.CancelReason())
	}
}

func TestCustomField_WebhookTaskShapes(t *testing.T) {
	p := Payload{
		"task": map[string]any{
			"customFieldData": []any{
				map[string]any{"field": map[string]any{"id": float64(136)}, "value": "отчёт"},
				map[string]any{"fieldId": "130", "value": float64(7000)},
			},
		},
	}

	if got := p.CustomField(130); got != "7000" {
		t.Fatalf(fmtExpectedValue, "7000", got)
	}
	if got := p.CustomField(136); got != "отчёт" {
		t.Fatalf(fmtExpectedValue, "отчёт", got)
	}
	if got := p.CustomField(999); got != "" {
		t.Fatalf(fmtExpectedValue, "", got)
	}
}

func TestStatusID_StringAndNumber(t *testing.T) {
	num := Payload{"task": map[string]any{"statusId": float64(116)}}
	if num.StatusID() != 116 {
		t.Fatalf(fmtExpectedID, int64(116), num.StatusID())
	}

	str := Payload{"task": map[string]any{"statusId": "117"}}
	if str.StatusID() != 117 {
		t.Fatalf(fmtExpectedID, int64(117), str.StatusID())
	}
}

func TestFinanceAndResult_Blocks(t *testing.T) {
	p := Payload{
		"finance": map[string]any{"budget": float64(7000), "actual": "6500", "status": "к выплате"},
		"result":  map[string]any{"score": float64(87), "summary": "Все проверки пройдены"},
	}

	f := p.Finance()
	if f.Budget != "7000" || f.Actual != "6500" || f.Status != "к выплате" {
		t.Fatalf("unexpected finance block: %+v", f)
	}
	res := p.Result()
	if res.Score != "87" || res.Summary != "Все проверки пройдены" {
		t.Fatalf("unexpected result block: %+v", res)
	}
}

func TestNormalizeDate_KnownFormats(t *testing.T) {
	if got := NormalizeDate("15-02-2026"); got != "2026-02-15" {
		t.Fatalf(fmtExpectedValue, "2026-02-15", got)
	}
	if got := NormalizeDate("15.02.2026"); got != "2026-02-15" {
		t.Fatalf(fmtExpectedValue, "2026-02-15", got)
	}
	if got := NormalizeDate("2026-02-15"); got != "2026-02-15" {
		t.Fatalf(fmtExpectedValue, "2026-02-15", got)
	}
	if got := NormalizeDate("2026-02-15T10:30:00Z"); got != "2026-02-15" {
		t.Fatalf(fmtExpectedValue, "2026-02-15", got)
	}
}

func TestNormalizeDate_PassesThroughUnknown(t *testing.T) {
	if got := NormalizeDate("скоро"); got != "скоро" {
		t.Fatalf(fmtExpectedValue, "скоро", got)
	}
	if got := NormalizeDate(""); got != "" {
		t.Fatalf(fmtExpectedValue, "", got)
	}
}

func TestParseDate_ReportsMatch(t *testing.T) {
	ts, ok := ParseDate("20-02-2026")
	if !ok {
		t.Fatal("expected 20-02-2026 to parse")
	}
	if ts.Year() != 2026 || ts.Month() != 2 || ts.Day() != 20 {
		t.Fatalf("unexpected parsed date: %v", ts)
	}

	if _, ok := ParseDate("скоро"); ok {
		t.Fatal("expected unknown format to be rejected")
	}
}
