package lifecycle

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/mguest/inspectd/platform/apperr"
)

// Payload is a decoded CRM webhook body. Automation rules assemble these
// bodies by hand, so the same fact may arrive in several shapes and under
// several keys; the accessors apply best-effort extraction with a fixed
// lookup order, most specific location first.
type Payload map[string]any

// ParsePayload decodes a webhook body into a Payload. The CRM occasionally
// truncates large bodies mid-object, dropping closing braces; when plain
// decoding fails, a repaired copy with the brace deficit appended is tried
// before giving up.
func ParsePayload(body []byte) (Payload, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err == nil {
		return Payload(data), nil
	}

	repaired := repairTruncated(body)
	if repaired != nil {
		if err := json.Unmarshal(repaired, &data); err == nil {
			return Payload(data), nil
		}
	}
	return nil, apperr.BadRequest("invalid webhook payload")
}

// repairTruncated rebalances a body whose tail was cut off: it must still end
// with a closing brace and carry more opening than closing braces. Returns
// nil when the body does not look truncated.
func repairTruncated(body []byte) []byte {
	trimmed := bytes.TrimRight(body, " \t\r\n")
	if !bytes.HasSuffix(trimmed, []byte("}")) {
		return nil
	}
	deficit := bytes.Count(trimmed, []byte("{")) - bytes.Count(trimmed, []byte("}"))
	if deficit <= 0 {
		return nil
	}
	repaired := make([]byte, 0, len(trimmed)+deficit)
	repaired = append(repaired, trimmed...)
	for i := 0; i < deficit; i++ {
		repaired = append(repaired, '}')
	}
	return repaired
}

// Event returns the lifecycle event discriminator.
func (p Payload) Event() string {
	return stringAt(p, "event")
}

// Task returns the nested task object, or an empty Payload.
func (p Payload) Task() Payload {
	return mapAt(p, "task")
}

// TaskRef returns the human-facing task number used for CRM API calls.
// Newer automation rules put it under nomber or task.nomber; older ones sent
// only the internal taskId/task.id, which still works as an API reference.
func (p Payload) TaskRef() string {
	for _, v := range []any{p["nomber"], p.Task()["nomber"], p["taskId"], p.Task()["id"]} {
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

// TaskID returns the internal CRM task ID, falling back to the task number
// when the payload carries only a numeric reference.
func (p Payload) TaskID() int64 {
	if id := intAt(p, "taskId"); id != 0 {
		return id
	}
	if id := intAt(p.Task(), "id"); id != 0 {
		return id
	}
	return parseInt(p.TaskRef())
}

// Restaurant holds the venue fields of an inspection task.
type Restaurant struct {
	Name    string
	Address string
}

// Restaurant returns the venue attached to the payload, checking the
// top-level object before the nested task.
func (p Payload) Restaurant() Restaurant {
	obj := mapAt(p, "restaurant")
	if len(obj) == 0 {
		obj = mapAt(p.Task(), "restaurant")
	}
	return Restaurant{
		Name:    stringAt(obj, "name"),
		Address: stringAt(obj, "address"),
	}
}

// VisitDate returns the planned visit date as sent, without normalization.
func (p Payload) VisitDate() string {
	if date := stringAt(p.visit(), "date"); date != "" {
		return date
	}
	return stringAt(p, "visitDate")
}

// Deadline returns the raw deadline value. visit.deadline wins over the
// top-level and task-level fields; each may be a bare string or an object
// carrying the new value.
func (p Payload) Deadline() string {
	for _, v := range []any{p.visit()["deadline"], p["deadline"], p.Task()["deadline"]} {
		if s := deadlineString(v); s != "" {
			return s
		}
	}
	return ""
}

func (p Payload) visit() Payload {
	if v := mapAt(p, "visit"); len(v) > 0 {
		return v
	}
	return mapAt(p.Task(), "visit")
}

// GuestID returns the contact ID of the single guest the event is about.
func (p Payload) GuestID() int64 {
	return contactID(p["guest"])
}

// GuestIDs returns the invited guest contact IDs. Entries may be objects
// keyed planfixContactId/id/planfix_contact_id or bare IDs.
func (p Payload) GuestIDs() []int64 {
	raw, ok := p["guests"].([]any)
	if !ok || len(raw) == 0 {
		raw, _ = p["invitedGuests"].([]any)
	}
	var ids []int64
	for _, entry := range raw {
		if id := contactID(entry); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// CancelReason returns the operator-entered cancellation reason, if any.
func (p Payload) CancelReason() string {
	switch c := p["cancel"].(type) {
	case map[string]any:
		return scalarString(c["reason"])
	case string:
		return c
	}
	return ""
}

// StatusID returns the CRM status carried under task.statusId, or zero.
func (p Payload) StatusID() int64 {
	return intAt(p.Task(), "statusId")
}

// Finance holds the compensation figures attached to a completed task.
type Finance struct {
	Budget string
	Actual string
	Status string
}

// Finance returns the finance block of the payload.
func (p Payload) Finance() Finance {
	obj := mapAt(p, "finance")
	return Finance{
		Budget: scalarString(obj["budget"]),
		Actual: scalarString(obj["actual"]),
		Status: scalarString(obj["status"]),
	}
}

// Result holds the inspection outcome attached to a completed task.
type Result struct {
	Score   string
	Summary string
}

// Result returns the result block of the payload.
func (p Payload) Result() Result {
	obj := mapAt(p, "result")
	return Result{
		Score:   scalarString(obj["score"]),
		Summary: scalarString(obj["summary"]),
	}
}

// CustomField returns the value of a custom field carried inline in the
// nested task object. Automation rules write the field list under several
// casings, so all known spellings are checked.
func (p Payload) CustomField(fieldID int64) string {
	task := p.Task()
	for _, key := range []string{"customFieldData", "customfielddata", "customFieldValues"} {
		entries, ok := task[key].([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			item, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if customFieldID(item) == fieldID {
				return scalarString(item["value"])
			}
		}
	}
	return ""
}

// customFieldID digs the field ID out of the shapes the CRM uses:
// {field: {id: N}}, {customField: {id: N}}, {field: N}, {fieldId: N}
// and {id: N, value: ...}.
func customFieldID(item map[string]any) int64 {
	for _, key := range []string{"field", "customField", "fieldId"} {
		switch f := item[key].(type) {
		case map[string]any:
			if id := parseInt(scalarString(f["id"])); id != 0 {
				return id
			}
		case nil:
		default:
			if id := parseInt(scalarString(f)); id != 0 {
				return id
			}
		}
	}
	return parseInt(scalarString(item["id"]))
}

// deadlineString unwraps a deadline field that may be a bare string or an
// object like {"new": "15-02-2026"}.
func deadlineString(v any) string {
	switch d := v.(type) {
	case string:
		return d
	case map[string]any:
		if s := scalarString(d["new"]); s != "" {
			return s
		}
		return scalarString(d["date"])
	}
	return ""
}

// dateLayouts lists the date formats the CRM sends, checked in order.
var dateLayouts = []string{
	"02-01-2006",
	"02.01.2006",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NormalizeDate converts the CRM date formats (DD-MM-YYYY, DD.MM.YYYY or
// ISO 8601) to YYYY-MM-DD. Unrecognized values pass through unchanged.
func NormalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return value
}

// ParseDate parses a raw or normalized CRM date into a UTC time. The second
// return value reports whether the value matched a known layout.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func stringAt(m map[string]any, key string) string {
	return scalarString(m[key])
}

func intAt(m map[string]any, key string) int64 {
	return parseInt(scalarString(m[key]))
}

func mapAt(m map[string]any, key string) Payload {
	obj, _ := m[key].(map[string]any)
	return Payload(obj)
}

// contactID extracts a contact ID from an object keyed
// planfixContactId/id/planfix_contact_id or from a bare number or string.
func contactID(v any) int64 {
	switch g := v.(type) {
	case map[string]any:
		for _, key := range []string{"planfixContactId", "id", "planfix_contact_id"} {
			if id := parseInt(scalarString(g[key])); id != 0 {
				return id
			}
		}
		return 0
	default:
		return parseInt(scalarString(v))
	}
}

// scalarString renders a JSON scalar as a string. Integral numbers drop the
// fraction so IDs decoded as float64 round-trip cleanly.
func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	}
	return ""
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
