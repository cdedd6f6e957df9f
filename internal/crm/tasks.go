package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Task detail field sets requested from the CRM.
const (
	FieldsTaskDetail = "id,name,description,template,dateTime,endDateTime,customFieldData"
	FieldsAssignees  = "id,assignees"
	FieldsStatus     = "id,status,assignees,customFieldData"
)

// TemplateRef identifies the template a task was created from.
type TemplateRef struct {
	ID int64 `json:"id"`
}

// StatusRef identifies a task status.
type StatusRef struct {
	ID int64 `json:"id"`
}

// DateValue is the CRM's date object. Any field may be absent.
type DateValue struct {
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
	DateTime string `json:"datetime,omitempty"`
}

// Best returns the most precise representation available.
func (d *DateValue) Best() string {
	if d == nil {
		return ""
	}
	if d.DateTime != "" {
		return d.DateTime
	}
	return d.Date
}

// TaskSnapshot is the task detail as read from the CRM.
type TaskSnapshot struct {
	ID              int64              `json:"id"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	Template        *TemplateRef       `json:"template"`
	Status          *StatusRef         `json:"status"`
	DateTime        *DateValue         `json:"dateTime"`
	EndDateTime     *DateValue         `json:"endDateTime"`
	Assignees       json.RawMessage    `json:"assignees"`
	CustomFieldData []CustomFieldValue `json:"customFieldData"`
	CustomFields    map[string]any     `json:"customFields"`
}

// StatusID returns the numeric status id, zero when absent.
func (t *TaskSnapshot) StatusID() int64 {
	if t.Status == nil {
		return 0
	}
	return t.Status.ID
}

// CustomFieldValue is one custom-field entry. The field identifier has been
// delivered as {"field": {"id": N}}, {"fieldId": N}, {"customField": {...}},
// and {"id": N}; the value as string, number, or object.
type CustomFieldValue struct {
	Field       json.RawMessage `json:"field"`
	FieldID     json.RawMessage `json:"fieldId"`
	CustomField json.RawMessage `json:"customField"`
	ID          json.RawMessage `json:"id"`
	Value       json.RawMessage `json:"value"`
}

// MatchesField reports whether this entry belongs to the given field id.
func (v CustomFieldValue) MatchesField(fieldID int64) bool {
	for _, candidate := range []json.RawMessage{v.Field, v.FieldID, v.CustomField, v.ID} {
		if id, ok := fieldIDFrom(candidate); ok && id == fieldID {
			return true
		}
	}
	return false
}

// ValueString renders the entry value as text, tolerating numeric encodings.
func (v CustomFieldValue) ValueString() string {
	if len(v.Value) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(v.Value, &asString); err == nil {
		return asString
	}
	var asNumber json.Number
	if err := json.Unmarshal(v.Value, &asNumber); err == nil {
		return asNumber.String()
	}
	return strings.TrimSpace(string(v.Value))
}

func fieldIDFrom(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, true
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if id, err := strconv.ParseInt(strings.TrimSpace(asString), 10, 64); err == nil {
			return id, true
		}
		return 0, false
	}
	var asObject struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil && len(asObject.ID) > 0 {
		return fieldIDFrom(asObject.ID)
	}
	return 0, false
}

// CustomFieldString finds a custom field value by id, checking the map form
// before the array form.
func (t *TaskSnapshot) CustomFieldString(fieldID int64) string {
	if t == nil {
		return ""
	}
	if t.CustomFields != nil {
		if raw, ok := t.CustomFields[strconv.FormatInt(fieldID, 10)]; ok {
			if s := anyToString(raw); s != "" {
				return s
			}
		}
	}
	for _, entry := range t.CustomFieldData {
		if entry.MatchesField(fieldID) {
			return entry.ValueString()
		}
	}
	return ""
}

func anyToString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

// FieldWrite is one custom-field assignment sent to the CRM.
type FieldWrite struct {
	Field StatusRef `json:"field"`
	Value any       `json:"value"`
}

// TaskUpdate is a task write carrying any combination of status, custom
// fields, and executors.
type TaskUpdate struct {
	Status          *StatusRef   `json:"status,omitempty"`
	CustomFieldData []FieldWrite `json:"customFieldData,omitempty"`
	Assignees       *assignees   `json:"assignees,omitempty"`
}

type assignees struct {
	Users []assigneeUser `json:"users"`
}

type assigneeUser struct {
	ID string `json:"id"`
}

type taskEnvelope struct {
	Task *TaskSnapshot `json:"task"`
}

// GetTask fetches a task by its external reference. A NotFound error is the
// expected state shortly after creation, while the CRM's read side lags its
// webhooks.
func (c *Client) GetTask(ctx context.Context, ref, fields string) (*TaskSnapshot, error) {
	var envelope taskEnvelope
	path := "task/" + url.PathEscape(ref) + "?fields=" + url.QueryEscape(fields)
	if err := c.call(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	if envelope.Task == nil {
		return &TaskSnapshot{}, nil
	}
	return envelope.Task, nil
}

// SetExecutors replaces the task's executors with the given contacts.
func (c *Client) SetExecutors(ctx context.Context, ref string, contactIDs []int64) error {
	users := make([]assigneeUser, 0, len(contactIDs))
	for _, id := range contactIDs {
		users = append(users, assigneeUser{ID: ContactKey(id)})
	}
	update := TaskUpdate{Assignees: &assignees{Users: users}}
	return c.call(ctx, http.MethodPost, "task/"+url.PathEscape(ref), update, nil)
}

// UpdateStatus moves the task to the given CRM status.
func (c *Client) UpdateStatus(ctx context.Context, ref string, statusID int64) error {
	update := TaskUpdate{Status: &StatusRef{ID: statusID}}
	return c.call(ctx, http.MethodPost, "task/"+url.PathEscape(ref), update, nil)
}

// UpdateTask applies a combined write.
func (c *Client) UpdateTask(ctx context.Context, ref string, update TaskUpdate) error {
	return c.call(ctx, http.MethodPost, "task/"+url.PathEscape(ref), update, nil)
}

// AddComment appends an audit comment to the task.
func (c *Client) AddComment(ctx context.Context, ref, text string) error {
	body := map[string]string{"description": text}
	return c.call(ctx, http.MethodPost, "task/"+url.PathEscape(ref)+"/comments", body, nil)
}

// UploadFileFromURL asks the CRM to pull a file from the given URL, attach
// it to the task, and returns the created file id.
func (c *Client) UploadFileFromURL(ctx context.Context, ref, fileURL string) (int64, error) {
	body := map[string]string{"url": fileURL, "task": ref}
	var result struct {
		ID   int64 `json:"id"`
		File *struct {
			ID int64 `json:"id"`
		} `json:"file"`
	}
	if err := c.call(ctx, http.MethodPost, "file/from-url", body, &result); err != nil {
		return 0, err
	}
	if result.ID != 0 {
		return result.ID, nil
	}
	if result.File != nil {
		return result.File.ID, nil
	}
	return 0, nil
}
