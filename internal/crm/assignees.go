package crm

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// ContactRef is a normalized reference to a CRM contact. Raw preserves the
// upstream encoding for logging.
type ContactRef struct {
	ID  int64
	Raw string
}

// ContactKey renders the assignee encoding the CRM expects on writes.
func ContactKey(contactID int64) string {
	return "contact:" + strconv.FormatInt(contactID, 10)
}

// Matches reports whether the reference denotes the given contact under any
// of the encodings observed from the CRM: a bare id, "contact:<id>", or any
// "<prefix>:<id>".
func (r ContactRef) Matches(contactID int64) bool {
	if r.ID == contactID {
		return true
	}
	want := strconv.FormatInt(contactID, 10)
	return r.Raw == want || r.Raw == "contact:"+want || strings.HasSuffix(r.Raw, ":"+want)
}

// ContainsContact reports whether any reference denotes the given contact.
func ContainsContact(refs []ContactRef, contactID int64) bool {
	for _, ref := range refs {
		if ref.Matches(contactID) {
			return true
		}
	}
	return false
}

// ParseAssignees extracts contact references from the CRM's assignee value.
// The upstream has delivered it as {"users": [...]} and as a bare list, with
// entries that are objects ({"id": ...} or {"userId": ...}), strings, or
// numbers.
func ParseAssignees(raw json.RawMessage) []ContactRef {
	if len(raw) == 0 {
		return nil
	}

	var entries []json.RawMessage
	var wrapper struct {
		Users []json.RawMessage `json:"users"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Users != nil {
		entries = wrapper.Users
	} else if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	refs := make([]ContactRef, 0, len(entries))
	for _, entry := range entries {
		if ref, ok := parseAssigneeEntry(entry); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

func parseAssigneeEntry(entry json.RawMessage) (ContactRef, bool) {
	var obj struct {
		ID     json.RawMessage `json:"id"`
		UserID json.RawMessage `json:"userId"`
	}
	if err := json.Unmarshal(entry, &obj); err == nil {
		if ref, ok := parseIDValue(obj.ID); ok {
			return ref, true
		}
		if ref, ok := parseIDValue(obj.UserID); ok {
			return ref, true
		}
	}
	return parseIDValue(entry)
}

func parseIDValue(raw json.RawMessage) (ContactRef, bool) {
	if len(raw) == 0 {
		return ContactRef{}, false
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return refFromString(asString)
	}

	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return ContactRef{ID: asNumber, Raw: strconv.FormatInt(asNumber, 10)}, true
	}

	return ContactRef{}, false
}

func refFromString(value string) (ContactRef, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ContactRef{}, false
	}

	numericPart := trimmed
	if idx := strings.LastIndex(trimmed, ":"); idx >= 0 {
		numericPart = trimmed[idx+1:]
	}
	id, err := strconv.ParseInt(numericPart, 10, 64)
	if err != nil {
		return ContactRef{}, false
	}
	return ContactRef{ID: id, Raw: trimmed}, true
}

// GetAssignees fetches and normalizes the current executors of a task.
func (c *Client) GetAssignees(ctx context.Context, ref string) ([]ContactRef, error) {
	snapshot, err := c.GetTask(ctx, ref, "id,assignees")
	if err != nil {
		return nil, err
	}
	return ParseAssignees(snapshot.Assignees), nil
}
