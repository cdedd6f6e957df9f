package crm

import (
	"encoding/json"
	"testing"
	"time"
)

const (
	fmtExpectedValue = "expected %q, got %q"
	fmtExpectedDelay = "attempt %d: expected delay %v, got %v"
)

func TestCustomFieldValue_MatchesField_Shapes(t *testing.T) {
	shapes := []string{
		`{"field":130,"value":"5000"}`,
		`{"field":"130","value":"5000"}`,
		`{"field":{"id":130},"value":"5000"}`,
		`{"fieldId":130,"value":"5000"}`,
		`{"customField":{"id":"130"},"value":"5000"}`,
		`{"id":130,"value":"5000"}`,
	}
	for _, raw := range shapes {
		var cf CustomFieldValue
		if err := json.Unmarshal([]byte(raw), &cf); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if !cf.MatchesField(130) {
			t.Fatalf("shape %s: expected match for field 130", raw)
		}
		if cf.MatchesField(131) {
			t.Fatalf("shape %s: must not match field 131", raw)
		}
	}
}

func TestCustomFieldValue_ValueString(t *testing.T) {
	cases := map[string]string{
		`{"field":130,"value":"5000"}`:  "5000",
		`{"field":130,"value":5000}`:    "5000",
		`{"field":130,"value":{"x":1}}`: `{"x":1}`,
		`{"field":130}`:                 "",
	}
	for raw, want := range cases {
		var cf CustomFieldValue
		if err := json.Unmarshal([]byte(raw), &cf); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if got := cf.ValueString(); got != want {
			t.Fatalf(fmtExpectedValue, want, got)
		}
	}
}

func TestTaskSnapshot_CustomFieldString_MapBeforeArray(t *testing.T) {
	snap := TaskSnapshot{
		CustomFields: map[string]any{"130": "7000"},
		CustomFieldData: []CustomFieldValue{
			{Field: json.RawMessage(`130`), Value: json.RawMessage(`"5000"`)},
		},
	}

	if got := snap.CustomFieldString(130); got != "7000" {
		t.Fatalf(fmtExpectedValue, "7000", got)
	}
}

func TestTaskSnapshot_CustomFieldString_ArrayFallback(t *testing.T) {
	snap := TaskSnapshot{
		CustomFieldData: []CustomFieldValue{
			{FieldID: json.RawMessage(`136`), Value: json.RawMessage(`"done"`)},
		},
	}

	if got := snap.CustomFieldString(136); got != "done" {
		t.Fatalf(fmtExpectedValue, "done", got)
	}
	if got := snap.CustomFieldString(999); got != "" {
		t.Fatalf(fmtExpectedValue, "", got)
	}
}

func TestTaskSnapshot_StatusID(t *testing.T) {
	var snap TaskSnapshot
	if err := json.Unmarshal([]byte(`{"id":17859014,"status":{"id":115}}`), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if got := snap.StatusID(); got != 115 {
		t.Fatalf("expected status 115, got %d", got)
	}

	var bare TaskSnapshot
	if got := bare.StatusID(); got != 0 {
		t.Fatalf("expected zero status for missing block, got %d", got)
	}
}

func TestDateValue_Best(t *testing.T) {
	withBoth := DateValue{Date: "22-08-2026", DateTime: "2026-08-22T10:00:00Z"}
	if got := withBoth.Best(); got != "2026-08-22T10:00:00Z" {
		t.Fatalf(fmtExpectedValue, "2026-08-22T10:00:00Z", got)
	}
	onlyDate := DateValue{Date: "22-08-2026"}
	if got := onlyDate.Best(); got != "22-08-2026" {
		t.Fatalf(fmtExpectedValue, "22-08-2026", got)
	}
	var empty *DateValue
	if got := empty.Best(); got != "" {
		t.Fatalf(fmtExpectedValue, "", got)
	}
}

func TestBackoffDelay_DoublesAndCaps(t *testing.T) {
	want := map[int]time.Duration{
		1: 1 * time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 8 * time.Second,
	}
	for retry, expected := range want {
		if got := backoffDelay(retry); got != expected {
			t.Fatalf(fmtExpectedDelay, retry, expected, got)
		}
	}
}
