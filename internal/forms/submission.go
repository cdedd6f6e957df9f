// Package forms integrates the external survey provider: it serves the
// signed survey-launch page and ingests the provider's completion webhook,
// in both its JSON-RPC 2.0 and plain POST forms.
package forms

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mguest/inspectd/platform/apperr"
)

const msgInvalidJSON = "Invalid JSON"

// Submission is one normalized form-completion callback.
type Submission struct {
	SessionID    string
	TaskID       int64
	GuestID      int64
	Form         string
	Score        string
	Summary      string
	Raw          map[string]any
	Attachments  []string
	ResponseLink string
}

// Envelope describes how the submission arrived, so the response can be
// rendered in the same protocol.
type Envelope struct {
	RPC bool
	ID  any
}

// ParseSubmission decodes a completion webhook body. The provider sends
// JSON-RPC 2.0 envelopes with the submission in params; older senders post
// the same fields at the top level.
func ParseSubmission(body []byte) (Submission, Envelope, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return Submission{}, Envelope{}, apperr.BadRequest(msgInvalidJSON)
	}

	envelope := Envelope{}
	src := data
	if rpc, _ := data["jsonrpc"].(string); rpc == "2.0" {
		envelope.RPC = true
		envelope.ID = rpcID(data["id"])
		if params, ok := data["params"].(map[string]any); ok {
			src = params
		} else {
			src = map[string]any{}
		}
	}

	sub := Submission{
		SessionID: scalar(src["sessionId"]),
		TaskID:    integer(src["taskId"]),
		GuestID:   integer(src["guestId"]),
		Form:      firstScalar(src["form"], src["formCode"]),
	}
	sub.Score, sub.Summary, sub.Raw = parseResult(src["result"])
	sub.Attachments, sub.ResponseLink = parseAttachments(src["attachments"])
	if sub.ResponseLink == "" {
		sub.ResponseLink = firstScalar(src["responseUrl"], src["formResponseUrl"])
	}
	return sub, envelope, nil
}

// parseResult normalizes the result field: a bare number or numeric string
// is a score, an object carries score, summary, and the raw answer payload.
func parseResult(raw any) (score, summary string, payload map[string]any) {
	payload = map[string]any{}
	switch v := raw.(type) {
	case float64:
		return formatNumber(v), "", payload
	case json.Number:
		return v.String(), "", payload
	case string:
		if isNumeric(v) {
			return v, "", payload
		}
		return "", "", payload
	case map[string]any:
		score = scalar(v["score"])
		summary = scalar(v["summary"])
		if rawPayload, ok := v["raw"].(map[string]any); ok {
			payload = rawPayload
		}
		return score, summary, payload
	default:
		return "", "", payload
	}
}

// parseAttachments accepts a list of file objects or URLs; a single URL
// string is the provider's way of sending the response link instead.
func parseAttachments(raw any) ([]string, string) {
	switch v := raw.(type) {
	case string:
		if strings.HasPrefix(v, "http") {
			return nil, v
		}
		return nil, ""
	case []any:
		urls := make([]string, 0, len(v))
		for _, item := range v {
			switch file := item.(type) {
			case string:
				if file != "" {
					urls = append(urls, file)
				}
			case map[string]any:
				if u := scalar(file["url"]); u != "" {
					urls = append(urls, u)
				}
			}
		}
		return urls, ""
	default:
		return nil, ""
	}
}

// rpcID normalizes the request id for echoing back: numbers become strings,
// absent stays null.
func rpcID(raw any) any {
	if raw == nil {
		return nil
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return scalar(raw)
}

func scalar(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case float64:
		return formatNumber(typed)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

func firstScalar(values ...any) string {
	for _, v := range values {
		if s := scalar(v); s != "" {
			return s
		}
	}
	return ""
}

func integer(v any) int64 {
	switch typed := v.(type) {
	case float64:
		return int64(typed)
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
