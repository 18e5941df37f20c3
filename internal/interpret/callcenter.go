package interpret

import (
	"fmt"
	"strings"
)

// CallCenter is the normalized call-center portion of a raw CDR. Upstream
// nests it under either an "inbound" or "outbound" variant key and is loose
// about the sub-disposition shape; everything here is already flattened.
type CallCenter struct {
	QueueID           string
	QueueName         string
	Disposition       string
	SubDisposition    string
	SubSubDisposition string
	AgentEvents       []AgentEvent
}

// AgentEvent is one agent-history entry. Times are raw epoch values in the
// same scale as the call's hangup time; zero means absent.
type AgentEvent struct {
	Extension  string
	DialTime   int64
	AnswerTime int64
}

// ExtractCallCenter pulls queue, disposition, and agent-history data out of a
// decoded raw CDR, tolerating all upstream shapes. Missing nested values fall
// back to the flat top-level fields.
func ExtractCallCenter(raw map[string]any) CallCenter {
	cc := subObject(raw, "inbound")
	if cc == nil {
		cc = subObject(raw, "outbound")
	}

	out := CallCenter{
		QueueID:     firstString(str(cc, "queue_id"), str(raw, "queue_id")),
		QueueName:   firstString(str(cc, "queue_name"), str(raw, "queue_name")),
		Disposition: firstString(str(cc, "disposition"), str(raw, "disposition")),
	}
	var subRaw any
	if cc != nil {
		subRaw = cc["sub_disposition"]
	}
	out.SubDisposition, out.SubSubDisposition = normalizeSubDisposition(subRaw, str(raw, "subdisposition"))

	events := listValue(cc, "agent_history")
	if events == nil {
		events = listValue(raw, "agent_history")
	}
	for _, ev := range events {
		m, ok := ev.(map[string]any)
		if !ok {
			continue
		}
		ext := firstString(str(m, "extension"), str(m, "agent_extension"), str(m, "agent_id"))
		if ext == "" {
			continue
		}
		dial, _ := AsInt64(m["dial_time"])
		answer, _ := AsInt64(m["answer_time"])
		out.AgentEvents = append(out.AgentEvents, AgentEvent{Extension: ext, DialTime: dial, AnswerTime: answer})
	}
	return out
}

// normalizeSubDisposition flattens the three upstream sub-disposition shapes
// into (primary, secondary):
//   - flat string
//   - one-level object: {"name": ..., "secondary": ...}
//   - two-level object: {"name": ..., "sub_disposition": {"name": ...}}
//
// A missing value falls back to the flat top-level field.
func normalizeSubDisposition(v any, fallback string) (string, string) {
	switch sub := v.(type) {
	case string:
		if s := strings.TrimSpace(sub); s != "" {
			return s, ""
		}
	case map[string]any:
		primary := str(sub, "name")
		secondary := str(sub, "secondary")
		if nested, ok := sub["sub_disposition"].(map[string]any); ok {
			secondary = firstString(str(nested, "name"), secondary)
		}
		if primary != "" || secondary != "" {
			return primary, secondary
		}
	}
	return fallback, ""
}

// RecordingReference derives the recording reference for a call: non-empty
// identifiers from the vendor channel-variable bag (a list or a comma-joined
// string), falling back to the call's own identifier. Without a tenant
// account id there is no reference at all.
func RecordingReference(raw map[string]any, accountID string) string {
	if accountID == "" {
		return ""
	}
	var ids []string
	ccv := subObject(raw, "custom_channel_vars")
	switch v := ccv["media_recordings"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				ids = append(ids, strings.TrimSpace(s))
			}
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				ids = append(ids, s)
			}
		}
	}
	if len(ids) == 0 {
		callID := str(raw, "call_id")
		if callID == "" {
			return ""
		}
		ids = []string{callID}
	}
	return fmt.Sprintf("/accounts/%s/recordings/%s", accountID, strings.Join(ids, ","))
}

func subObject(raw map[string]any, key string) map[string]any {
	if raw == nil {
		return nil
	}
	m, _ := raw[key].(map[string]any)
	return m
}

func listValue(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	l, _ := m[key].([]any)
	return l
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
