package interpret

import "testing"

func TestExtractCallCenterInboundVariant(t *testing.T) {
	raw := map[string]any{
		"inbound": map[string]any{
			"queue_id":        "q-100",
			"queue_name":      "Support",
			"disposition":     "answered",
			"sub_disposition": "resolved",
			"agent_history": []any{
				map[string]any{"extension": "2001", "dial_time": float64(100), "answer_time": float64(140)},
			},
		},
	}
	cc := ExtractCallCenter(raw)
	if cc.QueueID != "q-100" || cc.QueueName != "Support" {
		t.Fatalf("queue = %q/%q", cc.QueueID, cc.QueueName)
	}
	if cc.Disposition != "answered" || cc.SubDisposition != "resolved" || cc.SubSubDisposition != "" {
		t.Fatalf("disposition = %q/%q/%q", cc.Disposition, cc.SubDisposition, cc.SubSubDisposition)
	}
	if len(cc.AgentEvents) != 1 {
		t.Fatalf("agent events = %d, want 1", len(cc.AgentEvents))
	}
	ev := cc.AgentEvents[0]
	if ev.Extension != "2001" || ev.DialTime != 100 || ev.AnswerTime != 140 {
		t.Fatalf("agent event = %+v", ev)
	}
}

func TestExtractCallCenterOutboundVariant(t *testing.T) {
	raw := map[string]any{
		"outbound": map[string]any{
			"queue_id":    "q-dial",
			"disposition": "connected",
		},
	}
	cc := ExtractCallCenter(raw)
	if cc.QueueID != "q-dial" || cc.Disposition != "connected" {
		t.Fatalf("got %+v", cc)
	}
}

func TestExtractCallCenterTopLevelFallbacks(t *testing.T) {
	raw := map[string]any{
		"queue_name":     "Overflow",
		"disposition":    "abandoned",
		"subdisposition": "timeout",
		"agent_history": []any{
			map[string]any{"agent_extension": "2002"},
		},
	}
	cc := ExtractCallCenter(raw)
	if cc.QueueName != "Overflow" || cc.Disposition != "abandoned" {
		t.Fatalf("got %+v", cc)
	}
	if cc.SubDisposition != "timeout" {
		t.Fatalf("sub-disposition fallback = %q, want timeout", cc.SubDisposition)
	}
	if len(cc.AgentEvents) != 1 || cc.AgentEvents[0].Extension != "2002" {
		t.Fatalf("agent events = %+v", cc.AgentEvents)
	}
}

func TestNormalizeSubDispositionShapes(t *testing.T) {
	cases := []struct {
		name      string
		v         any
		fallback  string
		primary   string
		secondary string
	}{
		{name: "flat string", v: "callback", primary: "callback"},
		{
			name:      "one-level object",
			v:         map[string]any{"name": "sale", "secondary": "upsell"},
			primary:   "sale",
			secondary: "upsell",
		},
		{
			name:      "two-level object",
			v:         map[string]any{"name": "sale", "sub_disposition": map[string]any{"name": "renewal"}},
			primary:   "sale",
			secondary: "renewal",
		},
		{name: "absent with fallback", v: nil, fallback: "legacy", primary: "legacy"},
		{name: "empty string with fallback", v: "  ", fallback: "legacy", primary: "legacy"},
		{name: "empty object with fallback", v: map[string]any{}, fallback: "legacy", primary: "legacy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, s := normalizeSubDisposition(tc.v, tc.fallback)
			if p != tc.primary || s != tc.secondary {
				t.Fatalf("got (%q, %q), want (%q, %q)", p, s, tc.primary, tc.secondary)
			}
		})
	}
}

func TestRecordingReference(t *testing.T) {
	raw := map[string]any{
		"call_id": "call-1",
		"custom_channel_vars": map[string]any{
			"media_recordings": []any{"rec-a", "rec-b"},
		},
	}
	if got := RecordingReference(raw, "acct-1"); got != "/accounts/acct-1/recordings/rec-a,rec-b" {
		t.Fatalf("got %q", got)
	}
}

func TestRecordingReferenceCommaString(t *testing.T) {
	raw := map[string]any{
		"call_id": "call-1",
		"custom_channel_vars": map[string]any{
			"media_recordings": "rec-a, rec-b,",
		},
	}
	if got := RecordingReference(raw, "acct-1"); got != "/accounts/acct-1/recordings/rec-a,rec-b" {
		t.Fatalf("got %q", got)
	}
}

func TestRecordingReferenceFallsBackToCallID(t *testing.T) {
	raw := map[string]any{"call_id": "call-7"}
	if got := RecordingReference(raw, "acct-1"); got != "/accounts/acct-1/recordings/call-7" {
		t.Fatalf("got %q", got)
	}
}

func TestRecordingReferenceRequiresAccountID(t *testing.T) {
	raw := map[string]any{"call_id": "call-7"}
	if got := RecordingReference(raw, ""); got != "" {
		t.Fatalf("expected empty reference without account id, got %q", got)
	}
}
