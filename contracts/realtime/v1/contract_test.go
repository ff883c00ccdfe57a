package v1

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEnvelope_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr string
	}{
		{name: "ok", env: Envelope{V: Version, Type: TypeMessageNew}},
		{name: "missing version", env: Envelope{Type: TypeHello}, wantErr: "missing field: v"},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeHello}, wantErr: "unsupported protocol version"},
		{name: "missing type", env: Envelope{V: Version}, wantErr: "missing field: type"},
		{name: "unknown type", env: Envelope{V: Version, Type: "presence"}, wantErr: "unknown type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.env.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("got=%v want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestNewEnvelope_WrapsPayload(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(TypeMessageSend, "env-1", MessageSendPayload{
		ConversationID: "r1",
		ClientMsgID:    "c1",
		Text:           "hola",
	}, ts)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.V != Version || env.Type != TypeMessageSend || env.ID != "env-1" || !env.TS.Equal(ts) {
		t.Fatalf("envelope=%+v", env)
	}

	var p MessageSendPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Text != "hola" || p.ConversationID != "r1" {
		t.Fatalf("payload=%+v", p)
	}
}

func TestNewEnvelope_DefaultsTimestamp(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(TypeHello, "", HelloPayload{}, time.Time{})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.TS.IsZero() {
		t.Fatalf("ts not defaulted")
	}
}

func TestEnvelope_DecodeErrors(t *testing.T) {
	t.Parallel()

	var p MessageNewPayload
	if err := (Envelope{Type: TypeMessageNew}).Decode(&p); err == nil || !strings.Contains(err.Error(), "empty payload") {
		t.Fatalf("got=%v want empty payload error", err)
	}
	bad := Envelope{Type: TypeMessageNew, Payload: json.RawMessage(`{"seq":"x"}`)}
	if err := bad.Decode(&p); err == nil || !strings.Contains(err.Error(), "invalid payload") {
		t.Fatalf("got=%v want invalid payload error", err)
	}
}

func TestMessageNewPayload_SenderNameOmitted(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(MessageNewPayload{ConversationID: "r1", ServerMsgID: "s1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "sender_name") {
		t.Fatalf("sender_name not omitted: %s", b)
	}
}
