package chatcache

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestV1Decoder(t *testing.T) {
	t.Parallel()

	d := V1Decoder{IsSelf: func(s string) bool { return s == "me" }}

	cases := []struct {
		name    string
		raw     string
		wantErr bool
		wantOwn bool
		wantNm  string
	}{
		{name: "other", raw: `{"server_msg_id":"s1","sender":"bob","text":"hi","server_ts":"2026-05-01T08:00:00Z"}`, wantNm: "bob"},
		{name: "own", raw: `{"server_msg_id":"s2","sender":"me","sender_name":"Coach","text":"yo"}`, wantOwn: true, wantNm: "Coach"},
		{name: "missing id", raw: `{"sender":"bob","text":"hi"}`, wantErr: true},
		{name: "bad json", raw: `{"server_msg_id":`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m, err := d.Decode(json.RawMessage(tc.raw))
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedEvent) {
					t.Fatalf("err=%v want ErrMalformedEvent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if m.IsOwn != tc.wantOwn || m.IsRead != tc.wantOwn {
				t.Fatalf("own=%v read=%v want=%v", m.IsOwn, m.IsRead, tc.wantOwn)
			}
			if m.SenderName != tc.wantNm {
				t.Fatalf("sender=%q want=%q", m.SenderName, tc.wantNm)
			}
		})
	}
}
