package chatcache

import (
	"encoding/json"
	"strings"

	v1 "github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/contracts/realtime/v1"
)

// Decoder translates a raw record (push event or history entry) into a Message.
type Decoder interface {
	Decode(raw json.RawMessage) (Message, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(raw json.RawMessage) (Message, error)

// Decode calls f(raw).
func (f DecoderFunc) Decode(raw json.RawMessage) (Message, error) { return f(raw) }

// V1Decoder decodes realtime v1 MessageNewPayload records.
//
// IsSelf decides ownership; own messages are born read. A nil IsSelf marks nothing as own.
type V1Decoder struct {
	IsSelf func(sender string) bool
}

// Decode implements Decoder.
func (d V1Decoder) Decode(raw json.RawMessage) (Message, error) {
	if len(raw) == 0 {
		return Message{}, &MalformedEventError{Reason: "empty record"}
	}

	var p v1.MessageNewPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Message{}, &MalformedEventError{Reason: "invalid json", Err: err}
	}

	id := strings.TrimSpace(p.ServerMsgID)
	if id == "" {
		return Message{}, &MalformedEventError{Reason: "missing server_msg_id"}
	}

	name := p.SenderName
	if name == "" {
		name = p.Sender
	}

	own := d.IsSelf != nil && p.Sender != "" && d.IsSelf(p.Sender)
	return Message{
		ID:         id,
		Text:       p.Text,
		SenderName: name,
		SentAt:     p.ServerTS.UTC(),
		IsOwn:      own,
		IsRead:     own,
	}, nil
}
