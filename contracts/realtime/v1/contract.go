// Package v1 defines the realtime protocol v1 wire contract used by the chat layer.
//
// The gym dashboard speaks this protocol to the realtime server; the in-process loopback
// transport and the test servers produce the same payloads so every path decodes one format.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated during the handshake.
const Subprotocol = "arc.realtime.v1"

// Envelope types (wire-stable).
const (
	TypeHello    = "hello"
	TypeHelloAck = "hello_ack"

	TypeConversationJoin = "conversation_join"

	TypeMessageSend = "message_send"
	TypeMessageAck  = "message_ack"
	TypeMessageNew  = "message_new"

	TypeConversationHistoryFetch = "conversation_history_fetch"
	TypeConversationHistoryChunk = "conversation_history_chunk"

	TypeError = "error"
)

// Error codes sent by the server in ErrorPayload.Code.
const (
	CodeBadJSON       = "bad_json"
	CodeBadEnvelope   = "bad_envelope"
	CodeHelloFailed   = "hello_failed"
	CodeJoinFailed    = "join_failed"
	CodeNotJoined     = "not_joined"
	CodeSendFailed    = "send_failed"
	CodeHistoryFailed = "history_failed"
	CodeRateLimited   = "rate_limited"
	CodeUnsupported   = "unsupported"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ConvID  string          `json:"conv_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it into a versioned envelope.
func NewEnvelope(typ, id string, payload any, ts time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: raw,
	}, nil
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeConversationJoin,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypeConversationHistoryFetch,
		TypeConversationHistoryChunk,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Type, err)
	}
	return nil
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct{}

// HelloAckPayload carries the server-assigned session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// ConversationJoinPayload requests membership in a conversation; the server echoes it back.
type ConversationJoinPayload struct {
	ConversationID string `json:"conversation_id"`
	Kind           string `json:"kind,omitempty"`
}

// MessageSendPayload requests sending a message into the joined conversation.
type MessageSendPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	Text           string `json:"text"`
}

// MessageAckPayload acknowledges a send request and returns the canonical server ids.
type MessageAckPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	ServerMsgID    string `json:"server_msg_id"`
	Seq            int64  `json:"seq"`
}

// MessageNewPayload is broadcast when a new message is accepted, and is also the record
// format of history chunks.
type MessageNewPayload struct {
	ConversationID string    `json:"conversation_id"`
	ClientMsgID    string    `json:"client_msg_id"`
	ServerMsgID    string    `json:"server_msg_id"`
	Seq            int64     `json:"seq"`
	Sender         string    `json:"sender"`
	SenderName     string    `json:"sender_name,omitempty"`
	Text           string    `json:"text"`
	ServerTS       time.Time `json:"server_ts"`
}

// ConversationHistoryFetchPayload requests a history window for a conversation.
type ConversationHistoryFetchPayload struct {
	ConversationID string `json:"conversation_id"`
	AfterSeq       *int64 `json:"after_seq,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// ConversationHistoryChunkPayload returns messages for a history fetch request, ordered by seq ASC.
type ConversationHistoryChunkPayload struct {
	ConversationID string              `json:"conversation_id"`
	Messages       []MessageNewPayload `json:"messages"`
	HasMore        bool                `json:"has_more"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
