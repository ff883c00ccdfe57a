package chatcache

import (
	"fmt"
	"time"
)

// Message is one chat message as rendered by the UI. ID is its identity within a conversation.
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	SenderName string    `json:"sender_name"`
	SentAt     time.Time `json:"sent_at"`
	IsOwn      bool      `json:"is_own"`
	IsRead     bool      `json:"is_read"`
}

// Status is the load state of a cached conversation.
type Status uint8

const (
	// StatusUnloaded means the entry exists but history has never been fetched.
	StatusUnloaded Status = iota
	// StatusLoading means a history fetch is in flight.
	StatusLoading
	// StatusLoaded means history was fetched and a listener is attached.
	StatusLoaded
	// StatusError means the last fetch failed; the next activation retries.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a name produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{StatusUnloaded, StatusLoading, StatusLoaded, StatusError} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("chatcache: unknown status %q", b)
}

// canTransition reports whether from -> to is an edge of the activation state machine.
func canTransition(from, to Status) bool {
	switch {
	case from == StatusUnloaded && to == StatusLoading:
		return true
	case from == StatusLoading && to == StatusLoaded:
		return true
	case from == StatusLoading && to == StatusError:
		return true
	case from == StatusError && to == StatusLoading:
		return true
	default:
		return false
	}
}

// Descriptor identifies the external realtime channel backing a conversation.
// Room directory entries supply it.
type Descriptor struct {
	ChannelType string `json:"channel_type"`
	ChannelID   string `json:"channel_id"`
}

// CacheStats is derived from the Store on every call; it is never stored.
type CacheStats struct {
	ConversationCount int `json:"conversation_count"`
	TotalMessages     int `json:"total_messages"`
	LoadedCount       int `json:"loaded_count"`
}

// ConversationInfo is a read-only snapshot of one cached conversation.
type ConversationInfo struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	MessageCount   int       `json:"message_count"`
	UnreadCount    int       `json:"unread_count"`
	ListenerActive bool      `json:"listener_active"`
	HasChannel     bool      `json:"has_channel"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// ChangeKind classifies a Store change notification.
type ChangeKind uint8

const (
	// ChangeMessages means the full history of a conversation was replaced.
	ChangeMessages ChangeKind = iota + 1
	// ChangeAppend means one message was appended; Change.Message is set.
	ChangeAppend
	// ChangeRead means messages were marked read.
	ChangeRead
	// ChangeRemoved means the conversation was evicted.
	ChangeRemoved
	// ChangeCleared means the whole cache was cleared (logout).
	ChangeCleared
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeMessages:
		return "messages"
	case ChangeAppend:
		return "append"
	case ChangeRead:
		return "read"
	case ChangeRemoved:
		return "removed"
	case ChangeCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind as its lowercase name.
func (k ChangeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses a name produced by MarshalText.
func (k *ChangeKind) UnmarshalText(b []byte) error {
	for _, v := range []ChangeKind{ChangeMessages, ChangeAppend, ChangeRead, ChangeRemoved, ChangeCleared} {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("chatcache: unknown change kind %q", b)
}

// Change is delivered to observers after a Store mutation.
type Change struct {
	ConversationID string     `json:"conversation_id,omitempty"`
	Kind           ChangeKind `json:"kind"`
	Message        *Message   `json:"message,omitempty"`
}
