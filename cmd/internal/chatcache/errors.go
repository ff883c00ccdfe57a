package chatcache

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed is the kind of every history fetch failure (including subscribe failures).
	ErrFetchFailed = errors.New("chatcache: history fetch failed")
	// ErrSendFailed is the kind of every send failure that produced an optimistic fallback.
	ErrSendFailed = errors.New("chatcache: send failed")
	// ErrMalformedEvent marks a push event or history record that could not be translated.
	ErrMalformedEvent = errors.New("chatcache: malformed event")
	// ErrInvariantViolation marks a programming error (e.g. transition on an absent entry).
	ErrInvariantViolation = errors.New("chatcache: invariant violation")
	// ErrSessionCleared is returned by loads that completed after Clear.
	ErrSessionCleared = errors.New("chatcache: session cleared")
	// ErrNotLoaded is returned by operations that need a loaded conversation.
	ErrNotLoaded = errors.New("chatcache: conversation not loaded")
	// ErrNoChannel is the cause of a send attempted on a conversation without a channel.
	ErrNoChannel = errors.New("chatcache: conversation has no channel")
	// ErrEmptyText rejects sends with blank text.
	ErrEmptyText = errors.New("chatcache: empty message text")
	// ErrInvalidInput rejects malformed arguments (empty ids, nil channels).
	ErrInvalidInput = errors.New("chatcache: invalid input")
)

// FetchError reports a failed history fetch for one conversation.
// The conversation keeps its previous messages and moves to StatusError.
type FetchError struct {
	ConversationID string
	Err            error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrFetchFailed, e.ConversationID, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetchFailed, e.Err} }

// SendError reports a failed send. Fallback is the optimistic message appended locally.
type SendError struct {
	ConversationID string
	Err            error
	Fallback       Message
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrSendFailed, e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() []error { return []error{ErrSendFailed, e.Err} }

// InvariantError describes a violated Store or Subscriptions contract.
type InvariantError struct {
	Op             string
	ConversationID string
	Msg            string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %v: %s: %s", e.Op, ErrInvariantViolation, e.ConversationID, e.Msg)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// MalformedEventError wraps a translation failure.
type MalformedEventError struct {
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", ErrMalformedEvent, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %v", ErrMalformedEvent, e.Reason, e.Err)
}

func (e *MalformedEventError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedEvent}
	}
	return []error{ErrMalformedEvent, e.Err}
}

// IsFetchFailed reports whether err is a history fetch failure.
func IsFetchFailed(err error) bool { return errors.Is(err, ErrFetchFailed) }

// IsSendFailed reports whether err is a send failure with a fallback.
func IsSendFailed(err error) bool { return errors.Is(err, ErrSendFailed) }

// FallbackOf returns the optimistic message carried by a send failure.
func FallbackOf(err error) (Message, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se.Fallback, true
	}
	return Message{}, false
}
