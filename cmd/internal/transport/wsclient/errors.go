package wsclient

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every operation on a released or failed channel.
	ErrClosed = errors.New("wsclient: channel closed")
	// ErrUnexpectedReply means the server answered a request with the wrong envelope type.
	ErrUnexpectedReply = errors.New("wsclient: unexpected reply")
	// ErrForeignChannel is returned by Release for channels this transport did not open.
	ErrForeignChannel = errors.New("wsclient: channel not owned by this transport")
	// ErrHistoryTruncated means history paging hit MaxHistoryPages before reaching the newest record.
	ErrHistoryTruncated = errors.New("wsclient: history longer than page budget")
)

// ServerError is an error envelope returned by the realtime server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wsclient: server error: %s", e.Code)
	}
	return fmt.Sprintf("wsclient: server error: %s: %s", e.Code, e.Message)
}

// IsServerCode reports whether err is a ServerError with the given code.
func IsServerCode(err error, code string) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == code
}
