// Package directory lists the rooms (conversations) the dashboard can open.
package directory

import (
	"context"
	"errors"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
)

// ErrNotFound is returned by Lookup for unknown rooms.
var ErrNotFound = errors.New("directory: room not found")

// Room is one conversation visible to the admin.
type Room struct {
	ID          string `json:"id"`
	ChannelType string `json:"channel_type"`
	ChannelID   string `json:"channel_id"`
	Title       string `json:"title,omitempty"`
}

// Descriptor returns the transport descriptor for r.
func (r Room) Descriptor() chatcache.Descriptor {
	return chatcache.Descriptor{ChannelType: r.ChannelType, ChannelID: r.ChannelID}
}

// Directory resolves rooms.
type Directory interface {
	// List returns rooms ordered by id.
	List(ctx context.Context) ([]Room, error)
	// Lookup returns ErrNotFound when id is unknown.
	Lookup(ctx context.Context, id string) (Room, error)
}
