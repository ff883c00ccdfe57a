package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const defaultChannelType = "messaging"

// Static is a fixed in-memory directory.
type Static struct {
	rooms map[string]Room
	order []string
}

var _ Directory = (*Static)(nil)

// NewStatic builds a directory from rooms. Duplicate or empty ids are rejected.
func NewStatic(rooms ...Room) (*Static, error) {
	s := &Static{rooms: make(map[string]Room, len(rooms))}
	for _, r := range rooms {
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			return nil, fmt.Errorf("directory: empty room id")
		}
		if _, dup := s.rooms[r.ID]; dup {
			return nil, fmt.Errorf("directory: duplicate room %q", r.ID)
		}
		if r.ChannelType == "" {
			r.ChannelType = defaultChannelType
		}
		if r.ChannelID == "" {
			r.ChannelID = r.ID
		}
		s.rooms[r.ID] = r
		s.order = append(s.order, r.ID)
	}
	sort.Strings(s.order)
	return s, nil
}

// ParseStatic parses "id[:kind[:title]]" entries as produced by EnvCSV.
func ParseStatic(entries []string) (*Static, error) {
	rooms := make([]Room, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		parts := strings.SplitN(e, ":", 3)
		r := Room{ID: strings.TrimSpace(parts[0])}
		if len(parts) > 1 {
			r.ChannelType = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			r.Title = strings.TrimSpace(parts[2])
		}
		rooms = append(rooms, r)
	}
	return NewStatic(rooms...)
}

// List implements Directory.
func (s *Static) List(ctx context.Context) ([]Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Room, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rooms[id])
	}
	return out, nil
}

// Lookup implements Directory.
func (s *Static) Lookup(ctx context.Context, id string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	r, ok := s.rooms[strings.TrimSpace(id)]
	if !ok {
		return Room{}, ErrNotFound
	}
	return r, nil
}
