package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RoomKind discriminates the three room namespaces.
type RoomKind uint8

const (
	// RoomGroup is a study group; membership mirrors group authorization.
	RoomGroup RoomKind = iota + 1
	// RoomResource is a todo chat belonging to exactly one group.
	RoomResource
	// RoomInvitation is a per-user channel for point-to-point delivery.
	RoomInvitation
)

func (k RoomKind) String() string {
	switch k {
	case RoomGroup:
		return "group"
	case RoomResource:
		return "todo"
	case RoomInvitation:
		return "user"
	default:
		return "unknown"
	}
}

// RoomKey identifies a room. It is comparable and used directly as a map key.
type RoomKey struct {
	Kind RoomKind
	ID   string
}

// GroupRoom returns the key of a group room.
func GroupRoom(groupID string) RoomKey { return RoomKey{Kind: RoomGroup, ID: groupID} }

// ResourceRoom returns the key of a todo room.
func ResourceRoom(todoID string) RoomKey { return RoomKey{Kind: RoomResource, ID: todoID} }

// InvitationRoom returns the key of a user's private channel.
func InvitationRoom(userID string) RoomKey { return RoomKey{Kind: RoomInvitation, ID: userID} }

func (k RoomKey) String() string {
	return k.Kind.String() + ":" + k.ID
}

// IsZero reports whether k is unset.
func (k RoomKey) IsZero() bool { return k.Kind == 0 && k.ID == "" }

// ParseRoomKey parses the String form. It is used for persisted messages
// and lifecycle events, never for routing live traffic.
func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return RoomKey{}, fmt.Errorf("invalid room key %q", s)
	}
	switch kind {
	case "group":
		return GroupRoom(id), nil
	case "todo":
		return ResourceRoom(id), nil
	case "user":
		return InvitationRoom(id), nil
	default:
		return RoomKey{}, fmt.Errorf("invalid room kind %q", kind)
	}
}

// ID is an identifier that clients may send either as a JSON string or as a
// JSON number. It always marshals as a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// IDs converts a slice of ID to plain strings, dropping blanks and duplicates.
func IDs(in []ID) []string {
	out := make([]string, 0, len(in))
	seen := make(map[ID]struct{}, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, string(v))
	}
	return out
}
