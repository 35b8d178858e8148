package state

import (
	"fmt"
	"strings"
)

// RoomKind namespaces room identifiers so unrelated features sharing the
// transport can never collide with order rooms.
type RoomKind string

const RoomKindOrder RoomKind = "order"

// RoomKey is the typed identity of a broadcast group.
type RoomKey struct {
	Kind RoomKind
	ID   string
}

// OrderRoom returns the key of the room tracking the given order.
func OrderRoom(orderID string) RoomKey {
	return RoomKey{Kind: RoomKindOrder, ID: orderID}
}

func (k RoomKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// IsZero reports whether either half of the key is missing.
func (k RoomKey) IsZero() bool {
	return k.Kind == "" || k.ID == ""
}

// ParseRoomKey is the inverse of RoomKey.String.
func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, _ := strings.Cut(s, ":")
	key := RoomKey{Kind: RoomKind(kind), ID: id}
	if key.IsZero() {
		return RoomKey{}, fmt.Errorf("malformed room key %q", s)
	}
	return key, nil
}
