package state

import (
	"time"

	"github.com/google/uuid"
)

// Transport is the outbound half of a live connection.
type Transport interface {
	ID() uuid.UUID
	// Send queues a frame without blocking. It returns false when the frame
	// was dropped.
	Send(msg []byte) bool
	Close(err error)
}

// Identity is what the handshake proved about the caller.
type Identity struct {
	UserID      string
	Role        string
	Permissions Permission
	// Global identities are not bound to an order scope.
	Global bool
	Orders map[string]struct{}
}

// Allows reports whether the identity holds perm for the given order.
func (i Identity) Allows(orderID string, perm Permission) bool {
	if !i.Permissions.Has(perm) {
		return false
	}
	if i.Global {
		return true
	}
	_, ok := i.Orders[orderID]
	return ok
}

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Transport // The actual connection for sending messages
	User      *User     // Pointer to the owning user (nil until associated)
	// identity proven by this connection's handshake, fixed once associated
	Identity  Identity
	Rooms     map[RoomKey]*Grant
	CreatedAt time.Time
}

// canonical representation of a user, aggregating all their connections.
type User struct {
	ID          string
	Identity    Identity
	Connections map[uuid.UUID]*Connection
}

// canonical representation of a broadcast group. Rooms only exist while they
// have members.
type Room struct {
	Key     RoomKey
	Members map[uuid.UUID]*Connection
	// last relayed frames, replayed to late joiners
	LastLocation LastEvent
	LastStatus   LastEvent
}

// LastEvent is a cached frame and the local connection that published it.
// Origin is uuid.Nil for frames relayed from another node.
type LastEvent struct {
	Origin uuid.UUID
	Frame  []byte
}

// represents the relationship between a Connection and a Room, holding the permissions.
type Grant struct {
	Conn        *Connection
	Room        *Room
	Permissions Permission
	JoinedAt    time.Time
}

// RoomSnapshot is a copy of a room's replayable state.
type RoomSnapshot struct {
	Key          RoomKey
	Members      int
	LastLocation LastEvent
	LastStatus   LastEvent
}

// ConnectionLimit bounds the live connections of a single user.
type ConnectionLimit struct {
	// MaxPerUser of zero or less disables the limit.
	MaxPerUser int
	// EvictOldest detaches the user's oldest connection to make room instead
	// of refusing the new one.
	EvictOldest bool
}
