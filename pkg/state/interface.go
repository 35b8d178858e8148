package state

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrConnectionExists   = errors.New("connection is already registered")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrRoomNotFound       = errors.New("room not found")
	ErrUserLimitReached   = errors.New("user connection limit reached")
)

// EventKind selects which replay slot of a room a frame is cached in.
type EventKind int

const (
	EventLocation EventKind = iota
	EventStatus
)

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn Transport, ipAddr string) (*Connection, error)
	// DeregisterConnection detaches the connection from its user and from
	// every room it joined. Calling it twice is a no-op.
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	AllConnections() []*Connection

	// --- User Management ---
	// AssociateUser links a connection to a user, creating the user if they
	// don't exist. The limit is checked and the slot taken under one lock.
	// At the limit it fails with ErrUserLimitReached, or with EvictOldest set
	// detaches and returns the user's oldest connection for the caller to close.
	AssociateUser(connID uuid.UUID, identity Identity, limit ConnectionLimit) (user *User, evicted *Connection, err error)
	GetUserConnectionCount(userID string) (int, error)

	// --- Room & Membership Management ---
	// Join adds the connection to a room, creating the room if it doesn't
	// exist. joined is false when the connection was already a member.
	Join(connID uuid.UUID, key RoomKey, perms Permission) (grant *Grant, joined bool, err error)
	Leave(connID uuid.UUID, key RoomKey) error
	// RoomRecipients returns the transports of every member except exclude.
	RoomRecipients(key RoomKey, exclude uuid.UUID) []Transport
	FindRoom(key RoomKey) (RoomSnapshot, bool)
	// RecordLastEvent caches frame for late joiners. origin is the local
	// publishing connection, or uuid.Nil.
	RecordLastEvent(key RoomKey, kind EventKind, origin uuid.UUID, frame []byte)

	Stats() (rooms, connections int)
}
