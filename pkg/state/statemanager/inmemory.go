package statemanager

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/railx/ordertrack/pkg/state"
)

// Lock order is always connMu -> userMu -> roomMu.
type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	users map[string]*state.User
	rooms map[state.RoomKey]*state.Room

	connMu sync.RWMutex
	userMu sync.RWMutex
	roomMu sync.RWMutex

	now    func() time.Time
	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]*state.User),
		rooms:  make(map[state.RoomKey]*state.Room),
		now:    time.Now,
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn state.Transport, ipAddr string) (*state.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, fmt.Errorf("register %s: %w", connID, state.ErrConnectionExists)
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: conn,
		Rooms:     make(map[state.RoomKey]*state.Grant),
		CreatedAt: m.now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		return nil
	}
	delete(m.conns, connID)

	// detach conn from user
	if conn.User != nil {
		m.userMu.Lock()
		user := conn.User
		delete(user.Connections, connID)
		if len(user.Connections) == 0 {
			delete(m.users, user.ID)
		}
		m.userMu.Unlock()
		m.logger.Debug("Detached connection from user", slog.String("connID", connID.String()), slog.String("userID", user.ID))
	}

	m.roomMu.Lock()
	for key := range conn.Rooms {
		m.removeMemberLocked(conn, key)
	}
	m.roomMu.Unlock()

	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

func (m *InMemoryManager) GetUserConnectionCount(userID string) (int, error) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return 0, nil // User doesn't exist yet, so they have 0 connections.
	}
	return len(user.Connections), nil
}

// oldestConnectionLocked returns the user's earliest connection. Caller holds userMu.
func oldestConnectionLocked(user *state.User) *state.Connection {
	var oldestConn *state.Connection
	for _, conn := range user.Connections {
		if oldestConn == nil || conn.CreatedAt.Before(oldestConn.CreatedAt) {
			oldestConn = conn
		}
	}
	return oldestConn
}

// --- User Management ---

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, identity state.Identity, limit state.ConnectionLimit) (*state.User, *state.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.userMu.Lock()
	defer m.userMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, nil, fmt.Errorf("associate user %q: %w", identity.UserID, state.ErrConnectionNotFound)
	}

	user, exists := m.users[identity.UserID]
	if !exists {
		user = &state.User{
			ID:          identity.UserID,
			Connections: make(map[uuid.UUID]*state.Connection),
		}
		m.users[identity.UserID] = user
		m.logger.Debug("Created new user session", slog.String("userID", identity.UserID))
	}

	var evicted *state.Connection
	if _, member := user.Connections[connID]; !member && limit.MaxPerUser > 0 && len(user.Connections) >= limit.MaxPerUser {
		if !limit.EvictOldest {
			return nil, nil, fmt.Errorf("associate user %q: %w", identity.UserID, state.ErrUserLimitReached)
		}
		evicted = oldestConnectionLocked(user)
		// the evicted connection no longer counts against the user; its close
		// hook still deregisters it from rooms
		delete(user.Connections, evicted.ID)
		evicted.User = nil
		m.logger.Debug("Evicted oldest user connection", slog.String("userID", identity.UserID), slog.String("connID", evicted.ID.String()))
	}

	// the latest handshake wins; identities of one user share a token issuer
	user.Identity = identity
	conn.User = user
	conn.Identity = identity
	user.Connections[connID] = conn

	m.logger.Debug("Associated connection with user", slog.String("connID", connID.String()), slog.String("userID", identity.UserID))
	return user, evicted, nil
}

// --- Room & Membership Management ---

func (m *InMemoryManager) Join(connID uuid.UUID, key state.RoomKey, perms state.Permission) (*state.Grant, bool, error) {
	// Hold the connection table so a concurrent deregister cannot orphan the membership.
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, false, fmt.Errorf("join %s: %w", key, state.ErrConnectionNotFound)
	}

	if grant, exists := conn.Rooms[key]; exists {
		return grant, false, nil
	}

	room, exists := m.rooms[key]
	if !exists {
		room = &state.Room{
			Key:     key,
			Members: make(map[uuid.UUID]*state.Connection),
		}
		m.rooms[key] = room
		m.logger.Debug("Created room", slog.String("room", key.String()))
	}

	grant := &state.Grant{
		Conn:        conn,
		Room:        room,
		Permissions: perms,
		JoinedAt:    m.now(),
	}
	conn.Rooms[key] = grant
	room.Members[connID] = conn

	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("room", key.String()), slog.Int("members", len(room.Members)))
	return grant, true, nil
}

func (m *InMemoryManager) Leave(connID uuid.UUID, key state.RoomKey) error {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return fmt.Errorf("leave %s: %w", key, state.ErrConnectionNotFound)
	}
	if _, member := conn.Rooms[key]; !member {
		return fmt.Errorf("leave %s: %w", key, state.ErrRoomNotFound)
	}
	m.removeMemberLocked(conn, key)
	return nil
}

// removeMemberLocked drops conn from the room and deletes the room once it is
// empty. Caller holds roomMu.
func (m *InMemoryManager) removeMemberLocked(conn *state.Connection, key state.RoomKey) {
	delete(conn.Rooms, key)
	room, ok := m.rooms[key]
	if !ok {
		return
	}
	delete(room.Members, conn.ID)
	if len(room.Members) == 0 {
		delete(m.rooms, key)
		m.logger.Debug("Removed empty room", slog.String("room", key.String()))
	}
}

func (m *InMemoryManager) RoomRecipients(key state.RoomKey, exclude uuid.UUID) []state.Transport {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[key]
	if !ok {
		return nil
	}
	recipients := make([]state.Transport, 0, len(room.Members))
	for id, c := range room.Members {
		if id == exclude {
			continue
		}
		recipients = append(recipients, c.Transport)
	}
	return recipients
}

func (m *InMemoryManager) FindRoom(key state.RoomKey) (state.RoomSnapshot, bool) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[key]
	if !ok {
		return state.RoomSnapshot{}, false
	}
	return state.RoomSnapshot{
		Key:          room.Key,
		Members:      len(room.Members),
		LastLocation: room.LastLocation,
		LastStatus:   room.LastStatus,
	}, true
}

// RecordLastEvent caches frame on a live room. Frames for rooms without
// members are discarded.
func (m *InMemoryManager) RecordLastEvent(key state.RoomKey, kind state.EventKind, origin uuid.UUID, frame []byte) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	room, ok := m.rooms[key]
	if !ok {
		return
	}
	last := state.LastEvent{Origin: origin, Frame: frame}
	switch kind {
	case state.EventLocation:
		room.LastLocation = last
	case state.EventStatus:
		room.LastStatus = last
	}
}

func (m *InMemoryManager) Stats() (rooms, connections int) {
	m.connMu.RLock()
	connections = len(m.conns)
	m.connMu.RUnlock()

	m.roomMu.RLock()
	rooms = len(m.rooms)
	m.roomMu.RUnlock()
	return rooms, connections
}
