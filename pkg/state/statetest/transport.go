// Package statetest provides an in-memory state.Transport for tests.
package statetest

import (
	"sync"

	"github.com/google/uuid"
)

// Transport records every frame sent to it.
type Transport struct {
	id uuid.UUID

	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	closeErr error
	// Reject makes Send drop frames, simulating a full buffer.
	Reject bool
}

func NewTransport() *Transport {
	return &Transport{id: uuid.New()}
}

func (t *Transport) ID() uuid.UUID { return t.id }

func (t *Transport) Send(msg []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.Reject {
		return false
	}
	t.frames = append(t.frames, msg)
	return true
}

func (t *Transport) Close(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeErr = err
}

// Frames returns a copy of every frame received so far.
func (t *Transport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.frames))
	copy(out, t.frames)
	return out
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
