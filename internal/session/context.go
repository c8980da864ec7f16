// Package session holds the room and run the process is currently serving.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"sync"

	"github.com/linetrace/simulator/pkg/core"
)

// RoomNameLength is the length of a generated room name.
const RoomNameLength = 5

// NewRoomName returns a random URL-safe room name.
func NewRoomName() string {
	buf := make([]byte, RoomNameLength)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)[:RoomNameLength]
}

// Context holds the current room and run
type Context struct {
	mu   sync.RWMutex
	room string
	run  *core.Run
}

// NewContext creates a Context for room, generating a name when room is empty.
func NewContext(room string) *Context {
	if room == "" {
		room = NewRoomName()
	}
	return &Context{room: room}
}

// Room returns the room name
func (c *Context) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

// GetRun returns the current run, or nil before one starts
func (c *Context) GetRun() *core.Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.run
}

// RunID returns the current run's storage ID, 0 when there is none
func (c *Context) RunID() uint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.run == nil {
		return 0
	}
	return c.run.ID
}

// SetRun sets the current run
func (c *Context) SetRun(run *core.Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run = run
}
