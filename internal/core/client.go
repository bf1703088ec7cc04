package core

import "time"

// Client is one live transport connection as seen by the core layer.
// A user with several devices holds several clients sharing one UserID.
type Client struct {
	ID          string
	UserID      string
	Commands    chan *Command
	Events      chan *Event
	ConnectedAt time.Time

	// rooms is the set of room ids this connection belongs to.
	// Owned by the hub goroutine; nothing else may touch it.
	rooms map[string]struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id, userID string) *Client {
	return &Client{
		ID:          id,
		UserID:      userID,
		Commands:    make(chan *Command, 8),
		Events:      make(chan *Event, 32),
		ConnectedAt: time.Now(),
		rooms:       make(map[string]struct{}),
	}
}

// CloseCommands signals the hub that no further commands will arrive.
// Must be called exactly once, by the transport, once nothing can write to
// Commands anymore.
func (c *Client) CloseCommands() {
	close(c.Commands)
}

// send delivers an event without blocking the hub. Slow consumers lose
// events rather than stalling fan-out to everyone else.
func (c *Client) send(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
