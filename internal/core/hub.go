package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ConnectionInfo is a diagnostic snapshot entry for one live connection.
type ConnectionInfo struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Hub owns the connection registry and all room membership. It runs as a
// single goroutine: every mutation and every fan-out is an op on its queue,
// which makes admit/remove/join/leave atomic per key and gives each
// connection FIFO event delivery without any locking.
type Hub struct {
	log *zerolog.Logger

	ops  chan func()
	done chan struct{}

	// clients and rooms are owned by the Run goroutine.
	clients map[string]*Client
	rooms   map[string]*Room
}

// NewHub creates a hub. The hub does nothing until Run is called.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		log:     logger,
		ops:     make(chan func(), 256),
		done:    make(chan struct{}),
		clients: make(map[string]*Client),
		rooms:   make(map[string]*Room),
	}
}

// Run processes hub operations until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			return
		}
	}
}

// enqueue schedules an op on the hub goroutine. Returns false once the hub
// has shut down; callers treat that as a no-op delivery.
func (h *Hub) enqueue(op func()) bool {
	select {
	case h.ops <- op:
		return true
	case <-h.done:
		return false
	}
}

// RegisterClient admits a connection. Admission and identity-room
// subscription happen in one op, so there is no observable state where a
// connection is registered but unreachable through its identity room.
// Idempotent per connection id.
func (h *Hub) RegisterClient(c *Client) {
	h.enqueue(func() { h.admit(c) })
	go h.pumpCommands(c)
}

// UnregisterClient removes a connection and purges every room membership it
// held. Idempotent: removing an unknown connection is a no-op.
func (h *Hub) UnregisterClient(c *Client) {
	h.enqueue(func() { h.remove(c) })
}

// ListConnections returns a point-in-time snapshot of admitted connections.
func (h *Hub) ListConnections() []ConnectionInfo {
	reply := make(chan []ConnectionInfo, 1)
	ok := h.enqueue(func() {
		infos := make([]ConnectionInfo, 0, len(h.clients))
		for _, c := range h.clients {
			infos = append(infos, ConnectionInfo{
				ConnectionID: c.ID,
				UserID:       c.UserID,
				ConnectedAt:  c.ConnectedAt,
			})
		}
		reply <- infos
	})
	if !ok {
		return nil
	}
	select {
	case infos := <-reply:
		return infos
	case <-h.done:
		return nil
	}
}

// DeliverToRooms fans an event out to every member of each room.
// Fire-and-forget: unknown or empty rooms are silent no-ops.
func (h *Hub) DeliverToRooms(roomIDs []string, ev *Event) {
	h.enqueue(func() { h.deliver(roomIDs, ev, "") })
}

// DeliverExcluding is DeliverToRooms minus exactly one connection. Only the
// named connection is skipped; other connections of the same user still
// receive the event.
func (h *Hub) DeliverExcluding(roomIDs []string, ev *Event, excludeConnID string) {
	h.enqueue(func() { h.deliver(roomIDs, ev, excludeConnID) })
}

// DeliverToIdentities treats each user id as its identity room, reaching
// every device of each user.
func (h *Hub) DeliverToIdentities(userIDs []string, ev *Event) {
	h.DeliverToRooms(userIDs, ev)
}

// NotifyRecipients pushes a persisted message into each recipient's identity
// room. Called by the REST layer strictly after the sender's response has
// been written; the actual delivery happens on the hub goroutine, never in
// the caller's stack.
func (h *Hub) NotifyRecipients(userIDs []string, msg MessageData) {
	h.DeliverToIdentities(userIDs, &Event{
		Kind:    EventMessageReceived,
		Sender:  msg.Sender,
		Message: &msg,
	})
}

// NotifyGroupCreated announces a new group to all of its members.
func (h *Hub) NotifyGroupCreated(userIDs []string, group GroupData) {
	h.DeliverToIdentities(userIDs, &Event{
		Kind:  EventGroupCreated,
		Group: &group,
	})
}

// NotifyMemberJoined tells existing group members about a new member.
func (h *Hub) NotifyMemberJoined(userIDs []string, group GroupData, joined string) {
	h.DeliverToIdentities(userIDs, &Event{
		Kind:   EventGroupMemberJoined,
		Sender: joined,
		Group:  &group,
	})
}

// NotifySelfJoined tells the member that just joined about its new group.
func (h *Hub) NotifySelfJoined(userID string, group GroupData) {
	h.DeliverToIdentities([]string{userID}, &Event{
		Kind:  EventMemberJoinedGroup,
		Group: &group,
	})
}

// pumpCommands forwards a client's commands onto the hub queue, preserving
// the order the transport read them in.
func (h *Hub) pumpCommands(c *Client) {
	for cmd := range c.Commands {
		cmd := cmd
		if !h.enqueue(func() { h.handleCommand(c, cmd) }) {
			return
		}
	}
}

// ---- hub-goroutine internals ----

func (h *Hub) admit(c *Client) {
	if _, exists := h.clients[c.ID]; exists {
		return
	}
	h.clients[c.ID] = c
	h.joinRoom(c, c.UserID)
	h.log.Debug().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Msg("connection admitted")
}

func (h *Hub) remove(c *Client) {
	if h.clients[c.ID] != c {
		return
	}
	delete(h.clients, c.ID)
	for roomID := range c.rooms {
		room, ok := h.rooms[roomID]
		if !ok {
			continue
		}
		room.remove(c)
		if room.empty() {
			delete(h.rooms, roomID)
		}
	}
	c.rooms = make(map[string]struct{})
	h.log.Debug().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Msg("connection removed")
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	if h.clients[c.ID] != c {
		// Connection disconnected while the command was queued.
		return
	}
	switch cmd.Kind {
	case CommandJoinRoom:
		h.handleJoin(c, cmd.Room)
	case CommandLeaveRoom:
		h.handleLeave(c, cmd.Room)
	case CommandSignal:
		h.handleSignal(c, cmd)
	default:
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "unknown command")})
	}
}

func (h *Hub) handleJoin(c *Client, roomID string) {
	if roomID == "" {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "room id is required")})
		return
	}
	added := h.joinRoom(c, roomID)

	// Duplicate joins still get the acknowledgement.
	c.send(&Event{Kind: EventJoined, Room: roomID, Success: true})
	if !added {
		return
	}

	room := h.rooms[roomID]
	peers := room.otherIdentities(c)
	h.deliver(peers, &Event{Kind: EventPeerJoined, Room: roomID, Sender: c.UserID}, c.ID)
	h.log.Debug().
		Str("user_id", c.UserID).
		Str("room_id", roomID).
		Msg("joined room")
}

func (h *Hub) handleLeave(c *Client, roomID string) {
	if roomID == "" {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "room id is required")})
		return
	}
	if roomID == c.UserID {
		// The identity room is left only by disconnecting.
		c.send(&Event{Kind: EventError, Room: roomID, Error: coreError(ErrCodeBadRequest, "cannot leave identity room")})
		return
	}
	room, ok := h.rooms[roomID]
	if !ok || !room.contains(c) {
		c.send(&Event{Kind: EventError, Room: roomID, Error: coreError(ErrCodeNotInRoom, "not in room")})
		return
	}

	room.remove(c)
	delete(c.rooms, roomID)

	c.send(&Event{Kind: EventLeft, Room: roomID, Success: true})
	peers := room.otherIdentities(c)
	h.deliver(peers, &Event{Kind: EventPeerLeft, Room: roomID, Sender: c.UserID}, c.ID)

	if room.empty() {
		delete(h.rooms, roomID)
	}
	h.log.Debug().
		Str("user_id", c.UserID).
		Str("room_id", roomID).
		Msg("left room")
}

func (h *Hub) handleSignal(c *Client, cmd *Command) {
	if cmd.Target == "" {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "target connection id is required")})
		return
	}
	target, ok := h.clients[cmd.Target]
	if !ok {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeUnknownConnection, "unknown target connection")})
		return
	}
	target.send(&Event{Kind: EventSignal, Sender: c.UserID, Signal: cmd.Data})
}

// joinRoom adds the connection to the room, creating it lazily.
// Returns false if the connection was already a member.
func (h *Hub) joinRoom(c *Client, roomID string) bool {
	room, ok := h.rooms[roomID]
	if !ok {
		room = newRoom(roomID)
		h.rooms[roomID] = room
	}
	if !room.add(c) {
		return false
	}
	c.rooms[roomID] = struct{}{}
	return true
}

// deliver fans an event out to the given rooms, minus one connection.
// Identity rooms with no live connections simply do not exist in the table,
// so delivering to them is a silent no-op.
func (h *Hub) deliver(roomIDs []string, ev *Event, excludeConnID string) {
	for _, id := range roomIDs {
		room, ok := h.rooms[id]
		if !ok {
			continue
		}
		_, dropped := room.broadcast(ev, excludeConnID)
		if dropped > 0 {
			h.log.Warn().
				Str("room_id", id).
				Int("dropped", dropped).
				Msg("dropped events for slow consumers")
		}
	}
}
