package core

import (
	"encoding/json"
	"time"
)

// EventKind is a notification the core emits to connections. The catalog is
// closed: the transport mapper switches over every kind, so an event without
// a wire mapping is visible at review time instead of failing at runtime.
type EventKind int

const (
	// EventJoined acknowledges a room join to the joining connection.
	EventJoined EventKind = iota
	// EventPeerJoined notifies other room members that a peer joined.
	EventPeerJoined
	// EventLeft acknowledges a room leave to the leaving connection.
	EventLeft
	// EventPeerLeft notifies other room members that a peer left.
	EventPeerLeft
	// EventSignal relays an opaque payload to one targeted connection.
	EventSignal
	// EventMessageReceived delivers a persisted chat message to recipients.
	EventMessageReceived
	// EventGroupCreated notifies members that a group was created.
	EventGroupCreated
	// EventGroupMemberJoined notifies existing members about a new member.
	EventGroupMemberJoined
	// EventMemberJoinedGroup notifies the new member about the group it joined.
	EventMemberJoinedGroup
	// EventError reports a protocol error to the originating connection only.
	EventError
)

// Event is an immutable notification dispatched to zero or more connections.
// Events are not persisted by the core; persistence belongs to the store.
type Event struct {
	Kind    EventKind
	Room    string // room the event refers to (join/leave family)
	Sender  string // identity that caused the event
	Success bool   // join/leave acknowledgements
	Signal  json.RawMessage
	Message *MessageData
	Group   *GroupData
	Error   *CoreError
}

// MessageData is the persisted message payload fanned out to recipients.
// It carries the same data the sender received in its synchronous response.
type MessageData struct {
	MessageID string
	ChatID    string
	Sender    string
	Text      string
	SentAt    time.Time
}

// GroupData describes a group chat in group lifecycle events.
type GroupData struct {
	ChatID      string
	Name        string
	Description string
	Members     []string
}
