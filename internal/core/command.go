package core

import "encoding/json"

// CommandKind describes what a connection wants the hub to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the connection to a conversation room.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom unsubscribes the connection from a conversation room.
	CommandLeaveRoom
	// CommandSignal relays an opaque payload to one target connection.
	CommandSignal
)

// Command represents an action requested by a connected client.
type Command struct {
	Kind   CommandKind
	Room   string
	Target string // connection id, signal only
	Data   json.RawMessage
}
