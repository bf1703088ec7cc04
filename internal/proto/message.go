package proto

import "encoding/json"

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	// InboundTypeHello carries handshake credentials; must be the first frame.
	InboundTypeHello  = "hello"
	InboundTypeJoin   = "join"
	InboundTypeLeave  = "leave"
	InboundTypeSignal = "signal"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Server-to-client event names.
const (
	EventNameConnected         = "connected"
	EventNameJoined            = "joined"
	EventNamePeerJoined        = "peer_joined"
	EventNameLeft              = "left"
	EventNamePeerLeft          = "peer_left"
	EventNameSignal            = "signal"
	EventNameMessageReceived   = "message_received"
	EventNameGroupCreated      = "group_created"
	EventNameGroupMemberJoined = "group_member_joined"
	EventNameMemberJoinedGroup = "member_joined_group"
)

// HelloData carries the opaque session token inside the handshake frame so
// it never appears in headers visible to intermediaries.
type HelloData struct {
	SessionToken string `json:"session_token"`
	Protocol     int    `json:"protocol,omitempty"`
}

// JoinData requests to join (or leave) a conversation room.
type JoinData struct {
	RoomID string `json:"room_id"`
}

// SignalData asks the server to relay an opaque payload to one connection.
type SignalData struct {
	ToConnectionID string          `json:"to_connection_id"`
	Data           json.RawMessage `json:"data"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventConnected acknowledges a successful handshake and tells the client
// its connection id, which peers need for targeted signal frames.
type EventConnected struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// EventRoomAck acknowledges a join or leave to the originating connection.
type EventRoomAck struct {
	RoomID  string `json:"room_id"`
	Success bool   `json:"success"`
}

// EventPeer notifies room members about another member joining or leaving.
type EventPeer struct {
	RoomID string `json:"room_id"`
	Sender string `json:"sender"`
}

// EventSignal is a relayed payload from another connection.
type EventSignal struct {
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data"`
}

// EventMessage is a persisted chat message delivered to a recipient.
type EventMessage struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	SentAt    int64  `json:"sent_at"`
}

// EventGroup describes a group chat in group lifecycle events.
type EventGroup struct {
	ChatID      string   `json:"chat_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members,omitempty"`
	Sender      string   `json:"sender,omitempty"`
}

// Error describes a protocol-level error response. Status carries an
// HTTP-style code for handshake rejections (401).
type Error struct {
	Code   string `json:"code"`
	Msg    string `json:"msg"`
	Status int    `json:"status,omitempty"`
}
