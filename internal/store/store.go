package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a registered user. The handle is the public, unique name
// other users search for; the id is the stable identity used everywhere else.
type User struct {
	ID           string
	Handle       string
	PasswordHash string
	CreatedAt    time.Time
}

// ChatType distinguishes direct chats from named groups.
type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// Chat represents a conversation: a two-party direct chat or a group.
type Chat struct {
	ID          string
	Type        ChatType
	Name        string  // groups only
	Description string  // groups only
	DirectKey   *string // direct chats: "dm:{lowID}:{highID}"
	CreatedAt   time.Time
}

// ChatMember represents membership of a user in a chat.
type ChatMember struct {
	ChatID   string
	UserID   string
	IsAdmin  bool
	JoinedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Text      string
	CreatedAt time.Time
}

// Session is a persisted login session. The session table is mutated only
// through this store; the realtime layer resolves tokens read-only.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a user with a hashed password.
	CreateUser(ctx context.Context, handle, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by id.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByHandle retrieves a user by handle.
	GetUserByHandle(ctx context.Context, handle string) (*User, error)

	// ResolveIDFromHandle returns the user id for a handle, or ErrNotFound.
	ResolveIDFromHandle(ctx context.Context, handle string) (string, error)

	// SearchUsers returns users whose handle starts with the given prefix.
	SearchUsers(ctx context.Context, handlePrefix string) ([]*User, error)

	// HandleAvailable reports whether the handle is free to register.
	HandleAvailable(ctx context.Context, handle string) (bool, error)
}

// ChatStore handles chat and membership persistence.
type ChatStore interface {
	// CreateDirectChat creates (or returns the existing) direct chat between
	// two users, adding both as members.
	CreateDirectChat(ctx context.Context, userID, otherUserID string) (*Chat, error)

	// CreateGroup creates a group chat with the given members; admins must be
	// a subset of members.
	CreateGroup(ctx context.Context, name, description string, memberIDs, adminIDs []string) (*Chat, error)

	// GetChatByID retrieves a chat by id.
	GetChatByID(ctx context.Context, id string) (*Chat, error)

	// AddMember adds a user to a chat. Adding an existing member is a no-op.
	AddMember(ctx context.Context, chatID, userID string, admin bool) error

	// IsMember reports whether the user belongs to the chat.
	IsMember(ctx context.Context, chatID, userID string) (bool, error)

	// ResolveMembers lists the user ids of all chat members.
	ResolveMembers(ctx context.Context, chatID string) ([]string, error)

	// ListChatsForUser lists the chats the user belongs to, newest first.
	// Clients call this at startup to bootstrap their chat list.
	ListChatsForUser(ctx context.Context, userID string) ([]*Chat, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and returns it together with the
	// recipient identities: the chat members minus the sender.
	SaveMessage(ctx context.Context, chatID, senderID, text string) (*Message, []string, error)

	// ListMessages retrieves messages from a chat, newest first, up to limit.
	ListMessages(ctx context.Context, chatID string, limit int) ([]*Message, error)
}

// SessionStore handles login session persistence.
type SessionStore interface {
	// CreateSession persists a new session.
	CreateSession(ctx context.Context, id, userID string, expiresAt time.Time) (*Session, error)

	// GetSession retrieves a session by id, or ErrNotFound.
	GetSession(ctx context.Context, id string) (*Session, error)

	// DeleteSession removes a session. Deleting an unknown id is a no-op.
	DeleteSession(ctx context.Context, id string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore
	MessageStore
	SessionStore

	// Close closes the underlying database connection.
	Close() error
}
