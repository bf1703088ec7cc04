package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/lo"

	"github.com/buzz-im/buzz-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	handle        TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	direct_key  TEXT UNIQUE,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_members (
	chat_id   TEXT NOT NULL REFERENCES chats(id),
	user_id   TEXT NOT NULL REFERENCES users(id),
	is_admin  BOOLEAN NOT NULL DEFAULT 0,
	joined_at DATETIME NOT NULL,
	PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL REFERENCES chats(id),
	sender_id  TEXT NOT NULL REFERENCES users(id),
	text       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a user with a hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, handle, passwordHash string) (*store.User, error) {
	user := &store.User{
		ID:           uuid.NewString(),
		Handle:       handle,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	query := `INSERT INTO users (id, handle, password_hash, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Handle, user.PasswordHash, user.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by id.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, `SELECT id, handle, password_hash, created_at FROM users WHERE id = ?`, id)
}

// GetUserByHandle retrieves a user by handle.
func (s *SQLiteStore) GetUserByHandle(ctx context.Context, handle string) (*store.User, error) {
	return s.getUser(ctx, `SELECT id, handle, password_hash, created_at FROM users WHERE handle = ?`, handle)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg any) (*store.User, error) {
	var user store.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Handle,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ResolveIDFromHandle returns the user id for a handle.
func (s *SQLiteStore) ResolveIDFromHandle(ctx context.Context, handle string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE handle = ?`, handle).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("query user id: %w", err)
	}
	return id, nil
}

// SearchUsers returns users whose handle starts with the given prefix.
func (s *SQLiteStore) SearchUsers(ctx context.Context, handlePrefix string) ([]*store.User, error) {
	query := `
		SELECT id, handle, password_hash, created_at
		FROM users
		WHERE handle LIKE ? ESCAPE '\'
		ORDER BY handle
		LIMIT 50
	`
	rows, err := s.db.QueryContext(ctx, query, escapeLike(handlePrefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var user store.User
		if err := rows.Scan(&user.ID, &user.Handle, &user.PasswordHash, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

// HandleAvailable reports whether the handle is free to register.
func (s *SQLiteStore) HandleAvailable(ctx context.Context, handle string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE handle = ?`, handle).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count handle: %w", err)
	}
	return count == 0, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

// ==== ChatStore implementation ====

// CreateDirectChat creates (or returns the existing) direct chat between two
// users, adding both as members.
func (s *SQLiteStore) CreateDirectChat(ctx context.Context, userID, otherUserID string) (*store.Chat, error) {
	directKey := directKeyFor(userID, otherUserID)

	existing, err := s.getChat(ctx, `SELECT id, type, name, description, direct_key, created_at FROM chats WHERE direct_key = ?`, directKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	chat := &store.Chat{
		ID:        uuid.NewString(),
		Type:      store.ChatTypeDirect,
		DirectKey: &directKey,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chats (id, type, name, description, direct_key, created_at) VALUES (?, ?, '', '', ?, ?)`,
		chat.ID, chat.Type, directKey, chat.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	for _, uid := range []string{userID, otherUserID} {
		if err := addMemberTx(ctx, tx, chat.ID, uid, false); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return chat, nil
}

// CreateGroup creates a group chat with the given members.
func (s *SQLiteStore) CreateGroup(ctx context.Context, name, description string, memberIDs, adminIDs []string) (*store.Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	chat := &store.Chat{
		ID:          uuid.NewString(),
		Type:        store.ChatTypeGroup,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chats (id, type, name, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		chat.ID, chat.Type, chat.Name, chat.Description, chat.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	for _, uid := range lo.Uniq(memberIDs) {
		if err := addMemberTx(ctx, tx, chat.ID, uid, lo.Contains(adminIDs, uid)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return chat, nil
}

// GetChatByID retrieves a chat by id.
func (s *SQLiteStore) GetChatByID(ctx context.Context, id string) (*store.Chat, error) {
	return s.getChat(ctx, `SELECT id, type, name, description, direct_key, created_at FROM chats WHERE id = ?`, id)
}

func (s *SQLiteStore) getChat(ctx context.Context, query string, arg any) (*store.Chat, error) {
	var chat store.Chat
	var directKey sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&chat.ID,
		&chat.Type,
		&chat.Name,
		&chat.Description,
		&directKey,
		&chat.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}
	if directKey.Valid {
		chat.DirectKey = &directKey.String
	}
	return &chat, nil
}

// AddMember adds a user to a chat. Adding an existing member is a no-op.
func (s *SQLiteStore) AddMember(ctx context.Context, chatID, userID string, admin bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_members (chat_id, user_id, is_admin, joined_at) VALUES (?, ?, ?, ?)`,
		chatID, userID, admin, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert chat member: %w", err)
	}
	return nil
}

func addMemberTx(ctx context.Context, tx *sql.Tx, chatID, userID string, admin bool) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_members (chat_id, user_id, is_admin, joined_at) VALUES (?, ?, ?, ?)`,
		chatID, userID, admin, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert chat member: %w", err)
	}
	return nil
}

// IsMember reports whether the user belongs to the chat.
func (s *SQLiteStore) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chat_members WHERE chat_id = ? AND user_id = ?`,
		chatID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count membership: %w", err)
	}
	return count > 0, nil
}

// ResolveMembers lists the user ids of all chat members.
func (s *SQLiteStore) ResolveMembers(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM chat_members WHERE chat_id = ? ORDER BY joined_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// ListChatsForUser lists the chats the user belongs to, newest first.
func (s *SQLiteStore) ListChatsForUser(ctx context.Context, userID string) ([]*store.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.type, c.name, c.description, c.direct_key, c.created_at
		FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = ?
		ORDER BY c.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []*store.Chat
	for rows.Next() {
		var chat store.Chat
		var directKey sql.NullString
		if err := rows.Scan(&chat.ID, &chat.Type, &chat.Name, &chat.Description, &directKey, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		if directKey.Valid {
			chat.DirectKey = &directKey.String
		}
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

func directKeyFor(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and returns it with the recipient set:
// the chat members minus the sender. Senders that are not members are
// rejected before anything is written.
func (s *SQLiteStore) SaveMessage(ctx context.Context, chatID, senderID, text string) (*store.Message, []string, error) {
	members, err := s.ResolveMembers(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if len(members) == 0 {
		return nil, nil, store.ErrNotFound
	}
	if !lo.Contains(members, senderID) {
		return nil, nil, store.ErrNotFound
	}

	msg := &store.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Text, msg.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert message: %w", err)
	}

	recipients := lo.Filter(members, func(id string, _ int) bool { return id != senderID })
	return msg, recipients, nil
}

// ListMessages retrieves messages from a chat, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, sender_id, text, created_at FROM messages WHERE chat_id = ? ORDER BY created_at DESC LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// ==== SessionStore implementation ====

// CreateSession persists a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, id, userID string, expiresAt time.Time) (*store.Session, error) {
	sess := &store.Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	var sess store.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id = ?`, id).Scan(
		&sess.ID,
		&sess.UserID,
		&sess.CreatedAt,
		&sess.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
