package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/buzz-im/buzz-server/internal/core"
	"github.com/buzz-im/buzz-server/internal/store"
)

// Notifier is the realtime fan-out surface the REST layer uses. Handlers
// call it strictly after the HTTP response has been written, so the sender's
// synchronous confirmation always precedes the push to recipients.
type Notifier interface {
	NotifyRecipients(userIDs []string, msg core.MessageData)
	NotifyGroupCreated(userIDs []string, group core.GroupData)
	NotifyMemberJoined(userIDs []string, group core.GroupData, joined string)
	NotifySelfJoined(userID string, group core.GroupData)
}

// SendMessageRequest is the body for POST /v1/chat/send/message.
type SendMessageRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
	Text   string `json:"text" binding:"required,max=2056"`
}

// MessagePayload is the persisted message as returned to the sender and
// pushed to recipients.
type MessagePayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	SentAt    int64  `json:"sent_at"`
}

// SendMessageResponse confirms persistence to the sender.
type SendMessageResponse struct {
	Confirmation bool           `json:"confirmation"`
	Message      MessagePayload `json:"message"`
}

// CreateChatRequest is the body for POST /v1/chat/create/chat.
type CreateChatRequest struct {
	Handle string `json:"handle" binding:"required"`
}

// ChatResponse describes a created direct chat.
type ChatResponse struct {
	ChatID string `json:"chat_id"`
	Type   string `json:"type"`
}

// CreateGroupRequest is the body for POST /v1/chat/create/group.
// Members are handles; unknown handles are skipped.
type CreateGroupRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Members     []string `json:"members"`
}

// GroupResponse describes a group chat.
type GroupResponse struct {
	ChatID      string   `json:"chat_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members"`
}

// JoinGroupRequest is the body for POST /v1/chat/join/group.
type JoinGroupRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
}

// MembersResponse lists the members of a chat.
type MembersResponse struct {
	ChatID  string        `json:"chat_id"`
	Members []UserSummary `json:"members"`
}

// ChatSummary is one entry in the bootstrap chat listing.
type ChatSummary struct {
	ChatID      string `json:"chat_id"`
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ChatsResponse lists the caller's chats.
type ChatsResponse struct {
	Chats []ChatSummary `json:"chats"`
}

// MessagesResponse lists recent messages from a chat, newest first.
type MessagesResponse struct {
	ChatID   string           `json:"chat_id"`
	Messages []MessagePayload `json:"messages"`
}

// ChatHandlers serves chat creation and messaging endpoints.
type ChatHandlers struct {
	store    store.Store
	notifier Notifier
	log      *zerolog.Logger
}

// NewChatHandlers creates the chat REST handlers.
func NewChatHandlers(st store.Store, notifier Notifier, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{store: st, notifier: notifier, log: logger}
}

// SendMessage handles POST /v1/chat/send/message. The message is persisted,
// the sender gets its confirmation, and only then is the fan-out to
// recipient identity rooms scheduled.
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	userID, handle, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "chat_id and text (max 2056 chars) are required"})
		return
	}

	msg, recipients, err := h.store.SaveMessage(c.Request.Context(), req.ChatID, userID, req.Text)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "chat not found or not a member"})
			return
		}
		h.log.Error().Err(err).Str("chat_id", req.ChatID).Msg("save message failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	payload := MessagePayload{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		Sender:    handle,
		Text:      msg.Text,
		SentAt:    msg.CreatedAt.Unix(),
	}
	c.JSON(http.StatusOK, SendMessageResponse{Confirmation: true, Message: payload})

	// Response is written; the hub delivers on its own goroutine.
	h.notifier.NotifyRecipients(recipients, core.MessageData{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		Sender:    handle,
		Text:      msg.Text,
		SentAt:    msg.CreatedAt,
	})
}

// CreateChat handles POST /v1/chat/create/chat. Creating a chat that already
// exists returns the existing one.
func (h *ChatHandlers) CreateChat(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "handle is required"})
		return
	}

	otherID, err := h.store.ResolveIDFromHandle(c.Request.Context(), req.Handle)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Msg("resolve handle failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	if otherID == userID {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot create a chat with yourself"})
		return
	}

	chat, err := h.store.CreateDirectChat(c.Request.Context(), userID, otherID)
	if err != nil {
		h.log.Error().Err(err).Msg("create direct chat failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusCreated, ChatResponse{ChatID: chat.ID, Type: string(chat.Type)})
}

// CreateGroup handles POST /v1/chat/create/group. The creator becomes the
// group admin and is always a member; unknown member handles are skipped.
// All members are notified after the creator's response is written.
func (h *ChatHandlers) CreateGroup(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required"})
		return
	}

	memberIDs := []string{userID}
	for _, handle := range req.Members {
		id, err := h.store.ResolveIDFromHandle(c.Request.Context(), handle)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				h.log.Warn().Str("handle", handle).Msg("skipping unknown group member")
				continue
			}
			h.log.Error().Err(err).Msg("resolve handle failed")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
			return
		}
		memberIDs = append(memberIDs, id)
	}
	memberIDs = lo.Uniq(memberIDs)

	chat, err := h.store.CreateGroup(c.Request.Context(), req.Name, req.Description, memberIDs, []string{userID})
	if err != nil {
		h.log.Error().Err(err).Msg("create group failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	group := core.GroupData{
		ChatID:      chat.ID,
		Name:        chat.Name,
		Description: chat.Description,
		Members:     memberIDs,
	}
	c.JSON(http.StatusCreated, GroupResponse{
		ChatID:      chat.ID,
		Name:        chat.Name,
		Description: chat.Description,
		Members:     memberIDs,
	})

	h.notifier.NotifyGroupCreated(memberIDs, group)
}

// JoinGroup handles POST /v1/chat/join/group. Existing members learn about
// the new member; the new member gets the full group. Joining a group twice
// is a no-op.
func (h *ChatHandlers) JoinGroup(c *gin.Context) {
	userID, handle, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req JoinGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "chat_id is required"})
		return
	}

	chat, err := h.store.GetChatByID(c.Request.Context(), req.ChatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "group not found"})
			return
		}
		h.log.Error().Err(err).Msg("get chat failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	if chat.Type != store.ChatTypeGroup {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "not a group chat"})
		return
	}

	existing, err := h.store.ResolveMembers(c.Request.Context(), chat.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("resolve members failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	group := core.GroupData{
		ChatID:      chat.ID,
		Name:        chat.Name,
		Description: chat.Description,
		Members:     lo.Uniq(append(existing, userID)),
	}
	response := GroupResponse{
		ChatID:      group.ChatID,
		Name:        group.Name,
		Description: group.Description,
		Members:     group.Members,
	}

	if lo.Contains(existing, userID) {
		c.JSON(http.StatusOK, response)
		return
	}

	if err := h.store.AddMember(c.Request.Context(), chat.ID, userID, false); err != nil {
		h.log.Error().Err(err).Msg("add member failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, response)

	h.notifier.NotifyMemberJoined(existing, group, handle)
	h.notifier.NotifySelfJoined(userID, group)
}

// ListChats handles GET /v1/chat/get/chats. Clients call it on startup to
// bootstrap their chat list before backfilling each chat's history.
func (h *ChatHandlers) ListChats(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	chats, err := h.store.ListChatsForUser(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("list chats failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	summaries := lo.Map(chats, func(chat *store.Chat, _ int) ChatSummary {
		return ChatSummary{
			ChatID:      chat.ID,
			Type:        string(chat.Type),
			Name:        chat.Name,
			Description: chat.Description,
		}
	})
	c.JSON(http.StatusOK, ChatsResponse{Chats: summaries})
}

// ListChatMessages handles GET /v1/chat/get/messages: the history backfill
// that precedes live message_received events. Only members may read.
func (h *ChatHandlers) ListChatMessages(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	chatID := c.Query("chat_id")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "chat_id query parameter is required"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	member, err := h.store.IsMember(c.Request.Context(), chatID, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("membership check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this chat"})
		return
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), chatID, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list messages failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	handles := make(map[string]string, 4)
	payloads := make([]MessagePayload, 0, len(msgs))
	for _, msg := range msgs {
		handle, cached := handles[msg.SenderID]
		if !cached {
			if user, err := h.store.GetUserByID(c.Request.Context(), msg.SenderID); err == nil {
				handle = user.Handle
			}
			handles[msg.SenderID] = handle
		}
		payloads = append(payloads, MessagePayload{
			MessageID: msg.ID,
			ChatID:    msg.ChatID,
			Sender:    handle,
			Text:      msg.Text,
			SentAt:    msg.CreatedAt.Unix(),
		})
	}

	c.JSON(http.StatusOK, MessagesResponse{ChatID: chatID, Messages: payloads})
}

// ListMembers handles GET /v1/chat/get/members. Only members may list.
func (h *ChatHandlers) ListMembers(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	chatID := c.Query("chat_id")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "chat_id query parameter is required"})
		return
	}

	member, err := h.store.IsMember(c.Request.Context(), chatID, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("membership check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this chat"})
		return
	}

	memberIDs, err := h.store.ResolveMembers(c.Request.Context(), chatID)
	if err != nil {
		h.log.Error().Err(err).Msg("resolve members failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	members := make([]UserSummary, 0, len(memberIDs))
	for _, id := range memberIDs {
		user, err := h.store.GetUserByID(c.Request.Context(), id)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", id).Msg("member lookup failed")
			continue
		}
		members = append(members, UserSummary{UserID: user.ID, Handle: user.Handle})
	}

	c.JSON(http.StatusOK, MembersResponse{ChatID: chatID, Members: members})
}
