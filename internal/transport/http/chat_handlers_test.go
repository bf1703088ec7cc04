package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/buzz-im/buzz-server/internal/core"
	"github.com/buzz-im/buzz-server/internal/log"
	"github.com/buzz-im/buzz-server/internal/store"
	"github.com/buzz-im/buzz-server/internal/store/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type notifierCall struct {
	kind    string
	userIDs []string
	msg     core.MessageData
	group   core.GroupData
	joined  string
}

// fakeNotifier records fan-out calls. The onRecipients hook runs inside
// NotifyRecipients so tests can observe handler state at dispatch time.
type fakeNotifier struct {
	calls        []notifierCall
	onRecipients func()
}

func (f *fakeNotifier) NotifyRecipients(userIDs []string, msg core.MessageData) {
	if f.onRecipients != nil {
		f.onRecipients()
	}
	f.calls = append(f.calls, notifierCall{kind: "recipients", userIDs: userIDs, msg: msg})
}

func (f *fakeNotifier) NotifyGroupCreated(userIDs []string, group core.GroupData) {
	f.calls = append(f.calls, notifierCall{kind: "group_created", userIDs: userIDs, group: group})
}

func (f *fakeNotifier) NotifyMemberJoined(userIDs []string, group core.GroupData, joined string) {
	f.calls = append(f.calls, notifierCall{kind: "member_joined", userIDs: userIDs, group: group, joined: joined})
}

func (f *fakeNotifier) NotifySelfJoined(userID string, group core.GroupData) {
	f.calls = append(f.calls, notifierCall{kind: "self_joined", userIDs: []string{userID}})
}

func newChatEnv(t *testing.T) (store.Store, *fakeNotifier, *ChatHandlers) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	notifier := &fakeNotifier{}
	handlers := NewChatHandlers(st, notifier, log.New("error", "json"))
	return st, notifier, handlers
}

func createUser(t *testing.T, st store.Store, handle string) *store.User {
	t.Helper()

	user, err := st.CreateUser(context.Background(), handle, "hash")
	if err != nil {
		t.Fatalf("create user %s: %v", handle, err)
	}
	return user
}

func postJSON(t *testing.T, user *store.User, path string, body any) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()

	data, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(ContextKeyUserID, user.ID)
	c.Set(ContextKeyHandle, user.Handle)
	return w, c
}

func getJSON(t *testing.T, user *store.User, path string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	c.Set(ContextKeyUserID, user.ID)
	c.Set(ContextKeyHandle, user.Handle)
	return w, c
}

func TestSendMessageRespondsBeforeFanOut(t *testing.T) {
	st, notifier, handlers := newChatEnv(t)
	ctx := context.Background()

	alice := createUser(t, st, "alice")
	bob := createUser(t, st, "bob")
	chat, err := st.CreateDirectChat(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	w, c := postJSON(t, alice, "/v1/chat/send/message", SendMessageRequest{ChatID: chat.ID, Text: "hello"})

	bodyAtDispatch := -1
	notifier.onRecipients = func() {
		bodyAtDispatch = w.Body.Len()
	}

	handlers.SendMessage(c)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if bodyAtDispatch <= 0 {
		t.Fatalf("fan-out dispatched before the response was written (body len %d)", bodyAtDispatch)
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("expected one fan-out call, got %d", len(notifier.calls))
	}
	call := notifier.calls[0]
	if call.kind != "recipients" || len(call.userIDs) != 1 || call.userIDs[0] != bob.ID {
		t.Fatalf("unexpected fan-out call: %+v", call)
	}
	if call.msg.Text != "hello" || call.msg.Sender != "alice" {
		t.Fatalf("unexpected fan-out payload: %+v", call.msg)
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	st, notifier, handlers := newChatEnv(t)
	ctx := context.Background()

	alice := createUser(t, st, "alice")
	bob := createUser(t, st, "bob")
	carol := createUser(t, st, "carol")
	chat, err := st.CreateDirectChat(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	w, c := postJSON(t, carol, "/v1/chat/send/message", SendMessageRequest{ChatID: chat.ID, Text: "intruding"})
	handlers.SendMessage(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-member, got %d", w.Code)
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("rejected message must not fan out, got %+v", notifier.calls)
	}
}

func TestCreateGroupSkipsUnknownHandles(t *testing.T) {
	st, notifier, handlers := newChatEnv(t)

	alice := createUser(t, st, "alice")
	bob := createUser(t, st, "bob")

	w, c := postJSON(t, alice, "/v1/chat/create/group", CreateGroupRequest{
		Name:    "plans",
		Members: []string{"bob", "ghost"},
	})
	handlers.CreateGroup(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}

	var resp GroupResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Members) != 2 {
		t.Fatalf("expected creator plus bob, got %v", resp.Members)
	}

	if len(notifier.calls) != 1 || notifier.calls[0].kind != "group_created" {
		t.Fatalf("expected one group_created call, got %+v", notifier.calls)
	}
	got := notifier.calls[0].userIDs
	if len(got) != 2 || !contains(got, alice.ID) || !contains(got, bob.ID) {
		t.Fatalf("unexpected notified members: %v", got)
	}
}

func TestJoinGroupNotifiesExistingMembers(t *testing.T) {
	st, notifier, handlers := newChatEnv(t)
	ctx := context.Background()

	alice := createUser(t, st, "alice")
	bob := createUser(t, st, "bob")
	carol := createUser(t, st, "carol")

	group, err := st.CreateGroup(ctx, "plans", "", []string{alice.ID, bob.ID}, []string{alice.ID})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	w, c := postJSON(t, carol, "/v1/chat/join/group", JoinGroupRequest{ChatID: group.ID})
	handlers.JoinGroup(c)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}

	if len(notifier.calls) != 2 {
		t.Fatalf("expected member_joined and self_joined calls, got %+v", notifier.calls)
	}
	joined := notifier.calls[0]
	if joined.kind != "member_joined" || joined.joined != "carol" {
		t.Fatalf("unexpected first call: %+v", joined)
	}
	if len(joined.userIDs) != 2 || !contains(joined.userIDs, alice.ID) || !contains(joined.userIDs, bob.ID) {
		t.Fatalf("member_joined should reach existing members only, got %v", joined.userIDs)
	}
	if notifier.calls[1].kind != "self_joined" || notifier.calls[1].userIDs[0] != carol.ID {
		t.Fatalf("unexpected second call: %+v", notifier.calls[1])
	}

	// Joining again is a no-op with no further fan-out.
	w, c = postJSON(t, carol, "/v1/chat/join/group", JoinGroupRequest{ChatID: group.ID})
	handlers.JoinGroup(c)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat join should succeed, got %d", w.Code)
	}
	if len(notifier.calls) != 2 {
		t.Fatalf("repeat join must not notify again, got %+v", notifier.calls)
	}
}

func TestListChatsReturnsMemberships(t *testing.T) {
	st, _, handlers := newChatEnv(t)
	ctx := context.Background()

	alice := createUser(t, st, "alice")
	bob := createUser(t, st, "bob")
	carol := createUser(t, st, "carol")

	direct, err := st.CreateDirectChat(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	group, err := st.CreateGroup(ctx, "plans", "weekend", []string{alice.ID, carol.ID}, []string{alice.ID})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	w, c := getJSON(t, alice, "/v1/chat/get/chats")
	handlers.ListChats(c)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}

	var resp ChatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Chats) != 2 {
		t.Fatalf("expected two chats, got %+v", resp.Chats)
	}
	got := []string{resp.Chats[0].ChatID, resp.Chats[1].ChatID}
	if !contains(got, direct.ID) || !contains(got, group.ID) {
		t.Fatalf("unexpected chat ids: %v", got)
	}

	// Bob only shares the direct chat.
	w, c = getJSON(t, bob, "/v1/chat/get/chats")
	handlers.ListChats(c)
	resp = ChatsResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Chats) != 1 || resp.Chats[0].ChatID != direct.ID {
		t.Fatalf("unexpected chats for bob: %+v", resp.Chats)
	}
}

func TestListChatMessagesReturnsHistory(t *testing.T) {
	st, _, handlers := newChatEnv(t)
	ctx := context.Background()

	alice := createUser(t, st, "alice")
	bob := createUser(t, st, "bob")
	chat, err := st.CreateDirectChat(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if _, _, err := st.SaveMessage(ctx, chat.ID, alice.ID, "first"); err != nil {
		t.Fatalf("save message: %v", err)
	}
	if _, _, err := st.SaveMessage(ctx, chat.ID, bob.ID, "second"); err != nil {
		t.Fatalf("save message: %v", err)
	}

	w, c := getJSON(t, alice, "/v1/chat/get/messages?chat_id="+chat.ID)
	handlers.ListChatMessages(c)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}

	var resp MessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected two messages, got %+v", resp.Messages)
	}
	// Newest first.
	if resp.Messages[0].Text != "second" || resp.Messages[0].Sender != "bob" {
		t.Fatalf("unexpected first entry: %+v", resp.Messages[0])
	}
	if resp.Messages[1].Text != "first" || resp.Messages[1].Sender != "alice" {
		t.Fatalf("unexpected second entry: %+v", resp.Messages[1])
	}

	// The limit caps the backfill.
	w, c = getJSON(t, alice, "/v1/chat/get/messages?chat_id="+chat.ID+"&limit=1")
	handlers.ListChatMessages(c)
	resp = MessagesResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Text != "second" {
		t.Fatalf("unexpected limited history: %+v", resp.Messages)
	}
}

func TestListChatMessagesRequiresMembership(t *testing.T) {
	st, _, handlers := newChatEnv(t)
	ctx := context.Background()

	alice := createUser(t, st, "alice")
	bob := createUser(t, st, "bob")
	carol := createUser(t, st, "carol")
	chat, err := st.CreateDirectChat(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	w, c := getJSON(t, carol, "/v1/chat/get/messages?chat_id="+chat.ID)
	handlers.ListChatMessages(c)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", w.Code)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
