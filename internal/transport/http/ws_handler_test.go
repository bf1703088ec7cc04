package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/buzz-im/buzz-server/internal/auth"
	"github.com/buzz-im/buzz-server/internal/config"
	"github.com/buzz-im/buzz-server/internal/core"
	"github.com/buzz-im/buzz-server/internal/log"
	"github.com/buzz-im/buzz-server/internal/proto"
	"github.com/buzz-im/buzz-server/internal/session"
	"github.com/buzz-im/buzz-server/internal/store/sqlite"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := log.New("error", "json")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
	authService := auth.NewService(st, st, jwtConfig, time.Hour)
	bridge := session.NewBridge(session.NewStoreAuthority(st), logger)

	hub := core.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := config.Default()
	cfg.AuthRateLimit = 0

	server := NewServer(&cfg, hub, bridge, authService, st, logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts
}

func signup(t *testing.T, ts *httptest.Server, handle string) AuthResponse {
	t.Helper()

	body, _ := json.Marshal(CredentialsRequest{Handle: handle, Password: "secret123"})
	resp, err := ts.Client().Post(ts.URL+"/v1/user/auth/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("signup %s: %v", handle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: unexpected status %d", handle, resp.StatusCode)
	}

	var created AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	return created
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/v1/io"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendHello(t *testing.T, ctx context.Context, conn *websocket.Conn, token string) {
	t.Helper()

	payload, _ := json.Marshal(proto.HelloData{SessionToken: token, Protocol: proto.ProtocolVersion})
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeHello, Data: payload}); err != nil {
		t.Fatalf("send hello: %v", err)
	}
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frameType string, data any) {
	t.Helper()

	payload, _ := json.Marshal(data)
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: frameType, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", frameType, err)
	}
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) frame {
	t.Helper()

	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()

	f := readFrame(t, ctx, conn)
	if f.Type != proto.OutboundTypeEvent || f.Event != want {
		t.Fatalf("expected %s event, got type=%s event=%s error=%+v", want, f.Type, f.Event, f.Error)
	}
	return f.Data
}

// connect performs the full handshake and returns the connection id.
func connect(t *testing.T, ctx context.Context, ts *httptest.Server, token string) (*websocket.Conn, string) {
	t.Helper()

	conn := dialWS(t, ctx, ts)
	sendHello(t, ctx, conn, token)

	var connected proto.EventConnected
	data := readEvent(t, ctx, conn, proto.EventNameConnected)
	if err := json.Unmarshal(data, &connected); err != nil {
		t.Fatalf("unmarshal connected: %v", err)
	}
	return conn, connected.ConnectionID
}

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestHandshakeWithoutTokenRejected(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	sendHello(t, ctx, conn, "")

	f := readFrame(t, ctx, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil {
		t.Fatalf("expected error frame, got %+v", f)
	}
	if f.Error.Code != session.ReasonMissingCredentials || f.Error.Status != 401 {
		t.Fatalf("unexpected rejection: %+v", f.Error)
	}

	// The server closes the socket after rejecting.
	var ignored frame
	if err := wsjson.Read(ctx, conn, &ignored); err == nil {
		t.Fatal("expected connection to be closed after rejection")
	}
}

func TestHandshakeWithUnknownTokenRejected(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	sendHello(t, ctx, conn, "not-a-session")

	f := readFrame(t, ctx, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != session.ReasonInvalidSession {
		t.Fatalf("expected invalid_session rejection, got %+v", f)
	}
}

func TestJoinLeaveRoomFlow(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := signup(t, ts, "alice")
	bob := signup(t, ts, "bob")

	aliceConn, _ := connect(t, ctx, ts, alice.SessionToken)
	bobConn, _ := connect(t, ctx, ts, bob.SessionToken)

	sendFrame(t, ctx, aliceConn, proto.InboundTypeJoin, proto.JoinData{RoomID: "room-1"})
	readEvent(t, ctx, aliceConn, proto.EventNameJoined)

	sendFrame(t, ctx, bobConn, proto.InboundTypeJoin, proto.JoinData{RoomID: "room-1"})
	readEvent(t, ctx, bobConn, proto.EventNameJoined)

	var peer proto.EventPeer
	data := readEvent(t, ctx, aliceConn, proto.EventNamePeerJoined)
	if err := json.Unmarshal(data, &peer); err != nil {
		t.Fatalf("unmarshal peer_joined: %v", err)
	}
	if peer.RoomID != "room-1" || peer.Sender != bob.UserID {
		t.Fatalf("unexpected peer_joined payload: %+v", peer)
	}

	sendFrame(t, ctx, bobConn, proto.InboundTypeLeave, proto.JoinData{RoomID: "room-1"})
	readEvent(t, ctx, bobConn, proto.EventNameLeft)

	data = readEvent(t, ctx, aliceConn, proto.EventNamePeerLeft)
	if err := json.Unmarshal(data, &peer); err != nil {
		t.Fatalf("unmarshal peer_left: %v", err)
	}
	if peer.Sender != bob.UserID {
		t.Fatalf("unexpected peer_left sender: %s", peer.Sender)
	}
}

func TestSignalBetweenConnections(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := signup(t, ts, "alice")
	bob := signup(t, ts, "bob")

	aliceConn, aliceID := connect(t, ctx, ts, alice.SessionToken)
	bobConn, _ := connect(t, ctx, ts, bob.SessionToken)

	payload := json.RawMessage(`{"sdp":"offer"}`)
	sendFrame(t, ctx, bobConn, proto.InboundTypeSignal, proto.SignalData{ToConnectionID: aliceID, Data: payload})

	var signal proto.EventSignal
	data := readEvent(t, ctx, aliceConn, proto.EventNameSignal)
	if err := json.Unmarshal(data, &signal); err != nil {
		t.Fatalf("unmarshal signal: %v", err)
	}
	if signal.Sender != bob.UserID {
		t.Fatalf("unexpected signal sender: %s", signal.Sender)
	}
	if string(signal.Data) != string(payload) {
		t.Fatalf("signal payload altered: %s", signal.Data)
	}
}

func TestSignalUnknownConnection(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := signup(t, ts, "alice")
	conn, _ := connect(t, ctx, ts, alice.SessionToken)

	sendFrame(t, ctx, conn, proto.InboundTypeSignal, proto.SignalData{ToConnectionID: "nope", Data: json.RawMessage(`{}`)})

	f := readFrame(t, ctx, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != core.ErrCodeUnknownConnection {
		t.Fatalf("expected unknown_connection error, got %+v", f)
	}
}

func TestMessageFanOutToRecipientOnly(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := signup(t, ts, "alice")
	bob := signup(t, ts, "bob")

	aliceConn, _ := connect(t, ctx, ts, alice.SessionToken)
	bobConn, _ := connect(t, ctx, ts, bob.SessionToken)

	// Alice opens a direct chat with bob over REST.
	chatBody, _ := json.Marshal(CreateChatRequest{Handle: "bob"})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/v1/chat/create/chat", bytes.NewReader(chatBody))
	req.Header.Set("Authorization", "Bearer "+alice.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	var chat ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	resp.Body.Close()

	msgBody, _ := json.Marshal(SendMessageRequest{ChatID: chat.ChatID, Text: "hi there"})
	req, _ = http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/v1/chat/send/message", bytes.NewReader(msgBody))
	req.Header.Set("Authorization", "Bearer "+alice.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	var sent SendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		t.Fatalf("decode send response: %v", err)
	}
	resp.Body.Close()

	if !sent.Confirmation || sent.Message.Text != "hi there" {
		t.Fatalf("unexpected send response: %+v", sent)
	}

	// The sender had its confirmation in hand before this push arrives.
	var pushed proto.EventMessage
	data := readEvent(t, ctx, bobConn, proto.EventNameMessageReceived)
	if err := json.Unmarshal(data, &pushed); err != nil {
		t.Fatalf("unmarshal message_received: %v", err)
	}
	if pushed.Text != "hi there" || pushed.Sender != "alice" || pushed.MessageID != sent.Message.MessageID {
		t.Fatalf("unexpected pushed message: %+v", pushed)
	}

	// The sender identity is not a recipient: alice gets no push.
	quiet, quietCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer quietCancel()
	var stray frame
	if err := wsjson.Read(quiet, aliceConn, &stray); err == nil {
		t.Fatalf("sender received unexpected frame: %+v", stray)
	}
}

func TestCloseReleasesConnection(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := signup(t, ts, "alice")
	conn, connID := connect(t, ctx, ts, alice.SessionToken)

	listConnections := func() []core.ConnectionInfo {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/admin/connections", nil)
		req.Header.Set("Authorization", "Bearer "+alice.AccessToken)
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("list connections: %v", err)
		}
		defer resp.Body.Close()

		var listing ConnectionsResponse
		if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
			t.Fatalf("decode connections: %v", err)
		}
		return listing.Connections
	}

	conns := listConnections()
	if len(conns) != 1 || conns[0].ConnectionID != connID {
		t.Fatalf("expected the live connection listed, got %+v", conns)
	}

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Teardown runs through the handler's deferred cleanup; the registry
	// must drop the connection shortly after.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(listConnections()) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection still registered after close")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := signup(t, ts, "alice")
	conn, _ := connect(t, ctx, ts, alice.SessionToken)

	sendFrame(t, ctx, conn, proto.InboundTypeJoin, proto.JoinData{})

	f := readFrame(t, ctx, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request error, got %+v", f)
	}

	// The connection is still usable afterwards.
	sendFrame(t, ctx, conn, proto.InboundTypeJoin, proto.JoinData{RoomID: "room-1"})
	readEvent(t, ctx, conn, proto.EventNameJoined)
}
