package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/buzz-im/buzz-server/internal/core"
	"github.com/buzz-im/buzz-server/internal/proto"
	"github.com/buzz-im/buzz-server/internal/session"
	"github.com/buzz-im/buzz-server/internal/utils"
)

// handshakeTimeout bounds how long a connection may sit unauthenticated
// before the server gives up on it.
const handshakeTimeout = 10 * time.Second

// WSHandler upgrades HTTP requests to realtime connections. Every connection
// must authenticate with its first frame before it is admitted to the hub.
type WSHandler struct {
	hub    *core.Hub
	bridge *session.Bridge
	log    *zerolog.Logger
}

// NewWSHandler creates a WebSocket handler.
func NewWSHandler(hub *core.Hub, bridge *session.Bridge, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, bridge: bridge, log: logger}
}

// ServeHTTP upgrades the connection and runs it until either side closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin is enforced by the CORS layer
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx := r.Context()

	userID, err := h.handshake(ctx, conn)
	if err != nil {
		h.reject(ctx, conn, err)
		return
	}

	client := core.NewClient(utils.NewID(), userID)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)
	// Runs before UnregisterClient; every exit path, including a failed ack
	// write below, must release the command pump.
	defer client.CloseCommands()

	h.log.Info().
		Str("connection_id", client.ID).
		Str("user_id", userID).
		Msg("websocket connected")

	ack := proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventNameConnected,
		Data:  proto.EventConnected{ConnectionID: client.ID, UserID: userID},
	}
	if err := wsjson.Write(ctx, conn, ack); err != nil {
		h.log.Warn().Err(err).Msg("failed to send connected ack")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Malformed-frame errors from the read loop are merged into the write
	// loop; the socket has exactly one writer.
	outbound := make(chan *proto.Outbound, 8)

	errCh := make(chan error, 2)
	go func() { errCh <- h.readLoop(loopCtx, conn, client, outbound) }()
	go func() { errCh <- h.writeLoop(loopCtx, conn, client, outbound) }()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		h.log.Info().Str("connection_id", client.ID).Msg("websocket closed")
	} else if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Warn().Err(err).Str("connection_id", client.ID).Msg("websocket error")
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

// handshake reads the first frame and authenticates its session token.
// The connection is not visible to the hub until this returns nil.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (string, error) {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	var in proto.Inbound
	if err := wsjson.Read(hsCtx, conn, &in); err != nil {
		return "", &session.AuthError{Reason: session.ReasonMissingCredentials, Status: 401, Err: err}
	}

	var hello proto.HelloData
	if in.Type == proto.InboundTypeHello && len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &hello); err != nil {
			return "", &session.AuthError{Reason: session.ReasonMissingCredentials, Status: 401, Err: err}
		}
	}

	return h.bridge.Authenticate(ctx, hello.SessionToken)
}

// reject sends a structured error frame and closes the handshake. The
// connection was never admitted, so there is nothing to unregister.
func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, err error) {
	reason := session.ReasonInternal
	status := 401
	var authErr *session.AuthError
	if errors.As(err, &authErr) {
		reason = authErr.Reason
		status = authErr.Status
	}

	h.log.Warn().Str("reason", reason).Msg("websocket handshake rejected")

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = wsjson.Write(writeCtx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: reason, Msg: "authentication failed", Status: status},
	})
	conn.Close(websocket.StatusPolicyViolation, reason)
}

// readLoop parses client frames into commands, in arrival order. Malformed
// frames produce an error frame for the sender without closing the
// connection.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, outbound chan<- *proto.Outbound) error {
	for {
		var in proto.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return err
		}

		cmd, protoErr := inboundToCommand(&in)
		if protoErr != nil {
			select {
			case outbound <- &proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr}:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writeLoop forwards hub events to the socket in delivery order.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, outbound <-chan *proto.Outbound) error {
	write := func(out *proto.Outbound) error {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return wsjson.Write(writeCtx, conn, out)
	}

	for {
		select {
		case ev := <-client.Events:
			out := outboundFromEvent(ev)
			if out == nil {
				continue
			}
			if err := write(out); err != nil {
				return err
			}
		case out := <-outbound:
			if err := write(out); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
