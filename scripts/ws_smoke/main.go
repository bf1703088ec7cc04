package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/buzz-im/buzz-server/internal/proto"
)

// Smoke-tests a running server: authenticate, join a room, and print every
// event until the timeout. Obtain a session token via /v1/user/auth/login
// first.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/v1/io", "WebSocket address")
	token := flag.String("token", "", "session token from login")
	room := flag.String("room", "", "optional conversation room to join")
	timeout := flag.Duration("timeout", 30*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" {
		return fmt.Errorf("-token is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(frameType string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", frameType, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: frameType, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", frameType, err)
		}
		return nil
	}

	if err := send(proto.InboundTypeHello, proto.HelloData{SessionToken: *token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}

	if *room != "" {
		if err := send(proto.InboundTypeJoin, proto.JoinData{RoomID: *room}); err != nil {
			return err
		}
	}

	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if outbound.Error != nil {
			fmt.Printf("error: code=%s msg=%q\n", outbound.Error.Code, outbound.Error.Msg)
			if outbound.Error.Status == 401 {
				return fmt.Errorf("handshake rejected: %s", outbound.Error.Code)
			}
			continue
		}

		switch outbound.Event {
		case proto.EventNameConnected:
			var evt proto.EventConnected
			if err := json.Unmarshal(outbound.Data, &evt); err == nil {
				fmt.Printf("connected: connection_id=%s user_id=%s\n", evt.ConnectionID, evt.UserID)
			}
		case proto.EventNameMessageReceived:
			var evt proto.EventMessage
			if err := json.Unmarshal(outbound.Data, &evt); err == nil {
				fmt.Printf("message: chat=%s sender=%s text=%q\n", evt.ChatID, evt.Sender, evt.Text)
			}
		default:
			fmt.Printf("event: %s data=%s\n", outbound.Event, string(outbound.Data))
		}
	}
}
