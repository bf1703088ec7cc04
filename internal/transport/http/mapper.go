package http

import (
	"encoding/json"

	"github.com/buzz-im/buzz-server/internal/core"
	"github.com/buzz-im/buzz-server/internal/proto"
)

// inboundToCommand converts a client frame into a core command. A nil
// command with a non-nil error means the frame was malformed; the error goes
// back to the sender only and the connection stays open.
func inboundToCommand(in *proto.Inbound) (*core.Command, *proto.Error) {
	switch in.Type {
	case proto.InboundTypeJoin:
		var data proto.JoinData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.RoomID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "join requires room_id"}
		}
		return &core.Command{Kind: core.CommandJoinRoom, Room: data.RoomID}, nil

	case proto.InboundTypeLeave:
		var data proto.JoinData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.RoomID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "leave requires room_id"}
		}
		return &core.Command{Kind: core.CommandLeaveRoom, Room: data.RoomID}, nil

	case proto.InboundTypeSignal:
		var data proto.SignalData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.ToConnectionID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "signal requires to_connection_id"}
		}
		return &core.Command{Kind: core.CommandSignal, Target: data.ToConnectionID, Data: data.Data}, nil

	default:
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown frame type"}
	}
}

// outboundFromEvent converts a core event into a wire frame. The switch is
// exhaustive over the event catalog; an unmapped kind returns nil and the
// write loop drops it.
func outboundFromEvent(ev *core.Event) *proto.Outbound {
	switch ev.Kind {
	case core.EventJoined:
		return eventFrame(proto.EventNameJoined, proto.EventRoomAck{RoomID: ev.Room, Success: ev.Success})

	case core.EventPeerJoined:
		return eventFrame(proto.EventNamePeerJoined, proto.EventPeer{RoomID: ev.Room, Sender: ev.Sender})

	case core.EventLeft:
		return eventFrame(proto.EventNameLeft, proto.EventRoomAck{RoomID: ev.Room, Success: ev.Success})

	case core.EventPeerLeft:
		return eventFrame(proto.EventNamePeerLeft, proto.EventPeer{RoomID: ev.Room, Sender: ev.Sender})

	case core.EventSignal:
		return eventFrame(proto.EventNameSignal, proto.EventSignal{Sender: ev.Sender, Data: ev.Signal})

	case core.EventMessageReceived:
		if ev.Message == nil {
			return nil
		}
		return eventFrame(proto.EventNameMessageReceived, proto.EventMessage{
			MessageID: ev.Message.MessageID,
			ChatID:    ev.Message.ChatID,
			Sender:    ev.Message.Sender,
			Text:      ev.Message.Text,
			SentAt:    ev.Message.SentAt.Unix(),
		})

	case core.EventGroupCreated:
		return groupFrame(proto.EventNameGroupCreated, ev)

	case core.EventGroupMemberJoined:
		return groupFrame(proto.EventNameGroupMemberJoined, ev)

	case core.EventMemberJoinedGroup:
		return groupFrame(proto.EventNameMemberJoinedGroup, ev)

	case core.EventError:
		if ev.Error == nil {
			return nil
		}
		return &proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: ev.Error.Code, Msg: ev.Error.Message},
		}

	default:
		return nil
	}
}

func eventFrame(name string, data any) *proto.Outbound {
	return &proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

func groupFrame(name string, ev *core.Event) *proto.Outbound {
	if ev.Group == nil {
		return nil
	}
	return eventFrame(name, proto.EventGroup{
		ChatID:      ev.Group.ChatID,
		Name:        ev.Group.Name,
		Description: ev.Group.Description,
		Members:     ev.Group.Members,
		Sender:      ev.Sender,
	})
}
