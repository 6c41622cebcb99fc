package http

import (
	"context"
	"encoding/json"

	"github.com/parleychat/parley-server/internal/core"
	"github.com/parleychat/parley-server/internal/proto"
)

// dispatch runs one inbound request against the hub and shapes the ack or
// error frame for it. Events triggered along the way reach the client
// through its Events channel, not through the return value.
func (h *WSHandler) dispatch(ctx context.Context, client *core.Client, inbound proto.Inbound) proto.Outbound {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return badRequest(inbound.ID, "malformed join payload")
		}
		if join.Room == "" {
			return badRequest(inbound.ID, "room is required")
		}
		users, cerr := h.hub.Join(ctx, client, join.Room, join.Secret)
		if cerr != nil {
			return errorFrame(inbound.ID, cerr, 0)
		}
		return ack(inbound.ID, proto.JoinAck{Room: core.NormalizeRoomName(join.Room), Users: users})

	case proto.InboundTypeLeave:
		var leave proto.LeaveData
		if err := json.Unmarshal(inbound.Data, &leave); err != nil {
			return badRequest(inbound.ID, "malformed leave payload")
		}
		if leave.Room == "" {
			return badRequest(inbound.ID, "room is required")
		}
		if cerr := h.hub.Leave(ctx, client, leave.Room); cerr != nil {
			return errorFrame(inbound.ID, cerr, 0)
		}
		return ack(inbound.ID, nil)

	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return badRequest(inbound.ID, "malformed msg payload")
		}
		if msg.Room == "" {
			return badRequest(inbound.ID, "room is required")
		}
		id, cerr := h.hub.Send(ctx, client, msg.Room, msg.Text)
		if cerr != nil {
			return errorFrame(inbound.ID, cerr, 0)
		}
		return ack(inbound.ID, proto.MsgAck{MessageID: id})

	case proto.InboundTypeDelete:
		var del proto.DeleteData
		if err := json.Unmarshal(inbound.Data, &del); err != nil {
			return badRequest(inbound.ID, "malformed delete payload")
		}
		if del.MessageID == 0 {
			return badRequest(inbound.ID, "message_id is required")
		}
		already, cerr := h.hub.Delete(ctx, client, del.MessageID, core.DeleteMode(del.Mode))
		if cerr != nil {
			return errorFrame(inbound.ID, cerr, del.MessageID)
		}
		return ack(inbound.ID, proto.DeleteAck{MessageID: del.MessageID, AlreadyDeleted: already})

	case proto.InboundTypeMarkRead:
		var mark proto.MarkReadData
		if err := json.Unmarshal(inbound.Data, &mark); err != nil {
			return badRequest(inbound.ID, "malformed mark_read payload")
		}
		if mark.MessageID == 0 {
			return badRequest(inbound.ID, "message_id is required")
		}
		if cerr := h.hub.MarkRead(ctx, client, mark.MessageID); cerr != nil {
			return errorFrame(inbound.ID, cerr, mark.MessageID)
		}
		return ack(inbound.ID, nil)

	case proto.InboundTypeHello:
		return badRequest(inbound.ID, "already admitted")

	default:
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			ID:    inbound.ID,
			Error: &proto.Error{Code: "invalid_message", Msg: "unknown message type"},
		}
	}
}

func ack(id string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeAck, ID: id, Data: data}
}

func badRequest(id, msg string) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		ID:    id,
		Error: &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg},
	}
}

func errorFrame(id string, cerr *core.CoreError, msgID int64) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		ID:    id,
		Error: &proto.Error{Code: cerr.Code, Msg: cerr.Message, MessageID: msgID},
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventMessageCreated:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageCreated,
			Data:  messagePayload(*event.Message),
		}
	case core.EventMessageDeleted:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageDeleted,
			Data:  proto.EventDeleted{MessageID: event.MessageID, Room: event.Room},
		}
	case core.EventPresenceChanged:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPresenceChanged,
			Data:  proto.EventPresence{Room: event.Room, Users: event.Users},
		}
	case core.EventReadReceipt:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventReadReceiptUpdate,
			Data:  proto.EventReadReceipt{MessageID: event.MessageID, Room: event.Room, Reader: event.Reader},
		}
	case core.EventHistory:
		messages := make([]proto.EventMessage, 0, len(event.Messages))
		for _, msg := range event.Messages {
			messages = append(messages, messagePayload(msg))
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventHistoryBackfill,
			Data:  proto.EventHistory{Room: event.Room, Messages: messages},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func messagePayload(msg core.Message) proto.EventMessage {
	return proto.EventMessage{
		ID:   msg.ID,
		Room: msg.Room,
		User: msg.From,
		Text: msg.Text,
		TS:   msg.CreatedAt.Unix(),
	}
}
