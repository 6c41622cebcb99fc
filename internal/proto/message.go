package proto

import "encoding/json"

// Inbound is the envelope for frames coming from the client. ID is an
// optional client-chosen correlation token echoed back on the ack or error
// for this request.
type Inbound struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello    = "hello"
	InboundTypeJoin     = "join"
	InboundTypeLeave    = "leave"
	InboundTypeMsg      = "msg"
	InboundTypeDelete   = "delete"
	InboundTypeMarkRead = "mark_read"

	OutboundTypeAck   = "ack"
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventMessageCreated    = "message_created"
	EventMessageDeleted    = "message_deleted"
	EventPresenceChanged   = "presence_changed"
	EventReadReceiptUpdate = "read_receipt_updated"
	EventHistoryBackfill   = "history"
)

// HelloData is the first frame on a connection; the token is a JWT issued
// by the HTTP auth API.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// JoinData requests to join a room, optionally presenting its secret.
type JoinData struct {
	Room   string `json:"room"`
	Secret string `json:"secret,omitempty"`
}

// LeaveData requests to leave a room.
type LeaveData struct {
	Room string `json:"room"`
}

// MsgData is a chat message from the client.
type MsgData struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

// DeleteData requests deletion of a message. Mode is "self" or "everyone".
type DeleteData struct {
	MessageID int64  `json:"message_id"`
	Mode      string `json:"mode"`
}

// MarkReadData records that the client has read a message.
type MarkReadData struct {
	MessageID int64 `json:"message_id"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`    // acks and request errors: echoed Inbound.ID
	Event string `json:"event,omitempty"` // set when Type is "event"
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Raw mirrors Outbound with an undecoded payload, for client-side use.
type Raw struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// HelloAck confirms admission and reports the connection id.
type HelloAck struct {
	ConnID   string `json:"conn_id"`
	User     string `json:"user"`
	Protocol int    `json:"protocol"`
}

// JoinAck carries the active-user set at join time.
type JoinAck struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// MsgAck acknowledges a sent message with its id.
type MsgAck struct {
	MessageID int64 `json:"message_id"`
}

// DeleteAck acknowledges a deletion. AlreadyDeleted marks the idempotent
// no-op case, which is still a success.
type DeleteAck struct {
	MessageID      int64 `json:"message_id"`
	AlreadyDeleted bool  `json:"already_deleted,omitempty"`
}

// EventMessage is the payload of a message_created event and one entry of a
// history backfill.
type EventMessage struct {
	ID   int64  `json:"id"`
	Room string `json:"room"`
	User string `json:"user"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// EventDeleted instructs the client to purge a message from its view.
type EventDeleted struct {
	MessageID int64  `json:"message_id"`
	Room      string `json:"room"`
}

// EventPresence carries the full active-user set of a room.
type EventPresence struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// EventReadReceipt notifies that an identity read a message.
type EventReadReceipt struct {
	MessageID int64  `json:"message_id"`
	Room      string `json:"room"`
	Reader    string `json:"reader"`
}

// EventHistory delivers the join-time backfill, oldest first.
type EventHistory struct {
	Room     string         `json:"room"`
	Messages []EventMessage `json:"messages"`
}

// Error describes a protocol-level error response. For deletion failures
// MessageID identifies the message the request targeted.
type Error struct {
	Code      string `json:"code"`
	Msg       string `json:"msg"`
	MessageID int64  `json:"message_id,omitempty"`
}
