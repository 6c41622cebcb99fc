package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessageCreated notifies subscribers about a new message in a room.
	EventMessageCreated EventKind = iota
	// EventMessageDeleted instructs clients to purge a message from view.
	EventMessageDeleted
	// EventPresenceChanged carries the full active-user set of a room.
	EventPresenceChanged
	// EventReadReceipt notifies subscribers that an identity read a message.
	EventReadReceipt
	// EventHistory delivers the backfill snapshot to a client joining a room.
	EventHistory
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	Room      string
	Users     []string  // EventPresenceChanged: full active set, sorted
	Message   *Message  // EventMessageCreated: snapshot of the new message
	Messages  []Message // EventHistory: backfill, oldest first
	MessageID int64     // EventMessageDeleted, EventReadReceipt
	Reader    string    // EventReadReceipt
}
