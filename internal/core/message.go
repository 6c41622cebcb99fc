package core

import "time"

// Message is the domain model for a chat message. The body, sender and
// timestamp are immutable after creation; only the visibility mask and the
// read-marker set may change, and only through the room that owns it.
type Message struct {
	ID         int64
	Room       string
	From       string
	Text       string
	CreatedAt  time.Time
	Visibility Visibility
	readBy     map[string]struct{}
}

// MarkRead records that user has read the message. Returns false if the
// marker was already present.
func (m *Message) MarkRead(user string) bool {
	if m.readBy == nil {
		m.readBy = make(map[string]struct{})
	}
	if _, ok := m.readBy[user]; ok {
		return false
	}
	m.readBy[user] = struct{}{}
	return true
}

// ReadBy reports whether user has read the message.
func (m *Message) ReadBy(user string) bool {
	_, ok := m.readBy[user]
	return ok
}

// Readers returns the identities that have read the message.
func (m *Message) Readers() []string {
	users := make([]string, 0, len(m.readBy))
	for u := range m.readBy {
		users = append(users, u)
	}
	return users
}
