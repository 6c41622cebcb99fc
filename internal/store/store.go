package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system. Credential handling lives in the
// auth collaborator; the chat engine only ever sees usernames.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // for guest session tracking
	CreatedAt    time.Time
}

// Room represents a chat room. Name is stored normalized (lowercase,
// whitespace runs replaced with '-'). SecretHash is empty for open rooms.
type Room struct {
	ID           int64
	Name         string
	Topic        string
	Description  string
	SecretHash   string
	Owner        string // username of the creator; empty for seeded rooms
	MessageCount int64
	LastActivity time.Time
	CreatedAt    time.Time
}

// Message represents a persisted chat message together with its visibility
// mask and read markers.
type Message struct {
	ID         int64
	Room       string
	Sender     string
	Body       string
	CreatedAt  time.Time
	Deleted    bool     // hard delete: gone for everyone, terminal
	HiddenFrom []string // soft delete: identities the message is hidden from
	ReadBy     []string
}

// RoomOptions carries the caller-settable fields of a room at creation.
type RoomOptions struct {
	Topic       string
	Description string
	SecretHash  string
	Owner       string
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserBySessionID retrieves a guest user by session ID.
	GetUserBySessionID(ctx context.Context, sessionID string) (*User, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// UpsertRoom returns the room with the given normalized name, creating
	// it with opts when missing. Options of an existing room are not
	// overwritten.
	UpsertRoom(ctx context.Context, name string, opts RoomOptions) (*Room, error)

	// GetRoomByName retrieves a room by its normalized name.
	GetRoomByName(ctx context.Context, name string) (*Room, error)

	// ListRooms lists all rooms ordered by last activity, newest first.
	ListRooms(ctx context.Context) ([]*Room, error)

	// AddParticipant records durable room membership. Idempotent.
	AddParticipant(ctx context.Context, roomName, username string) error

	// ListParticipants lists the durable membership of a room.
	ListParticipants(ctx context.Context, roomName string) ([]string, error)
}

// MessageStore handles message persistence and visibility mutation.
type MessageStore interface {
	// SaveMessage persists a message, fills in msg.ID, and bumps the room's
	// message counter and last-activity timestamp in the same transaction.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a single message regardless of visibility.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// ListRecentMessages returns up to limit most recent messages of a room
	// that viewer may see (hard-deleted and hidden-from-viewer excluded),
	// oldest first.
	ListRecentMessages(ctx context.Context, roomName string, limit int, viewer string) ([]*Message, error)

	// HideMessage adds viewer to the message's hidden set. Idempotent.
	HideMessage(ctx context.Context, id int64, viewer string) error

	// DeleteMessageForEveryone marks the message hard-deleted. Idempotent.
	DeleteMessageForEveryone(ctx context.Context, id int64) error

	// MarkMessageRead adds reader to the message's read-marker set.
	// Idempotent.
	MarkMessageRead(ctx context.Context, id int64, reader string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
