package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley-server/internal/store"
)

// Options tune the engine's policies.
type Options struct {
	// AutoCreateRooms lets a join create a missing room on the fly.
	AutoCreateRooms bool
	// AllowMultiSession permits several live connections per identity.
	AllowMultiSession bool
	// HistoryLimit bounds the join-time backfill.
	HistoryLimit int
	// MaxMessageBytes bounds a message body.
	MaxMessageBytes int
	// BroadcastTimeout bounds how long a room waits on one subscriber
	// before dropping it.
	BroadcastTimeout time.Duration
	// EventBuffer sizes each client's event channel.
	EventBuffer int
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4096
	}
	if o.BroadcastTimeout <= 0 {
		o.BroadcastTimeout = time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 32
	}
	return o
}

// DefaultOptions returns the engine defaults: auto-created rooms and
// multiple sessions per identity, matching the original service.
func DefaultOptions() Options {
	return Options{AutoCreateRooms: true, AllowMultiSession: true}.withDefaults()
}

// Hub owns the connection registry and the set of room actors. Per-room
// work runs on that room's goroutine; the hub itself only routes.
type Hub struct {
	opts  Options
	store store.Store
	log   *zerolog.Logger

	reg *registry

	mu       sync.Mutex
	rooms    map[string]*Room
	msgRooms map[int64]string // message id -> room name

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates the chat engine on top of the given store.
func NewHub(st store.Store, logger *zerolog.Logger, opts Options) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	opts = opts.withDefaults()
	return &Hub{
		opts:     opts,
		store:    st,
		log:      logger,
		reg:      newRegistry(opts.AllowMultiSession, opts.EventBuffer),
		rooms:    make(map[string]*Room),
		msgRooms: make(map[int64]string),
		done:     make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled, then shuts the engine down.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}

// Close stops all room actors and removes every client. Idempotent.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		for _, c := range h.reg.all() {
			h.reg.remove(c)
		}
	})
}

// Admit registers a connection for a pre-validated identity and returns its
// Client. Fails with duplicate_identity under the single-session policy.
func (h *Hub) Admit(user string) (*Client, *CoreError) {
	select {
	case <-h.done:
		return nil, coreError(ErrCodeStorageUnavailable, "shutting down")
	default:
	}
	c, err := h.reg.admit(user)
	if err != nil {
		return nil, err
	}
	h.log.Debug().Str("conn_id", c.ID).Str("user", user).Msg("connection admitted")
	return c, nil
}

// Lookup returns the client for a connection id.
func (h *Hub) Lookup(id string) (*Client, bool) {
	return h.reg.lookup(id)
}

// Remove tears down a connection: forgets it in the registry and
// unsubscribes it from every room it had joined, updating presence there.
// Idempotent.
func (h *Hub) Remove(c *Client) {
	if c == nil || !h.reg.remove(c) {
		return
	}
	for _, name := range c.Rooms() {
		if r := h.existingRoom(name); r != nil {
			r.do(context.Background(), &roomOp{kind: opDrop, client: c})
		}
	}
	h.log.Debug().Str("conn_id", c.ID).Str("user", c.User).Msg("connection removed")
}

// Join subscribes the connection to a room and returns the room's current
// active-user set. The joining client receives the history backfill and the
// presence event through its Events channel.
func (h *Hub) Join(ctx context.Context, c *Client, name, secret string) ([]string, *CoreError) {
	name = NormalizeRoomName(name)
	if !ValidRoomName(name) {
		return nil, errValidation("room name must be 3-30 characters")
	}
	rep := h.room(name).do(ctx, &roomOp{kind: opJoin, client: c, secret: secret})
	return rep.users, rep.err
}

// Leave unsubscribes the connection from a room. Leaving a room not joined
// is a no-op.
func (h *Hub) Leave(ctx context.Context, c *Client, name string) *CoreError {
	name = NormalizeRoomName(name)
	r := h.existingRoom(name)
	if r == nil {
		return nil
	}
	rep := r.do(ctx, &roomOp{kind: opLeave, client: c})
	return rep.err
}

// Send validates, persists and broadcasts a message, returning its id.
func (h *Hub) Send(ctx context.Context, c *Client, name, text string) (int64, *CoreError) {
	name = NormalizeRoomName(name)
	r := h.existingRoom(name)
	if r == nil {
		return 0, coreError(ErrCodeNotInRoom, "join the room before sending")
	}
	rep := r.do(ctx, &roomOp{kind: opSend, client: c, text: text})
	return rep.msgID, rep.err
}

// Delete processes a deletion request. The bool result reports an
// idempotent no-op: the message was already gone from the requested scope.
func (h *Hub) Delete(ctx context.Context, c *Client, msgID int64, mode DeleteMode) (bool, *CoreError) {
	r, cerr := h.roomForMessage(ctx, msgID)
	if cerr != nil {
		return false, cerr
	}
	rep := r.do(ctx, &roomOp{kind: opDelete, client: c, msgID: msgID, mode: mode})
	return rep.already, rep.err
}

// MarkRead adds the connection's identity to a message's read-marker set.
// Duplicate calls are no-ops.
func (h *Hub) MarkRead(ctx context.Context, c *Client, msgID int64) *CoreError {
	r, cerr := h.roomForMessage(ctx, msgID)
	if cerr != nil {
		return cerr
	}
	rep := r.do(ctx, &roomOp{kind: opMarkRead, client: c, msgID: msgID})
	return rep.err
}

// ActiveUsers returns a room's current active-user set.
func (h *Hub) ActiveUsers(name string) []string {
	r := h.existingRoom(NormalizeRoomName(name))
	if r == nil {
		return nil
	}
	rep := r.do(context.Background(), &roomOp{kind: opUsers})
	return rep.users
}

// room returns the actor for name, starting it on first use.
func (h *Hub) room(name string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	if !ok {
		r = newRoom(name, h)
		h.rooms[name] = r
		go r.run()
	}
	return r
}

func (h *Hub) existingRoom(name string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[name]
}

func (h *Hub) indexMessage(id int64, room string) {
	h.mu.Lock()
	h.msgRooms[id] = room
	h.mu.Unlock()
}

// roomForMessage resolves which room actor owns a message, consulting
// storage for messages this process has not seen yet.
func (h *Hub) roomForMessage(ctx context.Context, msgID int64) (*Room, *CoreError) {
	h.mu.Lock()
	name, ok := h.msgRooms[msgID]
	h.mu.Unlock()
	if !ok {
		rec, err := h.store.GetMessage(ctx, msgID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, coreError(ErrCodeMessageNotFound, "no such message")
		}
		if err != nil {
			return nil, errStorage(err)
		}
		name = rec.Room
		h.indexMessage(msgID, name)
	}
	return h.room(name), nil
}
