package core

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parleychat/parley-server/internal/store"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeRoomName applies the canonical room-name form: trimmed,
// lowercase, whitespace runs replaced with '-'.
func NormalizeRoomName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return whitespaceRun.ReplaceAllString(name, "-")
}

// ValidRoomName reports whether an already-normalized name is acceptable.
func ValidRoomName(name string) bool {
	return len(name) >= 3 && len(name) <= 30
}

// Room is the pub/sub unit for one chat room. All state below the ops
// channel is owned by the run goroutine; every mutation of subscriptions,
// presence, counters and message visibility is serialized through it, so a
// send racing a delete on the same message observes a total order and
// rooms never contend with each other.
type Room struct {
	name string
	hub  *Hub
	ops  chan *roomOp

	// run-loop state
	subs     map[*Client]struct{}
	presence *presence
	messages map[int64]*Message
	rec      *store.Room
	missing  bool // definitive "not in storage" from the last lookup
}

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opDrop
	opSend
	opDelete
	opMarkRead
	opUsers
)

type roomOp struct {
	ctx    context.Context
	kind   opKind
	client *Client
	secret string
	text   string
	msgID  int64
	mode   DeleteMode
	reply  chan roomReply
}

type roomReply struct {
	users   []string
	msgID   int64
	already bool
	err     *CoreError
}

func newRoom(name string, hub *Hub) *Room {
	return &Room{
		name:     name,
		hub:      hub,
		ops:      make(chan *roomOp, 32),
		subs:     make(map[*Client]struct{}),
		presence: newPresence(),
		messages: make(map[int64]*Message),
	}
}

// do submits an op to the room loop and waits for its reply. Once the op is
// accepted it always runs to completion, even if the submitter's context
// dies meanwhile; a disconnect mid-send must not undo room-visible effects.
func (r *Room) do(ctx context.Context, op *roomOp) roomReply {
	op.ctx = ctx
	op.reply = make(chan roomReply, 1)
	select {
	case r.ops <- op:
	case <-ctx.Done():
		return roomReply{err: coreError(ErrCodeStorageUnavailable, "request cancelled")}
	case <-r.hub.done:
		return roomReply{err: coreError(ErrCodeStorageUnavailable, "shutting down")}
	}
	select {
	case rep := <-op.reply:
		return rep
	case <-r.hub.done:
		return roomReply{err: coreError(ErrCodeStorageUnavailable, "shutting down")}
	}
}

func (r *Room) run() {
	for {
		select {
		case op := <-r.ops:
			op.reply <- r.handle(op)
		case <-r.hub.done:
			return
		}
	}
}

func (r *Room) handle(op *roomOp) roomReply {
	switch op.kind {
	case opJoin:
		return r.handleJoin(op)
	case opLeave, opDrop:
		// leaving a room not joined is a no-op, not an error
		if r.evict(op.client) {
			r.broadcast(r.presenceEvent())
		}
		return roomReply{}
	case opSend:
		return r.handleSend(op)
	case opDelete:
		return r.handleDelete(op)
	case opMarkRead:
		return r.handleMarkRead(op)
	case opUsers:
		return roomReply{users: r.presence.users()}
	default:
		return roomReply{err: coreError(ErrCodeBadRequest, "unknown room op")}
	}
}

// ensureRecord loads the room's persisted record, creating it when the
// auto-create policy allows.
func (r *Room) ensureRecord(ctx context.Context) *CoreError {
	if r.rec != nil {
		return nil
	}
	rec, err := r.hub.store.GetRoomByName(ctx, r.name)
	switch {
	case err == nil:
		r.rec = rec
		return nil
	case errors.Is(err, store.ErrNotFound):
		r.missing = true
		if !r.hub.opts.AutoCreateRooms {
			return coreError(ErrCodeRoomNotFound, "room does not exist")
		}
		rec, err = r.hub.store.UpsertRoom(ctx, r.name, store.RoomOptions{})
		if err != nil {
			return errStorage(err)
		}
		r.rec = rec
		r.missing = false
		return nil
	default:
		return errStorage(err)
	}
}

func (r *Room) handleJoin(op *roomOp) roomReply {
	c := op.client

	if err := r.ensureRecord(op.ctx); err != nil {
		return roomReply{err: err}
	}
	if r.rec.SecretHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(r.rec.SecretHash), []byte(op.secret)) != nil {
			return roomReply{err: errUnauthorized("room secret mismatch")}
		}
	}

	history, err := r.backfill(op.ctx, c.User)
	if err != nil {
		return roomReply{err: errStorage(err)}
	}

	if perr := r.hub.store.AddParticipant(op.ctx, r.name, c.User); perr != nil {
		// membership is durable bookkeeping; the live join still proceeds
		r.hub.log.Warn().Err(perr).Str("room", r.name).Str("user", c.User).Msg("record participant")
	}

	changed := false
	if _, rejoin := r.subs[c]; !rejoin {
		r.subs[c] = struct{}{}
		changed = r.presence.add(c.User)
		c.addRoom(r.name)
	}

	if !r.push(c, &Event{Kind: EventHistory, Room: r.name, Messages: history}) {
		if r.evict(c) {
			r.broadcast(r.presenceEvent())
		}
		go r.hub.Remove(c)
		return roomReply{err: errStorage(errors.New("subscriber not draining"))}
	}
	if changed {
		r.broadcast(r.presenceEvent())
	}

	return roomReply{users: r.presence.users()}
}

// backfill returns the most recent visible messages for viewer, oldest
// first, and primes the in-memory message cache so deletion and read
// receipts can target historical messages.
func (r *Room) backfill(ctx context.Context, viewer string) ([]Message, error) {
	recs, err := r.hub.store.ListRecentMessages(ctx, r.name, r.hub.opts.HistoryLimit, viewer)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(recs))
	for _, rec := range recs {
		m, ok := r.messages[rec.ID]
		if !ok {
			m = messageFromRecord(rec)
			r.messages[m.ID] = m
			r.hub.indexMessage(m.ID, r.name)
		}
		out = append(out, snapshot(m))
	}
	return out, nil
}

func (r *Room) handleSend(op *roomOp) roomReply {
	c := op.client
	if _, ok := r.subs[c]; !ok {
		return roomReply{err: coreError(ErrCodeNotInRoom, "join the room before sending")}
	}
	text := strings.TrimSpace(op.text)
	if text == "" {
		return roomReply{err: errValidation("message body is empty")}
	}
	if len(text) > r.hub.opts.MaxMessageBytes {
		return roomReply{err: errValidation("message body too large")}
	}

	rec := &store.Message{
		Room:      r.name,
		Sender:    c.User,
		Body:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.hub.store.SaveMessage(op.ctx, rec); err != nil {
		return roomReply{err: errStorage(err)}
	}

	msg := &Message{
		ID:         rec.ID,
		Room:       r.name,
		From:       c.User,
		Text:       text,
		CreatedAt:  rec.CreatedAt,
		Visibility: NewVisibility(),
	}
	r.messages[msg.ID] = msg
	r.hub.indexMessage(msg.ID, r.name)
	if r.rec != nil {
		r.rec.MessageCount++
		r.rec.LastActivity = rec.CreatedAt
	}

	ev := snapshot(msg)
	r.broadcast(&Event{Kind: EventMessageCreated, Room: r.name, Message: &ev})

	return roomReply{msgID: msg.ID}
}

func (r *Room) handleMarkRead(op *roomOp) roomReply {
	c := op.client
	if _, ok := r.subs[c]; !ok {
		return roomReply{err: coreError(ErrCodeNotInRoom, "join the room before reading")}
	}
	msg, cerr := r.lookupMessage(op.ctx, op.msgID)
	if cerr != nil {
		return roomReply{err: cerr}
	}
	// a hard-deleted message accepts no further mutation
	if msg.Visibility.State() == VisDeleted || !msg.Visibility.VisibleTo(c.User) {
		return roomReply{err: coreError(ErrCodeMessageNotFound, "message is not visible")}
	}
	if msg.ReadBy(c.User) {
		return roomReply{msgID: msg.ID}
	}
	if err := r.hub.store.MarkMessageRead(op.ctx, msg.ID, c.User); err != nil {
		return roomReply{err: errStorage(err)}
	}
	msg.MarkRead(c.User)
	r.broadcast(&Event{Kind: EventReadReceipt, Room: r.name, MessageID: msg.ID, Reader: c.User})
	return roomReply{msgID: msg.ID}
}

// lookupMessage resolves a message owned by this room, falling back to
// storage for messages that predate this process.
func (r *Room) lookupMessage(ctx context.Context, id int64) (*Message, *CoreError) {
	if msg, ok := r.messages[id]; ok {
		return msg, nil
	}
	rec, err := r.hub.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, coreError(ErrCodeMessageNotFound, "no such message")
	}
	if err != nil {
		return nil, errStorage(err)
	}
	if rec.Room != r.name {
		return nil, coreError(ErrCodeMessageNotFound, "no such message")
	}
	msg := messageFromRecord(rec)
	r.messages[msg.ID] = msg
	return msg, nil
}

func (r *Room) presenceEvent() *Event {
	return &Event{Kind: EventPresenceChanged, Room: r.name, Users: r.presence.users()}
}

// broadcast delivers ev to every subscriber in acceptance order. A
// subscriber that cannot take the event within the bounded timeout is
// dropped from the room and torn down like a disconnect; the resulting
// presence change is itself broadcast.
func (r *Room) broadcast(ev *Event) {
	dropped := r.fanout(ev)
	for len(dropped) > 0 {
		changed := false
		for _, c := range dropped {
			if r.evict(c) {
				changed = true
			}
			go r.hub.Remove(c)
		}
		if !changed {
			return
		}
		dropped = r.fanout(r.presenceEvent())
	}
}

func (r *Room) fanout(ev *Event) []*Client {
	var dropped []*Client
	for c := range r.subs {
		if !r.push(c, ev) {
			dropped = append(dropped, c)
		}
	}
	return dropped
}

// push hands one event to one subscriber, waiting at most the configured
// broadcast timeout.
func (r *Room) push(c *Client, ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	case <-c.Done():
		return false
	default:
	}
	t := time.NewTimer(r.hub.opts.BroadcastTimeout)
	defer t.Stop()
	select {
	case c.Events <- ev:
		return true
	case <-c.Done():
		return false
	case <-t.C:
		return false
	}
}

// evict removes a subscription. Idempotent; reports whether the room's
// active-user set changed. Broadcasting that change is the caller's job.
func (r *Room) evict(c *Client) bool {
	if _, ok := r.subs[c]; !ok {
		return false
	}
	delete(r.subs, c)
	c.removeRoom(r.name)
	return r.presence.drop(c.User)
}

func messageFromRecord(rec *store.Message) *Message {
	m := &Message{
		ID:         rec.ID,
		Room:       rec.Room,
		From:       rec.Sender,
		Text:       rec.Body,
		CreatedAt:  rec.CreatedAt,
		Visibility: NewVisibility(),
	}
	if rec.Deleted {
		m.Visibility.Delete()
	}
	for _, u := range rec.HiddenFrom {
		m.Visibility.HideFrom(u)
	}
	for _, u := range rec.ReadBy {
		m.MarkRead(u)
	}
	return m
}

// snapshot copies the immutable view of a message for handing to clients.
func snapshot(m *Message) Message {
	return Message{
		ID:        m.ID,
		Room:      m.Room,
		From:      m.From,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}
