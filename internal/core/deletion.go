package core

// DeleteMode selects the scope of a deletion request.
type DeleteMode string

const (
	// DeleteSelf hides the message from the requesting identity only.
	DeleteSelf DeleteMode = "self"
	// DeleteEveryone removes the message from every participant's view.
	DeleteEveryone DeleteMode = "everyone"
)

// Valid reports whether the mode is one of the closed set.
func (m DeleteMode) Valid() bool {
	return m == DeleteSelf || m == DeleteEveryone
}

// handleDelete coordinates a deletion request inside the room loop, so the
// visibility mutation and its broadcast are atomic with respect to any
// concurrent send or read receipt on the same message.
func (r *Room) handleDelete(op *roomOp) roomReply {
	c := op.client
	if !op.mode.Valid() {
		return roomReply{err: errValidation("unknown delete mode")}
	}
	if _, ok := r.subs[c]; !ok {
		return roomReply{err: coreError(ErrCodeNotInRoom, "join the room before deleting")}
	}
	msg, cerr := r.lookupMessage(op.ctx, op.msgID)
	if cerr != nil {
		return roomReply{err: cerr}
	}

	switch op.mode {
	case DeleteSelf:
		return r.deleteForSelf(op, msg)
	default:
		return r.deleteForEveryone(op, msg)
	}
}

func (r *Room) deleteForSelf(op *roomOp, msg *Message) roomReply {
	user := op.client.User
	// already gone from this identity's view, either way: idempotent success
	if !msg.Visibility.VisibleTo(user) {
		return roomReply{msgID: msg.ID, already: true}
	}
	if err := r.hub.store.HideMessage(op.ctx, msg.ID, user); err != nil {
		return roomReply{err: errStorage(err)}
	}
	msg.Visibility.HideFrom(user)

	// no other participant's view changes; only the requester's other
	// sessions need to purge the message
	ev := &Event{Kind: EventMessageDeleted, Room: r.name, MessageID: msg.ID}
	for sub := range r.subs {
		if sub.User == user && sub != op.client {
			if !r.push(sub, ev) {
				if r.evict(sub) {
					r.broadcast(r.presenceEvent())
				}
				go r.hub.Remove(sub)
			}
		}
	}
	return roomReply{msgID: msg.ID}
}

func (r *Room) deleteForEveryone(op *roomOp, msg *Message) roomReply {
	if msg.Visibility.State() == VisDeleted {
		return roomReply{msgID: msg.ID, already: true}
	}
	user := op.client.User
	owner := r.rec != nil && r.rec.Owner != "" && r.rec.Owner == user
	if user != msg.From && !owner {
		return roomReply{err: errUnauthorized("only the sender can delete for everyone")}
	}
	if err := r.hub.store.DeleteMessageForEveryone(op.ctx, msg.ID); err != nil {
		return roomReply{err: errStorage(err)}
	}
	msg.Visibility.Delete()
	r.broadcast(&Event{Kind: EventMessageDeleted, Room: r.name, MessageID: msg.ID})
	return roomReply{msgID: msg.ID}
}
