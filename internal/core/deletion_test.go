package core

import (
	"context"
	"testing"
	"time"

	"github.com/parleychat/parley-server/internal/store"
)

func TestDeleteForEveryone(t *testing.T) {
	hub := newTestHub(t, nil, DefaultOptions())
	ctx := context.Background()

	alice := mustAdmit(t, hub, "alice")
	bob := mustAdmit(t, hub, "bob")
	mustJoin(t, hub, alice, "general")
	mustJoin(t, hub, bob, "general")
	drain(alice.Events)
	drain(bob.Events)

	id, cerr := hub.Send(ctx, alice, "general", "regret this")
	if cerr != nil {
		t.Fatalf("send: %v", cerr)
	}

	// only the sender may delete for everyone
	if _, cerr := hub.Delete(ctx, bob, id, DeleteEveryone); cerr == nil || cerr.Code != ErrCodeUnauthorized {
		t.Fatalf("non-sender delete: expected unauthorized, got %v", cerr)
	}

	already, cerr := hub.Delete(ctx, alice, id, DeleteEveryone)
	if cerr != nil || already {
		t.Fatalf("sender delete: already=%v err=%v", already, cerr)
	}
	for _, c := range []*Client{alice, bob} {
		ev := mustEvent(t, c.Events, EventMessageDeleted)
		if ev.MessageID != id {
			t.Fatalf("%s: deletion targets %d, want %d", c.User, ev.MessageID, id)
		}
	}

	// repeated hard delete is an idempotent success, no second broadcast
	already, cerr = hub.Delete(ctx, alice, id, DeleteEveryone)
	if cerr != nil || !already {
		t.Fatalf("repeat delete: already=%v err=%v", already, cerr)
	}
	assertNoEvent(t, bob.Events, EventMessageDeleted, 100*time.Millisecond)

	// a hard-deleted message accepts no read markers
	if cerr := hub.MarkRead(ctx, bob, id); cerr == nil || cerr.Code != ErrCodeMessageNotFound {
		t.Fatalf("mark read after delete: expected message_not_found, got %v", cerr)
	}

	// and is gone from later backfills
	carol := mustAdmit(t, hub, "carol")
	mustJoin(t, hub, carol, "general")
	ev := mustEvent(t, carol.Events, EventHistory)
	for _, m := range ev.Messages {
		if m.ID == id {
			t.Fatalf("deleted message survived in backfill: %+v", m)
		}
	}
}

func TestRoomOwnerMayDeleteForEveryone(t *testing.T) {
	st := newFakeStore()
	if _, err := st.UpsertRoom(context.Background(), "moderated", store.RoomOptions{Owner: "alice"}); err != nil {
		t.Fatal(err)
	}
	hub := newTestHub(t, st, DefaultOptions())
	ctx := context.Background()

	alice := mustAdmit(t, hub, "alice")
	bob := mustAdmit(t, hub, "bob")
	mustJoin(t, hub, alice, "moderated")
	mustJoin(t, hub, bob, "moderated")

	id, cerr := hub.Send(ctx, bob, "moderated", "spam")
	if cerr != nil {
		t.Fatalf("send: %v", cerr)
	}
	if _, cerr := hub.Delete(ctx, alice, id, DeleteEveryone); cerr != nil {
		t.Fatalf("owner delete of someone else's message: %v", cerr)
	}
}

func TestDeleteForSelf(t *testing.T) {
	hub := newTestHub(t, nil, DefaultOptions())
	ctx := context.Background()

	alice := mustAdmit(t, hub, "alice")
	bob := mustAdmit(t, hub, "bob")
	mustJoin(t, hub, alice, "general")
	mustJoin(t, hub, bob, "general")
	drain(alice.Events)
	drain(bob.Events)

	id, cerr := hub.Send(ctx, alice, "general", "keep for others")
	if cerr != nil {
		t.Fatalf("send: %v", cerr)
	}
	drain(alice.Events)
	drain(bob.Events)

	// anyone in the room may hide a message from themselves
	already, cerr := hub.Delete(ctx, bob, id, DeleteSelf)
	if cerr != nil || already {
		t.Fatalf("self delete: already=%v err=%v", already, cerr)
	}
	// nobody else's view changes
	assertNoEvent(t, alice.Events, EventMessageDeleted, 100*time.Millisecond)

	// repeating is idempotent success
	already, cerr = hub.Delete(ctx, bob, id, DeleteSelf)
	if cerr != nil || !already {
		t.Fatalf("repeat self delete: already=%v err=%v", already, cerr)
	}

	// bob's later backfill omits it, a fresh viewer still sees it
	if cerr := hub.Leave(ctx, bob, "general"); cerr != nil {
		t.Fatalf("leave: %v", cerr)
	}
	mustJoin(t, hub, bob, "general")
	ev := mustEvent(t, bob.Events, EventHistory)
	if len(ev.Messages) != 0 {
		t.Fatalf("hidden message returned to bob: %+v", ev.Messages)
	}

	carol := mustAdmit(t, hub, "carol")
	mustJoin(t, hub, carol, "general")
	ev = mustEvent(t, carol.Events, EventHistory)
	if len(ev.Messages) != 1 || ev.Messages[0].ID != id {
		t.Fatalf("message missing for fresh viewer: %+v", ev.Messages)
	}
}

func TestDeleteForSelfNotifiesOtherSessions(t *testing.T) {
	hub := newTestHub(t, nil, DefaultOptions())
	ctx := context.Background()

	b1 := mustAdmit(t, hub, "bob")
	b2 := mustAdmit(t, hub, "bob")
	alice := mustAdmit(t, hub, "alice")
	mustJoin(t, hub, alice, "general")
	mustJoin(t, hub, b1, "general")
	mustJoin(t, hub, b2, "general")

	id, cerr := hub.Send(ctx, alice, "general", "hello bob")
	if cerr != nil {
		t.Fatalf("send: %v", cerr)
	}
	drain(b1.Events)
	drain(b2.Events)

	if _, cerr := hub.Delete(ctx, b1, id, DeleteSelf); cerr != nil {
		t.Fatalf("self delete: %v", cerr)
	}
	ev := mustEvent(t, b2.Events, EventMessageDeleted)
	if ev.MessageID != id {
		t.Fatalf("other session purge targets %d, want %d", ev.MessageID, id)
	}
	// the requesting session learns through its ack, not an event
	assertNoEvent(t, b1.Events, EventMessageDeleted, 100*time.Millisecond)
}

func TestDeleteValidation(t *testing.T) {
	hub := newTestHub(t, nil, DefaultOptions())
	ctx := context.Background()

	alice := mustAdmit(t, hub, "alice")
	mustJoin(t, hub, alice, "general")
	id, cerr := hub.Send(ctx, alice, "general", "target")
	if cerr != nil {
		t.Fatalf("send: %v", cerr)
	}

	if _, cerr := hub.Delete(ctx, alice, id, DeleteMode("later")); cerr == nil || cerr.Code != ErrCodeValidationFailed {
		t.Fatalf("bad mode: expected validation_failed, got %v", cerr)
	}
	if _, cerr := hub.Delete(ctx, alice, id+999, DeleteEveryone); cerr == nil || cerr.Code != ErrCodeMessageNotFound {
		t.Fatalf("unknown id: expected message_not_found, got %v", cerr)
	}

	outsider := mustAdmit(t, hub, "eve")
	if _, cerr := hub.Delete(ctx, outsider, id, DeleteEveryone); cerr == nil || cerr.Code != ErrCodeNotInRoom {
		t.Fatalf("outsider delete: expected not_in_room, got %v", cerr)
	}
}
