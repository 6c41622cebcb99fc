package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/parleychat/parley-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return nil
		}
	}
}

func assertNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.After(wait)
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

func drain(ch <-chan *Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// fakeStore is an in-memory store.Store for engine tests.
type fakeStore struct {
	mu       sync.Mutex
	rooms    map[string]*store.Room
	msgs     map[int64]*store.Message
	parts    map[string]map[string]struct{}
	nextID   int64
	failSave bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms: make(map[string]*store.Room),
		msgs:  make(map[int64]*store.Message),
		parts: make(map[string]map[string]struct{}),
	}
}

var errFakeDown = errors.New("fake storage down")

func (f *fakeStore) CreateUser(context.Context, string, string) (*store.User, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) CreateGuestUser(context.Context, string) (*store.User, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStore) GetUserByID(context.Context, int64) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserByUsername(context.Context, string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserBySessionID(context.Context, string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpsertRoom(_ context.Context, name string, opts store.RoomOptions) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rooms[name]; ok {
		return r, nil
	}
	f.nextID++
	r := &store.Room{
		ID:          f.nextID,
		Name:        name,
		Topic:       opts.Topic,
		Description: opts.Description,
		SecretHash:  opts.SecretHash,
		Owner:       opts.Owner,
		CreatedAt:   time.Now(),
	}
	f.rooms[name] = r
	return r, nil
}

func (f *fakeStore) GetRoomByName(_ context.Context, name string) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) ListRooms(context.Context) ([]*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) AddParticipant(_ context.Context, roomName, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parts[roomName] == nil {
		f.parts[roomName] = make(map[string]struct{})
	}
	f.parts[roomName][username] = struct{}{}
	return nil
}

func (f *fakeStore) ListParticipants(_ context.Context, roomName string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for u := range f.parts[roomName] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) SaveMessage(_ context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errFakeDown
	}
	room, ok := f.rooms[msg.Room]
	if !ok {
		return store.ErrNotFound
	}
	f.nextID++
	stored := *msg
	stored.ID = f.nextID
	f.msgs[stored.ID] = &stored
	room.MessageCount++
	room.LastActivity = msg.CreatedAt
	msg.ID = stored.ID
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, id int64) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) ListRecentMessages(_ context.Context, roomName string, limit int, viewer string) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.msgs))
	for id, m := range f.msgs {
		if m.Room != roomName || m.Deleted {
			continue
		}
		hidden := false
		for _, u := range m.HiddenFrom {
			if u == viewer {
				hidden = true
				break
			}
		}
		if !hidden {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*store.Message, 0, len(ids))
	for _, id := range ids {
		cp := *f.msgs[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) HideMessage(_ context.Context, id int64, viewer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, u := range m.HiddenFrom {
		if u == viewer {
			return nil
		}
	}
	m.HiddenFrom = append(m.HiddenFrom, viewer)
	return nil
}

func (f *fakeStore) DeleteMessageForEveryone(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Deleted = true
	return nil
}

func (f *fakeStore) MarkMessageRead(_ context.Context, id int64, reader string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, u := range m.ReadBy {
		if u == reader {
			return nil
		}
	}
	m.ReadBy = append(m.ReadBy, reader)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func newTestHub(t *testing.T, st store.Store, opts Options) *Hub {
	t.Helper()
	if st == nil {
		st = newFakeStore()
	}
	hub := NewHub(st, nil, opts)
	t.Cleanup(hub.Close)
	return hub
}

func mustAdmit(t *testing.T, hub *Hub, user string) *Client {
	t.Helper()
	c, err := hub.Admit(user)
	if err != nil {
		t.Fatalf("admit %s: %v", user, err)
	}
	return c
}

func mustJoin(t *testing.T, hub *Hub, c *Client, room string) []string {
	t.Helper()
	users, err := hub.Join(context.Background(), c, room, "")
	if err != nil {
		t.Fatalf("join %s: %v", room, err)
	}
	return users
}
