package core

import (
	"sync"

	"github.com/google/uuid"
)

// registry tracks every live connection and which identities own them.
// It is the single owner of Client lifecycle; room actors only borrow
// references handed out through the hub.
type registry struct {
	mu       sync.Mutex
	clients  map[string]*Client            // connection id -> client
	sessions map[string]map[string]*Client // identity -> connection id -> client

	allowMultiSession bool
	eventBuffer       int
}

func newRegistry(allowMultiSession bool, eventBuffer int) *registry {
	return &registry{
		clients:           make(map[string]*Client),
		sessions:          make(map[string]map[string]*Client),
		allowMultiSession: allowMultiSession,
		eventBuffer:       eventBuffer,
	}
}

// admit creates a Client for the given identity. When the single-session
// policy is active a second connection for the same identity is refused.
func (r *registry) admit(user string) (*Client, *CoreError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.allowMultiSession && len(r.sessions[user]) > 0 {
		return nil, coreError(ErrCodeDuplicateIdentity, "identity already connected")
	}

	c := newClient(uuid.NewString(), user, r.eventBuffer)
	r.clients[c.ID] = c
	if r.sessions[user] == nil {
		r.sessions[user] = make(map[string]*Client)
	}
	r.sessions[user][c.ID] = c
	return c, nil
}

// remove forgets the client. Idempotent: a second remove reports false so
// the caller skips room teardown.
func (r *registry) remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.ID]; !ok {
		return false
	}
	delete(r.clients, c.ID)
	if set := r.sessions[c.User]; set != nil {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(r.sessions, c.User)
		}
	}
	c.close()
	return true
}

// lookup returns the client for a connection id.
func (r *registry) lookup(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

func (r *registry) all() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
