package core

import "sync"

// Client is one live connection as seen by the core layer. A reconnecting
// user gets a fresh Client with a fresh ID; identity is the username carried
// in User and several Clients may share it.
type Client struct {
	ID     string
	User   string
	Events chan *Event

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
	done   chan struct{}
}

func newClient(id, user string, buffer int) *Client {
	return &Client{
		ID:     id,
		User:   user,
		Events: make(chan *Event, buffer),
		rooms:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Done is closed when the client is removed from the registry. Room actors
// select on it so a broadcast never lands on a dead connection.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Rooms returns the names of the rooms the client currently has joined.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.rooms))
	for name := range c.rooms {
		names = append(names, name)
	}
	return names
}

func (c *Client) addRoom(name string) {
	c.mu.Lock()
	c.rooms[name] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeRoom(name string) {
	c.mu.Lock()
	delete(c.rooms, name)
	c.mu.Unlock()
}

// close marks the client dead. Idempotent; the Events channel is never
// closed so late room broadcasts cannot panic, they select on done instead.
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}
