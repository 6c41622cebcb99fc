package core

import "sort"

// presence derives a room's active-user set from its subscriptions. An
// identity with several connections in the room counts once; it leaves the
// set only when its last connection unsubscribes. Owned by the room actor,
// never locked: all mutation happens on the room goroutine.
type presence struct {
	counts map[string]int
}

func newPresence() *presence {
	return &presence{counts: make(map[string]int)}
}

// add records a subscription for user and reports whether the identity is
// new to the room.
func (p *presence) add(user string) bool {
	p.counts[user]++
	return p.counts[user] == 1
}

// drop records an unsubscription and reports whether the identity left the
// room entirely.
func (p *presence) drop(user string) bool {
	n, ok := p.counts[user]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.counts, user)
		return true
	}
	p.counts[user] = n - 1
	return false
}

// users returns the active-user set, sorted so every presence event carries
// a stable, comparable list.
func (p *presence) users() []string {
	out := make([]string, 0, len(p.counts))
	for u := range p.counts {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
