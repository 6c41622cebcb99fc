package core

// VisState enumerates the visibility states a message can be in.
type VisState int

const (
	// VisAll means every participant may see the message.
	VisAll VisState = iota
	// VisHidden means the message is hidden from the identities in the
	// hidden set and visible to everyone else.
	VisHidden
	// VisDeleted means the message is hard-deleted for everyone.
	// This state is terminal.
	VisDeleted
)

// Visibility is the per-message visibility mask. Soft deletes accumulate
// identities in the hidden set; a hard delete wins over any hidden set and
// can never be undone.
type Visibility struct {
	state  VisState
	hidden map[string]struct{}
}

// NewVisibility returns a mask visible to all.
func NewVisibility() Visibility {
	return Visibility{state: VisAll}
}

// State reports the current visibility state.
func (v *Visibility) State() VisState {
	return v.state
}

// VisibleTo reports whether the given identity may see the message.
func (v *Visibility) VisibleTo(user string) bool {
	switch v.state {
	case VisDeleted:
		return false
	case VisHidden:
		_, hidden := v.hidden[user]
		return !hidden
	default:
		return true
	}
}

// HideFrom adds user to the hidden set. Returns false if nothing changed:
// the message is already hard-deleted or already hidden from user.
func (v *Visibility) HideFrom(user string) bool {
	if v.state == VisDeleted {
		return false
	}
	if v.hidden == nil {
		v.hidden = make(map[string]struct{})
	}
	if _, ok := v.hidden[user]; ok {
		return false
	}
	v.hidden[user] = struct{}{}
	v.state = VisHidden
	return true
}

// Delete marks the message hard-deleted. Returns false if it already was.
// The hidden set is dropped since the stronger state subsumes it.
func (v *Visibility) Delete() bool {
	if v.state == VisDeleted {
		return false
	}
	v.state = VisDeleted
	v.hidden = nil
	return true
}

// HiddenFrom returns the identities in the hidden set.
func (v *Visibility) HiddenFrom() []string {
	users := make([]string, 0, len(v.hidden))
	for u := range v.hidden {
		users = append(users, u)
	}
	return users
}
