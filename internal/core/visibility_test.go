package core

import (
	"sort"
	"testing"
)

func TestVisibilityHide(t *testing.T) {
	v := NewVisibility()
	if v.State() != VisAll {
		t.Fatalf("fresh visibility state = %v", v.State())
	}
	if !v.VisibleTo("alice") || !v.VisibleTo("bob") {
		t.Fatal("fresh message must be visible to everyone")
	}

	if !v.HideFrom("alice") {
		t.Fatal("first hide must report a change")
	}
	if v.HideFrom("alice") {
		t.Fatal("repeated hide must be a no-op")
	}
	if v.State() != VisHidden {
		t.Fatalf("state after hide = %v", v.State())
	}
	if v.VisibleTo("alice") {
		t.Fatal("hidden from alice yet visible to alice")
	}
	if !v.VisibleTo("bob") {
		t.Fatal("hide from alice must not affect bob")
	}
}

func TestVisibilityDeleteIsTerminal(t *testing.T) {
	v := NewVisibility()
	v.HideFrom("alice")

	if !v.Delete() {
		t.Fatal("first delete must report a change")
	}
	if v.Delete() {
		t.Fatal("repeated delete must be a no-op")
	}
	if v.State() != VisDeleted {
		t.Fatalf("state after delete = %v", v.State())
	}
	if v.VisibleTo("bob") || v.VisibleTo("alice") {
		t.Fatal("deleted message must be visible to nobody")
	}

	// deletion absorbs any further hide
	if v.HideFrom("bob") {
		t.Fatal("hide after delete must be a no-op")
	}
	if v.State() != VisDeleted {
		t.Fatalf("delete is terminal, state = %v", v.State())
	}
	if len(v.HiddenFrom()) != 0 {
		t.Fatalf("per-user hides must not survive deletion: %v", v.HiddenFrom())
	}
}

func TestMessageReadMarkers(t *testing.T) {
	m := &Message{ID: 1, Visibility: NewVisibility()}
	if m.ReadBy("alice") {
		t.Fatal("fresh message has no readers")
	}
	if !m.MarkRead("alice") {
		t.Fatal("first mark must report a change")
	}
	if m.MarkRead("alice") {
		t.Fatal("repeated mark must be a no-op")
	}
	m.MarkRead("bob")
	readers := m.Readers()
	sort.Strings(readers)
	if len(readers) != 2 || readers[0] != "alice" || readers[1] != "bob" {
		t.Fatalf("readers = %v", readers)
	}
}

func TestNormalizeRoomName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"General", "general"},
		{"  Team   Chat  ", "team-chat"},
		{"a\tb\nc", "a-b-c"},
		{"already-fine", "already-fine"},
	}
	for _, tc := range cases {
		if got := NormalizeRoomName(tc.in); got != tc.want {
			t.Errorf("NormalizeRoomName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if ValidRoomName("ab") || ValidRoomName("") {
		t.Error("short names must be invalid")
	}
	if !ValidRoomName("abc") || !ValidRoomName("exactly-thirty-characters-long") {
		t.Error("boundary names must be valid")
	}
	if ValidRoomName("this-name-is-thirty-one-chars-x") {
		t.Error("31-char name must be invalid")
	}
}
