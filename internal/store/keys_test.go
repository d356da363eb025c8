package store

import "testing"

func TestRoomKeys(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"room", roomKey("abc123"), "room:abc123"},
		{"users", usersKey("abc123"), "room:abc123:users"},
		{"messages", messagesKey("abc123"), "room:abc123:messages"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s key = %q, want %q", c.name, c.got, c.want)
		}
	}
}
