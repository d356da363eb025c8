package app

import (
	"sync"
	"testing"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

type stubConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (c *stubConn) TrySend(frame core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *stubConn) Close() {}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	conn := &stubConn{}

	r.Add("room01", "u1", conn, "alice", true)

	name, isTeacher, ok := r.Get("room01", "u1")
	if !ok || name != "alice" || !isTeacher {
		t.Fatalf("get = (%q, %v, %v)", name, isTeacher, ok)
	}
	if _, _, ok := r.Get("room01", "u2"); ok {
		t.Fatal("get found an absent user")
	}
	if _, _, ok := r.Get("ghost1", "u1"); ok {
		t.Fatal("get found a user in an absent room")
	}

	name, remaining, ok := r.Remove("room01", "u1")
	if !ok || name != "alice" || remaining != 0 {
		t.Fatalf("remove = (%q, %d, %v)", name, remaining, ok)
	}
	if r.RoomCount() != 0 {
		t.Fatalf("empty room not dropped, RoomCount = %d", r.RoomCount())
	}
	if _, _, ok := r.Remove("room01", "u1"); ok {
		t.Fatal("second remove reported ok")
	}
}

func TestRegistryRemainingCount(t *testing.T) {
	r := NewRegistry()
	r.Add("room01", "u1", &stubConn{}, "alice", true)
	r.Add("room01", "u2", &stubConn{}, "bob", false)
	r.Add("room01", "u3", &stubConn{}, "carol", false)

	if got := r.Count("room01"); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	_, remaining, ok := r.Remove("room01", "u2")
	if !ok || remaining != 2 {
		t.Fatalf("remove = (remaining %d, ok %v), want (2, true)", remaining, ok)
	}
	if got := r.Count("room01"); got != 2 {
		t.Fatalf("count after remove = %d, want 2", got)
	}
}

func TestRegistryTeacher(t *testing.T) {
	r := NewRegistry()
	r.Add("room01", "u1", &stubConn{}, "bob", false)

	if _, _, ok := r.Teacher("room01"); ok {
		t.Fatal("teacher found in a room without one")
	}
	r.Add("room01", "u2", &stubConn{}, "alice", true)
	uid, name, ok := r.Teacher("room01")
	if !ok || uid != "u2" || name != "alice" {
		t.Fatalf("teacher = (%q, %q, %v)", uid, name, ok)
	}
}

func TestRegistryMembersSnapshot(t *testing.T) {
	r := NewRegistry()
	a, b := &stubConn{}, &stubConn{}
	r.Add("room01", "u1", a, "alice", true)
	r.Add("room01", "u2", b, "bob", false)

	members := r.Members("room01")
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	seen := map[domain.UserID]core.SignalConnection{}
	for _, m := range members {
		seen[m.UserID] = m.Conn
	}
	if seen["u1"] != a || seen["u2"] != b {
		t.Fatalf("member connections mismatched: %v", seen)
	}

	// The snapshot is detached from later registry mutations.
	r.Remove("room01", "u2")
	if len(members) != 2 {
		t.Fatal("snapshot shrank after remove")
	}
	if got := len(r.Members("room01")); got != 1 {
		t.Fatalf("fresh snapshot = %d members, want 1", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := domain.UserID(rune('a' + i))
			r.Add("room01", uid, &stubConn{}, "user", false)
			r.Get("room01", uid)
			r.Members("room01")
			r.Remove("room01", uid)
		}(i)
	}
	wg.Wait()
	if got := r.Count("room01"); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
}
