package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
	"github.com/edustream/classroom/internal/store/memory"
)

type fakeProvider struct {
	mu         sync.Mutex
	creates    atomic.Int64
	nextID     int
	running    map[string]bool
	ips        map[string]string
	terminated []string

	createDelay time.Duration
	createErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{running: make(map[string]bool), ips: make(map[string]string)}
}

func (p *fakeProvider) CreateInstance(_ context.Context, spec core.InstanceSpec) (string, error) {
	p.creates.Add(1)
	if p.createDelay > 0 {
		time.Sleep(p.createDelay)
	}
	if p.createErr != nil {
		return "", p.createErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("i-%04d", p.nextID)
	p.running[id] = true
	p.ips[id] = fmt.Sprintf("203.0.113.%d", p.nextID)
	return id, nil
}

func (p *fakeProvider) WaitUntilRunning(_ context.Context, instanceID string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running[instanceID] {
		return errors.New("never reached running")
	}
	return nil
}

func (p *fakeProvider) InstanceRunning(_ context.Context, instanceID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[instanceID], nil
}

func (p *fakeProvider) PublicIP(_ context.Context, instanceID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ip, ok := p.ips[instanceID]
	if !ok {
		return "", errors.New("unknown instance")
	}
	return ip, nil
}

func (p *fakeProvider) TerminateInstance(_ context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[instanceID] = false
	p.terminated = append(p.terminated, instanceID)
	return nil
}

func (p *fakeProvider) stop(instanceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[instanceID] = false
}

func newTestCoordinator(p core.FleetProvider, s core.RoomStore) *Coordinator {
	return NewCoordinator(s, p, Config{
		ImageID:      "ami-test",
		InstanceType: "t3.medium",
	})
}

func TestAcquireProvisionsOnce(t *testing.T) {
	provider := newFakeProvider()
	st := memory.New()
	c := newTestCoordinator(provider, st)

	inst, err := c.Acquire(context.Background(), "abc123", "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if inst.ID == "" || inst.PublicIP == "" {
		t.Fatalf("incomplete instance: %+v", inst)
	}
	if got := provider.creates.Load(); got != 1 {
		t.Fatalf("creates = %d, want 1", got)
	}

	stored, err := st.Instance(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("stored instance: %v", err)
	}
	if stored != inst {
		t.Fatalf("store has %+v, acquire returned %+v", stored, inst)
	}

	// A second acquire verifies the existing instance without launching.
	again, err := c.Acquire(context.Background(), "abc123", "alice")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if again != inst {
		t.Fatalf("second acquire got %+v, want %+v", again, inst)
	}
	if got := provider.creates.Load(); got != 1 {
		t.Fatalf("creates after re-acquire = %d, want 1", got)
	}
}

func TestAcquireConcurrentSingleFlight(t *testing.T) {
	provider := newFakeProvider()
	provider.createDelay = 20 * time.Millisecond
	c := newTestCoordinator(provider, memory.New())

	const callers = 16
	results := make([]domain.Instance, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Acquire(context.Background(), "room42", "alice")
		}(i)
	}
	wg.Wait()

	if got := provider.creates.Load(); got != 1 {
		t.Fatalf("creates = %d, want exactly 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got %+v, caller 0 got %+v", i, results[i], results[0])
		}
	}
}

func TestAcquireDistinctRoomsDistinctInstances(t *testing.T) {
	provider := newFakeProvider()
	c := newTestCoordinator(provider, memory.New())

	a, err := c.Acquire(context.Background(), "rooma1", "alice")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	b, err := c.Acquire(context.Background(), "roomb2", "bob")
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("rooms shared instance %s", a.ID)
	}
	if got := provider.creates.Load(); got != 2 {
		t.Fatalf("creates = %d, want 2", got)
	}
}

func TestAcquireCreateErrorSharedByAllCallers(t *testing.T) {
	provider := newFakeProvider()
	provider.createErr = errors.New("capacity exhausted")
	provider.createDelay = 10 * time.Millisecond
	c := newTestCoordinator(provider, memory.New())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Acquire(context.Background(), "broken", "alice")
		}(i)
	}
	wg.Wait()

	if got := provider.creates.Load(); got != 1 {
		t.Fatalf("creates = %d, want 1", got)
	}
	for i, err := range errs {
		if err == nil {
			t.Fatalf("caller %d got nil error", i)
		}
	}
}

func TestVerifyPurgesStoppedInstance(t *testing.T) {
	provider := newFakeProvider()
	st := memory.New()
	c := newTestCoordinator(provider, st)

	inst, err := c.Acquire(context.Background(), "abc123", "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	provider.stop(inst.ID)

	if _, ok := c.Verify(context.Background(), "abc123"); ok {
		t.Fatal("verify reported a stopped instance as live")
	}
	stored, err := st.Instance(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("stored instance: %v", err)
	}
	if stored.ID != "" || stored.PublicIP != "" {
		t.Fatalf("stale placement not purged: %+v", stored)
	}

	// The next acquire replaces the dead instance.
	again, err := c.Acquire(context.Background(), "abc123", "alice")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if again.ID == inst.ID {
		t.Fatal("re-acquire returned the stopped instance")
	}
	if got := provider.creates.Load(); got != 2 {
		t.Fatalf("creates = %d, want 2", got)
	}
}

func TestReleaseTerminatesAndClears(t *testing.T) {
	provider := newFakeProvider()
	st := memory.New()
	c := newTestCoordinator(provider, st)

	inst, err := c.Acquire(context.Background(), "abc123", "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := c.Release(context.Background(), "abc123"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(provider.terminated) != 1 || provider.terminated[0] != inst.ID {
		t.Fatalf("terminated = %v, want [%s]", provider.terminated, inst.ID)
	}
	stored, _ := st.Instance(context.Background(), "abc123")
	if stored.ID != "" {
		t.Fatalf("placement survived release: %+v", stored)
	}

	// Releasing a room with no live instance is a no-op.
	if err := c.Release(context.Background(), "abc123"); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if len(provider.terminated) != 1 {
		t.Fatalf("second release terminated again: %v", provider.terminated)
	}
}

func TestReleaseTerminatesStoppedInstance(t *testing.T) {
	provider := newFakeProvider()
	st := memory.New()
	c := newTestCoordinator(provider, st)

	inst, err := c.Acquire(context.Background(), "abc123", "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	provider.stop(inst.ID)

	// An instance that left the running state still exists at the
	// provider; release must terminate it, not just forget the id.
	if err := c.Release(context.Background(), "abc123"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(provider.terminated) != 1 || provider.terminated[0] != inst.ID {
		t.Fatalf("terminated = %v, want [%s]", provider.terminated, inst.ID)
	}
	stored, _ := st.Instance(context.Background(), "abc123")
	if stored.ID != "" {
		t.Fatalf("placement survived release: %+v", stored)
	}
}

func TestReleaseTerminatesPendingInstance(t *testing.T) {
	provider := newFakeProvider()
	st := memory.New()
	c := newTestCoordinator(provider, st)

	// A launch that persisted its id but never reached running (crash or
	// wait timeout) leaves only the id behind.
	if err := st.SetInstanceID(context.Background(), "abc123", "i-stuck"); err != nil {
		t.Fatalf("set id: %v", err)
	}

	if err := c.Release(context.Background(), "abc123"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(provider.terminated) != 1 || provider.terminated[0] != "i-stuck" {
		t.Fatalf("terminated = %v, want [i-stuck]", provider.terminated)
	}
}

func TestAcquireSurvivesCallerCancel(t *testing.T) {
	provider := newFakeProvider()
	provider.createDelay = 30 * time.Millisecond
	c := newTestCoordinator(provider, memory.New())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	// The launch outlives the caller that started it; cancellation must
	// not poison the shared result.
	inst, err := c.Acquire(ctx, "room42", "alice")
	if err != nil {
		t.Fatalf("acquire after cancel: %v", err)
	}
	if inst.ID == "" || inst.PublicIP == "" {
		t.Fatalf("incomplete instance: %+v", inst)
	}
	if got := provider.creates.Load(); got != 1 {
		t.Fatalf("creates = %d, want 1", got)
	}
}

func TestReclaimIdleReleasesOnlyEmptyRooms(t *testing.T) {
	provider := newFakeProvider()
	st := memory.New()
	c := newTestCoordinator(provider, st)

	if _, err := st.CreateRoom(context.Background(), "busy01", "alice", "", ""); err != nil {
		t.Fatalf("create busy room: %v", err)
	}
	if err := st.AddUser(context.Background(), "busy01", "u1", domain.StoredUser{Name: "alice", IsTeacher: true}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	busy, err := c.Acquire(context.Background(), "busy01", "alice")
	if err != nil {
		t.Fatalf("acquire busy: %v", err)
	}

	if _, err := st.CreateRoom(context.Background(), "idle01", "bob", "", ""); err != nil {
		t.Fatalf("create idle room: %v", err)
	}
	idle, err := c.Acquire(context.Background(), "idle01", "bob")
	if err != nil {
		t.Fatalf("acquire idle: %v", err)
	}

	released, err := c.ReclaimIdle(context.Background())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
	if len(provider.terminated) != 1 || provider.terminated[0] != idle.ID {
		t.Fatalf("terminated = %v, want [%s]", provider.terminated, idle.ID)
	}
	if running, _ := provider.InstanceRunning(context.Background(), busy.ID); !running {
		t.Fatal("busy room's instance was reclaimed")
	}
}
