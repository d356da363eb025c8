package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edustream/classroom/internal/app"
	"github.com/edustream/classroom/internal/app/sfu"
	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
	"github.com/edustream/classroom/internal/fleet"
	"github.com/edustream/classroom/internal/store/memory"
)

type fakeProvider struct {
	mu      sync.Mutex
	nextID  int
	running map[string]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{running: make(map[string]bool)}
}

func (p *fakeProvider) CreateInstance(context.Context, core.InstanceSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("i-%04d", p.nextID)
	p.running[id] = true
	return id, nil
}

func (p *fakeProvider) WaitUntilRunning(context.Context, string, time.Duration) error { return nil }

func (p *fakeProvider) InstanceRunning(_ context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[id], nil
}

func (p *fakeProvider) PublicIP(_ context.Context, id string) (string, error) {
	return "203.0.113.9", nil
}

func (p *fakeProvider) TerminateInstance(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[id] = false
	return nil
}

type fakeEngine struct{}

func (fakeEngine) NewWorker() (core.MediaWorker, error) { return fakeWorker{}, nil }

type fakeWorker struct{}

func (fakeWorker) NewRouter([]domain.RTPCodecCapability) (core.MediaRouter, error) {
	return nil, fmt.Errorf("not used")
}

func newTestHandlers(t *testing.T) (*Handlers, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := memory.New()
	media, err := sfu.NewManager(fakeEngine{}, st, 1)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	coord := fleet.NewCoordinator(st, newFakeProvider(), fleet.Config{ImageID: "ami-test"})
	return NewHandlers(st, coord, app.NewRegistry(), media, "instance-test", 3000), st
}

func newTestRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	api := r.Group("/api")
	api.POST("/create-room", h.CreateRoom)
	api.GET("/check-room/:roomId", h.CheckRoom)
	api.GET("/join-room/:roomId", h.JoinRoom)
	api.GET("/redirect/:roomId", h.Redirect)
	api.GET("/health", h.Health)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var m map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
			t.Fatalf("bad response body %q: %v", w.Body.String(), err)
		}
	}
	return w, m
}

func TestCreateRoom(t *testing.T) {
	h, st := newTestHandlers(t)
	r := newTestRouter(h)

	w, body := doJSON(t, r, http.MethodPost, "/api/create-room",
		`{"roomId":"abc123","teacherName":"alice"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if body["roomId"] != "abc123" {
		t.Fatalf("roomId = %v", body["roomId"])
	}
	if body["instanceUrl"] != "http://203.0.113.9:3000" {
		t.Fatalf("instanceUrl = %v", body["instanceUrl"])
	}
	inst, err := st.Instance(context.Background(), "abc123")
	if err != nil || inst.ID == "" || inst.PublicIP == "" {
		t.Fatalf("placement not persisted: %+v err=%v", inst, err)
	}

	// Same code again collides.
	w, _ = doJSON(t, r, http.MethodPost, "/api/create-room",
		`{"roomId":"abc123","teacherName":"bob"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", w.Code)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := newTestRouter(h)

	for _, body := range []string{
		`{"roomId":"short","teacherName":"alice"}`,
		`{"roomId":"toolong7","teacherName":"alice"}`,
		`not json`,
	} {
		w, _ := doJSON(t, r, http.MethodPost, "/api/create-room", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestCheckRoom(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := newTestRouter(h)

	w, body := doJSON(t, r, http.MethodGet, "/api/check-room/ghost1", "")
	if w.Code != http.StatusOK || body["exists"] != false {
		t.Fatalf("missing room: code=%d body=%v", w.Code, body)
	}

	doJSON(t, r, http.MethodPost, "/api/create-room", `{"roomId":"abc123","teacherName":"alice"}`)
	w, body = doJSON(t, r, http.MethodGet, "/api/check-room/abc123", "")
	if w.Code != http.StatusOK || body["exists"] != true {
		t.Fatalf("existing room: code=%d body=%v", w.Code, body)
	}
	if body["instanceUrl"] != "http://203.0.113.9:3000" {
		t.Fatalf("instanceUrl = %v", body["instanceUrl"])
	}
}

func TestJoinRoom(t *testing.T) {
	h, st := newTestHandlers(t)
	r := newTestRouter(h)

	w, body := doJSON(t, r, http.MethodGet, "/api/join-room/ghost1", "")
	if w.Code != http.StatusNotFound || body["error"] != "room not found" {
		t.Fatalf("missing room: code=%d body=%v", w.Code, body)
	}

	// A room whose instance has not resolved yet is not joinable.
	if _, err := st.CreateRoom(context.Background(), "abc123", "alice", "", ""); err != nil {
		t.Fatalf("create room: %v", err)
	}
	w, body = doJSON(t, r, http.MethodGet, "/api/join-room/abc123", "")
	if w.Code != http.StatusNotFound || body["error"] != "room server not found" {
		t.Fatalf("unplaced room: code=%d body=%v", w.Code, body)
	}

	if err := st.SetInstanceIP(context.Background(), "abc123", "203.0.113.9"); err != nil {
		t.Fatalf("set ip: %v", err)
	}
	w, body = doJSON(t, r, http.MethodGet, "/api/join-room/abc123", "")
	if w.Code != http.StatusOK || body["instanceIp"] != "203.0.113.9" {
		t.Fatalf("joinable room: code=%d body=%v", w.Code, body)
	}
}

func TestRedirect(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := newTestRouter(h)

	w, _ := doJSON(t, r, http.MethodGet, "/api/redirect/ghost1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing room: code=%d", w.Code)
	}

	doJSON(t, r, http.MethodPost, "/api/create-room", `{"roomId":"abc123","teacherName":"alice"}`)

	w, body := doJSON(t, r, http.MethodGet, "/api/redirect/abc123?json=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("json redirect: code=%d", w.Code)
	}
	want := "https://203.0.113.9:3000/classroom/abc123"
	if body["redirectUrl"] != want {
		t.Fatalf("redirectUrl = %v, want %s", body["redirectUrl"], want)
	}

	w, _ = doJSON(t, r, http.MethodGet, "/api/redirect/abc123", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != want {
		t.Fatalf("redirect: code=%d location=%q", w.Code, w.Header().Get("Location"))
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := newTestRouter(h)

	w, body := doJSON(t, r, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if body["status"] != "OK" || body["instanceId"] != "instance-test" {
		t.Fatalf("health = %v", body)
	}
	if body["activeWorkers"] != float64(1) {
		t.Fatalf("activeWorkers = %v, want 1", body["activeWorkers"])
	}
}
