package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meshbridge/internal/audit"
	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
	"github.com/nerrad567/meshbridge/internal/entity"
	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
	"github.com/nerrad567/meshbridge/internal/infrastructure/database"
	"github.com/nerrad567/meshbridge/internal/infrastructure/logging"
	"github.com/nerrad567/meshbridge/internal/metrics"
	"github.com/nerrad567/meshbridge/migrations"
)

const (
	testSecret = "test-secret-key-at-least-32-characters-long"

	lightsDiscovery = `[{"device_addr":123,"device_name":"Desk Lamp","device_types":["Light"],"location":"Office"},` +
		`{"device_addr":200,"device_name":"Ceiling","device_types":["Light","Multiwhite"]}]`
	groupsDiscovery = `[{"group_main_addr":49152,"group_name":"Kitchen","devices":[123,200]}]`
	scenesDiscovery = `[{"scene_id":3,"scene_name":"Evening"}]`
)

// fakeTransport implements mesh.Transport for testing.
type fakeTransport struct {
	mu         sync.Mutex
	published  []fakePublish
	handlers   map[string]func(topic string, payload []byte)
	publishErr error
}

type fakePublish struct {
	Topic   string
	Payload string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(topic string, payload []byte))}
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, fakePublish{Topic: topic, Payload: string(payload)})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return func() {
		f.mu.Lock()
		delete(f.handlers, topic)
		f.mu.Unlock()
	}, nil
}

// SimulateMessage delivers payload to the handler on topic.
func (f *fakeTransport) SimulateMessage(t *testing.T, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler subscribed on %s", topic)
	}
	h(topic, []byte(payload))
}

func (f *fakeTransport) setPublishErr(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) getPublished() []fakePublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakePublish, len(f.published))
	copy(out, f.published)
	return out
}

func (f *fakeTransport) clearPublished() {
	f.mu.Lock()
	f.published = nil
	f.mu.Unlock()
}

// stubHealth implements HealthSource.
type stubHealth struct {
	status mesh.HealthStatus
}

func (h stubHealth) Determine() (mesh.HealthStatus, string) {
	return h.status, "stub"
}

func (h stubHealth) Message(status mesh.HealthStatus, reason string) mesh.HealthMessage {
	return mesh.HealthMessage{Status: status, Reason: reason, Version: "test", PollingMode: "rotational"}
}

type testEnv struct {
	server    *Server
	handler   http.Handler
	session   *mesh.Session
	transport *fakeTransport
	registry  *entity.Registry
	repo      *entity.SQLiteRepository
	audit     *audit.SQLiteRepository
	metrics   *metrics.Collector
}

type envOption func(*Deps)

func withSecret(secret string) envOption {
	return func(d *Deps) { d.Security.JWT.Secret = secret }
}

func withHealth(h HealthSource) envOption {
	return func(d *Deps) { d.Health = h }
}

// newTestEnv builds a server over a started rotational session (never
// polling on its own) with a migrated SQLite registry. Discovery has
// already run.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	transport := newFakeTransport()
	collector := metrics.NewCollector()
	session, err := mesh.NewSession(mesh.SessionConfig{
		Transport:   transport,
		Prefix:      "hafele",
		Mode:        mesh.ModeRotational,
		Interval:    time.Second,
		Timeout:     50 * time.Millisecond,
		SettleDelay: 10 * time.Millisecond,
		Observer:    collector,
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(session.Stop)

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := entity.NewSQLiteRepository(db.DB)
	registry := entity.NewRegistry(repo)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	deps := Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   logging.Discard(),
		Session:  session,
		Registry: registry,
		Metrics:  collector,
		Audit:    auditRepo,
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	session.OnDiscovery(func(change mesh.DirectoryChange) {
		if err := registry.RecordDiscovery(context.Background(), session.Directory(), change); err != nil {
			t.Errorf("RecordDiscovery() error = %v", err)
		}
	})

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	transport.SimulateMessage(t, "hafele/lights", lightsDiscovery)
	transport.SimulateMessage(t, "hafele/groups", groupsDiscovery)
	transport.SimulateMessage(t, "hafele/scenes", scenesDiscovery)
	transport.clearPublished()

	return &testEnv{
		server:    srv,
		handler:   srv.Handler(),
		session:   session,
		transport: transport,
		registry:  registry,
		repo:      repo,
		audit:     auditRepo,
		metrics:   collector,
	}
}

// do runs a request through the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

var errGatewayDown = errors.New("gateway unreachable")
