package influxdb

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
)

// recordingWriter implements pointWriter for testing.
type recordingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *recordingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.points = append(w.points, p)
	w.mu.Unlock()
}

func (w *recordingWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

func (w *recordingWriter) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.points))
	for _, p := range w.points {
		out = append(out, write.PointToLineProtocol(p, time.Second))
	}
	return out
}

func newTestClient() (*Client, *recordingWriter) {
	w := &recordingWriter{}
	return &Client{writer: w, connected: true}, w
}

func entityState(t *testing.T, target mesh.Target, payload string) mesh.EntityState {
	t.Helper()
	status, err := mesh.ParseStatus([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	return mesh.NewEntityState(target, status, mesh.PriorityNormal)
}

var ceiling = mesh.Target{Kind: mesh.KindMultiwhite, Address: 200, Name: "Ceiling", DisplayName: "Ceiling"}

func TestEntityStatePoint(t *testing.T) {
	es := entityState(t, ceiling, `{"lightness":0.5,"temperature":4000}`)
	at := time.Unix(1767225600, 0)

	got := write.PointToLineProtocol(entityStatePoint(es, at), time.Second)
	want := "light_state,entity=light/200,kind=multiwhite,name=Ceiling " +
		"brightness=128i,color_temp_kelvin=4000i,lightness=0.5,on=true 1767225600\n"
	if got != want {
		t.Errorf("line protocol =\n%q\nwant\n%q", got, want)
	}
}

func TestEntityStatePoint_PartialAndEmpty(t *testing.T) {
	es := entityState(t, mesh.Target{Kind: mesh.KindGroup, Address: 49152, Name: "Kitchen"}, `{"onoff":0}`)
	line := write.PointToLineProtocol(entityStatePoint(es, time.Unix(0, 0)), time.Second)
	if !strings.Contains(line, "on=false") || strings.Contains(line, "brightness") {
		t.Errorf("partial point = %q", line)
	}

	empty := mesh.NewEntityState(ceiling, mesh.Status{}, mesh.PriorityNormal)
	if p := entityStatePoint(empty, time.Now()); p != nil {
		t.Error("empty snapshot produced a point")
	}
}

func TestWriteEntityState(t *testing.T) {
	c, w := newTestClient()

	c.WriteEntityState(entityState(t, ceiling, `{"lightness":1}`))
	c.WriteEntityState(mesh.NewEntityState(ceiling, mesh.Status{}, mesh.PriorityNormal))
	c.ObservePoll("monochrome", false, 5*time.Second)

	lines := w.lines()
	if len(lines) != 2 {
		t.Fatalf("wrote %d points, want 2: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[1], "mesh_poll,kind=monochrome answered=false,elapsed_ms=5000i") {
		t.Errorf("poll point = %q", lines[1])
	}
}

func TestClose(t *testing.T) {
	c, w := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}

	c.WriteEntityState(entityState(t, ceiling, `{"lightness":1}`))
	c.Flush()
	if len(w.lines()) != 0 {
		t.Error("wrote after Close")
	}
	if c.IsConnected() {
		t.Error("IsConnected() after Close")
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("nil client connected")
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if os.Getenv("MESHBRIDGE_INTEGRATION") != "1" {
		t.Skip("set MESHBRIDGE_INTEGRATION=1 to run")
	}
	_, err := Connect(config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:59999", Org: "o", Bucket: "b"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}
