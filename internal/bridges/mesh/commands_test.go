package mesh

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestCommander(transport Transport, mode Mode, observer Observer) *Commander {
	return NewCommander(CommanderConfig{
		Transport:   transport,
		Topics:      NewTopics("hafele"),
		Mode:        mode,
		SettleDelay: 10 * time.Millisecond,
		Timeout:     20 * time.Millisecond,
		Observer:    observer,
	})
}

func assertPublished(t *testing.T, got []mockPublish, want [][2]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("published %d messages %+v, want %d", len(got), got, len(want))
	}
	for i, w := range want {
		if got[i].Topic != w[0] || got[i].Payload != w[1] {
			t.Errorf("publish[%d] = %s %s, want %s %s", i, got[i].Topic, got[i].Payload, w[0], w[1])
		}
		if got[i].QoS != 1 || got[i].Retained {
			t.Errorf("publish[%d] qos=%d retained=%v, want 1/false", i, got[i].QoS, got[i].Retained)
		}
	}
}

func TestTurnOn_MonochromeFullBrightness(t *testing.T) {
	transport := newMockTransport()
	c := newTestCommander(transport, ModeRotational, nil)
	defer c.Close()
	r := newTestReconciler(t, deskLamp, transport)

	if err := c.TurnOn(context.Background(), r, TurnOnRequest{Brightness: intPtr(255)}); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	assertPublished(t, transport.getPublished(), [][2]string{
		{"hafele/lights/Desk Lamp/power", "true"},
		{"hafele/lights/Desk Lamp/lightness", `{"lightness":1.0}`},
	})
	if s := statusJSON(t, r.Snapshot()); s != `{"lightness":1,"onoff":1}` {
		t.Errorf("snapshot = %s, want onoff 1 lightness 1.0", s)
	}
	if r.Priority() != PriorityHigh {
		t.Errorf("priority = %v, want high", r.Priority())
	}
}

func TestTurnOn_RoundsUpToWholePercent(t *testing.T) {
	transport := newMockTransport()
	c := newTestCommander(transport, ModeRotational, nil)
	defer c.Close()
	r := newTestReconciler(t, deskLamp, transport)

	if err := c.TurnOn(context.Background(), r, TurnOnRequest{Brightness: intPtr(128)}); err != nil {
		t.Fatal(err)
	}

	published := transport.getPublished()
	if published[1].Payload != `{"lightness":0.51}` {
		t.Errorf("lightness payload = %s, want 0.51", published[1].Payload)
	}
	if b, _ := r.Snapshot().Brightness(); b < 128 {
		t.Errorf("optimistic brightness = %d, below requested 128", b)
	}
}

func TestTurnOn_GroupBrightness(t *testing.T) {
	transport := newMockTransport()
	c := newTestCommander(transport, ModeRotational, nil)
	defer c.Close()
	r := newTestReconciler(t, kitchen, transport)

	if err := c.TurnOn(context.Background(), r, TurnOnRequest{Brightness: intPtr(64)}); err != nil {
		t.Fatal(err)
	}

	assertPublished(t, transport.getPublished(), [][2]string{
		{"hafele/groups/Kitchen/power", "true"},
		{"hafele/groups/Kitchen/lightness", `{"lightness":0.26}`},
	})
	if s := statusJSON(t, r.Snapshot()); s != `{"lightness":0.26,"onoff":1}` {
		t.Errorf("snapshot = %s", s)
	}
}

func TestTurnOn_ZeroBrightnessIsOff(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		topic  string
	}{
		{"monochrome", deskLamp, "hafele/lights/Desk Lamp/lightness"},
		{"group", kitchen, "hafele/groups/Kitchen/lightness"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newMockTransport()
			c := newTestCommander(transport, ModeRotational, nil)
			defer c.Close()
			r := newTestReconciler(t, tt.target, transport)

			if err := c.TurnOn(context.Background(), r, TurnOnRequest{Brightness: intPtr(0)}); err != nil {
				t.Fatal(err)
			}

			published := transport.getPublished()
			if len(published) != 2 || published[1].Topic != tt.topic || published[1].Payload != `{"lightness":0.0}` {
				t.Fatalf("published = %+v", published)
			}
			if s := statusJSON(t, r.Snapshot()); s != `{"lightness":0,"onoff":0}` {
				t.Errorf("snapshot = %s, want off with lightness 0", s)
			}
			if on, _ := r.Snapshot().IsOn(); on {
				t.Error("IsOn() = true with lightness 0")
			}
		})
	}
}

func TestTurnOn_GroupIgnoresColorTemp(t *testing.T) {
	transport := newMockTransport()
	c := newTestCommander(transport, ModeRotational, nil)
	defer c.Close()
	r := newTestReconciler(t, kitchen, transport)

	if err := c.TurnOn(context.Background(), r, TurnOnRequest{Brightness: intPtr(255), ColorTempKelvin: intPtr(4000)}); err != nil {
		t.Fatal(err)
	}
	for _, p := range transport.getPublished() {
		if p.Topic == "hafele/groups/Kitchen/ctl" {
			t.Error("group received a ctl command")
		}
	}
	if r.Snapshot().Temperature != nil {
		t.Error("group snapshot gained a temperature")
	}
}

func TestTurnOn_ReplaysLastLightness(t *testing.T) {
	transport := newMockTransport()
	c := newTestCommander(transport, ModeRotational, nil)
	defer c.Close()
	r := newTestReconciler(t, deskLamp, transport)

	_ = r.OnResponse([]byte(`{"lightness":0.505}`))
	_ = r.OnResponse([]byte(`{"lightness":0}`))

	if err := c.TurnOn(context.Background(), r, TurnOnRequest{}); err != nil {
		t.Fatal(err)
	}

	assertPublished(t, transport.getPublished(), [][2]string{
		{"hafele/lights/Desk Lamp/power", "true"},
		{"hafele/lights/Desk Lamp/lightness", `{"lightness":0.51}`},
	})
}

func TestTurnOn_PowerOnlyWithoutHistory(t *testing.T) {
	transport := newMockTransport()
	c := newTestCommander(transport, ModeRotational, nil)
	defer c.Close()
	r := newTestReconciler(t, deskLamp, transport)

	if err := c.TurnOn(context.Background(), r, TurnOnRequest{}); err != nil {
		t.Fatal(err)
	}

	assertPublished(t, transport.getPublished(), [][2]string{
		{"hafele/lights/Desk Lamp/power", "true"},
	})
	if s := statusJSON(t, r.Snapshot()); s != `{"onoff":1}` {
		t.Errorf("snapshot = %s, want {\"onoff\":1}", s)
	}
}

func TestTurnOn_Multiwhite(t *testing.T) {
	tests := []struct {
		name    string
		history string
		req     TurnOnRequest
		want    string
	}{
		{
			name: "defaults",
			req:  TurnOnRequest{},
			want: `{"lightness":1.0,"temperature":2700}`,
		},
		{
			name: "explicit values",
			req:  TurnOnRequest{Brightness: intPtr(128), ColorTempKelvin: intPtr(4000)},
			want: `{"lightness":0.51,"temperature":4000}`,
		},
		{
			name: "temperature clamped",
			req:  TurnOnRequest{Brightness: intPtr(255), ColorTempKelvin: intPtr(6500)},
			want: `{"lightness":1.0,"temperature":5000}`,
		},
		{
			name:    "history replayed",
			history: `{"lightness":0.3,"temperature":3500}`,
			req:     TurnOnRequest{},
			want:    `{"lightness":0.3,"temperature":3500}`,
		},
		{
			name:    "brightness given, temperature remembered",
			history: `{"temperature":4200}`,
			req:     TurnOnRequest{Brightness: intPtr(64)},
			want:    `{"lightness":0.26,"temperature":4200}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newMockTransport()
			c := newTestCommander(transport, ModeRotational, nil)
			defer c.Close()
			r := newTestReconciler(t, ceiling, transport)
			if tt.history != "" {
				if err := r.OnResponse([]byte(tt.history)); err != nil {
					t.Fatal(err)
				}
			}

			if err := c.TurnOn(context.Background(), r, tt.req); err != nil {
				t.Fatal(err)
			}

			assertPublished(t, transport.getPublished(), [][2]string{
				{"hafele/lights/Ceiling/ctl", tt.want},
			})
			if on, _ := r.Snapshot().IsOn(); !on {
				t.Error("optimistic snapshot not on")
			}
		})
	}
}

func TestTurnOn_InvalidBrightness(t *testing.T) {
	transport := newMockTransport()
	c := newTestCommander(transport, ModeRotational, nil)
	defer c.Close()
	r := newTestReconciler(t, deskLamp, transport)

	for _, b := range []int{-1, 256} {
		err := c.TurnOn(context.Background(), r, TurnOnRequest{Brightness: intPtr(b)})
		if !errors.Is(err, ErrInvalidBrightness) {
			t.Errorf("TurnOn(%d) error = %v, want ErrInvalidBrightness", b, err)
		}
	}
	if n := len(transport.getPublished()); n != 0 {
		t.Errorf("published %d messages for invalid input", n)
	}
	if r.Priority() != PriorityNormal {
		t.Error("priority escalated for rejected command")
	}
}

func TestTurnOn_TransportError(t *testing.T) {
	transport := newMockTransport()
	transport.setPublishErr(errors.New("offline"))
	observer := &mockObserver{}
	c := newTestCommander(transport, ModeRotational, observer)
	defer c.Close()
	r := newTestReconciler(t, deskLamp, transport)

	err := c.TurnOn(context.Background(), r, TurnOnRequest{Brightness: intPtr(100)})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("TurnOn() error = %v, want ErrTransport", err)
	}
	if !r.Snapshot().IsEmpty() {
		t.Errorf("snapshot changed after failed command: %s", r.Snapshot())
	}
	if got := observer.getCommands(); len(got) != 1 || got[0] != "monochrome:turn_on:error" {
		t.Errorf("observed commands = %v", got)
	}
}

func TestTurnOff(t *testing.T) {
	transport := newMockTransport()
	c := newTestCommander(transport, ModeRotational, nil)
	defer c.Close()
	r := newTestReconciler(t, kitchen, transport)
	_ = r.OnResponse([]byte(`{"lightness":0.8}`))

	if err := c.TurnOff(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	assertPublished(t, transport.getPublished(), [][2]string{
		{"hafele/groups/Kitchen/power", "false"},
	})
	if on, known := r.Snapshot().IsOn(); !known || on {
		t.Errorf("IsOn() = %v, %v; want false, true", on, known)
	}
	if r.Priority() != PriorityHigh {
		t.Errorf("priority = %v, want high", r.Priority())
	}
	// The remembered level survives turn-off.
	if l, _ := r.LastLightness(); l != 0.8 {
		t.Errorf("LastLightness() = %v, want 0.8", l)
	}
}

func TestConfirmation_IndependentModeRequestsStatus(t *testing.T) {
	transport := newMockTransport()
	c := newTestCommander(transport, ModeIndependent, nil)
	r := newTestReconciler(t, deskLamp, transport)

	if err := c.TurnOff(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(transport.getPublished()) >= 2 }) {
		t.Fatal("no confirmation request after settle delay")
	}
	c.Close()

	published := transport.getPublished()
	if published[1].Topic != "hafele/lights/Desk Lamp/lightnessGet" {
		t.Errorf("confirmation topic = %q, want lightnessGet", published[1].Topic)
	}
}

func TestConfirmation_RotationalModeSendsNothing(t *testing.T) {
	transport := newMockTransport()
	c := newTestCommander(transport, ModeRotational, nil)
	r := newTestReconciler(t, deskLamp, transport)

	if err := c.TurnOff(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	c.Close()

	if n := len(transport.getPublished()); n != 1 {
		t.Errorf("published %d messages, want only the power command", n)
	}
}

func TestCommander_CloseCancelsPendingConfirmation(t *testing.T) {
	transport := newMockTransport()
	c := NewCommander(CommanderConfig{
		Transport:   transport,
		Topics:      NewTopics("hafele"),
		Mode:        ModeIndependent,
		SettleDelay: time.Hour,
	})
	r := newTestReconciler(t, deskLamp, transport)

	if err := c.TurnOff(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() blocked on pending confirmation")
	}
}

func TestPing(t *testing.T) {
	tests := []struct {
		target Target
		kind   PingKind
		want   string
	}{
		{deskLamp, PingLightness, "hafele/lights/Desk Lamp/lightnessGet"},
		{ceiling, PingLightness, "hafele/lights/Ceiling/ctlGet"},
		{deskLamp, PingPower, "hafele/lights/Desk Lamp/powerGet"},
		{kitchen, PingPower, "hafele/groups/Kitchen/powerGet"},
	}

	for _, tt := range tests {
		transport := newMockTransport()
		c := newTestCommander(transport, ModeRotational, nil)
		r := newTestReconciler(t, tt.target, transport)

		if err := c.Ping(context.Background(), r, tt.kind); err != nil {
			t.Fatalf("Ping(%s, %s) error = %v", tt.target.Key(), tt.kind, err)
		}
		assertPublished(t, transport.getPublished(), [][2]string{{tt.want, "{}"}})
		if r.Priority() != PriorityNormal {
			t.Error("ping escalated priority")
		}
		c.Close()
	}
}

func TestParsePingKind(t *testing.T) {
	if k, err := ParsePingKind("Power"); err != nil || k != PingPower {
		t.Errorf("ParsePingKind(Power) = %v, %v", k, err)
	}
	if _, err := ParsePingKind("colour"); !errors.Is(err, ErrInvalidPingKind) {
		t.Errorf("ParsePingKind(colour) error = %v, want ErrInvalidPingKind", err)
	}
}

func TestActivateScene(t *testing.T) {
	transport := newMockTransport()
	observer := &mockObserver{}
	c := newTestCommander(transport, ModeRotational, observer)
	defer c.Close()

	if err := c.ActivateScene(context.Background(), Scene{ID: 3, Name: "Evening"}); err != nil {
		t.Fatal(err)
	}

	assertPublished(t, transport.getPublished(), [][2]string{
		{"hafele/scenes/Evening/activate", "{}"},
	})
	if got := observer.getCommands(); len(got) != 1 || got[0] != "scene:scene:ok" {
		t.Errorf("observed commands = %v", got)
	}
}
