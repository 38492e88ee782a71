package mesh

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockHealthPublisher implements HealthPublisher for testing.
type mockHealthPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []mockPublish
	err       error
}

func (m *mockHealthPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, mockPublish{Topic: topic, Payload: string(payload), QoS: qos, Retained: retained})
	return nil
}

func (m *mockHealthPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockHealthPublisher) last(t *testing.T) HealthMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		t.Fatal("no health message published")
	}
	var msg HealthMessage
	if err := json.Unmarshal([]byte(m.messages[len(m.messages)-1].Payload), &msg); err != nil {
		t.Fatalf("health payload: %v", err)
	}
	return msg
}

func (m *mockHealthPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func TestHealthReporter_Determine(t *testing.T) {
	tests := []struct {
		name       string
		bridge     bool
		gateway    func() bool
		wantStatus HealthStatus
	}{
		{"shared connection up", true, nil, HealthHealthy},
		{"bridge down", false, nil, HealthDegraded},
		{"gateway down", true, func() bool { return false }, HealthDegraded},
		{"both up", true, func() bool { return true }, HealthHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthReporter(HealthReporterConfig{
				Topic:            "meshbridge/health",
				Publisher:        &mockHealthPublisher{connected: tt.bridge},
				GatewayConnected: tt.gateway,
			})
			status, reason := h.Determine()
			if status != tt.wantStatus {
				t.Errorf("Determine() = %s (%s), want %s", status, reason, tt.wantStatus)
			}
			if status == HealthDegraded && reason == "" {
				t.Error("degraded status without reason")
			}
		})
	}
}

func TestHealthReporter_PublishIncludesSessionCounts(t *testing.T) {
	transport := newMockTransport()
	s := newTestSession(t, transport)
	discoverAll(t, transport)

	pub := &mockHealthPublisher{connected: true}
	h := NewHealthReporter(HealthReporterConfig{
		Topic:     "meshbridge/health",
		Version:   "1.2.3",
		Publisher: pub,
		Session:   s,
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	pub.mu.Lock()
	sent := pub.messages[0]
	pub.mu.Unlock()
	if sent.Topic != "meshbridge/health" || !sent.Retained || sent.QoS != 1 {
		t.Errorf("published %s qos=%d retained=%v", sent.Topic, sent.QoS, sent.Retained)
	}

	msg := pub.last(t)
	if msg.Status != HealthHealthy || msg.Version != "1.2.3" {
		t.Errorf("message = %+v", msg)
	}
	if msg.PollingMode != "rotational" || msg.Gateway.Prefix != "hafele" {
		t.Errorf("mode/prefix = %q/%q", msg.PollingMode, msg.Gateway.Prefix)
	}
	if msg.Gateway.Lights != 2 || msg.Gateway.Groups != 1 || msg.Gateway.Scenes != 1 {
		t.Errorf("gateway counts = %+v", msg.Gateway)
	}
}

func TestHealthReporter_StartAndStop(t *testing.T) {
	pub := &mockHealthPublisher{connected: true}
	h := NewHealthReporter(HealthReporterConfig{
		Topic:     "meshbridge/health",
		Interval:  10 * time.Millisecond,
		Publisher: pub,
	})

	if err := h.PublishStarting(); err != nil {
		t.Fatal(err)
	}
	if msg := pub.last(t); msg.Status != HealthStarting {
		t.Errorf("first status = %s, want starting", msg.Status)
	}

	h.Start(t.Context())
	if !waitFor(t, 2*time.Second, func() bool { return pub.count() >= 3 }) {
		t.Fatal("reporter did not publish periodically")
	}

	h.Stop()
	h.Stop()
	if msg := pub.last(t); msg.Status != HealthStopping {
		t.Errorf("final status = %s, want stopping", msg.Status)
	}
}

func TestHealthReporter_PublishError(t *testing.T) {
	pub := &mockHealthPublisher{connected: true, err: errors.New("broker gone")}
	h := NewHealthReporter(HealthReporterConfig{Topic: "meshbridge/health", Publisher: pub})

	if err := h.PublishNow(); err == nil {
		t.Error("PublishNow() succeeded despite publisher error")
	}
}

func TestHealthReporter_NoTopicIsNoop(t *testing.T) {
	pub := &mockHealthPublisher{connected: true}
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub})

	if err := h.PublishNow(); err != nil {
		t.Fatal(err)
	}
	if pub.count() != 0 {
		t.Error("published without a topic")
	}
}
