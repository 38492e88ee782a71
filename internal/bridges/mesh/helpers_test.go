package mesh

import (
	"sync"
	"testing"
	"time"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu           sync.Mutex
	published    []mockPublish
	handlers     map[string]func(topic string, payload []byte)
	unsubscribed []string
	publishErr   error
	subscribeErr map[string]error

	// onPublish runs after a publish is recorded, outside the lock.
	// Tests use it to answer requests synchronously.
	onPublish func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		handlers:     make(map[string]func(topic string, payload []byte)),
		subscribeErr: make(map[string]error),
	}
}

func (m *mockTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  string(payload),
		QoS:      qos,
		Retained: retained,
	})
	hook := m.onPublish
	m.mu.Unlock()

	if hook != nil {
		hook(topic, payload)
	}
	return nil
}

func (m *mockTransport) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.subscribeErr[topic]; err != nil {
		return nil, err
	}
	m.handlers[topic] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, topic)
		m.unsubscribed = append(m.unsubscribed, topic)
	}, nil
}

func (m *mockTransport) setPublishErr(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

func (m *mockTransport) setOnPublish(fn func(topic string, payload []byte)) {
	m.mu.Lock()
	m.onPublish = fn
	m.mu.Unlock()
}

func (m *mockTransport) getPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *mockTransport) clearPublished() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}

func (m *mockTransport) hasHandler(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

func (m *mockTransport) getUnsubscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.unsubscribed))
	copy(out, m.unsubscribed)
	return out
}

// SimulateMessage delivers payload to the handler subscribed on topic.
func (m *mockTransport) SimulateMessage(topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
	return ok
}

// mockObserver records observer calls.
type mockObserver struct {
	mu        sync.Mutex
	polls     []string
	commands  []string
	discarded []string
}

func (o *mockObserver) ObservePoll(kind string, answered bool, _ error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := "answered"
	if !answered {
		result = "timeout"
	}
	o.polls = append(o.polls, kind+":"+result)
}

func (o *mockObserver) ObserveCommand(kind, command string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.commands = append(o.commands, kind+":"+command+":"+result)
}

func (o *mockObserver) ObserveDiscarded(kind, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discarded = append(o.discarded, kind+":"+reason)
}

func (o *mockObserver) getDiscarded() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.discarded...)
}

func (o *mockObserver) getCommands() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.commands...)
}

var (
	deskLamp = Target{Kind: KindMonochrome, Address: 123, Name: "Desk Lamp", DisplayName: "Desk Lamp"}
	ceiling  = Target{Kind: KindMultiwhite, Address: 200, Name: "Ceiling", DisplayName: "Ceiling"}
	kitchen  = Target{Kind: KindGroup, Address: 49152, Name: "Kitchen", DisplayName: "Kitchen"}
)

func newTestReconciler(t *testing.T, target Target, transport Transport) *Reconciler {
	t.Helper()
	return NewReconciler(ReconcilerConfig{
		Target:    target,
		Transport: transport,
		Topics:    NewTopics("hafele"),
		Timeout:   time.Second,
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func statusJSON(t *testing.T, s Status) string {
	t.Helper()
	b, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	return string(b)
}
