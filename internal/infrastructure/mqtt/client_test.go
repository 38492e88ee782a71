package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
)

// testConfig returns a broker configuration for 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "meshbridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicRoot: "meshbridge-test",
	}
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "meshbridge-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "meshbridge-test")
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want bridge/secret", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below TLS 1.2")
	}
}

func TestBuildClientOptions_GeneratedClientID(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = ""

	a := buildClientOptions(cfg).ClientID
	b := buildClientOptions(cfg).ClientID

	if !strings.HasPrefix(a, clientIDPrefix) {
		t.Errorf("generated ClientID = %q, want prefix %q", a, clientIDPrefix)
	}
	if a == b {
		t.Errorf("generated ClientIDs should differ, both %q", a)
	}
}

func TestNewClient_LWTOnlyWithRoot(t *testing.T) {
	announcing := newClient(testConfig())
	if !announcing.options.WillEnabled {
		t.Error("WillEnabled = false for client with topic root")
	}
	if announcing.options.WillTopic != "meshbridge-test/status" {
		t.Errorf("WillTopic = %q, want %q", announcing.options.WillTopic, "meshbridge-test/status")
	}

	cfg := testConfig()
	cfg.TopicRoot = ""
	silent := newClient(cfg)
	if silent.options.WillEnabled {
		t.Error("WillEnabled = true for client without topic root")
	}
}

func TestNewLimiter(t *testing.T) {
	tests := []struct {
		perSecond float64
		wantNil   bool
		wantBurst int
	}{
		{0, true, 0},
		{-1, true, 0},
		{0.5, false, 1},
		{20, false, 20},
	}

	for _, tt := range tests {
		l := newLimiter(tt.perSecond)
		if (l == nil) != tt.wantNil {
			t.Errorf("newLimiter(%v) nil = %v, want %v", tt.perSecond, l == nil, tt.wantNil)
			continue
		}
		if l != nil && l.Burst() != tt.wantBurst {
			t.Errorf("newLimiter(%v).Burst() = %d, want %d", tt.perSecond, l.Burst(), tt.wantBurst)
		}
	}
}

// =============================================================================
// Validation Tests (no broker needed)
// =============================================================================

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"valid", "hafele/lights/Desk/power", []byte("true"), 1, nil},
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"bad qos", "t", nil, 3, ErrInvalidQoS},
		{"too large", "t", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("validatePublish() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePublish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig())

	if c.IsConnected() {
		t.Fatal("IsConnected() = true for unconnected client")
	}
	if err := c.Publish("t", []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	handler := func(string, []byte) error { return nil }
	if err := c.Subscribe("t", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestDispatch_RecoversPanicAndLogsErrors(t *testing.T) {
	c := newClient(testConfig())
	logger := &mockLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %d, want 1 (panic)", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %d, want 1 (handler error)", len(logger.warns))
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("meshbridge")

	tests := []struct {
		got, want string
	}{
		{topics.SystemStatus(), "meshbridge/status"},
		{topics.Health(), "meshbridge/health"},
		{topics.EntityState("light", 123), "meshbridge/state/light/123"},
		{topics.AllEntityStates(), "meshbridge/state/+/+"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

// =============================================================================
// Broker Tests (MESHBRIDGE_INTEGRATION=1, Mosquitto at 127.0.0.1:1883)
// =============================================================================

func TestIntegration_PublishSubscribeRoundtrip(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan []byte, 1)
	topic := "meshbridge-test/roundtrip"
	if err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Error("HasSubscription() = false after Subscribe")
	}

	if err := client.Publish(topic, []byte(`{"lightness":0.5}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"lightness":0.5}` {
			t.Errorf("payload = %s, want {\"lightness\":0.5}", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	requireBroker(t)

	cfg := testConfig()
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}
