package mesh

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained health document.
type HealthMessage struct {
	Status      HealthStatus `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Version     string       `json:"version"`
	Timestamp   time.Time    `json:"timestamp"`
	Uptime      int64        `json:"uptime_seconds"`
	PollingMode string       `json:"polling_mode"`
	Gateway     GatewayInfo  `json:"gateway"`
}

// GatewayInfo summarises what the gateway has advertised.
type GatewayInfo struct {
	Prefix    string `json:"prefix"`
	Connected bool   `json:"connected"`
	Lights    int    `json:"lights"`
	Groups    int    `json:"groups"`
	Scenes    int    `json:"scenes"`
}

// HealthPublisher publishes health messages. Typically the bridge's own
// MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Topic is the retained health topic.
	Topic string

	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Session   *Session

	// GatewayConnected reports the gateway link state. Optional; when nil
	// the publisher's state is used (shared connection).
	GatewayConnected func() bool
}

// HealthReporter periodically publishes bridge health.
type HealthReporter struct {
	topic            string
	version          string
	startTime        time.Time
	interval         time.Duration
	publisher        HealthPublisher
	session          *Session
	gatewayConnected func() bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		topic:            cfg.Topic,
		version:          cfg.Version,
		startTime:        time.Now(),
		interval:         interval,
		publisher:        cfg.Publisher,
		session:          cfg.Session,
		gatewayConnected: cfg.GatewayConnected,
		done:             make(chan struct{}),
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.Determine()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// Determine evaluates the current status and reason.
func (h *HealthReporter) Determine() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "bridge MQTT disconnected"
	}
	if !h.isGatewayConnected() {
		return HealthDegraded, "gateway broker disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) isGatewayConnected() bool {
	if h.gatewayConnected != nil {
		return h.gatewayConnected()
	}
	return h.publisher != nil && h.publisher.IsConnected()
}

// Message builds the health document for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	now := time.Now().UTC()
	msg := HealthMessage{
		Status:    status,
		Reason:    reason,
		Version:   h.version,
		Timestamp: now,
		Uptime:    int64(now.Sub(h.startTime).Seconds()),
		Gateway: GatewayInfo{
			Connected: h.isGatewayConnected(),
		},
	}

	if h.session != nil {
		msg.PollingMode = h.session.Mode().String()
		msg.Gateway.Prefix = h.session.Topics().Prefix()
		msg.Gateway.Lights, msg.Gateway.Groups, msg.Gateway.Scenes = h.session.Directory().Counts()
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.publisher == nil || h.topic == "" {
		return nil
	}

	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
