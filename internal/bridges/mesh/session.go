package mesh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// EntityState is the host-facing view of one light or group.
type EntityState struct {
	Key             string `json:"key"`
	Address         int    `json:"address"`
	Kind            string `json:"kind"`
	Class           string `json:"class"`
	Name            string `json:"name"`
	DisplayName     string `json:"display_name"`
	IsOn            *bool  `json:"is_on"`
	Brightness      *int   `json:"brightness"`
	ColorTempKelvin *int   `json:"color_temp_kelvin"`
	Priority        string `json:"priority"`
	Status          Status `json:"status"`
}

// NewEntityState builds the view. Unknown values are nil; colour
// temperature is only reported for multiwhite lights.
func NewEntityState(target Target, status Status, priority Priority) EntityState {
	es := EntityState{
		Key:         target.Key(),
		Address:     target.Address,
		Kind:        target.Kind.String(),
		Class:       target.Kind.Class(),
		Name:        target.Name,
		DisplayName: target.DisplayName,
		Priority:    priority.String(),
		Status:      status.Clone(),
	}
	if on, ok := status.IsOn(); ok {
		es.IsOn = &on
	}
	if b, ok := status.Brightness(); ok {
		es.Brightness = &b
	}
	if target.Kind.HasTemperature() {
		if k, ok := status.ColorTempKelvin(); ok {
			es.ColorTempKelvin = &k
		}
	}
	return es
}

// StateListener receives every entity snapshot change.
// Listeners run synchronously and must not block.
type StateListener func(state EntityState)

// DiscoveryListener receives every directory change.
type DiscoveryListener func(change DirectoryChange)

// SessionConfig holds configuration for creating a session.
type SessionConfig struct {
	// Transport is the connection to the gateway's broker. Required.
	Transport Transport

	// Prefix is the gateway topic prefix. Empty means DefaultPrefix.
	Prefix string

	Mode        Mode
	Interval    time.Duration
	Timeout     time.Duration
	SettleDelay time.Duration

	Logger   Logger
	Observer Observer
}

// Session owns every piece of state for one gateway: the directory, one
// reconciler per entity, the scheduler and the commander. Its lifetime is
// Start to Stop.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	transport Transport
	topics    Topics
	timeout   time.Duration
	logger    Logger
	observer  Observer

	directory *Directory
	scheduler *Scheduler
	commander *Commander

	mu              sync.RWMutex
	reconcilers     map[string]*Reconciler
	statusSubs      map[string]statusSub
	discoveryUnsubs []func()
	started         bool
	stopped         bool

	listenersMu        sync.RWMutex
	stateListeners     []StateListener
	discoveryListeners []DiscoveryListener

	stopOnce sync.Once
}

type statusSub struct {
	topic       string
	unsubscribe func()
}

// NewSession creates a session. Call Start to subscribe to discovery.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPollTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	topics := NewTopics(cfg.Prefix)
	logger := loggerOrNop(cfg.Logger)
	observer := observerOrNop(cfg.Observer)

	s := &Session{
		transport: cfg.Transport,
		topics:    topics,
		timeout:   cfg.Timeout,
		logger:    logger,
		observer:  observer,
		directory: NewDirectory(),
		scheduler: NewScheduler(SchedulerConfig{
			Mode:     cfg.Mode,
			Interval: cfg.Interval,
			Timeout:  cfg.Timeout,
			Logger:   logger,
			Observer: observer,
		}),
		commander: NewCommander(CommanderConfig{
			Transport:   cfg.Transport,
			Topics:      topics,
			Mode:        cfg.Mode,
			SettleDelay: cfg.SettleDelay,
			Timeout:     cfg.Timeout,
			Logger:      logger,
			Observer:    observer,
		}),
		reconcilers: make(map[string]*Reconciler),
		statusSubs:  make(map[string]statusSub),
	}
	s.directory.SetOnChange(s.handleDirectoryChange)

	return s, nil
}

// Start subscribes to the discovery topics and starts the scheduler.
// A subscription failure is returned and leaves the session unstarted.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	subscriptions := []struct {
		topic   string
		handler func(topic string, payload []byte)
	}{
		{s.topics.Lights(), s.handleLights},
		{s.topics.Groups(), s.handleGroups},
		{s.topics.Scenes(), s.handleScenes},
	}

	var unsubs []func()
	for _, sub := range subscriptions {
		unsubscribe, err := s.transport.Subscribe(sub.topic, commandQoS, sub.handler)
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return fmt.Errorf("subscribe to %s: %w", sub.topic, err)
		}
		unsubs = append(unsubs, unsubscribe)
		s.logger.Info("subscribed to discovery", "topic", sub.topic)
	}

	s.mu.Lock()
	s.discoveryUnsubs = unsubs
	s.started = true
	s.mu.Unlock()

	s.scheduler.Start(ctx)

	s.logger.Info("mesh session started",
		"prefix", s.topics.Prefix(),
		"mode", s.scheduler.Mode().String())
	return nil
}

// MarkStarted signals that the host finished starting. Rotational polling
// begins after this.
func (s *Session) MarkStarted() {
	s.scheduler.MarkStarted()
}

// Stop unsubscribes from the gateway and stops polling and confirmations.
// Safe to call multiple times.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		discovery := s.discoveryUnsubs
		s.discoveryUnsubs = nil
		subs := s.statusSubs
		s.statusSubs = make(map[string]statusSub)
		s.mu.Unlock()

		for _, unsubscribe := range discovery {
			unsubscribe()
		}

		s.scheduler.Stop()
		s.commander.Close()

		for _, sub := range subs {
			sub.unsubscribe()
		}

		s.logger.Info("mesh session stopped")
	})
}

// OnStateChange registers a listener for entity snapshot changes.
func (s *Session) OnStateChange(l StateListener) {
	s.listenersMu.Lock()
	s.stateListeners = append(s.stateListeners, l)
	s.listenersMu.Unlock()
}

// OnDiscovery registers a listener for directory changes.
func (s *Session) OnDiscovery(l DiscoveryListener) {
	s.listenersMu.Lock()
	s.discoveryListeners = append(s.discoveryListeners, l)
	s.listenersMu.Unlock()
}

// Directory returns the read-only discovery snapshot accessor.
func (s *Session) Directory() *Directory {
	return s.directory
}

// Topics returns the gateway topic builder.
func (s *Session) Topics() Topics {
	return s.topics
}

// Mode returns the polling mode.
func (s *Session) Mode() Mode {
	return s.scheduler.Mode()
}

// EntityCount returns the number of reconcilers.
func (s *Session) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reconcilers)
}

func (s *Session) handleLights(topic string, payload []byte) {
	lights, err := ParseLights(payload)
	if err != nil {
		s.logger.Warn("ignoring light discovery", "topic", topic, "error", err)
		return
	}
	s.directory.UpdateLights(lights)
	for _, light := range lights {
		s.ensureEntity(light.Target())
	}
}

func (s *Session) handleGroups(topic string, payload []byte) {
	groups, err := ParseGroups(payload)
	if err != nil {
		s.logger.Warn("ignoring group discovery", "topic", topic, "error", err)
		return
	}
	s.directory.UpdateGroups(groups)
	for _, group := range groups {
		s.ensureEntity(group.Target())
	}
}

func (s *Session) handleScenes(topic string, payload []byte) {
	scenes, err := ParseScenes(payload)
	if err != nil {
		s.logger.Warn("ignoring scene discovery", "topic", topic, "error", err)
		return
	}
	s.directory.UpdateScenes(scenes)
}

func (s *Session) handleDirectoryChange(change DirectoryChange) {
	s.logger.Info("discovery updated",
		"category", string(change.Category),
		"added", len(change.Added),
		"updated", len(change.Updated))

	s.listenersMu.RLock()
	listeners := slices.Clone(s.discoveryListeners)
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(change)
	}
}

// ensureEntity creates the reconciler for target on first sight, applies a
// rename on later sightings, and (re)tries the status subscription.
func (s *Session) ensureEntity(target Target) {
	key := target.Key()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	rec, exists := s.reconcilers[key]
	if !exists {
		rec = NewReconciler(ReconcilerConfig{
			Target:    target,
			Transport: s.transport,
			Topics:    s.topics,
			Timeout:   s.timeout,
			OnUpdate:  s.notifyState,
			Logger:    s.logger,
			Observer:  s.observer,
		})
		s.reconcilers[key] = rec
	} else if rec.Target() != target {
		rec.setTarget(target)
	}
	statusTopic := s.topics.Status(target)
	sub, subscribed := s.statusSubs[key]
	s.mu.Unlock()

	if !exists {
		s.scheduler.Add(rec)
		s.logger.Info("entity discovered",
			"entity", key,
			"name", target.DisplayName,
			"kind", target.Kind.String())
	}

	if subscribed && sub.topic == statusTopic {
		return
	}
	if subscribed {
		sub.unsubscribe()
		s.mu.Lock()
		delete(s.statusSubs, key)
		s.mu.Unlock()
	}
	s.subscribeStatus(key, rec, statusTopic)
}

func (s *Session) subscribeStatus(key string, rec *Reconciler, topic string) {
	unsubscribe, err := s.transport.Subscribe(topic, commandQoS, func(_ string, payload []byte) {
		// Malformed payloads are logged by the reconciler.
		_ = rec.OnResponse(payload)
	})
	if err != nil {
		s.logger.Error("status subscription failed, retrying on next discovery",
			"entity", key,
			"topic", topic,
			"error", err)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.statusSubs[key] = statusSub{topic: topic, unsubscribe: unsubscribe}
	s.mu.Unlock()
}

func (s *Session) notifyState(target Target, status Status) {
	s.mu.RLock()
	rec := s.reconcilers[target.Key()]
	s.mu.RUnlock()

	priority := PriorityNormal
	if rec != nil {
		priority = rec.Priority()
	}
	state := NewEntityState(target, status, priority)

	s.listenersMu.RLock()
	listeners := slices.Clone(s.stateListeners)
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(state)
	}
}

// Entities returns every entity, lights before groups, each by address.
func (s *Session) Entities() []EntityState {
	s.mu.RLock()
	recs := make([]*Reconciler, 0, len(s.reconcilers))
	for _, rec := range s.reconcilers {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	states := make([]EntityState, 0, len(recs))
	for _, rec := range recs {
		states = append(states, NewEntityState(rec.Target(), rec.Snapshot(), rec.Priority()))
	}
	slices.SortFunc(states, func(a, b EntityState) int {
		ga, gb := a.Kind == KindGroup.String(), b.Kind == KindGroup.String()
		if ga != gb {
			if ga {
				return 1
			}
			return -1
		}
		return a.Address - b.Address
	})
	return states
}

// Entity returns the entity at address. Lights take precedence over a
// group with the same address.
func (s *Session) Entity(address int) (EntityState, error) {
	rec, err := s.lookup(address)
	if err != nil {
		return EntityState{}, err
	}
	return NewEntityState(rec.Target(), rec.Snapshot(), rec.Priority()), nil
}

func (s *Session) lookup(address int) (*Reconciler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.reconcilers[EntityKey(KindMonochrome, address)]; ok {
		return rec, nil
	}
	if rec, ok := s.reconcilers[EntityKey(KindGroup, address)]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, address)
}

func (s *Session) checkRunning() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrSessionStopped
	}
	return nil
}

// TurnOn switches the entity at address on.
func (s *Session) TurnOn(ctx context.Context, address int, req TurnOnRequest) error {
	rec, err := s.commandTarget(address)
	if err != nil {
		return err
	}
	return s.commander.TurnOn(ctx, rec, req)
}

// TurnOff switches the entity at address off.
func (s *Session) TurnOff(ctx context.Context, address int) error {
	rec, err := s.commandTarget(address)
	if err != nil {
		return err
	}
	return s.commander.TurnOff(ctx, rec)
}

// Ping sends a one-off get request to the entity at address.
func (s *Session) Ping(ctx context.Context, address int, kind PingKind) error {
	rec, err := s.commandTarget(address)
	if err != nil {
		return err
	}
	return s.commander.Ping(ctx, rec, kind)
}

// ActivateScene triggers the scene with id.
func (s *Session) ActivateScene(ctx context.Context, id int) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	scene, ok := s.directory.Scene(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownScene, id)
	}
	return s.commander.ActivateScene(ctx, scene)
}

func (s *Session) commandTarget(address int) (*Reconciler, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	return s.lookup(address)
}

// IsUserError reports whether err stems from bad input rather than a
// transport or shutdown problem.
func IsUserError(err error) bool {
	return errors.Is(err, ErrInvalidBrightness) ||
		errors.Is(err, ErrInvalidPingKind)
}
