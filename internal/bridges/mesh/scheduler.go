package mesh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Mode selects the polling policy. It is fixed for a deployment.
type Mode int

const (
	// ModeIndependent polls every entity on its own ticker.
	ModeIndependent Mode = iota

	// ModeRotational polls one entity at a time from a single loop.
	ModeRotational
)

// String returns the config spelling of the mode.
func (m Mode) String() string {
	if m == ModeRotational {
		return "rotational"
	}
	return "independent"
}

// ParseMode parses "independent" or "rotational" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "independent", "":
		return ModeIndependent, nil
	case "rotational":
		return ModeRotational, nil
	default:
		return ModeIndependent, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Pollable is what the scheduler drives. *Reconciler implements it.
type Pollable interface {
	Key() string
	Target() Target
	Priority() Priority
	SetPriority(p Priority)
	CommandSeq() uint64
	ResetPriority(since uint64) bool
	Poll(ctx context.Context, timeout time.Duration) (Status, bool, error)
}

// SchedulerConfig holds configuration for creating a scheduler.
type SchedulerConfig struct {
	Mode Mode

	// Interval is the per-entity period (independent) or the pause between
	// polls (rotational).
	Interval time.Duration

	// Timeout bounds each poll's wait for a response.
	Timeout time.Duration

	Logger   Logger
	Observer Observer
}

// Scheduler decides when each entity is polled.
//
// In independent mode each added entity gets a goroutine that polls
// immediately and then every Interval. In rotational mode a single loop
// starts once MarkStarted is called and runs until Stop.
//
// Thread Safety: All methods are safe for concurrent use.
type Scheduler struct {
	mode     Mode
	interval time.Duration
	timeout  time.Duration
	logger   Logger
	observer Observer

	// sleep is replaced in tests to run cycles without waiting.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	entities map[string]Pollable
	order    []string // insertion order, for a stable rotation
	cursor   int
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc

	started   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Defaults applied when a duration is left zero.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultPollTimeout  = 5 * time.Second
	DefaultSettleDelay  = 5 * time.Second
)

// NewScheduler creates a scheduler. Call Start to begin polling.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPollTimeout
	}

	return &Scheduler{
		mode:     cfg.Mode,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   loggerOrNop(cfg.Logger),
		observer: observerOrNop(cfg.Observer),
		sleep:    sleepContext,
		entities: make(map[string]Pollable),
		started:  make(chan struct{}),
	}
}

// Mode returns the configured policy.
func (s *Scheduler) Mode() Mode {
	return s.mode
}

// Start begins scheduling. Entities added before Start are picked up.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	if s.mode == ModeRotational {
		s.wg.Add(1)
		go s.runRotational(s.ctx)
		return
	}

	for _, key := range s.order {
		s.startIndependent(s.entities[key])
	}
}

// MarkStarted signals that the host has finished starting up. The
// rotational loop waits for this so polling does not slow down boot.
func (s *Scheduler) MarkStarted() {
	s.startOnce.Do(func() {
		close(s.started)
	})
}

// Stop cancels all polling and waits for in-flight polls to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.running = false
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
	})
}

// Add registers an entity. Adding a key twice is a no-op.
func (s *Scheduler) Add(p Pollable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	if _, exists := s.entities[key]; exists {
		return
	}
	s.entities[key] = p
	s.order = append(s.order, key)

	if s.running && s.mode == ModeIndependent {
		s.startIndependent(p)
	}
}

// Len returns the number of registered entities.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// startIndependent must be called with the lock held.
func (s *Scheduler) startIndependent(p Pollable) {
	s.wg.Add(1)
	go s.runIndependent(s.ctx, p)
}

func (s *Scheduler) runIndependent(ctx context.Context, p Pollable) {
	defer s.wg.Done()

	s.pollOne(ctx, p)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOne(ctx, p)
		}
	}
}

func (s *Scheduler) runRotational(ctx context.Context) {
	defer s.wg.Done()

	select {
	case <-s.started:
	case <-ctx.Done():
		return
	}

	s.logger.Info("rotational polling started", "interval", s.interval)

	for ctx.Err() == nil {
		if err := s.safeCycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("polling cycle failed, backing off", "error", err)
			//nolint:errcheck // Only fails on shutdown, which the loop condition handles
			s.sleep(ctx, s.interval)
		}
	}
}

// safeCycle runs one cycle, converting a panic into ErrCyclePanic so the
// loop never dies.
func (s *Scheduler) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCyclePanic, r)
		}
	}()
	return s.runCycle(ctx)
}

// runCycle is one rotational iteration:
//
//  1. Partition entities into HIGH and NORMAL.
//  2. Poll every HIGH entity, pausing after each. An entity drops back to
//     NORMAL only if no command arrived while it was being polled.
//  3. Poll one NORMAL entity at the round-robin cursor.
//  4. Pause.
//
// With no entities it only pauses.
func (s *Scheduler) runCycle(ctx context.Context) error {
	high, normal := s.partition()

	for _, p := range high {
		since := p.CommandSeq()
		s.pollOne(ctx, p)
		p.ResetPriority(since)
		if err := s.sleep(ctx, s.interval); err != nil {
			return err
		}
	}

	if p := s.nextNormal(normal); p != nil {
		s.pollOne(ctx, p)
	}

	return s.sleep(ctx, s.interval)
}

// partition splits entities by priority, both in insertion order.
func (s *Scheduler) partition() (high, normal []Pollable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.order {
		p := s.entities[key]
		if p.Priority() == PriorityHigh {
			high = append(high, p)
		} else {
			normal = append(normal, p)
		}
	}
	return high, normal
}

// nextNormal advances the cursor modulo the current NORMAL count.
func (s *Scheduler) nextNormal(normal []Pollable) Pollable {
	if len(normal) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := normal[s.cursor%len(normal)]
	s.cursor = (s.cursor + 1) % len(normal)
	return p
}

// pollOne polls a single entity. Errors and panics are logged and go no
// further, so one bad entity cannot stall the others.
func (s *Scheduler) pollOne(ctx context.Context, p Pollable) {
	target := p.Target()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("poll panicked",
				"entity", target.Key(),
				"panic", r)
		}
	}()

	start := time.Now()
	_, answered, err := p.Poll(ctx, s.timeout)
	if ctx.Err() != nil {
		return
	}
	s.observer.ObservePoll(target.Kind.String(), answered, err, time.Since(start))
	if err != nil {
		s.logger.Warn("poll failed",
			"entity", target.Key(),
			"error", err)
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
