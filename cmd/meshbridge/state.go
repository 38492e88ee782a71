package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
	"github.com/nerrad567/meshbridge/internal/infrastructure/logging"
	"github.com/nerrad567/meshbridge/internal/infrastructure/mqtt"
)

const stateQueueSize = 256

// stateStore persists the last known state of an entity.
type stateStore interface {
	RecordState(ctx context.Context, es mesh.EntityState) error
}

// historyRecorder appends state changes to a time series.
type historyRecorder interface {
	WriteEntityState(es mesh.EntityState)
}

// statePublisher republishes state on the bridge's own broker.
type statePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

type stateSinkConfig struct {
	Registry  stateStore
	History   historyRecorder // optional
	Publisher statePublisher  // optional
	Topics    mqtt.Topics
	QoS       byte
	Logger    *logging.Logger
}

// stateSink moves state changes off the session's listener path. The
// session calls Submit synchronously; a single worker persists, records
// and republishes each snapshot in order.
type stateSink struct {
	cfg    stateSinkConfig
	queue  chan mesh.EntityState
	wg     sync.WaitGroup
	cancel context.CancelFunc

	stopOnce sync.Once
}

func newStateSink(cfg stateSinkConfig) *stateSink {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &stateSink{
		cfg:   cfg,
		queue: make(chan mesh.EntityState, stateQueueSize),
	}
}

// Start launches the worker. It drains the queue and exits when ctx is
// cancelled or Stop is called.
func (s *stateSink) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the worker after it has handled everything already queued.
func (s *stateSink) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// Submit queues a snapshot. It never blocks; when the queue is full the
// snapshot is dropped and a warning logged.
func (s *stateSink) Submit(es mesh.EntityState) {
	select {
	case s.queue <- es:
	default:
		s.cfg.Logger.Warn("state queue full, dropping snapshot", "entity", es.Key)
	}
}

func (s *stateSink) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case es := <-s.queue:
			s.handle(ctx, es)
		case <-ctx.Done():
			for {
				select {
				case es := <-s.queue:
					s.handle(context.WithoutCancel(ctx), es)
				default:
					return
				}
			}
		}
	}
}

func (s *stateSink) handle(ctx context.Context, es mesh.EntityState) {
	if s.cfg.Registry != nil {
		if err := s.cfg.Registry.RecordState(ctx, es); err != nil {
			s.cfg.Logger.Warn("persisting state failed", "entity", es.Key, "error", err)
		}
	}
	if s.cfg.History != nil {
		s.cfg.History.WriteEntityState(es)
	}
	if s.cfg.Publisher != nil && s.cfg.Topics.Root() != "" {
		payload, err := json.Marshal(es)
		if err != nil {
			s.cfg.Logger.Error("encoding state failed", "entity", es.Key, "error", err)
			return
		}
		topic := s.cfg.Topics.EntityState(es.Class, es.Address)
		if err := s.cfg.Publisher.Publish(topic, payload, s.cfg.QoS, true); err != nil {
			s.cfg.Logger.Warn("publishing state failed", "topic", topic, "error", err)
		}
	}
}
