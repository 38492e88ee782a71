package mesh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Priority orders entities under rotational polling.
type Priority int32

const (
	// PriorityNormal entities are polled in round-robin order.
	PriorityNormal Priority = iota

	// PriorityHigh entities are polled before any NORMAL entity.
	// Set after a command so the real state is confirmed quickly.
	PriorityHigh
)

// String returns "normal" or "high".
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// Request is an outstanding status request.
type Request struct {
	seq      uint64
	fallback Status
	done     chan struct{}

	// Written once before done is closed.
	result   Status
	answered bool
}

// Seq returns the request's sequence number.
func (r *Request) Seq() uint64 {
	return r.seq
}

// Fallback returns the snapshot captured when the request was issued.
func (r *Request) Fallback() Status {
	return r.fallback.Clone()
}

// finish must be called with the reconciler lock held, exactly once.
func (r *Request) finish(result Status, answered bool) {
	r.result = result
	r.answered = answered
	close(r.done)
}

// UpdateFunc is called after every change to a reconciler's snapshot.
type UpdateFunc func(target Target, status Status)

// ReconcilerConfig holds configuration for creating a reconciler.
type ReconcilerConfig struct {
	// Target is the light or group this reconciler tracks.
	Target Target

	// Transport publishes status requests.
	Transport Transport

	// Topics builds gateway topics.
	Topics Topics

	// Timeout is the poll timeout. It also bounds the window in which a
	// response to a request issued before a command is treated as stale.
	Timeout time.Duration

	// OnUpdate is optional and receives every snapshot change.
	OnUpdate UpdateFunc

	// Logger and Observer are optional.
	Logger   Logger
	Observer Observer
}

// Reconciler owns one entity's live status and correlates the gateway's
// asynchronous status responses with the requests that caused them.
//
// Thread Safety: All methods are safe for concurrent use.
type Reconciler struct {
	transport Transport
	topics    Topics
	timeout   time.Duration
	onUpdate  UpdateFunc
	logger    Logger
	observer  Observer
	now       func() time.Time

	mu         sync.Mutex
	target     Target
	status     Status
	seq        uint64
	pending    *Request
	dropStale  bool
	staleUntil time.Time
	commands   uint64

	// Remembered for turn-on without explicit values. lastLightness only
	// holds positive values so "on" never replays "off".
	lastLightness   float64
	lastTemperature int

	priority atomic.Int32
}

// NewReconciler creates a reconciler with an empty snapshot.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		target:    cfg.Target,
		transport: cfg.Transport,
		topics:    cfg.Topics,
		timeout:   cfg.Timeout,
		onUpdate:  cfg.OnUpdate,
		logger:    loggerOrNop(cfg.Logger),
		observer:  observerOrNop(cfg.Observer),
		now:       time.Now,
	}
}

// Key returns the target's entity key.
func (r *Reconciler) Key() string {
	return r.Target().Key()
}

// Target returns the entity this reconciler tracks.
func (r *Reconciler) Target() Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// setTarget replaces the target after a rename in discovery. The kind
// class and address never change, so the key stays stable.
func (r *Reconciler) setTarget(target Target) {
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (r *Reconciler) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Clone()
}

// Priority returns the current poll priority.
func (r *Reconciler) Priority() Priority {
	return Priority(r.priority.Load())
}

// SetPriority sets the poll priority.
func (r *Reconciler) SetPriority(p Priority) {
	r.priority.Store(int32(p))
}

// CommandSeq returns the number of commands applied so far.
func (r *Reconciler) CommandSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commands
}

// ResetPriority lowers the priority to NORMAL unless a command was applied
// after CommandSeq returned since. It reports whether the priority changed.
func (r *Reconciler) ResetPriority(since uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commands != since {
		return false
	}
	r.priority.Store(int32(PriorityNormal))
	return true
}

// LastLightness returns the last positive lightness seen or set.
func (r *Reconciler) LastLightness() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLightness, r.lastLightness > 0
}

// LastTemperature returns the last colour temperature seen or set.
func (r *Reconciler) LastTemperature() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTemperature, r.lastTemperature > 0
}

// RequestStatus publishes the status request for the target's kind and
// returns a handle to wait on with AwaitResponse:
//
//   - monochrome: lightnessGet
//   - multiwhite: ctlGet
//   - group: powerGet, then lightnessGet
//
// An older outstanding request is superseded; its waiter returns its own
// fallback. Any pending stale drop is cleared, since the next response may
// be the answer to this request. A publish failure cancels the new request
// and is returned wrapped in ErrTransport.
func (r *Reconciler) RequestStatus(ctx context.Context) (*Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.seq++
	req := &Request{
		seq:      r.seq,
		fallback: r.status.Clone(),
		done:     make(chan struct{}),
	}
	if r.pending != nil {
		r.pending.finish(Status{}, false)
	}
	r.pending = req
	r.dropStale = false
	target := r.target
	r.mu.Unlock()

	for _, leaf := range requestLeaves(target.Kind) {
		if err := publish(r.transport, r.topics.Command(target, leaf), emptyObject); err != nil {
			r.cancel(req)
			return nil, err
		}
	}

	return req, nil
}

func requestLeaves(kind Kind) []string {
	switch kind {
	case KindMultiwhite:
		return []string{leafCTLGet}
	case KindGroup:
		return []string{leafPowerGet, leafLightnessGet}
	default:
		return []string{leafLightnessGet}
	}
}

// cancel drops req if it is still the outstanding request.
func (r *Reconciler) cancel(req *Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == req {
		r.pending = nil
		req.finish(Status{}, false)
	}
}

// OnResponse handles a message from the target's status topic.
//
// A malformed payload is logged, counted and returned as an error; the
// outstanding request stays pending so a corrupt message never satisfies
// a poll. A well-formed payload is merged into the snapshot and completes
// the outstanding request, if any. A response with no request outstanding
// (a late or unsolicited one) is still merged.
func (r *Reconciler) OnResponse(payload []byte) error {
	update, err := ParseStatus(payload)
	if err != nil {
		target := r.Target()
		r.logger.Warn("discarding malformed status",
			"entity", target.Key(),
			"error", err)
		r.observer.ObserveDiscarded(target.Kind.String(), "malformed")
		return err
	}

	r.mu.Lock()
	if r.dropStale {
		r.dropStale = false
		if r.now().Before(r.staleUntil) {
			target := r.target
			r.mu.Unlock()
			r.logger.Debug("dropping status that predates last command",
				"entity", target.Key(),
				"status", update.String())
			r.observer.ObserveDiscarded(target.Kind.String(), "stale")
			return nil
		}
	}

	r.status = r.status.Merge(update)
	r.remember(update)
	snapshot := r.status.Clone()
	if r.pending != nil {
		r.pending.finish(snapshot.Clone(), true)
		r.pending = nil
	}
	target := r.target
	r.mu.Unlock()

	r.notify(target, snapshot)
	return nil
}

// AwaitResponse waits for req to be answered, the timeout to elapse, or
// ctx to be cancelled. It returns the merged snapshot and true when
// answered, and otherwise req's fallback (the exact pre-request snapshot)
// and false.
func (r *Reconciler) AwaitResponse(ctx context.Context, req *Request, timeout time.Duration) (Status, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-req.done:
	case <-timer.C:
		r.cancel(req)
	case <-ctx.Done():
		r.cancel(req)
	}

	// cancel is a no-op if a response won the race; either way done is
	// closed by now and the result fields are final.
	<-req.done
	if req.answered {
		return req.result.Clone(), true
	}
	return req.fallback.Clone(), false
}

// Poll requests status and waits up to timeout for the answer. A timeout is
// not an error: it is logged and the pre-request snapshot is returned.
func (r *Reconciler) Poll(ctx context.Context, timeout time.Duration) (Status, bool, error) {
	req, err := r.RequestStatus(ctx)
	if err != nil {
		return r.Snapshot(), false, err
	}

	status, answered := r.AwaitResponse(ctx, req, timeout)
	if !answered && ctx.Err() == nil {
		r.logger.Warn("status poll timed out, keeping last known state",
			"entity", r.Key(),
			"timeout", timeout)
	}
	return status, answered, nil
}

// ApplyCommand records the effect of a command that was just sent:
// the optimistic update is merged, priority becomes HIGH and an
// outstanding request is invalidated. The first response arriving within
// one timeout window is then assumed to answer that older request and is
// dropped, unless a newer request has been issued in the meantime.
func (r *Reconciler) ApplyCommand(optimistic Status) {
	r.mu.Lock()
	r.commands++
	r.priority.Store(int32(PriorityHigh))
	if r.pending != nil {
		r.pending.finish(Status{}, false)
		r.pending = nil
		r.dropStale = true
		r.staleUntil = r.now().Add(r.timeout)
	}
	r.status = r.status.Merge(optimistic)
	r.remember(optimistic)
	snapshot := r.status.Clone()
	target := r.target
	r.mu.Unlock()

	r.notify(target, snapshot)
}

// remember must be called with the lock held.
func (r *Reconciler) remember(update Status) {
	if update.Lightness != nil && *update.Lightness > 0 {
		r.lastLightness = *update.Lightness
	}
	if update.Temperature != nil {
		r.lastTemperature = ClampColorTemp(*update.Temperature)
	}
}

func (r *Reconciler) notify(target Target, status Status) {
	if r.onUpdate != nil {
		r.onUpdate(target, status)
	}
}
