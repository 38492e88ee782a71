package mesh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Command names reported to the Observer.
const (
	CommandTurnOn  = "turn_on"
	CommandTurnOff = "turn_off"
	CommandPing    = "ping"
	CommandScene   = "scene"
)

// PingKind selects which value an explicit ping asks the gateway for.
type PingKind string

const (
	// PingLightness asks for lightness (plus temperature on multiwhite).
	PingLightness PingKind = "lightness"

	// PingPower asks for the power state.
	PingPower PingKind = "power"
)

// ParsePingKind validates a ping kind from user input.
func ParsePingKind(s string) (PingKind, error) {
	switch PingKind(strings.ToLower(strings.TrimSpace(s))) {
	case PingLightness:
		return PingLightness, nil
	case PingPower:
		return PingPower, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPingKind, s)
	}
}

// TurnOnRequest carries the optional values of a turn-on intent.
type TurnOnRequest struct {
	// Brightness on the 0..255 scale. Nil replays the last known value.
	Brightness *int

	// ColorTempKelvin is used by multiwhite lights only. It is clamped to
	// [MinColorTempKelvin, MaxColorTempKelvin].
	ColorTempKelvin *int
}

// CommanderConfig holds configuration for creating a commander.
type CommanderConfig struct {
	Transport Transport
	Topics    Topics

	// Mode decides whether a confirmation request follows each command.
	Mode Mode

	// SettleDelay is how long to wait for a dimming ramp to finish before
	// confirming state.
	SettleDelay time.Duration

	// Timeout bounds the confirmation poll's wait.
	Timeout time.Duration

	Logger   Logger
	Observer Observer
}

// Commander translates control intents into gateway commands, applies the
// optimistic result locally and arranges for the real state to be
// confirmed.
//
// Thread Safety: All methods are safe for concurrent use.
type Commander struct {
	transport   Transport
	topics      Topics
	mode        Mode
	settleDelay time.Duration
	timeout     time.Duration
	logger      Logger
	observer    Observer

	// Confirmation goroutines outlive the caller's context.
	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewCommander creates a commander. Call Close to cancel pending
// confirmations.
func NewCommander(cfg CommanderConfig) *Commander {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPollTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Commander{
		transport:   cfg.Transport,
		topics:      cfg.Topics,
		mode:        cfg.Mode,
		settleDelay: cfg.SettleDelay,
		timeout:     cfg.Timeout,
		logger:      loggerOrNop(cfg.Logger),
		observer:    observerOrNop(cfg.Observer),
		ctx:         ctx,
		ctxCancel:   cancel,
	}
}

// Close cancels pending confirmations and waits for them to exit.
func (c *Commander) Close() {
	c.closeOnce.Do(func() {
		c.ctxCancel()
		c.wg.Wait()
	})
}

// TurnOn switches the entity on.
//
// Monochrome lights and groups get a power command followed by a lightness
// command; power must be asserted first for the lightness write to take
// effect. Without a brightness the last known lightness is replayed, and
// with none known only power is sent.
//
// Multiwhite lights get a single ctl command carrying lightness and colour
// temperature. Missing lightness falls back to the last known value, then
// full; missing temperature to the last set value, then MinColorTempKelvin.
func (c *Commander) TurnOn(ctx context.Context, r *Reconciler, req TurnOnRequest) error {
	target := r.Target()
	err := c.turnOn(ctx, r, target, req)
	c.observer.ObserveCommand(target.Kind.String(), CommandTurnOn, err)
	return err
}

func (c *Commander) turnOn(ctx context.Context, r *Reconciler, target Target, req TurnOnRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if req.Brightness != nil && (*req.Brightness < 0 || *req.Brightness > MaxBrightness) {
		return fmt.Errorf("%w: got %d", ErrInvalidBrightness, *req.Brightness)
	}

	if target.Kind == KindMultiwhite {
		return c.turnOnMultiwhite(r, target, req)
	}

	var lightness *float64
	if req.Brightness != nil {
		lightness = floatPtr(BrightnessToLightness(*req.Brightness))
	} else if last, ok := r.LastLightness(); ok {
		lightness = floatPtr(roundUpPercent(last))
	}

	if err := publish(c.transport, c.topics.Command(target, leafPower), powerPayload(true)); err != nil {
		return err
	}

	optimistic := Status{OnOff: boolPtr(true)}
	if lightness != nil {
		if err := publish(c.transport, c.topics.Command(target, leafLightness), lightnessPayload(*lightness)); err != nil {
			// Power went out; record that much.
			r.ApplyCommand(optimistic)
			return err
		}
		// Lightness 0 leaves the device dark whatever the power state.
		optimistic.OnOff = boolPtr(*lightness > 0)
		optimistic.Lightness = lightness
	}

	c.commit(r, target, CommandTurnOn, optimistic)
	return nil
}

func (c *Commander) turnOnMultiwhite(r *Reconciler, target Target, req TurnOnRequest) error {
	lightness := 1.0
	if req.Brightness != nil {
		lightness = BrightnessToLightness(*req.Brightness)
	} else if last, ok := r.LastLightness(); ok {
		lightness = roundUpPercent(last)
	}

	temperature := MinColorTempKelvin
	if req.ColorTempKelvin != nil {
		temperature = ClampColorTemp(*req.ColorTempKelvin)
	} else if last, ok := r.LastTemperature(); ok {
		temperature = last
	}

	if err := publish(c.transport, c.topics.Command(target, leafCTL), ctlPayload(lightness, temperature)); err != nil {
		return err
	}

	c.commit(r, target, CommandTurnOn, Status{
		OnOff:       boolPtr(lightness > 0),
		Lightness:   floatPtr(lightness),
		Temperature: intPtr(temperature),
	})
	return nil
}

// TurnOff switches the entity off.
func (c *Commander) TurnOff(ctx context.Context, r *Reconciler) error {
	target := r.Target()
	err := ctx.Err()
	if err == nil {
		err = publish(c.transport, c.topics.Command(target, leafPower), powerPayload(false))
	}
	c.observer.ObserveCommand(target.Kind.String(), CommandTurnOff, err)
	if err != nil {
		return err
	}

	c.commit(r, target, CommandTurnOff, Status{OnOff: boolPtr(false)})
	return nil
}

// Ping publishes a single get request without waiting for the answer.
// The response, if any, is merged like any other status message.
func (c *Commander) Ping(ctx context.Context, r *Reconciler, kind PingKind) error {
	target := r.Target()
	err := c.ping(ctx, target, kind)
	c.observer.ObserveCommand(target.Kind.String(), CommandPing, err)
	return err
}

func (c *Commander) ping(ctx context.Context, target Target, kind PingKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var leaf string
	switch kind {
	case PingLightness:
		leaf = leafLightnessGet
		if target.Kind == KindMultiwhite {
			leaf = leafCTLGet
		}
	case PingPower:
		leaf = leafPowerGet
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPingKind, kind)
	}

	return publish(c.transport, c.topics.Command(target, leaf), emptyObject)
}

// ActivateScene triggers a gateway scene.
func (c *Commander) ActivateScene(ctx context.Context, scene Scene) error {
	err := ctx.Err()
	if err == nil {
		err = publish(c.transport, c.topics.SceneActivate(scene.Name), emptyObject)
	}
	c.observer.ObserveCommand(CommandScene, CommandScene, err)
	if err == nil {
		c.logger.Info("scene activated", "scene_id", scene.ID, "scene", scene.Name)
	}
	return err
}

// commit applies the optimistic update and schedules confirmation.
func (c *Commander) commit(r *Reconciler, target Target, command string, optimistic Status) {
	r.ApplyCommand(optimistic)
	c.logger.Debug("command sent",
		"entity", target.Key(),
		"command", command,
		"optimistic", optimistic.String())
	c.scheduleConfirmation(r)
}

// scheduleConfirmation re-requests status once the settle delay has
// passed. Rotational mode needs nothing extra: the HIGH priority set by
// the command puts the entity at the front of the next cycle.
func (c *Commander) scheduleConfirmation(r *Reconciler) {
	if c.mode != ModeIndependent {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := sleepContext(c.ctx, c.settleDelay); err != nil {
			return
		}
		if _, _, err := r.Poll(c.ctx, c.timeout); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("confirmation poll failed",
				"entity", r.Key(),
				"error", err)
		}
	}()
}

func powerPayload(on bool) []byte {
	if on {
		return []byte("true")
	}
	return []byte("false")
}

func lightnessPayload(lightness float64) []byte {
	return []byte(`{"lightness":` + formatFraction(lightness) + `}`)
}

func ctlPayload(lightness float64, temperature int) []byte {
	return []byte(fmt.Sprintf(`{"lightness":%s,"temperature":%d}`, formatFraction(lightness), temperature))
}
