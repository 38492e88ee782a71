package mesh

import (
	"fmt"
	"time"
)

// commandQoS is used for every gateway publish (at-least-once).
const commandQoS byte = 1

// emptyObject is the payload for get requests and scene triggers.
var emptyObject = []byte("{}")

// Transport is the publish/subscribe primitive to the gateway's broker.
// It is satisfied by an adapter over the mqtt infrastructure client.
type Transport interface {
	// Publish sends payload to topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers handler for topic. The returned function
	// removes the subscription.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) (unsubscribe func(), err error)
}

// Logger is the structured logger used by this package.
// It is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Observer receives poll and command outcomes, typically for metrics.
// kind is Kind.String() for entities and "scene" for scenes.
// All methods must be cheap and must not block.
type Observer interface {
	// ObservePoll records one completed poll. answered is false on timeout.
	ObservePoll(kind string, answered bool, err error, elapsed time.Duration)

	// ObserveCommand records one command (turn_on, turn_off, ping, scene).
	ObserveCommand(kind, command string, err error)

	// ObserveDiscarded records a status message that was not merged
	// (reason "malformed" or "stale").
	ObserveDiscarded(kind, reason string)
}

type nopObserver struct{}

func (nopObserver) ObservePoll(string, bool, error, time.Duration) {}

func (nopObserver) ObserveCommand(string, string, error) {}

func (nopObserver) ObserveDiscarded(string, string) {}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}

func (nopLogger) Info(string, ...any) {}

func (nopLogger) Warn(string, ...any) {}

func (nopLogger) Error(string, ...any) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

// publish sends one non-retained gateway message.
func publish(t Transport, topic string, payload []byte) error {
	if err := t.Publish(topic, payload, commandQoS, false); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrTransport, topic, err)
	}
	return nil
}
