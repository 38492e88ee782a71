package main

import (
	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
	"github.com/nerrad567/meshbridge/internal/infrastructure/mqtt"
)

// gatewayClient is the subset of *mqtt.Client the mesh session needs.
type gatewayClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// gatewayTransport adapts the infrastructure MQTT client to mesh.Transport.
// The session's handlers return nothing, and it expects an unsubscribe func
// back from Subscribe.
type gatewayTransport struct {
	client gatewayClient
	qos    byte
}

var _ mesh.Transport = (*gatewayTransport)(nil)

func newGatewayTransport(client gatewayClient, qos byte) *gatewayTransport {
	return &gatewayTransport{client: client, qos: qos}
}

// Publish implements mesh.Transport. Gateway commands always use the
// configured QoS, never a lower one.
func (t *gatewayTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if qos < t.qos {
		qos = t.qos
	}
	return t.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements mesh.Transport.
func (t *gatewayTransport) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) (func(), error) {
	if qos < t.qos {
		qos = t.qos
	}
	err := t.client.Subscribe(topic, qos, func(tp string, p []byte) error {
		handler(tp, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func() {
		_ = t.client.Unsubscribe(topic)
	}, nil
}
