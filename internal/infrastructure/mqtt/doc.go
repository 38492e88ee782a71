// Package mqtt wraps the Eclipse Paho client for the mesh bridge.
//
// The same client type serves two roles:
//   - the bridge's own broker connection, which announces online/offline
//     status under {root}/status (with a Last Will) and carries retained
//     entity state and health
//   - the optional private connection to the gateway's broker, opened with
//     an empty topic root so it announces nothing
//
// Publishes pass through an optional token-bucket limiter
// (golang.org/x/time/rate) so a burst of polls cannot flood the gateway.
// Subscriptions are tracked and restored after every reconnect, and handlers
// are wrapped with panic recovery.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.Subscribe("hafele/lights", 1, func(topic string, payload []byte) error {
//	    return nil
//	})
package mqtt
