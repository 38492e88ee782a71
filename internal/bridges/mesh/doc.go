// Package mesh bridges a mesh lighting gateway that speaks MQTT.
//
// The gateway advertises its lights, groups and scenes on retained discovery
// topics and answers status requests asynchronously on per-entity status
// topics. This package keeps a live snapshot for every discovered entity and
// translates control intents into gateway commands.
//
// # Architecture
//
//	┌────────────┐  discovery   ┌───────────┐  poll   ┌────────────┐
//	│  Gateway   │─────────────►│ Directory │         │ Scheduler  │
//	│  (MQTT)    │              └─────┬─────┘         └─────┬──────┘
//	│            │                    │ new entity          │
//	│            │  status      ┌─────▼──────┐◄─────────────┘
//	│            │─────────────►│ Reconciler │
//	│            │◄─────────────│ (per addr) │◄──── Commander (turn on/off)
//	└────────────┘   get / set  └────────────┘
//
// A Session owns all of it and ties its lifetime to the process.
//
// # Status Requests
//
// Every request carries a sequence number. Only the latest outstanding
// request can be completed by a response; an older waiter returns the
// snapshot it captured when it asked. A request that times out also returns
// that snapshot unchanged. Timeouts are expected on a busy mesh and are not
// errors.
//
// Waiters are woken by the response handler directly, so latency is bounded
// by the poll timeout and nothing else.
//
// # Polling Modes
//
//   - Independent: one ticker per entity. Suitable for small meshes.
//   - Rotational: one loop polls a single entity at a time. Entities that
//     were just commanded are polled first (HIGH priority), then one NORMAL
//     entity per cycle in round-robin order.
//
// # Topic Names
//
// Entity names appear verbatim in topics, except that the characters
// '%', '/', '+', '#' and NUL are percent-encoded so a name always occupies
// exactly one topic level.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package mesh
