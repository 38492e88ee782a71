// Package entity persists what the gateway has advertised so that the
// host-facing API can list entities across restarts.
//
// The registry is a record of discovery, not a source of it: reconcilers
// are only ever created from live discovery messages. Records are upserted
// on each directory change and the last snapshot of each entity is written
// on each state notification.
//
//	mesh.Session ──OnDiscovery──▶ Registry.RecordDiscovery ──▶ entities, scenes
//	             ──OnStateChange─▶ Registry.RecordState     ──▶ entity_state
//
// Records are never deleted; an entity that stops being advertised keeps
// its last row.
package entity
