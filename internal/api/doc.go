// Package api implements the HTTP REST API and WebSocket server that expose
// the mesh bridge to home-automation hosts.
//
// This package provides:
//   - REST endpoints to list entities and scenes and to send commands
//   - WebSocket hub broadcasting every entity snapshot change
//   - Optional JWT bearer authentication with role permissions
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - Prometheus exposition on /metrics
//
// # Architecture
//
// Commands go straight to the mesh Session, which publishes them to the
// gateway. Snapshot changes reach the hub through a Session state listener.
// When an entity registry is configured, entities seen on a previous run
// but not yet rediscovered are listed with available=false.
//
// # Security
//
// An empty security.jwt.secret disables authentication. WebSocket clients
// pass the token as an access_token query parameter because browsers cannot
// set headers on the upgrade request.
package api
