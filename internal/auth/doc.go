// Package auth issues and verifies the bearer tokens that guard the bridge
// API.
//
// Tokens are HS256 JWTs carrying a subject and a Role. There is no user
// database: operators mint tokens with `meshbridge -issue-token` using the
// configured secret, and the API checks the role against a static
// permission table.
//
//   - viewer reads entities, scenes and health
//   - operator also turns lights on and off and activates scenes
//   - admin also sends diagnostic pings
package auth
