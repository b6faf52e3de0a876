// ABOUTME: Package gateway wires the admission subsystem behind one HTTP server
// ABOUTME: Admission, credentials, gate validation, rooms, and notifications share a store

// Package gateway assembles the gather-gateway server: the admission
// coordinator, credential issuance, gate validation, room chat over
// WebSocket, and the notification feed, all served from a single HTTP
// listener (plain TCP or tsnet).
package gateway
