// Package gateway wires the support-chat HTTP server together.
//
// # Overview
//
// The Gateway owns the store, the room hub, the chat service, the dedupe
// cache for client ids and the HTTP server. New opens SQLite from the
// config; NewWithStore takes any store.ChatStore (tests use the mock).
//
// # HTTP API
//
// Every /api/chat route requires a bearer token (or the "token"
// cookie) verified by internal/auth:
//
//   - POST /api/chat/send - Persist a message and relay it to the room
//   - POST /api/chat/delete - Delete one message (admin)
//   - POST /api/chat/clear - Delete every message in a room (admin)
//   - POST /api/chat/seen - Mark the counterpart's messages as seen
//   - GET /api/chat/history - Oldest-first messages of a room
//   - GET /api/chat/threads - Rooms by latest activity (admin)
//   - GET /api/chat/stream - Live SSE stream of a room
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//   - GET /metrics - Prometheus metrics, when enabled
//
// Errors use a single JSON shape:
//
//	{"ok": false, "error": "content: must not be empty"}
//
// # SSE Streaming
//
// A stream starts with a hello frame naming the resolved room, then relays
// hub events as data lines and writes a ping every 25 seconds:
//
//	data: {"type":"hello","roomId":42,"now":1700000000000}
//
//	data: {"type":"message","msg":{"id":7,"room_id":42,...}}
//
//	event: ping
//	data: 1700000025000
//
// Each stream has a bounded queue. A viewer that cannot keep up is
// disconnected rather than allowed to stall the room; clients recover by
// reconnecting and reading history.
//
// # Lifecycle
//
// Run listens and serves until the context is canceled. Shutdown ends open
// streams first, then drains HTTP requests and closes the store.
package gateway
