// Package chatclient is a Go client for the support-chat gateway.
//
// Client wraps the HTTP API and parses the SSE stream. Session keeps a
// Timeline for one room current: it reconnects with exponential backoff,
// drops streams that miss heartbeats, and backfills history after every
// hello so messages sent while offline appear without duplicates.
// Sends are optimistic; the Timeline reconciles provisional entries with
// the persisted messages that come back on the response or the stream.
package chatclient
