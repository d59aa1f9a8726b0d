// Package dedupe provides a small TTL cache of recently seen keys. The chat
// service uses it to make sends that carry a client correlation id idempotent.
package dedupe
