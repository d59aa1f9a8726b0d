// Package store persists support-chat messages.
//
// # Architecture
//
// ChatStore is the only interface the chat service needs. Two
// implementations exist:
//
//   - SQLiteStore: modernc.org/sqlite (pure Go) with WAL and a busy timeout
//   - MockStore: in-memory, with injectable errors for tests
//
// # Data Model
//
// Rooms are implicit: a room id is the id of the user the conversation
// belongs to. Every message row carries its room, sender, sender role
// (user or admin), content, creation time and a seen flag.
//
//	chat_messages(id, room_id, sender_id, sender_role, content, created_at, seen)
//
// History is returned oldest first. Delete reports the room the message
// belonged to so callers can notify it; a missing id yields ErrNotFound.
// ListThreads summarizes rooms by latest activity with a count of user
// messages an admin has not yet seen.
package store
