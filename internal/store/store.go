// ABOUTME: Store interface and data types for support-chat persistence
// ABOUTME: Defines Message, Role, Thread and the ChatStore interface consumed by the chat service

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Role identifies which side of a conversation authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Counterpart returns the opposite side of the conversation.
func (r Role) Counterpart() Role {
	if r == RoleAdmin {
		return RoleUser
	}
	return RoleAdmin
}

// Message is a single persisted chat row. RoomID is the end user's account id.
type Message struct {
	ID         int64     `json:"id"`
	RoomID     int64     `json:"room_id"`
	SenderID   int64     `json:"sender_id"`
	SenderRole Role      `json:"sender_role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Seen       bool      `json:"seen"`
}

// Thread summarizes one room for the admin inbox.
type Thread struct {
	UserID   int64     `json:"user_id"`
	LastTime time.Time `json:"last_time"`
	Unread   int64     `json:"unread"` // user-authored messages not yet seen by an admin
}

// ChatStore is the durable message log behind the support chat.
type ChatStore interface {
	// Insert persists a new message and returns it with its store-assigned id.
	Insert(ctx context.Context, room, senderID int64, role Role, content string) (*Message, error)

	// Delete removes a message and returns the room it belonged to.
	// Returns ErrNotFound if the message does not exist.
	Delete(ctx context.Context, id int64) (int64, error)

	// Clear removes every message of a room and returns how many were removed.
	Clear(ctx context.Context, room int64) (int64, error)

	// History returns the newest limit messages of a room in ascending order.
	History(ctx context.Context, room int64, limit int) ([]*Message, error)

	// MarkSeen flags every unseen message authored by authorRole in the room.
	MarkSeen(ctx context.Context, room int64, authorRole Role) (int64, error)

	// ListThreads returns rooms ordered by most recent activity.
	ListThreads(ctx context.Context, limit int) ([]*Thread, error)

	// Close releases any resources held by the store
	Close() error
}
