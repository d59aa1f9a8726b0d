// ABOUTME: Mock ChatStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject per-operation failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory ChatStore implementation for testing.
// Set the *Err fields to make the matching operation fail.
type MockStore struct {
	mu       sync.RWMutex
	messages []*Message // insertion order == id order
	nextID   int64
	lastTime time.Time
	inserts  int

	InsertErr   error
	DeleteErr   error
	ClearErr    error
	HistoryErr  error
	MarkSeenErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{nextID: 1}
}

// Insert stores a new message.
func (m *MockStore) Insert(ctx context.Context, room, senderID int64, role Role, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inserts++
	if m.InsertErr != nil {
		return nil, m.InsertErr
	}

	// Keep created_at strictly increasing so ordering is deterministic
	now := time.Now().UTC()
	if !now.After(m.lastTime) {
		now = m.lastTime.Add(time.Microsecond)
	}
	m.lastTime = now

	msg := &Message{
		ID:         m.nextID,
		RoomID:     room,
		SenderID:   senderID,
		SenderRole: role,
		Content:    content,
		CreatedAt:  now,
	}
	m.nextID++
	m.messages = append(m.messages, msg)

	cp := *msg
	return &cp, nil
}

// InsertCalls returns how many times Insert was attempted.
func (m *MockStore) InsertCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inserts
}

// Delete removes a message by id.
func (m *MockStore) Delete(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}

	for i, msg := range m.messages {
		if msg.ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return msg.RoomID, nil
		}
	}
	return 0, ErrNotFound
}

// Clear removes all messages of a room.
func (m *MockStore) Clear(ctx context.Context, room int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ClearErr != nil {
		return 0, m.ClearErr
	}

	kept := m.messages[:0]
	var removed int64
	for _, msg := range m.messages {
		if msg.RoomID == room {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return removed, nil
}

// History returns the newest limit messages of a room, oldest first.
func (m *MockStore) History(ctx context.Context, room int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}

	var out []*Message
	for _, msg := range m.messages {
		if msg.RoomID == room {
			cp := *msg
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// MarkSeen flags unseen messages authored by authorRole.
func (m *MockStore) MarkSeen(ctx context.Context, room int64, authorRole Role) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MarkSeenErr != nil {
		return 0, m.MarkSeenErr
	}

	var n int64
	for _, msg := range m.messages {
		if msg.RoomID == room && msg.SenderRole == authorRole && !msg.Seen {
			msg.Seen = true
			n++
		}
	}
	return n, nil
}

// ListThreads summarizes rooms, most recently active first.
func (m *MockStore) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byRoom := make(map[int64]*Thread)
	for _, msg := range m.messages {
		t, ok := byRoom[msg.RoomID]
		if !ok {
			t = &Thread{UserID: msg.RoomID}
			byRoom[msg.RoomID] = t
		}
		if msg.CreatedAt.After(t.LastTime) {
			t.LastTime = msg.CreatedAt
		}
		if msg.SenderRole == RoleUser && !msg.Seen {
			t.Unread++
		}
	}

	threads := make([]*Thread, 0, len(byRoom))
	for _, t := range byRoom {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].LastTime.After(threads[j].LastTime)
	})
	if limit > 0 && len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
