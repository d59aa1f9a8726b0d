// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers message insert/delete/clear, history ordering and limiting, seen flags, thread summaries

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.Insert(ctx, 1, 1, RoleUser, "hello")
	require.NoError(t, err)

	// Every query must see the same in-memory database
	items, err := store.History(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestInsertAndHistory(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	first, err := store.Insert(ctx, 42, 42, RoleUser, "hello")
	require.NoError(t, err)
	second, err := store.Insert(ctx, 42, 7, RoleAdmin, "hi, how can I help?")
	require.NoError(t, err)
	_, err = store.Insert(ctx, 43, 43, RoleUser, "other room")
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID, "ids must be monotonic")
	assert.Equal(t, int64(42), first.RoomID)
	assert.Equal(t, RoleUser, first.SenderRole)
	assert.False(t, first.Seen)

	items, err := store.History(ctx, 42, 200)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second.ID, items[1].ID)
	assert.Equal(t, "hi, how can I help?", items[1].Content)
	assert.Equal(t, int64(7), items[1].SenderID)
	assert.Equal(t, RoleAdmin, items[1].SenderRole)
	assert.True(t, items[0].CreatedAt.Equal(first.CreatedAt), "created_at round-trips")
}

func TestHistory_LimitKeepsNewestAscending(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	var ids []int64
	for _, content := range []string{"one", "two", "three", "four", "five"} {
		msg, err := store.Insert(ctx, 3, 3, RoleUser, content)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	items, err := store.History(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []int64{ids[2], ids[3], ids[4]}, []int64{items[0].ID, items[1].ID, items[2].ID})
}

func TestHistory_EmptyRoom(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	items, err := store.History(context.Background(), 99, 200)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	msg, err := store.Insert(ctx, 5, 5, RoleUser, "to be removed")
	require.NoError(t, err)

	room, err := store.Delete(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), room)

	items, err := store.History(ctx, 5, 200)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDelete_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.Delete(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_IDsNotReused(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	msg, err := store.Insert(ctx, 5, 5, RoleUser, "first")
	require.NoError(t, err)
	_, err = store.Delete(ctx, msg.ID)
	require.NoError(t, err)

	next, err := store.Insert(ctx, 5, 5, RoleUser, "second")
	require.NoError(t, err)
	assert.Greater(t, next.ID, msg.ID)
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Insert(ctx, 7, 7, RoleUser, "msg")
		require.NoError(t, err)
	}
	_, err := store.Insert(ctx, 8, 8, RoleUser, "keep me")
	require.NoError(t, err)

	removed, err := store.Clear(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	items, err := store.History(ctx, 7, 200)
	require.NoError(t, err)
	assert.Empty(t, items)

	others, err := store.History(ctx, 8, 200)
	require.NoError(t, err)
	assert.Len(t, others, 1)

	removed, err = store.Clear(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestMarkSeen_OnlyAuthorRole(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	_, err := store.Insert(ctx, 9, 9, RoleUser, "from user")
	require.NoError(t, err)
	_, err = store.Insert(ctx, 9, 1, RoleAdmin, "from admin")
	require.NoError(t, err)

	n, err := store.MarkSeen(ctx, 9, RoleUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	items, err := store.History(ctx, 9, 200)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].Seen, "user message should be seen")
	assert.False(t, items[1].Seen, "admin message should stay unseen")

	n, err = store.MarkSeen(ctx, 9, RoleUser)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "already seen messages are not counted twice")
}

func TestListThreads(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	_, err := store.Insert(ctx, 10, 10, RoleUser, "a")
	require.NoError(t, err)
	_, err = store.Insert(ctx, 11, 11, RoleUser, "b")
	require.NoError(t, err)
	_, err = store.Insert(ctx, 11, 11, RoleUser, "c")
	require.NoError(t, err)
	_, err = store.Insert(ctx, 10, 1, RoleAdmin, "d")
	require.NoError(t, err)

	threads, err := store.ListThreads(ctx, 50)
	require.NoError(t, err)
	require.Len(t, threads, 2)

	assert.Equal(t, int64(10), threads[0].UserID, "room 10 has the latest message")
	assert.Equal(t, int64(1), threads[0].Unread)
	assert.Equal(t, base.Add(4*time.Second), threads[0].LastTime)
	assert.Equal(t, int64(11), threads[1].UserID)
	assert.Equal(t, int64(2), threads[1].Unread)
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}
