// ABOUTME: SQLite implementation of the ChatStore interface using modernc.org/sqlite
// ABOUTME: Provides chat message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that lexical order of the stored text matches
// chronological order.
const timeLayout = "2006-01-02 15:04:05.000000000"

// SQLiteStore implements the ChatStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		// Enable WAL mode for better concurrent performance
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id     INTEGER NOT NULL,
			sender_id   INTEGER NOT NULL,
			sender_role TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			seen        INTEGER NOT NULL DEFAULT 0,

			CHECK (sender_role IN ('user', 'admin'))
		);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_room_created
			ON chat_messages(room_id, created_at, id);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_unread
			ON chat_messages(room_id, sender_role, seen);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Insert persists a message. The returned row carries the store-assigned id.
func (s *SQLiteStore) Insert(ctx context.Context, room, senderID int64, role Role, content string) (*Message, error) {
	createdAt := s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (room_id, sender_id, sender_role, content, created_at, seen)
		VALUES (?, ?, ?, ?, ?, 0)
	`, room, senderID, string(role), content, createdAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading message id: %w", err)
	}

	s.logger.Debug("inserted message", "id", id, "room_id", room, "sender_role", role)
	return &Message{
		ID:         id,
		RoomID:     room,
		SenderID:   senderID,
		SenderRole: role,
		Content:    content,
		CreatedAt:  createdAt,
	}, nil
}

// Delete removes a single message and reports its room.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var room int64
	err = tx.QueryRowContext(ctx, `SELECT room_id FROM chat_messages WHERE id = ?`, id).Scan(&room)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("deleting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted message", "id", id, "room_id", room)
	return room, nil
}

// Clear removes every message in a room.
func (s *SQLiteStore) Clear(ctx context.Context, room int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE room_id = ?`, room)
	if err != nil {
		return 0, fmt.Errorf("clearing room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	s.logger.Debug("cleared room", "room_id", room, "removed", n)
	return n, nil
}

// History returns the newest limit messages of a room, oldest first.
func (s *SQLiteStore) History(ctx context.Context, room int64, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender_id, sender_role, content, created_at, seen
		FROM chat_messages
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	// Query is newest-first so LIMIT keeps the tail; flip to ascending
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// MarkSeen flags unseen messages authored by authorRole.
func (s *SQLiteStore) MarkSeen(ctx context.Context, room int64, authorRole Role) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET seen = 1
		WHERE room_id = ? AND sender_role = ? AND seen = 0
	`, room, string(authorRole))
	if err != nil {
		return 0, fmt.Errorf("marking messages seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// ListThreads returns one summary per room, most recently active first.
func (s *SQLiteStore) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			room_id,
			MAX(created_at) AS last_time,
			SUM(CASE WHEN sender_role = 'user' AND seen = 0 THEN 1 ELSE 0 END) AS unread
		FROM chat_messages
		GROUP BY room_id
		ORDER BY last_time DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		var t Thread
		var lastTime string
		if err := rows.Scan(&t.UserID, &lastTime, &t.Unread); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		t.LastTime, err = parseTime(lastTime)
		if err != nil {
			return nil, err
		}
		threads = append(threads, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating threads: %w", err)
	}
	return threads, nil
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var msg Message
	var role, createdAt string
	var seen int
	if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &role, &msg.Content, &createdAt, &seen); err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	msg.SenderRole = Role(role)
	msg.Seen = seen != 0

	var err error
	msg.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at %q: %w", s, err)
	}
	return t, nil
}
