// ABOUTME: Chat service validating, persisting and announcing support-chat mutations
// ABOUTME: Every accepted change is written to the store first and then published to the room's hub

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/2389/opsdesk/internal/auth"
	"github.com/2389/opsdesk/internal/conversation"
	"github.com/2389/opsdesk/internal/dedupe"
	"github.com/2389/opsdesk/internal/metrics"
	"github.com/2389/opsdesk/internal/store"
)

// Limits on requests.
const (
	MaxContentLength    = 2000
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 200
	DefaultThreadsLimit = 50
	MaxThreadsLimit     = 200
)

// Publisher is what the service needs from the broadcast hub.
type Publisher interface {
	Publish(room int64, ev conversation.Event) int
}

// Service applies chat mutations. It holds no per-room state of its own;
// the store is the source of truth and the hub only relays.
type Service struct {
	store  store.ChatStore
	hub    Publisher
	recent *dedupe.Cache
	logger *slog.Logger
}

// New creates a chat service. recent may be nil to disable client id
// deduplication; logger may be nil for default.
func New(st store.ChatStore, hub Publisher, recent *dedupe.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		hub:    hub,
		recent: recent,
		logger: logger.With("component", "chat"),
	}
}

// SendRequest is a message submission.
type SendRequest struct {
	Content  string
	ToUserID int64  // required for admins, ignored for users
	ClientID string // optional correlation id for idempotent resends
}

// Send persists a message and publishes it to the room exactly once.
// Users always write to their own room; admins write to ToUserID.
func (s *Service) Send(ctx context.Context, id *auth.Identity, req SendRequest) (msg *store.Message, err error) {
	defer func() { metrics.RecordMutation("send", outcome(err)) }()

	if !id.Valid() {
		return nil, ErrUnauthenticated
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, invalid("content", "empty")
	}
	// Length is measured in code points, not bytes or UTF-16 units.
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, invalid("content", fmt.Sprintf("too long (max %d characters)", MaxContentLength))
	}

	room := id.ID
	if id.IsAdmin() {
		if req.ToUserID <= 0 {
			return nil, invalid("toUserId", "required")
		}
		room = req.ToUserID
	}

	var dedupeKey string
	if req.ClientID != "" && s.recent != nil {
		dedupeKey = fmt.Sprintf("%d/%s", id.ID, req.ClientID)
		if s.recent.CheckAndMark(dedupeKey) {
			s.logger.Debug("duplicate send rejected", "room_id", room, "client_id", req.ClientID)
			return nil, ErrDuplicate
		}
	}

	msg, err = s.store.Insert(ctx, room, id.ID, id.Role, content)
	if err != nil {
		if dedupeKey != "" {
			s.recent.Forget(dedupeKey)
		}
		s.logger.Error("failed to persist message", "room_id", room, "error", err)
		return nil, &StoreError{Op: "insert", Err: err}
	}

	n := s.hub.Publish(room, conversation.MessageEvent{Message: msg})
	s.logger.Debug("message sent",
		"room_id", room,
		"message_id", msg.ID,
		"sender_role", id.Role,
		"subscribers", n)

	return msg, nil
}

// Delete removes one message and announces the removal to its room.
// Admin only.
func (s *Service) Delete(ctx context.Context, id *auth.Identity, messageID int64) (err error) {
	defer func() { metrics.RecordMutation("delete", outcome(err)) }()

	if err := requireAdmin(id); err != nil {
		return err
	}
	if messageID <= 0 {
		return invalid("id", "required")
	}

	room, err := s.store.Delete(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		s.logger.Error("failed to delete message", "message_id", messageID, "error", err)
		return &StoreError{Op: "delete", Err: err}
	}

	s.hub.Publish(room, conversation.DeleteEvent{ID: messageID})
	s.logger.Info("message deleted", "room_id", room, "message_id", messageID, "admin_id", id.ID)
	return nil
}

// Clear removes every message of a room and announces it once, even when
// the room was already empty. Admin only.
func (s *Service) Clear(ctx context.Context, id *auth.Identity, room int64) (removed int64, err error) {
	defer func() { metrics.RecordMutation("clear", outcome(err)) }()

	if err := requireAdmin(id); err != nil {
		return 0, err
	}
	if room <= 0 {
		return 0, invalid("userId", "required")
	}

	removed, err = s.store.Clear(ctx, room)
	if err != nil {
		s.logger.Error("failed to clear room", "room_id", room, "error", err)
		return 0, &StoreError{Op: "clear", Err: err}
	}

	s.hub.Publish(room, conversation.ClearEvent{})
	s.logger.Info("room cleared", "room_id", room, "removed", removed, "admin_id", id.ID)
	return removed, nil
}

// MarkSeen flags the counterpart's unseen messages in a room. Admins name
// the room; users always mark their own. Nothing is published.
func (s *Service) MarkSeen(ctx context.Context, id *auth.Identity, room int64) (updated int64, err error) {
	defer func() { metrics.RecordMutation("seen", outcome(err)) }()

	room, err = ResolveRoom(id, room)
	if err != nil {
		return 0, err
	}

	updated, err = s.store.MarkSeen(ctx, room, id.Role.Counterpart())
	if err != nil {
		return 0, &StoreError{Op: "mark seen", Err: err}
	}
	return updated, nil
}

// History returns the newest messages of a room in ascending order.
// limit is clamped to [1, MaxHistoryLimit]; zero means DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, id *auth.Identity, room int64, limit int) (int64, []*store.Message, error) {
	room, err := ResolveRoom(id, room)
	if err != nil {
		return 0, nil, err
	}

	items, err := s.store.History(ctx, room, clamp(limit, DefaultHistoryLimit, MaxHistoryLimit))
	if err != nil {
		return 0, nil, &StoreError{Op: "history", Err: err}
	}
	if items == nil {
		items = []*store.Message{}
	}
	return room, items, nil
}

// Threads lists rooms by recent activity with their unread counts.
// Admin only.
func (s *Service) Threads(ctx context.Context, id *auth.Identity, limit int) ([]*store.Thread, error) {
	if err := requireAdmin(id); err != nil {
		return nil, err
	}

	threads, err := s.store.ListThreads(ctx, clamp(limit, DefaultThreadsLimit, MaxThreadsLimit))
	if err != nil {
		return nil, &StoreError{Op: "list threads", Err: err}
	}
	if threads == nil {
		threads = []*store.Thread{}
	}
	return threads, nil
}

// ResolveRoom returns the room a caller may read: their own for users,
// the requested one for admins.
func ResolveRoom(id *auth.Identity, requested int64) (int64, error) {
	if !id.Valid() {
		return 0, ErrUnauthenticated
	}
	if !id.IsAdmin() {
		return id.ID, nil
	}
	if requested <= 0 {
		return 0, invalid("userId", "required")
	}
	return requested, nil
}

func requireAdmin(id *auth.Identity) error {
	if !id.Valid() {
		return ErrUnauthenticated
	}
	if !id.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// clamp applies def when n is zero and bounds the result to [1, hi].
func clamp(n, def, hi int) int {
	if n == 0 {
		n = def
	}
	return min(max(n, 1), hi)
}
