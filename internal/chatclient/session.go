// ABOUTME: Long-lived client session keeping one room's timeline in sync with the gateway
// ABOUTME: Reconnects with exponential backoff, backfills history on every hello and watches heartbeats

package chatclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/2389/opsdesk/internal/conversation"
	"github.com/2389/opsdesk/internal/store"
)

// Session defaults.
const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultInitialBackoff    = time.Second
	DefaultMaxBackoff        = 30 * time.Second
	DefaultHistoryLimit      = 200

	// A stream with no frame for this many heartbeat intervals is dead.
	watchdogFactor = 2.5
)

// Status is the connection state reported to OnStatus.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusLive         Status = "live"
	StatusReconnecting Status = "reconnecting"
)

// SessionConfig configures a Session. Client and Role are required;
// admins must also set UserID.
type SessionConfig struct {
	Client *Client
	Role   store.Role
	UserID int64 // room to watch; users leave it 0

	HeartbeatInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	HistoryLimit      int

	// OnChange receives a timeline snapshot after every change. It may be
	// called from the Run goroutine and from Send callers concurrently.
	OnChange func([]Entry)
	OnStatus func(Status)

	Logger *slog.Logger
}

// Session keeps a Timeline current for one room.
type Session struct {
	cfg      SessionConfig
	timeline *Timeline
	room     atomic.Int64
	live     atomic.Bool
	logger   *slog.Logger
}

// NewSession validates cfg and applies defaults.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Client == nil {
		return nil, errors.New("client is required")
	}
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", cfg.Role)
	}
	if cfg.Role == store.RoleAdmin && cfg.UserID <= 0 {
		return nil, errors.New("admins must choose a user to watch")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		cfg:      cfg,
		timeline: NewTimeline(),
		logger:   cfg.Logger.With("component", "chat-session"),
	}
	if cfg.Role == store.RoleAdmin {
		s.room.Store(cfg.UserID)
	}
	return s, nil
}

// Timeline returns the session's timeline.
func (s *Session) Timeline() *Timeline {
	return s.timeline
}

// Room returns the watched room, known for users after the first hello.
func (s *Session) Room() int64 {
	return s.room.Load()
}

// Live reports whether a stream is currently established.
func (s *Session) Live() bool {
	return s.live.Load()
}

func (s *Session) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run keeps a stream open until ctx is canceled. It returns nil on
// cancellation and an error only when the gateway rejects the credentials
// or the request outright.
func (s *Session) Run(ctx context.Context) error {
	b := s.newBackOff()

	for {
		s.setStatus(StatusConnecting)
		err := s.connect(ctx, b)
		s.live.Store(false)

		if ctx.Err() != nil {
			return nil
		}
		if permanent(err) {
			return fmt.Errorf("stream rejected: %w", err)
		}

		wait := b.NextBackOff()
		s.logger.Warn("stream lost, reconnecting", "error", err, "retry_in", wait)
		s.setStatus(StatusReconnecting)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return IsStatus(err, http.StatusUnauthorized) ||
		IsStatus(err, http.StatusForbidden) ||
		IsStatus(err, http.StatusBadRequest)
}

func (s *Session) watchdogTimeout() time.Duration {
	return time.Duration(float64(s.cfg.HeartbeatInterval) * watchdogFactor)
}

// connect runs one stream to completion.
func (s *Session) connect(ctx context.Context, b *backoff.ExponentialBackOff) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchdog := time.AfterFunc(s.watchdogTimeout(), func() {
		s.logger.Warn("no heartbeat from gateway, dropping stream", "timeout", s.watchdogTimeout())
		cancel()
	})
	defer watchdog.Stop()

	return s.cfg.Client.Stream(streamCtx, s.cfg.UserID, func(f Frame) {
		watchdog.Reset(s.watchdogTimeout())

		switch ev := f.Event.(type) {
		case nil:
			// ping
		case conversation.HelloEvent:
			s.room.Store(ev.Room)
			s.live.Store(true)
			b.Reset()
			s.setStatus(StatusLive)
			s.backfill(streamCtx)
		case conversation.MessageEvent:
			if s.timeline.ApplyMessage(ev.Message) {
				s.notify()
			}
		case conversation.DeleteEvent:
			if s.timeline.ApplyDelete(ev.ID) {
				s.notify()
			}
		case conversation.ClearEvent:
			s.timeline.ApplyClear()
			s.notify()
		}
	})
}

// backfill replaces the canonical timeline with fresh history. A failure
// leaves the timeline as it was; the next reconnect retries.
func (s *Session) backfill(ctx context.Context) {
	items, err := s.cfg.Client.History(ctx, s.cfg.UserID, s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Warn("history backfill failed", "error", err)
		return
	}
	s.timeline.ReplaceHistory(items)
	s.notify()
}

// Send posts content optimistically: a provisional entry appears at once
// and is confirmed or marked failed when the response arrives. Failed
// sends are not retried.
func (s *Session) Send(ctx context.Context, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("message is empty")
	}

	corr := s.timeline.AddProvisional(s.cfg.Role, content)
	s.notify()

	req := SendRequest{Content: content, ClientID: corr}
	if s.cfg.Role == store.RoleAdmin {
		req.ToUserID = s.cfg.UserID
	}

	msg, err := s.cfg.Client.Send(ctx, req)
	if err != nil {
		s.timeline.Fail(corr, err)
		s.notify()
		return nil, err
	}

	s.timeline.Confirm(corr, msg)
	s.notify()
	return msg, nil
}

func (s *Session) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.timeline.Entries())
	}
}

func (s *Session) setStatus(st Status) {
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(st)
	}
}
