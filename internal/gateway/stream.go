// ABOUTME: Server-sent event stream relaying one room's hub traffic to a viewer
// ABOUTME: Writes a hello frame, then queued hub events and periodic ping heartbeats

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/2389/opsdesk/internal/auth"
	"github.com/2389/opsdesk/internal/chat"
	"github.com/2389/opsdesk/internal/conversation"
	"github.com/2389/opsdesk/internal/metrics"
)

// DefaultHeartbeatInterval is how often an idle stream writes a ping.
const DefaultHeartbeatInterval = 25 * time.Second

// Stream close reasons, used as metric labels.
const (
	closeDisconnected = "disconnected"
	closeOverflow     = "overflow"
	closeWriteError   = "write_error"
)

var errQueueOverflow = errors.New("stream queue overflow")

// streamSession relays events for one room to one HTTP response.
// The hub handler only enqueues; all writes happen on the request goroutine.
type streamSession struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	room         int64
	queue        chan conversation.Event
	overflow     chan struct{}
	overflowOnce sync.Once
	writeTimeout time.Duration
	logger       *slog.Logger
}

// enqueue is the hub handler. A full queue means the viewer cannot keep up;
// the session is torn down and the client recovers through a history fetch.
func (s *streamSession) enqueue(ev conversation.Event) {
	select {
	case s.queue <- ev:
	default:
		s.overflowOnce.Do(func() { close(s.overflow) })
	}
}

// writeFrame writes one SSE frame and flushes it within the write timeout.
func (s *streamSession) writeFrame(frame string) error {
	if s.writeTimeout > 0 {
		err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing frame: %w", err)
	}
	return nil
}

func (s *streamSession) writeEvent(ev conversation.Event) error {
	data, err := conversation.Encode(ev)
	if err != nil {
		// Not a transport fault; skip the event and keep the stream
		s.logger.Error("failed to encode stream event", "type", conversation.TypeOf(ev), "error", err)
		return nil
	}
	return s.writeFrame(formatDataFrame(data))
}

func (s *streamSession) writePing(now time.Time) error {
	return s.writeFrame(formatPingFrame(now))
}

func formatDataFrame(data []byte) string {
	return fmt.Sprintf("data: %s\n\n", data)
}

func formatPingFrame(now time.Time) string {
	return fmt.Sprintf("event: ping\ndata: %d\n\n", now.UnixMilli())
}

// run relays until the request context ends, the queue overflows or a
// write fails. It returns the close reason.
func (s *streamSession) run(ctx context.Context, heartbeat time.Duration) string {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return closeDisconnected

		case <-s.overflow:
			s.logger.Warn("stream closed", "room_id", s.room, "error", errQueueOverflow)
			return closeOverflow

		case now := <-ticker.C:
			if err := s.writePing(now); err != nil {
				s.logger.Debug("heartbeat failed", "room_id", s.room, "error", err)
				return closeWriteError
			}
			metrics.StreamHeartbeats.Inc()

		case ev := <-s.queue:
			if err := s.writeEvent(ev); err != nil {
				s.logger.Debug("stream write failed", "room_id", s.room, "error", err)
				return closeWriteError
			}
		}
	}
}

// handleStream handles GET /api/chat/stream.
// Users watch their own room; admins pass ?userId=N.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	requested, _ := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)

	room, err := chat.ResolveRoom(id, requested)
	if err != nil {
		g.sendError(w, err)
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	s := &streamSession{
		w:            w,
		rc:           http.NewResponseController(w),
		room:         room,
		queue:        make(chan conversation.Event, g.config.Stream.BufferSize),
		overflow:     make(chan struct{}),
		writeTimeout: g.config.Stream.WriteTimeout,
		logger:       g.logger.With("viewer_id", id.ID),
	}

	sub := g.hub.Subscribe(room, s.enqueue)
	defer sub.Unsubscribe()

	metrics.RecordStreamOpened()
	reason := closeWriteError
	defer func() { metrics.RecordStreamClosed(reason) }()

	g.logger.Debug("stream opened", "room_id", room, "viewer_id", id.ID, "role", id.Role)

	if err := s.writeEvent(conversation.HelloEvent{Room: room, Now: time.Now()}); err != nil {
		g.logger.Debug("hello write failed", "room_id", room, "error", err)
		return
	}

	reason = s.run(r.Context(), g.heartbeatInterval)
	g.logger.Debug("stream closed", "room_id", room, "viewer_id", id.ID, "reason", reason)
}
