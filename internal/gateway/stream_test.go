// ABOUTME: Tests for the live chat stream endpoint
// ABOUTME: Covers hello-first ordering, relayed events, heartbeats, teardown and end-to-end scenarios

package gateway

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/opsdesk/internal/conversation"
	"github.com/2389/opsdesk/internal/store"
)

func TestStream_HeadersAndHello(t *testing.T) {
	env := newTestEnv(t)

	before := time.Now().UnixMilli()
	resp, sse, _ := env.openStream(t, env.token(t, 42, store.RoleUser), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	hello := sse.nextData(t)
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, float64(42), hello["roomId"])
	assert.GreaterOrEqual(t, hello["now"].(float64), float64(before))
}

func TestStream_RejectsBeforeStreaming(t *testing.T) {
	env := newTestEnv(t)

	resp, _, _ := env.openStream(t, "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _, _ = env.openStream(t, env.token(t, 1, store.RoleAdmin), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "admins must name a room")

	resp, _, _ = env.openStream(t, env.token(t, 1, store.RoleAdmin), "?userId=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 0, env.gw.Hub().Rooms(), "rejected streams never subscribe")
}

// A user sends a message while an admin watches their room.
func TestStream_AdminSeesUserMessage(t *testing.T) {
	env := newTestEnv(t)

	_, sse, _ := env.openStream(t, env.token(t, 1, store.RoleAdmin), "?userId=42")
	require.Equal(t, "hello", sse.nextData(t)["type"])

	resp := env.do(t, http.MethodPost, "/api/chat/send", env.token(t, 42, store.RoleUser), SendRequest{Content: "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sent := decodeBody[SendResponse](t, resp)

	frame := sse.nextData(t)
	assert.Equal(t, "message", frame["type"])
	msg := frame["msg"].(map[string]any)
	assert.Equal(t, float64(sent.Message.ID), msg["id"])
	assert.Equal(t, float64(42), msg["room_id"])
	assert.Equal(t, "user", msg["sender_role"])
	assert.Equal(t, "hi", msg["content"])
}

// Deleting a missing message changes nothing a viewer can see.
func TestStream_FailedDeleteIsInvisible(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, 1, store.RoleAdmin)

	_, sse, _ := env.openStream(t, env.token(t, 42, store.RoleUser), "")
	require.Equal(t, "hello", sse.nextData(t)["type"])

	resp := env.do(t, http.MethodPost, "/api/chat/delete", admin, DeleteRequest{ID: 999})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// The next frame the user sees is the follow-up send, not a delete
	env.do(t, http.MethodPost, "/api/chat/send", admin, SendRequest{Content: "still here", ToUserID: 42})
	frame := sse.nextData(t)
	assert.Equal(t, "message", frame["type"])
}

func TestStream_RelaysDeleteAndClear(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, 1, store.RoleAdmin)
	user := env.token(t, 42, store.RoleUser)

	_, sse, _ := env.openStream(t, user, "")
	require.Equal(t, "hello", sse.nextData(t)["type"])

	sent := decodeBody[SendResponse](t, env.do(t, http.MethodPost, "/api/chat/send", user, SendRequest{Content: "x"}))
	require.Equal(t, "message", sse.nextData(t)["type"])

	env.do(t, http.MethodPost, "/api/chat/delete", admin, DeleteRequest{ID: sent.Message.ID})
	frame := sse.nextData(t)
	assert.Equal(t, "delete", frame["type"])
	assert.Equal(t, float64(sent.Message.ID), frame["id"])

	env.do(t, http.MethodPost, "/api/chat/clear", admin, RoomRequest{UserID: 42})
	assert.Equal(t, map[string]any{"type": "clear"}, sse.nextData(t))
}

func TestStream_RoomsAreIsolated(t *testing.T) {
	env := newTestEnv(t)

	_, sse7, _ := env.openStream(t, env.token(t, 7, store.RoleUser), "")
	require.Equal(t, "hello", sse7.nextData(t)["type"])

	env.do(t, http.MethodPost, "/api/chat/send", env.token(t, 42, store.RoleUser), SendRequest{Content: "private"})
	env.do(t, http.MethodPost, "/api/chat/send", env.token(t, 7, store.RoleUser), SendRequest{Content: "mine"})

	frame := sse7.nextData(t)
	assert.Equal(t, "mine", frame["msg"].(map[string]any)["content"])
}

func TestStream_Heartbeat(t *testing.T) {
	env := newTestEnv(t)
	env.gw.heartbeatInterval = 20 * time.Millisecond

	_, sse, _ := env.openStream(t, env.token(t, 42, store.RoleUser), "")
	_, err := sse.next() // hello
	require.NoError(t, err)

	f, err := sse.next()
	require.NoError(t, err)
	assert.Equal(t, "ping", f.Event)
	assert.NotEmpty(t, f.Data)
}

func TestStream_DisconnectUnsubscribes(t *testing.T) {
	env := newTestEnv(t)

	_, sse, cancel := env.openStream(t, env.token(t, 42, store.RoleUser), "")
	require.Equal(t, "hello", sse.nextData(t)["type"])
	assert.Equal(t, 1, env.gw.Hub().Subscribers(42))

	cancel()

	assert.Eventually(t, func() bool {
		return env.gw.Hub().Subscribers(42) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStream_ShutdownEndsStreams(t *testing.T) {
	env := newTestEnv(t)

	_, sse, _ := env.openStream(t, env.token(t, 42, store.RoleUser), "")
	require.Equal(t, "hello", sse.nextData(t)["type"])

	env.gw.cancelBase()

	_, err := sse.next()
	assert.Error(t, err, "stream ends when the server shuts down")
	assert.Eventually(t, func() bool {
		return env.gw.Hub().Subscribers(42) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamSession_OverflowTearsDown(t *testing.T) {
	rec := httptest.NewRecorder()
	s := &streamSession{
		w:        rec,
		rc:       http.NewResponseController(rec),
		room:     42,
		queue:    make(chan conversation.Event, 1),
		overflow: make(chan struct{}),
		logger:   testLogger(),
	}

	s.enqueue(conversation.ClearEvent{})
	s.enqueue(conversation.ClearEvent{}) // queue full
	s.enqueue(conversation.ClearEvent{}) // second overflow must not panic

	select {
	case <-s.overflow:
	default:
		t.Fatal("overflow was not signalled")
	}

	assert.Equal(t, closeOverflow, s.run(context.Background(), time.Hour))
}

// failingWriter simulates a broken connection.
type failingWriter struct {
	header http.Header
}

func (f *failingWriter) Header() http.Header       { return f.header }
func (f *failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }
func (f *failingWriter) WriteHeader(int)           {}
func (f *failingWriter) Flush()                    {}

func TestStreamSession_WriteErrorTearsDown(t *testing.T) {
	w := &failingWriter{header: http.Header{}}
	s := &streamSession{
		w:        w,
		rc:       http.NewResponseController(w),
		room:     42,
		queue:    make(chan conversation.Event, 4),
		overflow: make(chan struct{}),
		logger:   testLogger(),
	}

	s.enqueue(conversation.DeleteEvent{ID: 1})
	assert.Equal(t, closeWriteError, s.run(context.Background(), time.Hour))
}

// lockedWriter is a goroutine-safe ResponseWriter for session tests.
type lockedWriter struct {
	mu     sync.Mutex
	header http.Header
	buf    bytes.Buffer
}

func (l *lockedWriter) Header() http.Header { return l.header }
func (l *lockedWriter) WriteHeader(int)     {}
func (l *lockedWriter) Flush()              {}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *lockedWriter) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

func TestStreamSession_WritesInOrder(t *testing.T) {
	w := &lockedWriter{header: http.Header{}}
	s := &streamSession{
		w:        w,
		rc:       http.NewResponseController(w),
		room:     42,
		queue:    make(chan conversation.Event, 4),
		overflow: make(chan struct{}),
		logger:   testLogger(),
	}

	s.enqueue(conversation.DeleteEvent{ID: 1})
	s.enqueue(conversation.DeleteEvent{ID: 2})
	s.enqueue(conversation.ClearEvent{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan string)
	go func() { done <- s.run(ctx, time.Hour) }()

	require.Eventually(t, func() bool {
		return strings.Count(w.String(), "\n\n") == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.Equal(t, closeDisconnected, <-done)

	assert.Equal(t,
		"data: {\"type\":\"delete\",\"id\":1}\n\n"+
			"data: {\"type\":\"delete\",\"id\":2}\n\n"+
			"data: {\"type\":\"clear\"}\n\n",
		w.String())
}

func TestFormatPingFrame(t *testing.T) {
	assert.Equal(t, "event: ping\ndata: 1700000000000\n\n", formatPingFrame(time.UnixMilli(1700000000000)))
}
