// ABOUTME: Shared fixtures for gateway tests
// ABOUTME: Builds a gateway over the mock store, mints tokens and reads SSE frames

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/opsdesk/internal/auth"
	"github.com/2389/opsdesk/internal/config"
	"github.com/2389/opsdesk/internal/store"
)

const testSecret = "gateway-test-secret"

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Stream:   config.StreamConfig{WriteTimeout: 2 * time.Second, BufferSize: 16},
	}
}

type testEnv struct {
	gw     *Gateway
	store  *store.MockStore
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMockStore()
	gw, err := NewWithStore(testConfig(), st, testLogger())
	require.NoError(t, err)

	// Share the gateway's base context so Shutdown ends open streams
	srv := httptest.NewUnstartedServer(gw.Handler())
	srv.Config.BaseContext = gw.httpServer.BaseContext
	srv.Start()
	t.Cleanup(func() {
		gw.cancelBase()
		srv.Close()
		_ = gw.Shutdown(context.Background())
	})
	return &testEnv{gw: gw, store: st, server: srv}
}

func (e *testEnv) token(t *testing.T, id int64, role store.Role) string {
	t.Helper()
	tok, err := e.gw.verifier.Generate(auth.Identity{ID: id, Username: "u", Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a request with an optional JSON body and bearer token.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rd = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(t.Context(), method, e.server.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	Event string
	Data  string
}

type sseReader struct {
	r *bufio.Reader
}

// next reads until the blank line that terminates a frame.
func (s *sseReader) next() (sseFrame, error) {
	var f sseFrame
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return f, err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if f.Data != "" || f.Event != "" {
				return f, nil
			}
		case strings.HasPrefix(line, "event: "):
			f.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.Data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// nextData skips ping frames and returns the next data frame.
func (s *sseReader) nextData(t *testing.T) map[string]any {
	t.Helper()
	for {
		f, err := s.next()
		require.NoError(t, err)
		if f.Event == "ping" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(f.Data), &m))
		return m
	}
}

// openStream starts a stream request and returns its reader and a cancel func.
func (e *testEnv) openStream(t *testing.T, token, query string) (*http.Response, *sseReader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.server.URL+"/api/chat/stream"+query, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, &sseReader{r: bufio.NewReader(resp.Body)}, cancel
}
