// ABOUTME: HTTP client for the support-chat API used by terminal and bridge frontends
// ABOUTME: Wraps the JSON mutation endpoints and parses the server-sent event stream

package chatclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/opsdesk/internal/conversation"
	"github.com/2389/opsdesk/internal/store"
)

// ErrStreamClosed is returned by Stream when the server ends the stream.
var ErrStreamClosed = errors.New("stream closed by server")

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// SendRequest is the request body for POST /api/chat/send.
type SendRequest struct {
	Content  string `json:"content"`
	ToUserID int64  `json:"toUserId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// Frame is one item read from the stream: either a relayed event or a ping.
type Frame struct {
	Event conversation.Event // nil for pings
	Ping  time.Time
}

// Client talks to the gateway HTTP API with a bearer token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a client for the gateway at baseURL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// Send posts a message. Admins must set ToUserID.
func (c *Client) Send(ctx context.Context, req SendRequest) (*store.Message, error) {
	var resp struct {
		Message *store.Message `json:"message"`
	}
	if err := c.postJSON(ctx, "/api/chat/send", req, &resp); err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, errors.New("send response without message")
	}
	return resp.Message, nil
}

// Delete removes a message. Admin only.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.postJSON(ctx, "/api/chat/delete", map[string]int64{"id": id}, nil)
}

// Clear removes every message of a user's room. Admin only.
func (c *Client) Clear(ctx context.Context, userID int64) (int64, error) {
	var resp struct {
		Removed int64 `json:"removed"`
	}
	err := c.postJSON(ctx, "/api/chat/clear", map[string]int64{"userId": userID}, &resp)
	return resp.Removed, err
}

// Seen marks the counterpart's messages as read. Users pass 0.
func (c *Client) Seen(ctx context.Context, userID int64) (int64, error) {
	body := map[string]int64{}
	if userID > 0 {
		body["userId"] = userID
	}
	var resp struct {
		Updated int64 `json:"updated"`
	}
	err := c.postJSON(ctx, "/api/chat/seen", body, &resp)
	return resp.Updated, err
}

// History fetches the newest messages of a room in ascending order.
// Users pass 0 for userID.
func (c *Client) History(ctx context.Context, userID int64, limit int) ([]*store.Message, error) {
	q := url.Values{}
	if userID > 0 {
		q.Set("userId", strconv.FormatInt(userID, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []*store.Message `json:"items"`
	}
	if err := c.getJSON(ctx, "/api/chat/history?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Threads lists rooms with recent activity. Admin only.
func (c *Client) Threads(ctx context.Context, limit int) ([]*store.Thread, error) {
	path := "/api/chat/threads"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Items []*store.Thread `json:"items"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Stream opens the room's event stream and calls onFrame for each frame
// until ctx is canceled or the connection ends. Users pass 0 for userID.
func (c *Client) Stream(ctx context.Context, userID int64, onFrame func(Frame)) error {
	path := "/api/chat/stream"
	if userID > 0 {
		path += "?userId=" + strconv.FormatInt(userID, 10)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}

	return parseSSEStream(resp.Body, onFrame)
}

// parseSSEStream reads frames separated by blank lines. Frames with an
// unknown type are skipped.
func parseSSEStream(body io.Reader, onFrame func(Frame)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(dataLines) > 0 {
				if f, ok := decodeFrame(eventType, strings.Join(dataLines, "\n")); ok {
					onFrame(f)
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading SSE stream: %w", err)
	}
	return ErrStreamClosed
}

func decodeFrame(eventType, data string) (Frame, bool) {
	if eventType == "ping" {
		ms, err := strconv.ParseInt(data, 10, 64)
		if err != nil {
			return Frame{Ping: time.Now()}, true
		}
		return Frame{Ping: time.UnixMilli(ms)}, true
	}

	ev, err := conversation.Decode([]byte(data))
	if err != nil {
		return Frame{}, false
	}
	return Frame{Event: ev}, true
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// handleErrorResponse turns a non-2xx response into an APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
