// ABOUTME: HTTP API handlers for the support-chat mutation and read endpoints
// ABOUTME: Decodes JSON requests, calls the chat service and maps its errors onto status codes

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/opsdesk/internal/auth"
	"github.com/2389/opsdesk/internal/chat"
	"github.com/2389/opsdesk/internal/store"
)

// maxBodyBytes bounds mutation request bodies.
const maxBodyBytes = 64 << 10

// SendRequest is the JSON request body for POST /api/chat/send.
type SendRequest struct {
	Content  string `json:"content"`
	ToUserID int64  `json:"toUserId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// DeleteRequest is the JSON request body for POST /api/chat/delete.
type DeleteRequest struct {
	ID int64 `json:"id"`
}

// RoomRequest is the JSON request body for POST /api/chat/clear and /api/chat/seen.
type RoomRequest struct {
	UserID int64 `json:"userId,omitempty"`
}

// SendResponse is the JSON response for POST /api/chat/send.
type SendResponse struct {
	OK      bool           `json:"ok"`
	Message *store.Message `json:"message"`
}

// OKResponse is the JSON response for POST /api/chat/delete.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ClearResponse is the JSON response for POST /api/chat/clear.
type ClearResponse struct {
	OK      bool  `json:"ok"`
	Removed int64 `json:"removed"`
}

// SeenResponse is the JSON response for POST /api/chat/seen.
type SeenResponse struct {
	OK      bool  `json:"ok"`
	Updated int64 `json:"updated"`
}

// HistoryResponse is the JSON response for GET /api/chat/history.
type HistoryResponse struct {
	OK     bool             `json:"ok"`
	RoomID int64            `json:"roomId"`
	Items  []*store.Message `json:"items"`
}

// ThreadsResponse is the JSON response for GET /api/chat/threads.
type ThreadsResponse struct {
	OK    bool            `json:"ok"`
	Items []*store.Thread `json:"items"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// handleSend handles POST /api/chat/send.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	msg, err := g.chat.Send(r.Context(), auth.FromContext(r.Context()), chat.SendRequest{
		Content:  req.Content,
		ToUserID: req.ToUserID,
		ClientID: req.ClientID,
	})
	if err != nil {
		g.sendError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, SendResponse{OK: true, Message: msg})
}

// handleDelete handles POST /api/chat/delete.
func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	if err := g.chat.Delete(r.Context(), auth.FromContext(r.Context()), req.ID); err != nil {
		g.sendError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, OKResponse{OK: true})
}

// handleClear handles POST /api/chat/clear.
func (g *Gateway) handleClear(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	removed, err := g.chat.Clear(r.Context(), auth.FromContext(r.Context()), req.UserID)
	if err != nil {
		g.sendError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, ClearResponse{OK: true, Removed: removed})
}

// handleSeen handles POST /api/chat/seen. An empty body is accepted for users.
func (g *Gateway) handleSeen(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if r.ContentLength != 0 && !g.decodeJSON(w, r, &req) {
		return
	}

	updated, err := g.chat.MarkSeen(r.Context(), auth.FromContext(r.Context()), req.UserID)
	if err != nil {
		g.sendError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, SeenResponse{OK: true, Updated: updated})
}

// handleHistory handles GET /api/chat/history?userId=N&limit=M.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requested, _ := strconv.ParseInt(q.Get("userId"), 10, 64)
	limit := queryInt(q.Get("limit"))

	room, items, err := g.chat.History(r.Context(), auth.FromContext(r.Context()), requested, limit)
	if err != nil {
		g.sendError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, HistoryResponse{OK: true, RoomID: room, Items: items})
}

// handleThreads handles GET /api/chat/threads?limit=M.
func (g *Gateway) handleThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := g.chat.Threads(r.Context(), auth.FromContext(r.Context()), queryInt(r.URL.Query().Get("limit")))
	if err != nil {
		g.sendError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, ThreadsResponse{OK: true, Items: threads})
}

// queryInt parses a limit parameter. Missing or malformed values yield 0,
// which the service treats as "use the default".
func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// decodeJSON reads a bounded JSON body into v, writing a 400 on failure.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// errorStatus maps a chat service error onto an HTTP status and client message.
func errorStatus(err error) (int, string) {
	var verr *chat.ValidationError
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, chat.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// sendError writes the JSON error body for a chat service error.
func (g *Gateway) sendError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", "error", err)
	}
	g.sendJSONError(w, status, msg)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, ErrorResponse{OK: false, Error: message})
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}
