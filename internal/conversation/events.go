// ABOUTME: Tagged union of events relayed to chat stream viewers
// ABOUTME: Encodes and decodes the JSON frames carried in SSE data lines

package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/opsdesk/internal/store"
)

// Frame type values on the wire.
const (
	FrameHello   = "hello"
	FrameMessage = "message"
	FrameDelete  = "delete"
	FrameClear   = "clear"
)

// ErrUnknownFrame is returned when decoding a frame with an unrecognized type.
var ErrUnknownFrame = errors.New("unknown frame type")

// Event is one of HelloEvent, MessageEvent, DeleteEvent or ClearEvent.
type Event interface {
	frameType() string
}

// HelloEvent is written once per stream before any hub traffic.
// It is never published through the hub.
type HelloEvent struct {
	Room int64
	Now  time.Time
}

// MessageEvent announces a newly persisted message.
type MessageEvent struct {
	Message *store.Message
}

// DeleteEvent announces removal of a single message.
type DeleteEvent struct {
	ID int64
}

// ClearEvent announces removal of every message in the room.
type ClearEvent struct{}

func (HelloEvent) frameType() string   { return FrameHello }
func (MessageEvent) frameType() string { return FrameMessage }
func (DeleteEvent) frameType() string  { return FrameDelete }
func (ClearEvent) frameType() string   { return FrameClear }

// TypeOf returns the wire type name of an event.
func TypeOf(ev Event) string {
	return ev.frameType()
}

// frame is the JSON shape of every relayed event.
type frame struct {
	Type   string         `json:"type"`
	RoomID int64          `json:"roomId,omitempty"`
	Now    int64          `json:"now,omitempty"`
	Msg    *store.Message `json:"msg,omitempty"`
	ID     int64          `json:"id,omitempty"`
}

// Encode renders an event as the JSON payload of an SSE data line.
func Encode(ev Event) ([]byte, error) {
	var f frame
	switch e := ev.(type) {
	case HelloEvent:
		f = frame{Type: FrameHello, RoomID: e.Room, Now: e.Now.UnixMilli()}
	case MessageEvent:
		if e.Message == nil {
			return nil, errors.New("message event without message")
		}
		f = frame{Type: FrameMessage, Msg: e.Message}
	case DeleteEvent:
		f = frame{Type: FrameDelete, ID: e.ID}
	case ClearEvent:
		f = frame{Type: FrameClear}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownFrame, ev)
	}
	return json.Marshal(f)
}

// Decode parses an SSE data payload back into an event.
func Decode(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	switch f.Type {
	case FrameHello:
		return HelloEvent{Room: f.RoomID, Now: time.UnixMilli(f.Now)}, nil
	case FrameMessage:
		if f.Msg == nil {
			return nil, errors.New("message frame without msg")
		}
		return MessageEvent{Message: f.Msg}, nil
	case FrameDelete:
		return DeleteEvent{ID: f.ID}, nil
	case FrameClear:
		return ClearEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
}
