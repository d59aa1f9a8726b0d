// ABOUTME: Client-side ordered view of one conversation with optimistic entries
// ABOUTME: Reconciles provisional sends with canonical messages from responses, streams and history

package chatclient

import (
	"sync"

	"github.com/google/uuid"

	"github.com/2389/opsdesk/internal/store"
)

// EntryState describes where an entry is in the send lifecycle.
type EntryState int

const (
	// EntryConfirmed holds a canonical message with a store id.
	EntryConfirmed EntryState = iota
	// EntryPending is a provisional send awaiting its response.
	EntryPending
	// EntryFailed is a provisional send the server rejected. It is kept for
	// display and never retried.
	EntryFailed
)

func (s EntryState) String() string {
	switch s {
	case EntryConfirmed:
		return "confirmed"
	case EntryPending:
		return "pending"
	case EntryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one line of the timeline.
type Entry struct {
	CorrelationID string // set for entries that started as provisional sends
	Message       *store.Message
	Role          store.Role
	Content       string
	State         EntryState
	Err           error
}

// ID returns the canonical id, or 0 for entries without one.
func (e Entry) ID() int64 {
	if e.Message == nil {
		return 0
	}
	return e.Message.ID
}

// Timeline is safe for concurrent use.
type Timeline struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// AddProvisional appends a pending entry and returns its correlation id.
func (t *Timeline) AddProvisional(role store.Role, content string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	corr := uuid.New().String()
	t.entries = append(t.entries, &Entry{
		CorrelationID: corr,
		Role:          role,
		Content:       content,
		State:         EntryPending,
	})
	return corr
}

// Confirm swaps the provisional entry for the canonical message, in place.
//
// The stream may already have matched the provisional entry, by role and
// content, to a different message (a twin send persisted in the other
// order, or the same text from another device). Such an entry is a real
// message and is never removed or overwritten; the correlation id moves to
// the entry that holds msg instead.
func (t *Timeline) Confirm(corr string, msg *store.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexByCorr(corr)
	j := t.indexByID(msg.ID)

	if j >= 0 {
		if i < 0 {
			if t.entries[j].CorrelationID == "" {
				t.entries[j].CorrelationID = corr
			}
			return
		}
		if i == j {
			return
		}
		// msg is already shown at j; trade correlation ids so each send
		// points at its own message
		e, other := t.entries[i], t.entries[j]
		e.CorrelationID, other.CorrelationID = other.CorrelationID, corr
		if e.State != EntryConfirmed && e.CorrelationID == "" {
			// The provisional entry duplicated its own broadcast
			t.removeAt(i)
		}
		return
	}

	if i < 0 {
		// The entry was confirmed by the stream and then deleted or cleared
		return
	}
	if t.entries[i].State != EntryConfirmed {
		t.confirmAt(i, msg)
		return
	}

	// Claimed by another message; that message stays where it is
	t.entries[i].CorrelationID = ""
	e := confirmedEntry(msg)
	e.CorrelationID = corr
	t.entries = append(t.entries, e)
}

// Fail marks a provisional entry as failed.
func (t *Timeline) Fail(corr string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.indexByCorr(corr); i >= 0 && t.entries[i].State == EntryPending {
		t.entries[i].State = EntryFailed
		t.entries[i].Err = err
	}
}

// ApplyMessage merges a message relayed by the stream. It reports whether
// the timeline changed. A message already present by id is ignored; one
// matching an outstanding provisional entry by role and content confirms it.
func (t *Timeline) ApplyMessage(msg *store.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexByID(msg.ID) >= 0 {
		return false
	}
	if i := t.indexPendingMatch(msg); i >= 0 {
		t.confirmAt(i, msg)
		return true
	}
	t.entries = append(t.entries, confirmedEntry(msg))
	return true
}

// ApplyDelete removes the message with the given id.
func (t *Timeline) ApplyDelete(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.indexByID(id); i >= 0 {
		t.removeAt(i)
		return true
	}
	return false
}

// ApplyClear drops every canonical and failed entry. Pending sends stay:
// their responses have not arrived yet.
func (t *Timeline) ApplyClear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.State == EntryPending {
			kept = append(kept, e)
		}
	}
	clear(t.entries[len(kept):])
	t.entries = kept
}

// ReplaceHistory installs a freshly fetched history as the canonical part
// of the timeline. Pending entries whose message shows up in the history
// are confirmed; the rest of the pending and failed entries are kept after it.
func (t *Timeline) ReplaceHistory(items []*store.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	known := make(map[int64]bool, len(t.entries))
	for _, e := range t.entries {
		if id := e.ID(); id != 0 {
			known[id] = true
		}
	}

	next := make([]*Entry, 0, len(items)+len(t.entries))
	for _, msg := range items {
		next = append(next, confirmedEntry(msg))
	}

	for _, e := range t.entries {
		switch e.State {
		case EntryPending:
			if j := matchUnknown(next, e, known); j >= 0 {
				next[j].CorrelationID = e.CorrelationID
				continue
			}
			next = append(next, e)
		case EntryFailed:
			next = append(next, e)
		}
	}
	t.entries = next
}

// Entries returns a snapshot of the timeline.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func confirmedEntry(msg *store.Message) *Entry {
	return &Entry{
		Message: msg,
		Role:    msg.SenderRole,
		Content: msg.Content,
		State:   EntryConfirmed,
	}
}

// matchUnknown finds a history entry for a pending send: same role and
// content, not known to the timeline before, not already claimed.
func matchUnknown(next []*Entry, pending *Entry, known map[int64]bool) int {
	for j, e := range next {
		if e.CorrelationID != "" || known[e.ID()] {
			continue
		}
		if e.Role == pending.Role && e.Content == pending.Content {
			return j
		}
	}
	return -1
}

func (t *Timeline) confirmAt(i int, msg *store.Message) {
	e := t.entries[i]
	e.Message = msg
	e.Role = msg.SenderRole
	e.Content = msg.Content
	e.State = EntryConfirmed
	e.Err = nil
}

func (t *Timeline) removeAt(i int) {
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
}

func (t *Timeline) indexByID(id int64) int {
	if id == 0 {
		return -1
	}
	for i, e := range t.entries {
		if e.ID() == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexByCorr(corr string) int {
	for i, e := range t.entries {
		if e.CorrelationID == corr {
			return i
		}
	}
	return -1
}

// indexPendingMatch returns the oldest pending entry with the message's
// role and content.
func (t *Timeline) indexPendingMatch(msg *store.Message) int {
	for i, e := range t.entries {
		if e.State == EntryPending && e.Role == msg.SenderRole && e.Content == msg.Content {
			return i
		}
	}
	return -1
}
