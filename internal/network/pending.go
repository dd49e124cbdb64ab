package network

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/protocol"
)

// DefaultRequestTimeout bounds how long a caller waits for a response.
const DefaultRequestTimeout = 30000 * time.Millisecond

// RequestResult is delivered to the caller of a tracked request:
// either the matching response message or a terminal error (timeout,
// connection teardown).
type RequestResult struct {
	Response *protocol.Message
	Err      error
}

type pendingEntry struct {
	request *protocol.Message
	sentAt  time.Time
	timer   *time.Timer
	ch      chan RequestResult
}

// PendingRequestTable matches outgoing requests to incoming responses
// by id. Each entry is removed either by a matching response or by its
// timeout, whichever fires first; the losing path is a no-op.
type PendingRequestTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	logger  zerolog.Logger
}

// NewPendingRequestTable creates an empty tracker.
func NewPendingRequestTable(serverID string) *PendingRequestTable {
	return &PendingRequestTable{
		entries: make(map[string]*pendingEntry),
		logger:  log.With().Str("component", "pending").Str("server_id", serverID).Logger(),
	}
}

// Track registers a sent request and returns a single-delivery channel
// the caller may await or ignore. timeout <= 0 uses the default 30s.
func (t *PendingRequestTable) Track(req *protocol.Message, timeout time.Duration) <-chan RequestResult {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	entry := &pendingEntry{
		request: req,
		sentAt:  time.Now(),
		ch:      make(chan RequestResult, 1),
	}

	t.mu.Lock()
	t.entries[req.ID] = entry
	t.mu.Unlock()

	entry.timer = time.AfterFunc(timeout, func() {
		t.expire(req.ID)
	})

	return entry.ch
}

// Resolve delivers a response to the caller tracking its id. It reports
// false when no entry exists (already resolved, timed out, or never
// tracked); in that case the response is simply dropped.
func (t *PendingRequestTable) Resolve(resp *protocol.Message) bool {
	entry := t.remove(resp.ID)
	if entry == nil {
		return false
	}
	entry.timer.Stop()
	entry.ch <- RequestResult{Response: resp}
	return true
}

// expire resolves a stale entry with a timeout failure.
func (t *PendingRequestTable) expire(id string) {
	entry := t.remove(id)
	if entry == nil {
		return
	}
	t.logger.Warn().Str("request_id", id).Str("op", entry.request.Op).Msg("request timed out")
	entry.ch <- RequestResult{Err: &protocol.RequestTimeoutError{RequestID: id, Op: entry.request.Op}}
}

// remove detaches and returns the entry for id, or nil.
func (t *PendingRequestTable) remove(id string) *pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	return entry
}

// RejectAll fails every outstanding entry with err. Used when the
// owning connection is administratively removed.
func (t *PendingRequestTable) RejectAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		entry.ch <- RequestResult{Err: err}
	}
}

// Len returns the number of outstanding requests.
func (t *PendingRequestTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
