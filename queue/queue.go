// Package queue holds the coordinator's in-memory pending-join queue. It is
// an ephemeral handoff between the OAuth coordinator and the bot: entries are
// re-delivered to every poll inside a retention window (at-least-once), and
// the consumer is expected to treat re-delivery of an already-joined channel
// as a no-op.
package queue

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultRetention is how long a pending join stays visible to polls.
	DefaultRetention = 5 * time.Minute
	// deliveredRetention bounds the recently-delivered diagnostics record.
	// Purely informational; correctness only depends on DefaultRetention.
	deliveredRetention = time.Hour
)

// PendingJoin is one channel awaiting pickup by the bot.
type PendingJoin struct {
	Channel     string
	DisplayName string
	EnqueuedAt  time.Time
}

// JoinQueue is safe for concurrent use by HTTP handlers and the poll loop.
type JoinQueue struct {
	mu        sync.Mutex
	retention time.Duration
	pending   []PendingJoin
	delivered map[string]time.Time
	now       func() time.Time // overridable in tests
}

// New returns a queue with the given retention window (DefaultRetention when
// zero or negative).
func New(retention time.Duration) *JoinQueue {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &JoinQueue{
		retention: retention,
		delivered: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Enqueue records a pending join for channel. If an unexpired entry for the
// same channel exists it is superseded: dedup by channel, latest wins, so no
// drain ever observes two live entries for one channel.
func (q *JoinQueue) Enqueue(channel, displayName string) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return
	}
	if displayName == "" {
		displayName = channel
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := PendingJoin{Channel: channel, DisplayName: displayName, EnqueuedAt: q.now()}
	for i := range q.pending {
		if q.pending[i].Channel == channel {
			q.pending[i] = entry
			return
		}
	}
	q.pending = append(q.pending, entry)
}

// Drain returns all entries younger than the retention window and purges the
// rest. Entries are NOT removed on delivery: a consumer that misses one poll
// (transient join failure, restart) still sees the entry on the next, and the
// same channel may therefore be delivered many times within the window.
func (q *JoinQueue) Drain() []PendingJoin {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	cutoff := now.Add(-q.retention)
	live := q.pending[:0]
	for _, e := range q.pending {
		if e.EnqueuedAt.After(cutoff) {
			live = append(live, e)
		}
	}
	q.pending = live

	out := make([]PendingJoin, len(q.pending))
	copy(out, q.pending)
	for _, e := range out {
		q.delivered[e.Channel] = now
	}
	deliveredCutoff := now.Add(-deliveredRetention)
	for ch, at := range q.delivered {
		if at.Before(deliveredCutoff) {
			delete(q.delivered, ch)
		}
	}
	return out
}

// Status is a diagnostic snapshot for the queue-status endpoint.
type Status struct {
	Pending           int           `json:"pending"`
	RecentlyDelivered int           `json:"recently_delivered"`
	Entries           []StatusEntry `json:"entries"`
}

// StatusEntry describes one pending entry and its age.
type StatusEntry struct {
	Channel     string  `json:"channel"`
	DisplayName string  `json:"display_name"`
	AgeSeconds  float64 `json:"age_seconds"`
}

// Snapshot reports the current queue contents without mutating anything.
func (q *JoinQueue) Snapshot() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	st := Status{
		Pending:           len(q.pending),
		RecentlyDelivered: len(q.delivered),
		Entries:           make([]StatusEntry, 0, len(q.pending)),
	}
	for _, e := range q.pending {
		st.Entries = append(st.Entries, StatusEntry{
			Channel:     e.Channel,
			DisplayName: e.DisplayName,
			AgeSeconds:  now.Sub(e.EnqueuedAt).Seconds(),
		})
	}
	return st
}
