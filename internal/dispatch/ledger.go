package dispatch

import (
	"log/slog"
	"sync"
	"time"
)

// Soft caps and retained sizes for the three dedup sets. Once a set grows
// past its cap, the next compaction truncates it to the retained size.
// Which entries survive truncation is arbitrary — only the count matters,
// since correctness depends on bounding memory, not on which old
// identifiers are forgotten.
const (
	messageCap      = 100
	messageRetained = 50
	cursorCap       = 100
	cursorRetained  = 50
	sentCap         = 50
	sentRetained    = 25

	compactInterval = time.Hour
)

// claimSet is a mutex-guarded string set whose only mutation is an atomic
// check-and-insert.
type claimSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// tryClaim inserts id and reports whether this caller won the insert.
// Returns false when the id was already present.
func (s *claimSet) tryClaim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *claimSet) seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *claimSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// truncate drops arbitrary entries until at most keep remain. Only runs
// when the set has grown past limit.
func (s *claimSet) truncate(limit, keep int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) <= limit {
		return len(s.ids)
	}
	for id := range s.ids {
		if len(s.ids) <= keep {
			break
		}
		delete(s.ids, id)
	}
	return len(s.ids)
}

// Ledger tracks processed message ids, processed history cursors, and the
// ids of replies this process sent. It is the dispatcher's only shared
// mutable state; every mutation is a single atomic claim under the owning
// set's lock, so no cross-set transaction ever exists. State is in-memory
// only and does not survive a restart.
type Ledger struct {
	messages claimSet
	cursors  claimSet
	sent     claimSet

	compactMu   sync.Mutex
	lastCompact time.Time
}

// NewLedger creates an empty ledger. The compaction clock starts now.
func NewLedger() *Ledger {
	return &Ledger{
		messages:    claimSet{ids: make(map[string]struct{})},
		cursors:     claimSet{ids: make(map[string]struct{})},
		sent:        claimSet{ids: make(map[string]struct{})},
		lastCompact: time.Now(),
	}
}

// ClaimCursor atomically claims a notification history cursor. A false
// return means the same notification was already dispatched (at-least-once
// redelivery) and must be skipped.
func (l *Ledger) ClaimCursor(cursor string) bool {
	return l.cursors.tryClaim(cursor)
}

// ClaimMessage atomically claims a message id. The claim must happen before
// the first external side effect for that id — it is what closes the race
// between concurrent notifications naming the same message.
func (l *Ledger) ClaimMessage(id string) bool {
	return l.messages.tryClaim(id)
}

// SeenMessage reports whether a message id has already been claimed,
// without claiming it. Used as a cheap early gate; ClaimMessage remains
// the authoritative check.
func (l *Ledger) SeenMessage(id string) bool {
	return l.messages.seen(id)
}

// RecordSent marks a reply id as sent by this process, so the reply is
// never re-classified as eligible input when it echoes back.
func (l *Ledger) RecordSent(id string) {
	l.sent.tryClaim(id)
}

// SeenSent reports whether this process sent the given message.
func (l *Ledger) SeenSent(id string) bool {
	return l.sent.seen(id)
}

// Counts reports the current size of each set, for status output.
func (l *Ledger) Counts() (messages, cursors, sent int) {
	return l.messages.size(), l.cursors.size(), l.sent.size()
}

// MaybeCompact truncates oversized sets, at most once per compaction
// interval. Called once per notification processed.
func (l *Ledger) MaybeCompact() {
	l.compactMu.Lock()
	if time.Since(l.lastCompact) < compactInterval {
		l.compactMu.Unlock()
		return
	}
	l.lastCompact = time.Now()
	l.compactMu.Unlock()

	if n := l.messages.truncate(messageCap, messageRetained); n == messageRetained {
		slog.Info("compacted processed message ids", "tracking", n)
	}
	if n := l.cursors.truncate(cursorCap, cursorRetained); n == cursorRetained {
		slog.Info("compacted processed history cursors", "tracking", n)
	}
	if n := l.sent.truncate(sentCap, sentRetained); n == sentRetained {
		slog.Info("compacted sent reply ids", "tracking", n)
	}
}
