// Package idempotency remembers which requests a process has already answered.
package idempotency

import "sync"

const defaultLimit = 1000

type key struct {
	conversationID string
	requestID      string
}

// Guard is a bounded set of (conversation, request) pairs. Once it grows past
// its limit it is cleared wholesale, so it may forget a pair but never reports
// a pair it has not seen.
type Guard struct {
	mu    sync.Mutex
	seen  map[key]struct{}
	limit int
}

// New returns a Guard holding at most limit pairs.
func New(limit int) *Guard {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Guard{seen: make(map[key]struct{}), limit: limit}
}

// Seen records the pair and reports whether it was already present.
// An empty requestID is never a duplicate.
func (g *Guard) Seen(conversationID, requestID string) bool {
	if requestID == "" {
		return false
	}
	k := key{conversationID, requestID}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[k]; ok {
		return true
	}
	if len(g.seen) >= g.limit {
		clear(g.seen)
	}
	g.seen[k] = struct{}{}
	return false
}

// Forget drops the pair so a retry of the same request is processed again.
func (g *Guard) Forget(conversationID, requestID string) {
	g.mu.Lock()
	delete(g.seen, key{conversationID, requestID})
	g.mu.Unlock()
}

// Len reports how many pairs are held.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
