// Package session owns the per-conversation lifecycle: the session
// store, the turn controller that drives the slot-filling engine and
// the routing graph, and idle-session eviction.
package session

import (
	"sync"
	"time"

	"github.com/opsdesk-io/opsdesk/internal/dialogue"
)

// Store holds live conversation state keyed by session ID.
type Store interface {
	// Get returns the state for id, if any, touching its activity time.
	Get(id string) (*dialogue.State, bool)
	// Put stores the state for id and touches its activity time.
	Put(id string, s *dialogue.State)
	// Delete removes a session.
	Delete(id string)
	// EvictIdle drops sessions inactive for longer than maxIdle and
	// returns how many were removed.
	EvictIdle(maxIdle time.Duration) int
	// Len returns the live session count.
	Len() int
}

type memoryEntry struct {
	state      *dialogue.State
	lastActive time.Time
}

// MemoryStore is the in-process Store. Conversation state is ephemeral
// by design; only tickets persist.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(id string) (*dialogue.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastActive = m.now()
	return e.state, true
}

func (m *MemoryStore) Put(id string, s *dialogue.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &memoryEntry{state: s, lastActive: m.now()}
}

func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *MemoryStore) EvictIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxIdle)
	evicted := 0
	for id, e := range m.sessions {
		if e.lastActive.Before(cutoff) {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
