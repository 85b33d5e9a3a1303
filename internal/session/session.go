// ABOUTME: In-memory set of admin session IDs, created on login and destroyed on logout
// ABOUTME: Sessions live for the process lifetime; a restart signs every admin out

package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// idBytes is the entropy of a session ID (hex encoded to 32 chars)
const idBytes = 16

// Manager tracks live admin sessions. It is passed to the handlers that need
// it and torn down with Close at shutdown.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]struct{}
}

// NewManager creates an empty session manager
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]struct{}),
	}
}

// Create generates a new session ID and marks it live
func (m *Manager) Create() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	id := hex.EncodeToString(b)

	m.mu.Lock()
	m.sessions[id] = struct{}{}
	m.mu.Unlock()

	return id, nil
}

// Valid reports whether id is a live session
func (m *Manager) Valid(id string) bool {
	if id == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// Destroy ends a session. Unknown IDs are ignored.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close ends every session
func (m *Manager) Close() {
	m.mu.Lock()
	m.sessions = make(map[string]struct{})
	m.mu.Unlock()
}
