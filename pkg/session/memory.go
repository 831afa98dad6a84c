package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tutorbff/pkg/generator"
)

// MemoryStore is a keyed store living in process memory. Sessions are lost on
// restart; use the redis, mysql or mongo stores when that is not acceptable.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, s Session) (string, error) {
	if !s.valid() {
		return "", fmt.Errorf("session: missing sid or credentials")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		ref, err := generator.GenerateToken(generator.TokenBytes)
		if err != nil {
			return "", err
		}
		if _, taken := m.sessions[ref]; taken {
			continue
		}
		m.sessions[ref] = s
		return ref, nil
	}
}

func (m *MemoryStore) Get(_ context.Context, ref string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.Expired(m.now()) {
		m.mu.Lock()
		delete(m.sessions, ref)
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return &s, nil
}

// Update replaces the whole session; concurrent writers resolve last-writer-wins.
func (m *MemoryStore) Update(_ context.Context, ref string, s Session) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[ref]; !ok {
		return "", ErrNotFound
	}
	m.sessions[ref] = s
	return ref, nil
}

func (m *MemoryStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	delete(m.sessions, ref)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context) (int64, error) {
	now := m.now()
	var n int64
	m.mu.Lock()
	defer m.mu.Unlock()
	for ref, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, ref)
			n++
		}
	}
	return n, nil
}

// Len counts stored sessions, expired ones not yet swept included. Tests use it
// to observe deletions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
