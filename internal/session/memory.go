package session

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	sid       string
	updatedAt time.Time
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu  sync.Mutex
	m   map[string]memEntry
	ttl time.Duration
	now func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{m: make(map[string]memEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Name() string { return BackendMemory }

func (s *MemoryStore) SetActive(_ context.Context, username, sessionID string) error {
	s.mu.Lock()
	s.m[username] = memEntry{sid: sessionID, updatedAt: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetActive(_ context.Context, username string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[username]
	if !ok || e.updatedAt.Before(s.now().Add(-s.ttl)) {
		return "", false, nil
	}
	return e.sid, true, nil
}

func (s *MemoryStore) Clear(_ context.Context, username string) error {
	s.mu.Lock()
	delete(s.m, username)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ClearIf(_ context.Context, username, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[username]; ok && e.sid == sessionID {
		delete(s.m, username)
		return true, nil
	}
	return false, nil
}
