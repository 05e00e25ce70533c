// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStorage provides in-memory session storage with LRU eviction
type MemoryStorage struct {
	sessions    map[string]*Session
	accessTime  map[string]time.Time
	maxSessions int
	mutex       sync.Mutex
}

// NewMemoryStorage creates a new in-memory session storage
func NewMemoryStorage(maxSessions int) *MemoryStorage {
	return &MemoryStorage{
		sessions:    make(map[string]*Session),
		accessTime:  make(map[string]time.Time),
		maxSessions: maxSessions,
	}
}

// Get retrieves a copy of the session
func (m *MemoryStorage) Get(_ context.Context, sessionID string) (*Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	m.accessTime[sessionID] = time.Now()
	return cloneSession(session), nil
}

// Set stores a copy of the session. The TTL is carried by ExpiresAt.
func (m *MemoryStorage) Set(_ context.Context, session *Session, _ time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.sessions[session.ID]; !exists && m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		if err := m.evictOldestSession(); err != nil {
			return fmt.Errorf("failed to evict session: %w", err)
		}
	}

	m.sessions[session.ID] = cloneSession(session)
	m.accessTime[session.ID] = time.Now()
	return nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (m *MemoryStorage) Delete(_ context.Context, sessionID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.sessions, sessionID)
	delete(m.accessTime, sessionID)
	return nil
}

// Exists checks if a session exists
func (m *MemoryStorage) Exists(_ context.Context, sessionID string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, exists := m.sessions[sessionID]
	return exists, nil
}

// Cleanup removes expired sessions
func (m *MemoryStorage) Cleanup(_ context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	for id, session := range m.sessions {
		if session.ExpiresAt.Before(now) {
			delete(m.sessions, id)
			delete(m.accessTime, id)
		}
	}
	return nil
}

// Ping always succeeds for in-memory storage
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close releases all sessions
func (m *MemoryStorage) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.sessions = make(map[string]*Session)
	m.accessTime = make(map[string]time.Time)
	return nil
}

// Count returns the number of stored sessions
func (m *MemoryStorage) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.sessions)
}

// evictOldestSession removes the least recently used session that is not
// pinned. Caller holds the lock.
func (m *MemoryStorage) evictOldestSession() error {
	var oldestID string
	var oldestTime time.Time

	for id, accessed := range m.accessTime {
		if m.sessions[id].Pinned {
			continue
		}
		if oldestID == "" || accessed.Before(oldestTime) {
			oldestID = id
			oldestTime = accessed
		}
	}

	if oldestID == "" {
		return ErrCapacity
	}

	delete(m.sessions, oldestID)
	delete(m.accessTime, oldestID)
	return nil
}

func cloneSession(s *Session) *Session {
	c := *s
	if s.Data != nil {
		c.Data = append([]byte(nil), s.Data...)
	}
	return &c
}
