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

// Package session keeps per-visitor state between HTTP requests. A session
// holds an opaque JSON document owned by the caller; storage is in memory or
// in Redis, and every session expires after a period of inactivity.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a session does not exist or has expired
var ErrNotFound = errors.New("session not found")

// ErrCapacity is returned when storage is full and every session is pinned
var ErrCapacity = errors.New("session storage is full")

// StorageType represents the type of storage backend for sessions
type StorageType string

const (
	// MemoryStorageType uses in-memory storage for sessions
	MemoryStorageType StorageType = "memory"
	// RedisStorageType uses Redis for session storage
	RedisStorageType StorageType = "redis"
)

// Config holds configuration for session management
type Config struct {
	StorageType     StorageType   `json:"storage_type"`
	RedisURL        string        `json:"redis_url,omitempty"`
	KeyPrefix       string        `json:"key_prefix,omitempty"`
	DefaultTTL      time.Duration `json:"default_ttl"`
	MaxSessions     int           `json:"max_sessions"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		StorageType:     MemoryStorageType,
		KeyPrefix:       "infra-advisor:",
		DefaultTTL:      60 * time.Minute,
		MaxSessions:     1000,
		CleanupInterval: 5 * time.Minute,
	}
}

// Session is one visitor's stored state
type Session struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at"`

	// Pinned sessions have work in flight and are skipped by LRU eviction
	Pinned bool            `json:"pinned,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Expired reports whether the session is past its expiry time
func (s *Session) Expired() bool {
	return s.ExpiresAt.Before(time.Now())
}

// Storage defines the interface for session storage backends
type Storage interface {
	// Get retrieves a session by ID, returning ErrNotFound when absent
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Set stores a session with optional TTL
	Set(ctx context.Context, session *Session, ttl time.Duration) error
	// Delete removes a session
	Delete(ctx context.Context, sessionID string) error
	// Exists checks if a session exists
	Exists(ctx context.Context, sessionID string) (bool, error)
	// Cleanup removes expired sessions
	Cleanup(ctx context.Context) error
	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
	// Close closes the storage backend
	Close() error
}

// Manager handles session lifecycle and storage operations
type Manager struct {
	storage Storage
	config  Config
	logger  *zap.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewManager creates a new session manager with the configured storage backend
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	var storage Storage
	var err error

	switch config.StorageType {
	case MemoryStorageType:
		storage = NewMemoryStorage(config.MaxSessions)
	case RedisStorageType:
		storage, err = NewRedisStorage(config.RedisURL, config.KeyPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis storage: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.StorageType)
	}

	return NewManagerWithStorage(config, storage, logger), nil
}

// NewManagerWithStorage creates a session manager over an existing backend
func NewManagerWithStorage(config Config, storage Storage, logger *zap.Logger) *Manager {
	manager := &Manager{
		storage: storage,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		manager.wg.Add(1)
		go manager.cleanupLoop()
	}

	return manager
}

// CreateSession creates a new empty session
func (m *Manager) CreateSession(ctx context.Context) (*Session, error) {
	now := time.Now()
	session := &Session{
		ID:        GenerateSessionID(),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.config.DefaultTTL),
	}

	if err := m.storage.Set(ctx, session, m.config.DefaultTTL); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.Debug("Created new session", zap.String("session_id", session.ID))

	return session, nil
}

// GetSession retrieves a live session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := m.storage.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if session.Expired() {
		return nil, fmt.Errorf("session %s expired: %w", sessionID, ErrNotFound)
	}

	return session, nil
}

// SaveSession stores the session and extends its expiry
func (m *Manager) SaveSession(ctx context.Context, session *Session) error {
	now := time.Now()
	session.UpdatedAt = now
	session.ExpiresAt = now.Add(m.config.DefaultTTL)

	if err := m.storage.Set(ctx, session, m.config.DefaultTTL); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return nil
}

// DeleteSession removes a session
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.storage.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	m.logger.Debug("Deleted session", zap.String("session_id", sessionID))
	return nil
}

// Ping checks the storage backend
func (m *Manager) Ping(ctx context.Context) error {
	return m.storage.Ping(ctx)
}

// cleanupLoop runs periodic cleanup of expired sessions
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.storage.Cleanup(ctx); err != nil {
				m.logger.Error("Failed to cleanup expired sessions", zap.Error(err))
			}
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// Close gracefully closes the session manager
func (m *Manager) Close() error {
	close(m.stopCh)
	m.wg.Wait()

	if err := m.storage.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	return nil
}

// GetStats returns session statistics
func (m *Manager) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"storage_type": string(m.config.StorageType),
		"max_sessions": m.config.MaxSessions,
		"default_ttl":  m.config.DefaultTTL.String(),
	}
	if mem, ok := m.storage.(*MemoryStorage); ok {
		stats["total_sessions"] = mem.Count()
	}
	return stats
}
