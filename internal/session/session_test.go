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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T, maxSessions int) *Manager {
	t.Helper()
	config := DefaultConfig()
	config.MaxSessions = maxSessions
	config.CleanupInterval = 0
	manager, err := NewManager(config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestManager_CreateAndGet(t *testing.T) {
	manager := newTestManager(t, 10)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if !ValidateSessionID(session.ID) {
		t.Errorf("Invalid session ID: %s", session.ID)
	}

	got, err := manager.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.ID != session.ID {
		t.Errorf("Expected session ID %s, got %s", session.ID, got.ID)
	}
}

func TestManager_SaveSessionPersistsData(t *testing.T) {
	manager := newTestManager(t, 10)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	session.Data = json.RawMessage(`{"step":2}`)
	if err := manager.SaveSession(ctx, session); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	got, err := manager.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if string(got.Data) != `{"step":2}` {
		t.Errorf("Expected stored data, got %s", got.Data)
	}
}

func TestManager_GetMissingSession(t *testing.T) {
	manager := newTestManager(t, 10)

	_, err := manager.GetSession(context.Background(), "session_00000000000000000000000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestManager_ExpiredSessionIsNotFound(t *testing.T) {
	storage := NewMemoryStorage(10)
	config := DefaultConfig()
	config.CleanupInterval = 0
	manager := NewManagerWithStorage(config, storage, zaptest.NewLogger(t))
	defer manager.Close()

	ctx := context.Background()
	expired := &Session{ID: GenerateSessionID(), ExpiresAt: time.Now().Add(-time.Minute)}
	if err := storage.Set(ctx, expired, 0); err != nil {
		t.Fatalf("Failed to store session: %v", err)
	}

	_, err := manager.GetSession(ctx, expired.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for expired session, got %v", err)
	}
}

func TestManager_DeleteSession(t *testing.T) {
	manager := newTestManager(t, 10)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := manager.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("Failed to delete session: %v", err)
	}
	if _, err := manager.GetSession(ctx, session.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestManager_UnsupportedStorage(t *testing.T) {
	config := DefaultConfig()
	config.StorageType = "etcd"
	if _, err := NewManager(config, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error for unsupported storage type")
	}
}

func TestManager_RedisRequiresURL(t *testing.T) {
	config := DefaultConfig()
	config.StorageType = RedisStorageType
	if _, err := NewManager(config, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error when redis URL is empty")
	}
}

func TestManager_Stats(t *testing.T) {
	manager := newTestManager(t, 5)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := manager.CreateSession(ctx); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
	}

	stats := manager.GetStats()
	if stats["total_sessions"] != 3 {
		t.Errorf("Expected 3 sessions, got %v", stats["total_sessions"])
	}
	if stats["storage_type"] != "memory" {
		t.Errorf("Expected memory storage, got %v", stats["storage_type"])
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{GenerateSessionID(), true},
		{"session_0123456789abcdef0123456789abcdef", true},
		{"session_0123", false},
		{"session_0123456789ABCDEF0123456789ABCDEF", false},
		{"", false},
		{"../etc/passwd", false},
	}

	for _, tt := range tests {
		if got := ValidateSessionID(tt.id); got != tt.valid {
			t.Errorf("ValidateSessionID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}
