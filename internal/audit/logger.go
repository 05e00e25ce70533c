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

// Package audit records one entry per chat model exchange. Entries describe
// the shape of a consultation (environment, how many options were chosen,
// scenario length, outcome) and never its text. Entries go to a JSON lines
// file or to a SQLite table.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	StorageTypeFile   = "file"
	StorageTypeSQLite = "sqlite"
)

// Outcomes of an exchange
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Record is one audited exchange
type Record struct {
	ID              string         `json:"id"`
	VisitorID       string         `json:"visitor_id"`
	Operation       string         `json:"operation"`
	MainEnvironment string         `json:"main_environment,omitempty"`
	SelectionCounts map[string]int `json:"selection_counts,omitempty"`
	ScenarioChars   int            `json:"scenario_chars"`
	Outcome         string         `json:"outcome"`
	Error           string         `json:"error,omitempty"`
	LatencyMS       int64          `json:"latency_ms"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Config holds configuration for the audit log
type Config struct {
	StorageType string `json:"storage_type"`
	FilePath    string `json:"file_path"`
	DBPath      string `json:"db_path"`
}

// Logger writes audit records to the configured backend
type Logger struct {
	config Config
	logger *zap.Logger
	db     *sql.DB
	mu     sync.Mutex
}

// NewLogger creates an audit logger and prepares its storage
func NewLogger(config Config, logger *zap.Logger) (*Logger, error) {
	al := &Logger{
		config: config,
		logger: logger,
	}

	switch config.StorageType {
	case StorageTypeFile:
		if err := al.initFileStorage(); err != nil {
			return nil, fmt.Errorf("failed to initialize file storage: %w", err)
		}
	case StorageTypeSQLite:
		if err := al.initSQLiteStorage(); err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.StorageType)
	}

	return al, nil
}

func (al *Logger) initFileStorage() error {
	if err := os.MkdirAll(filepath.Dir(al.config.FilePath), 0750); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(al.config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create audit file: %w", err)
	}
	return file.Close()
}

func (al *Logger) initSQLiteStorage() error {
	if err := os.MkdirAll(filepath.Dir(al.config.DBPath), 0750); err != nil {
		return fmt.Errorf("failed to create audit database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", al.config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS consultations (
			id TEXT PRIMARY KEY,
			visitor_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			main_environment TEXT,
			selection_counts TEXT,
			scenario_chars INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT,
			latency_ms INTEGER NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create consultations table: %w", err)
	}

	al.db = db
	return nil
}

// Log stores a record, filling in ID and Timestamp when empty
func (al *Logger) Log(record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	var err error
	switch al.config.StorageType {
	case StorageTypeFile:
		err = al.logToFile(record)
	case StorageTypeSQLite:
		err = al.logToSQLite(record)
	default:
		err = fmt.Errorf("unsupported storage type: %s", al.config.StorageType)
	}
	if err != nil {
		return err
	}

	al.logger.Debug("Consultation audited",
		zap.String("id", record.ID),
		zap.String("operation", record.Operation),
		zap.String("outcome", record.Outcome))
	return nil
}

func (al *Logger) logToFile(record Record) error {
	file, err := os.OpenFile(al.config.FilePath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer func() { _ = file.Close() }()

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

func (al *Logger) logToSQLite(record Record) error {
	if al.db == nil {
		return fmt.Errorf("SQLite database not initialized")
	}

	counts, err := json.Marshal(record.SelectionCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal selection counts: %w", err)
	}

	_, err = al.db.Exec(`
		INSERT INTO consultations (id, visitor_id, operation, main_environment, selection_counts,
			scenario_chars, outcome, error, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.VisitorID,
		record.Operation,
		record.MainEnvironment,
		string(counts),
		record.ScenarioChars,
		record.Outcome,
		record.Error,
		record.LatencyMS,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record into SQLite: %w", err)
	}
	return nil
}

// Recent returns the latest records, newest first (SQLite only)
func (al *Logger) Recent(limit int) ([]Record, error) {
	if al.config.StorageType != StorageTypeSQLite || al.db == nil {
		return nil, fmt.Errorf("recent records are only available with SQLite storage")
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	rows, err := al.db.Query(`
		SELECT id, visitor_id, operation, main_environment, selection_counts,
			scenario_chars, outcome, error, latency_ms, timestamp
		FROM consultations
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query consultations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var r Record
		var env, counts, errText sql.NullString
		if err := rows.Scan(&r.ID, &r.VisitorID, &r.Operation, &env, &counts,
			&r.ScenarioChars, &r.Outcome, &errText, &r.LatencyMS, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan consultation row: %w", err)
		}
		r.MainEnvironment = env.String
		r.Error = errText.String
		if counts.Valid && counts.String != "" && counts.String != "null" {
			if err := json.Unmarshal([]byte(counts.String), &r.SelectionCounts); err != nil {
				return nil, fmt.Errorf("failed to decode selection counts: %w", err)
			}
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consultation rows: %w", err)
	}
	return records, nil
}

// Close closes the audit logger and any open resources
func (al *Logger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.db != nil {
		return al.db.Close()
	}
	return nil
}
