// This file implements an SQLite-backed store for intake sessions.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveSession inserts or updates the session metadata.
func (s *SQLiteStore) SaveSession(rec models.IntakeSessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO intake_sessions (id, participant, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET participant = excluded.participant, updated_at = excluded.updated_at`,
		rec.ID, nilIfEmpty(rec.Participant), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", rec.ID)
		return fmt.Errorf("failed to save session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*models.IntakeSessionRecord, error) {
	var rec models.IntakeSessionRecord
	var participant sql.NullString
	err := s.db.QueryRow(`SELECT id, participant, created_at, updated_at FROM intake_sessions WHERE id = ?`, id).
		Scan(&rec.ID, &participant, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", id)
		return nil, err
	}
	rec.Participant = participant.String
	return &rec, nil
}

func (s *SQLiteStore) GetSessionByParticipant(participant string) (*models.IntakeSessionRecord, error) {
	var rec models.IntakeSessionRecord
	var p sql.NullString
	err := s.db.QueryRow(`SELECT id, participant, created_at, updated_at FROM intake_sessions
		WHERE participant = ? ORDER BY updated_at DESC LIMIT 1`, participant).
		Scan(&rec.ID, &p, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSessionByParticipant failed", "error", err, "participant", participant)
		return nil, err
	}
	rec.Participant = p.String
	return &rec, nil
}

func (s *SQLiteStore) ListSessions() ([]models.IntakeSessionRecord, error) {
	rows, err := s.db.Query(`SELECT id, participant, created_at, updated_at FROM intake_sessions ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessions(rows)
}

// DeleteSession removes the session and all of its records in one transaction.
func (s *SQLiteStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range sessionTables {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE session_id = ?`, id); err != nil {
			slog.Error("SQLiteStore DeleteSession failed", "error", err, "sessionID", id, "table", table)
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM intake_sessions WHERE id = ?`, id); err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "sessionID", id)
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) PurgeSessionsBefore(cutoff time.Time) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	cutoff = cutoff.UTC()
	ids, err := queryIDs(tx, `SELECT id FROM intake_sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore PurgeSessionsBefore failed", "error", err)
		return nil, err
	}
	for _, id := range ids {
		for _, table := range sessionTables {
			if _, err := tx.Exec(`DELETE FROM `+table+` WHERE session_id = ?`, id); err != nil {
				slog.Error("SQLiteStore PurgeSessionsBefore failed", "error", err, "sessionID", id, "table", table)
				return nil, err
			}
		}
		if _, err := tx.Exec(`DELETE FROM intake_sessions WHERE id = ?`, id); err != nil {
			slog.Error("SQLiteStore PurgeSessionsBefore failed", "error", err, "sessionID", id)
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore PurgeSessionsBefore succeeded", "purged", len(ids), "cutoff", cutoff)
	return ids, nil
}

func (s *SQLiteStore) AddFact(sessionID string, f models.Fact) error {
	_, err := s.db.Exec(`INSERT INTO facts (session_id, raw, interpreted, conclusion, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, f.Raw, f.Interpreted, nilIfEmpty(string(f.Conclusion)), f.CreatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore AddFact failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to insert fact for %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetFacts(sessionID string) ([]models.Fact, error) {
	rows, err := s.db.Query(`SELECT raw, interpreted, conclusion, created_at FROM facts WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore GetFacts query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	return scanFacts(rows)
}

func (s *SQLiteStore) ClearFacts(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM facts WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore ClearFacts failed", "error", err, "sessionID", sessionID)
	}
	return err
}

func (s *SQLiteStore) AddConclusion(sessionID string, c models.Conclusion) error {
	_, err := s.db.Exec(`INSERT INTO conclusions (session_id, conclusion, created_at) VALUES (?, ?, ?)`,
		sessionID, c, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore AddConclusion failed", "error", err, "sessionID", sessionID, "conclusion", c)
		return fmt.Errorf("failed to insert conclusion for %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetConclusions(sessionID string) ([]models.Conclusion, error) {
	rows, err := s.db.Query(`SELECT conclusion FROM conclusions WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore GetConclusions query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query conclusions: %w", err)
	}
	return scanConclusions(rows)
}

func (s *SQLiteStore) ClearConclusions(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM conclusions WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore ClearConclusions failed", "error", err, "sessionID", sessionID)
	}
	return err
}

func (s *SQLiteStore) AddChatMessage(sessionID string, m models.ChatMessage) error {
	_, err := s.db.Exec(`INSERT INTO transcript_messages (session_id, sender, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, m.Sender, m.Text, m.CreatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore AddChatMessage failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to insert transcript message for %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTranscript(sessionID string) ([]models.ChatMessage, error) {
	rows, err := s.db.Query(`SELECT sender, text, created_at FROM transcript_messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore GetTranscript query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	return scanTranscript(rows)
}

func (s *SQLiteStore) ClearTranscript(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM transcript_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore ClearTranscript failed", "error", err, "sessionID", sessionID)
	}
	return err
}

// SaveFlowState stores or updates flow state for a session.
func (s *SQLiteStore) SaveFlowState(state models.FlowState) error {
	stateDataJSON, err := encodeStateData(state.StateData)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState JSON marshal failed", "error", err, "sessionID", state.SessionID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO flow_states (session_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.SessionID, state.FlowType, state.CurrentState, stateDataJSON, state.CreatedAt.UTC(), state.UpdatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "sessionID", state.SessionID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("SQLiteStore SaveFlowState succeeded", "sessionID", state.SessionID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves flow state for a session.
func (s *SQLiteStore) GetFlowState(sessionID string, flowType models.FlowType) (*models.FlowState, error) {
	var state models.FlowState
	var stateDataJSON sql.NullString
	err := s.db.QueryRow(`SELECT session_id, flow_type, current_state, state_data, created_at, updated_at
		FROM flow_states WHERE session_id = ? AND flow_type = ?`, sessionID, flowType).Scan(
		&state.SessionID, &state.FlowType, &state.CurrentState, &stateDataJSON, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowState failed", "error", err, "sessionID", sessionID, "flowType", flowType)
		return nil, err
	}
	state.StateData = decodeStateData(stateDataJSON.String, sessionID)
	return &state, nil
}

// DeleteFlowState removes flow state for a session.
func (s *SQLiteStore) DeleteFlowState(sessionID string, flowType models.FlowType) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE session_id = ? AND flow_type = ?`, sessionID, flowType)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlowState failed", "error", err, "sessionID", sessionID, "flowType", flowType)
		return err
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
