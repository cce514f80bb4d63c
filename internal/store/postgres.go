// This file implements a PostgreSQL-backed store for intake sessions.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveSession inserts or updates the session metadata.
func (s *PostgresStore) SaveSession(rec models.IntakeSessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO intake_sessions (id, participant, created_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT(id) DO UPDATE SET participant = EXCLUDED.participant, updated_at = EXCLUDED.updated_at`,
		rec.ID, nilIfEmpty(rec.Participant), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", rec.ID)
		return fmt.Errorf("failed to save session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetSession(id string) (*models.IntakeSessionRecord, error) {
	var rec models.IntakeSessionRecord
	var participant sql.NullString
	err := s.db.QueryRow(`SELECT id, participant, created_at, updated_at FROM intake_sessions WHERE id = $1`, id).
		Scan(&rec.ID, &participant, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", id)
		return nil, err
	}
	rec.Participant = participant.String
	return &rec, nil
}

func (s *PostgresStore) GetSessionByParticipant(participant string) (*models.IntakeSessionRecord, error) {
	var rec models.IntakeSessionRecord
	var p sql.NullString
	err := s.db.QueryRow(`SELECT id, participant, created_at, updated_at FROM intake_sessions
		WHERE participant = $1 ORDER BY updated_at DESC LIMIT 1`, participant).
		Scan(&rec.ID, &p, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSessionByParticipant failed", "error", err, "participant", participant)
		return nil, err
	}
	rec.Participant = p.String
	return &rec, nil
}

func (s *PostgresStore) ListSessions() ([]models.IntakeSessionRecord, error) {
	rows, err := s.db.Query(`SELECT id, participant, created_at, updated_at FROM intake_sessions ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessions(rows)
}

// DeleteSession removes the session and all of its records in one transaction.
func (s *PostgresStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range sessionTables {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE session_id = $1`, id); err != nil {
			slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", id, "table", table)
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM intake_sessions WHERE id = $1`, id); err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", id)
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) PurgeSessionsBefore(cutoff time.Time) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	cutoff = cutoff.UTC()
	ids, err := queryIDs(tx, `SELECT id FROM intake_sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore PurgeSessionsBefore failed", "error", err)
		return nil, err
	}
	for _, id := range ids {
		for _, table := range sessionTables {
			if _, err := tx.Exec(`DELETE FROM `+table+` WHERE session_id = $1`, id); err != nil {
				slog.Error("PostgresStore PurgeSessionsBefore failed", "error", err, "sessionID", id, "table", table)
				return nil, err
			}
		}
		if _, err := tx.Exec(`DELETE FROM intake_sessions WHERE id = $1`, id); err != nil {
			slog.Error("PostgresStore PurgeSessionsBefore failed", "error", err, "sessionID", id)
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	slog.Debug("PostgresStore PurgeSessionsBefore succeeded", "purged", len(ids), "cutoff", cutoff)
	return ids, nil
}

func (s *PostgresStore) AddFact(sessionID string, f models.Fact) error {
	_, err := s.db.Exec(`INSERT INTO facts (session_id, raw, interpreted, conclusion, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sessionID, f.Raw, f.Interpreted, nilIfEmpty(string(f.Conclusion)), f.CreatedAt.UTC())
	if err != nil {
		slog.Error("PostgresStore AddFact failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to insert fact for %s: %w", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) GetFacts(sessionID string) ([]models.Fact, error) {
	rows, err := s.db.Query(`SELECT raw, interpreted, conclusion, created_at FROM facts WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("PostgresStore GetFacts query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	return scanFacts(rows)
}

func (s *PostgresStore) ClearFacts(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM facts WHERE session_id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore ClearFacts failed", "error", err, "sessionID", sessionID)
	}
	return err
}

func (s *PostgresStore) AddConclusion(sessionID string, c models.Conclusion) error {
	_, err := s.db.Exec(`INSERT INTO conclusions (session_id, conclusion, created_at) VALUES ($1, $2, $3)`,
		sessionID, c, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore AddConclusion failed", "error", err, "sessionID", sessionID, "conclusion", c)
		return fmt.Errorf("failed to insert conclusion for %s: %w", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) GetConclusions(sessionID string) ([]models.Conclusion, error) {
	rows, err := s.db.Query(`SELECT conclusion FROM conclusions WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("PostgresStore GetConclusions query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query conclusions: %w", err)
	}
	return scanConclusions(rows)
}

func (s *PostgresStore) ClearConclusions(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM conclusions WHERE session_id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore ClearConclusions failed", "error", err, "sessionID", sessionID)
	}
	return err
}

func (s *PostgresStore) AddChatMessage(sessionID string, m models.ChatMessage) error {
	_, err := s.db.Exec(`INSERT INTO transcript_messages (session_id, sender, text, created_at) VALUES ($1, $2, $3, $4)`,
		sessionID, m.Sender, m.Text, m.CreatedAt.UTC())
	if err != nil {
		slog.Error("PostgresStore AddChatMessage failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to insert transcript message for %s: %w", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) GetTranscript(sessionID string) ([]models.ChatMessage, error) {
	rows, err := s.db.Query(`SELECT sender, text, created_at FROM transcript_messages WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("PostgresStore GetTranscript query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	return scanTranscript(rows)
}

func (s *PostgresStore) ClearTranscript(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM transcript_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore ClearTranscript failed", "error", err, "sessionID", sessionID)
	}
	return err
}

// SaveFlowState stores or updates flow state for a session.
func (s *PostgresStore) SaveFlowState(state models.FlowState) error {
	stateDataJSON, err := encodeStateData(state.StateData)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState JSON marshal failed", "error", err, "sessionID", state.SessionID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO flow_states (session_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, flow_type) DO UPDATE SET current_state = EXCLUDED.current_state,
			state_data = EXCLUDED.state_data, updated_at = EXCLUDED.updated_at`,
		state.SessionID, state.FlowType, state.CurrentState, nilIfEmpty(stateDataJSON), state.CreatedAt.UTC(), state.UpdatedAt.UTC())
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "sessionID", state.SessionID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("PostgresStore SaveFlowState succeeded", "sessionID", state.SessionID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves flow state for a session.
func (s *PostgresStore) GetFlowState(sessionID string, flowType models.FlowType) (*models.FlowState, error) {
	var state models.FlowState
	var stateDataJSON sql.NullString
	err := s.db.QueryRow(`SELECT session_id, flow_type, current_state, state_data, created_at, updated_at
		FROM flow_states WHERE session_id = $1 AND flow_type = $2`, sessionID, flowType).Scan(
		&state.SessionID, &state.FlowType, &state.CurrentState, &stateDataJSON, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowState failed", "error", err, "sessionID", sessionID, "flowType", flowType)
		return nil, err
	}
	state.StateData = decodeStateData(stateDataJSON.String, sessionID)
	return &state, nil
}

// DeleteFlowState removes flow state for a session.
func (s *PostgresStore) DeleteFlowState(sessionID string, flowType models.FlowType) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE session_id = $1 AND flow_type = $2`, sessionID, flowType)
	if err != nil {
		slog.Error("PostgresStore DeleteFlowState failed", "error", err, "sessionID", sessionID, "flowType", flowType)
		return err
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
