// Package store provides storage backends for IntakePipe.
//
// Every record is keyed by session ID so that concurrent intake sessions never share facts,
// conclusions, transcripts or flow state. An in-memory store serves tests and DSN-less runs;
// SQLite and PostgreSQL stores provide durable storage.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Store is the persistence contract used by the intake flow and the API.
// Lookups of a missing record return (nil, nil).
type Store interface {
	SaveSession(s models.IntakeSessionRecord) error
	GetSession(id string) (*models.IntakeSessionRecord, error)
	GetSessionByParticipant(participant string) (*models.IntakeSessionRecord, error)
	ListSessions() ([]models.IntakeSessionRecord, error)
	// DeleteSession removes the session and everything recorded under it.
	DeleteSession(id string) error
	// PurgeSessionsBefore deletes sessions whose last update is older than cutoff and returns
	// their IDs.
	PurgeSessionsBefore(cutoff time.Time) ([]string, error)

	AddFact(sessionID string, f models.Fact) error
	GetFacts(sessionID string) ([]models.Fact, error)
	ClearFacts(sessionID string) error

	// AddConclusion appends to the conclusion log; duplicates are kept.
	AddConclusion(sessionID string, c models.Conclusion) error
	// GetConclusions returns the conclusion log as an ordered set (first occurrence wins).
	GetConclusions(sessionID string) ([]models.Conclusion, error)
	ClearConclusions(sessionID string) error

	AddChatMessage(sessionID string, m models.ChatMessage) error
	GetTranscript(sessionID string) ([]models.ChatMessage, error)
	ClearTranscript(sessionID string) error

	SaveFlowState(state models.FlowState) error
	GetFlowState(sessionID string, flowType models.FlowType) (*models.FlowState, error)
	DeleteFlowState(sessionID string, flowType models.FlowType) error

	DedupRepo

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// New opens the backend matching the DSN, or an in-memory store when the DSN is empty.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("store.New: no DSN provided, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// InMemoryStore is a simple in-memory Store implementation.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]models.IntakeSessionRecord
	facts       map[string][]models.Fact
	conclusions map[string][]models.Conclusion
	transcripts map[string][]models.ChatMessage
	flowStates  map[string]models.FlowState
	inbound     map[string]DedupRecord
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:    make(map[string]models.IntakeSessionRecord),
		facts:       make(map[string][]models.Fact),
		conclusions: make(map[string][]models.Conclusion),
		transcripts: make(map[string][]models.ChatMessage),
		flowStates:  make(map[string]models.FlowState),
		inbound:     make(map[string]DedupRecord),
	}
}

func flowStateKey(sessionID string, flowType models.FlowType) string {
	return sessionID + "|" + string(flowType)
}

func (s *InMemoryStore) SaveSession(rec models.IntakeSessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) GetSession(id string) (*models.IntakeSessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// GetSessionByParticipant returns the most recently updated session of the participant.
func (s *InMemoryStore) GetSessionByParticipant(participant string) (*models.IntakeSessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.IntakeSessionRecord
	for _, rec := range s.sessions {
		if rec.Participant != participant {
			continue
		}
		if found == nil || rec.UpdatedAt.After(found.UpdatedAt) {
			r := rec
			found = &r
		}
	}
	return found, nil
}

func (s *InMemoryStore) ListSessions() ([]models.IntakeSessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.IntakeSessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteSessionLocked(id)
	return nil
}

func (s *InMemoryStore) deleteSessionLocked(id string) {
	delete(s.sessions, id)
	delete(s.facts, id)
	delete(s.conclusions, id)
	delete(s.transcripts, id)
	for key, st := range s.flowStates {
		if st.SessionID == id {
			delete(s.flowStates, key)
		}
	}
}

func (s *InMemoryStore) PurgeSessionsBefore(cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, rec := range s.sessions {
		if rec.UpdatedAt.Before(cutoff) {
			s.deleteSessionLocked(id)
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *InMemoryStore) AddFact(sessionID string, f models.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[sessionID] = append(s.facts[sessionID], f)
	return nil
}

func (s *InMemoryStore) GetFacts(sessionID string) ([]models.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Fact(nil), s.facts[sessionID]...), nil
}

func (s *InMemoryStore) ClearFacts(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facts, sessionID)
	return nil
}

func (s *InMemoryStore) AddConclusion(sessionID string, c models.Conclusion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conclusions[sessionID] = append(s.conclusions[sessionID], c)
	return nil
}

func (s *InMemoryStore) GetConclusions(sessionID string) ([]models.Conclusion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return dedupeConclusions(s.conclusions[sessionID]), nil
}

func (s *InMemoryStore) ClearConclusions(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conclusions, sessionID)
	return nil
}

func (s *InMemoryStore) AddChatMessage(sessionID string, m models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[sessionID] = append(s.transcripts[sessionID], m)
	return nil
}

func (s *InMemoryStore) GetTranscript(sessionID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ChatMessage(nil), s.transcripts[sessionID]...), nil
}

func (s *InMemoryStore) ClearTranscript(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, sessionID)
	return nil
}

func (s *InMemoryStore) SaveFlowState(state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make(map[models.DataKey]string, len(state.StateData))
	for k, v := range state.StateData {
		data[k] = v
	}
	state.StateData = data
	s.flowStates[flowStateKey(state.SessionID, state.FlowType)] = state
	return nil
}

func (s *InMemoryStore) GetFlowState(sessionID string, flowType models.FlowType) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.flowStates[flowStateKey(sessionID, flowType)]
	if !ok {
		return nil, nil
	}
	data := make(map[models.DataKey]string, len(state.StateData))
	for k, v := range state.StateData {
		data[k] = v
	}
	state.StateData = data
	return &state, nil
}

func (s *InMemoryStore) DeleteFlowState(sessionID string, flowType models.FlowType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, flowStateKey(sessionID, flowType))
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
