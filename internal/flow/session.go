package flow

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// IntakeSession is the working state of one intake dialogue. It is owned by the caller and
// passed explicitly to every core operation; nothing in this package keeps session state globally.
type IntakeSession struct {
	ID          string
	Participant string
	Phase       models.Phase
	Stopped     bool
	Facts       []models.Fact
	Conclusions *ConclusionSet
	Transcript  []models.ChatMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewIntakeSession returns a session positioned at the first phase.
func NewIntakeSession(id, participant string) *IntakeSession {
	now := time.Now()
	return &IntakeSession{
		ID:          id,
		Participant: participant,
		Phase:       models.FirstPhase,
		Conclusions: NewConclusionSet(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Record returns the persisted metadata of the session.
func (s *IntakeSession) Record() models.IntakeSessionRecord {
	return models.IntakeSessionRecord{
		ID:          s.ID,
		Participant: s.Participant,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Complete reports whether every phase was answered without reaching a dead-end.
func (s *IntakeSession) Complete() bool {
	return !s.Stopped && s.Phase > models.LastPhase
}

// reset returns the session to its initial state, keeping identity and creation time.
func (s *IntakeSession) reset() {
	s.Phase = models.FirstPhase
	s.Stopped = false
	s.Facts = nil
	s.Conclusions = NewConclusionSet()
	s.Transcript = nil
	s.UpdatedAt = time.Now()
}

// SessionLoader restores a session by ID. It returns models.ErrSessionNotFound for unknown IDs.
type SessionLoader func(ctx context.Context, id string) (*IntakeSession, error)

type registryEntry struct {
	mu       sync.Mutex
	session  *IntakeSession
	lastUsed time.Time
}

// SessionRegistry caches live sessions and serialises turns: at most one caller holds a given
// session at a time.
type SessionRegistry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{entries: make(map[string]*registryEntry)}
}

func (r *SessionRegistry) entry(id string) *registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		e = &registryEntry{}
		r.entries[id] = e
	}
	return e
}

// Acquire locks the session with the given ID, loading it on first use. The returned release
// function must be called exactly once.
func (r *SessionRegistry) Acquire(ctx context.Context, id string, load SessionLoader) (*IntakeSession, func(), error) {
	e := r.entry(id)
	e.mu.Lock()
	for !r.current(id, e) {
		// Removed or replaced while waiting.
		e.mu.Unlock()
		e = r.entry(id)
		e.mu.Lock()
	}
	if e.session == nil {
		s, err := load(ctx, id)
		if err != nil {
			e.mu.Unlock()
			r.forget(id, e)
			return nil, nil, err
		}
		e.session = s
	}
	e.lastUsed = time.Now()
	var once sync.Once
	release := func() {
		once.Do(func() {
			e.lastUsed = time.Now()
			e.mu.Unlock()
		})
	}
	return e.session, release, nil
}

// Put registers a freshly created session. An existing entry with the same ID is replaced.
func (r *SessionRegistry) Put(s *IntakeSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID] = &registryEntry{session: s, lastUsed: time.Now()}
}

// Remove drops the session from the registry. Callers holding it keep their reference.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *SessionRegistry) current(id string, e *registryEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id] == e
}

func (r *SessionRegistry) forget(id string, e *registryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[id]; ok && cur == e && cur.session == nil {
		delete(r.entries, id)
	}
}

// EvictIdle drops cached sessions that have not been used since cutoff and are not currently held.
// It returns the number of sessions evicted.
func (r *SessionRegistry) EvictIdle(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.lastUsed.Before(cutoff) {
			delete(r.entries, id)
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// Len returns the number of cached sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
