package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/google/uuid"
)

// SessionView is a read-only snapshot of a session's dialogue state.
type SessionView struct {
	ID          string              `json:"id"`
	Participant string              `json:"participant,omitempty"`
	Phase       models.Phase        `json:"phase"`
	Stopped     bool                `json:"stopped"`
	Complete    bool                `json:"complete"`
	Question    string              `json:"question,omitempty"`
	Conclusions []models.Conclusion `json:"conclusions"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// SessionService runs intake sessions by ID. It serialises turns per session through a
// SessionRegistry and is safe for concurrent use by the API and chat transports.
type SessionService struct {
	flow       *IntakeFlow
	store      store.Store
	registry   *SessionRegistry
	summarizer *Summarizer
}

// ServiceOption configures a SessionService.
type ServiceOption func(*SessionService)

// WithSummarizer sets the summarizer used by Summary.
func WithSummarizer(s *Summarizer) ServiceOption {
	return func(svc *SessionService) {
		svc.summarizer = s
	}
}

// WithRegistry sets the session registry.
func WithRegistry(r *SessionRegistry) ServiceOption {
	return func(svc *SessionService) {
		svc.registry = r
	}
}

// NewSessionService creates a service around the given controller and store.
func NewSessionService(f *IntakeFlow, st store.Store, opts ...ServiceOption) *SessionService {
	svc := &SessionService{
		flow:       f,
		store:      st,
		registry:   NewSessionRegistry(),
		summarizer: NewSummarizer(nil),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Flow returns the underlying dialogue controller.
func (s *SessionService) Flow() *IntakeFlow {
	return s.flow
}

// Registry returns the session registry.
func (s *SessionService) Registry() *SessionRegistry {
	return s.registry
}

// Create starts a new session and returns it with its greeting.
func (s *SessionService) Create(ctx context.Context, participant string) (SessionView, string, error) {
	sess := NewIntakeSession(uuid.NewString(), participant)
	if err := s.store.SaveSession(sess.Record()); err != nil {
		slog.Error("SessionService.Create: failed to save session", "error", err, "sessionID", sess.ID)
		return SessionView{}, "", fmt.Errorf("failed to create session: %w", err)
	}
	s.registry.Put(sess)
	_, release, err := s.registry.Acquire(ctx, sess.ID, s.flow.Restore)
	if err != nil {
		return SessionView{}, "", err
	}
	defer release()
	greeting := s.flow.Start(ctx, sess)
	slog.Info("SessionService.Create: session started", "sessionID", sess.ID, "participant", participant)
	return s.view(sess), greeting, nil
}

// Submit runs one turn on the session.
func (s *SessionService) Submit(ctx context.Context, id, text string) ([]string, error) {
	sess, release, err := s.registry.Acquire(ctx, id, s.flow.Restore)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.flow.Submit(ctx, sess, text)
}

// Get returns a snapshot of the session.
func (s *SessionService) Get(ctx context.Context, id string) (SessionView, error) {
	sess, release, err := s.registry.Acquire(ctx, id, s.flow.Restore)
	if err != nil {
		return SessionView{}, err
	}
	defer release()
	return s.view(sess), nil
}

// FindByParticipant returns the ID of the participant's latest session, or "" if none exists.
func (s *SessionService) FindByParticipant(participant string) (string, error) {
	rec, err := s.store.GetSessionByParticipant(participant)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.ID, nil
}

// List returns metadata of every stored session.
func (s *SessionService) List() ([]models.IntakeSessionRecord, error) {
	return s.store.ListSessions()
}

// Transcript returns the session's messages in order.
func (s *SessionService) Transcript(ctx context.Context, id string) ([]models.ChatMessage, error) {
	sess, release, err := s.registry.Acquire(ctx, id, s.flow.Restore)
	if err != nil {
		return nil, err
	}
	defer release()
	return append([]models.ChatMessage(nil), sess.Transcript...), nil
}

// Facts returns the session's fact log.
func (s *SessionService) Facts(ctx context.Context, id string) ([]models.Fact, error) {
	sess, release, err := s.registry.Acquire(ctx, id, s.flow.Restore)
	if err != nil {
		return nil, err
	}
	defer release()
	return append([]models.Fact(nil), sess.Facts...), nil
}

// Conclusions returns the session's conclusion set in derivation order.
func (s *SessionService) Conclusions(ctx context.Context, id string) ([]models.Conclusion, error) {
	sess, release, err := s.registry.Acquire(ctx, id, s.flow.Restore)
	if err != nil {
		return nil, err
	}
	defer release()
	return sess.Conclusions.Items(), nil
}

// Summary returns the clinician summary of the session.
func (s *SessionService) Summary(ctx context.Context, id string) (Summary, error) {
	sess, release, err := s.registry.Acquire(ctx, id, s.flow.Restore)
	if err != nil {
		return Summary{}, err
	}
	defer release()
	return s.summarizer.Summarize(sess), nil
}

// Clear resets the session to its first phase and returns the new greeting.
func (s *SessionService) Clear(ctx context.Context, id string) (string, error) {
	sess, release, err := s.registry.Acquire(ctx, id, s.flow.Restore)
	if err != nil {
		return "", err
	}
	defer release()
	return s.flow.Clear(ctx, sess), nil
}

// Delete removes the session and all of its data.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	_, release, err := s.registry.Acquire(ctx, id, s.flow.Restore)
	if err != nil {
		return err
	}
	defer release()
	if err := s.store.DeleteSession(id); err != nil {
		slog.Error("SessionService.Delete: failed", "error", err, "sessionID", id)
		return err
	}
	s.registry.Remove(id)
	slog.Info("SessionService.Delete: session deleted", "sessionID", id)
	return nil
}

// PurgeStale deletes sessions idle since before cutoff from the store and the registry.
func (s *SessionService) PurgeStale(cutoff time.Time) (int, error) {
	evicted := s.registry.EvictIdle(cutoff)
	ids, err := s.store.PurgeSessionsBefore(cutoff)
	if err != nil {
		slog.Error("SessionService.PurgeStale: purge failed", "error", err)
		return 0, err
	}
	// A session read recently is still cached even though its stored row is gone.
	for _, id := range ids {
		s.registry.Remove(id)
	}
	slog.Info("SessionService.PurgeStale: completed", "purged", len(ids), "evicted", evicted, "cutoff", cutoff)
	return len(ids), nil
}

func (s *SessionService) view(sess *IntakeSession) SessionView {
	v := SessionView{
		ID:          sess.ID,
		Participant: sess.Participant,
		Phase:       sess.Phase,
		Stopped:     sess.Stopped,
		Complete:    sess.Complete(),
		Conclusions: sess.Conclusions.Items(),
		CreatedAt:   sess.CreatedAt,
		UpdatedAt:   sess.UpdatedAt,
	}
	if !sess.Stopped {
		v.Question, _ = s.flow.Content().Question(sess.Phase)
	}
	return v
}
