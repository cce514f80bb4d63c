package flow

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/content"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// ErrSessionStopped is returned when input is submitted to a session that reached a dead-end.
var ErrSessionStopped = errors.New("intake session has ended")

// IntakeFlow is the phase-driven dialogue controller. It is stateless itself; every call
// operates on the IntakeSession passed in.
type IntakeFlow struct {
	store   store.Store
	content *content.Pack
	gateway *FactGateway
	state   StateManager
}

// NewIntakeFlow wires a controller over the given store, content and rule engine.
func NewIntakeFlow(st store.Store, pack *content.Pack, engine *RuleEngine) *IntakeFlow {
	if pack == nil {
		pack = content.Empty()
	}
	return &IntakeFlow{
		store:   st,
		content: pack,
		gateway: NewFactGateway(st, engine),
		state:   NewStoreBasedStateManager(st),
	}
}

// Content returns the content pack the controller reads from.
func (f *IntakeFlow) Content() *content.Pack {
	return f.content
}

// Start persists the session and returns the greeting, or "" when no greeting is authored.
func (f *IntakeFlow) Start(ctx context.Context, sess *IntakeSession) string {
	slog.Debug("IntakeFlow.Start", "sessionID", sess.ID)
	greeting, _ := f.content.Greeting()
	if greeting != "" {
		f.emit(sess, greeting)
	}
	f.persistProgress(ctx, sess)
	return greeting
}

// IsStopped reports whether the session has reached a dead-end.
func (f *IntakeFlow) IsStopped(sess *IntakeSession) bool {
	return sess.Stopped
}

// Submit runs one dialogue turn and returns the bot messages it produced, in order.
func (f *IntakeFlow) Submit(ctx context.Context, sess *IntakeSession, text string) ([]string, error) {
	if sess.Stopped {
		slog.Debug("IntakeFlow.Submit: session already stopped", "sessionID", sess.ID)
		return nil, ErrSessionStopped
	}
	f.record(sess, models.SenderUser, text)

	phase := sess.Phase
	token := f.gateway.AddFact(ctx, sess, text)

	var out []string
	say := func(msg string, ok bool) {
		if !ok || msg == "" {
			return
		}
		f.emit(sess, msg)
		out = append(out, msg)
	}

	if !IsAccepted(phase, token) {
		slog.Debug("IntakeFlow.Submit: invalid input", "sessionID", sess.ID, "phase", phase, "token", token)
		say(f.content.Question(models.PhaseInvalid))
		say(f.content.Question(phase))
		f.persistProgress(ctx, sess)
		return out, nil
	}

	if deadEnd, ok := f.content.DeadEnd(phase, token); ok {
		say(deadEnd, true)
		sess.Stopped = true
		slog.Info("IntakeFlow.Submit: dead-end reached", "sessionID", sess.ID, "phase", phase, "token", token)
		f.persistProgress(ctx, sess, token)
		return out, nil
	}

	say(f.content.ResponseText(phase, token))
	sess.Phase = phase.Next()
	say(f.content.Question(sess.Phase))
	slog.Debug("IntakeFlow.Submit: phase advanced", "sessionID", sess.ID, "from", phase, "to", sess.Phase)
	f.persistProgress(ctx, sess)
	return out, nil
}

// Clear wipes the session's facts, conclusions, transcript and flow state, and restarts the
// dialogue. It returns the new greeting.
func (f *IntakeFlow) Clear(ctx context.Context, sess *IntakeSession) string {
	slog.Info("IntakeFlow.Clear", "sessionID", sess.ID)
	if err := f.store.ClearFacts(sess.ID); err != nil {
		slog.Error("IntakeFlow.Clear: failed to clear facts", "error", err, "sessionID", sess.ID)
	}
	if err := f.store.ClearConclusions(sess.ID); err != nil {
		slog.Error("IntakeFlow.Clear: failed to clear conclusions", "error", err, "sessionID", sess.ID)
	}
	if err := f.store.ClearTranscript(sess.ID); err != nil {
		slog.Error("IntakeFlow.Clear: failed to clear transcript", "error", err, "sessionID", sess.ID)
	}
	if err := f.state.ResetState(ctx, sess.ID, models.FlowTypeIntake); err != nil {
		slog.Error("IntakeFlow.Clear: failed to reset flow state", "error", err, "sessionID", sess.ID)
	}
	sess.reset()
	return f.Start(ctx, sess)
}

// Restore rebuilds a session from the store. Unknown IDs yield models.ErrSessionNotFound.
func (f *IntakeFlow) Restore(ctx context.Context, id string) (*IntakeSession, error) {
	rec, err := f.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, models.ErrSessionNotFound
	}

	sess := &IntakeSession{
		ID:          rec.ID,
		Participant: rec.Participant,
		Phase:       models.FirstPhase,
		Conclusions: NewConclusionSet(),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}

	if facts, err := f.store.GetFacts(id); err != nil {
		slog.Error("IntakeFlow.Restore: failed to load facts", "error", err, "sessionID", id)
	} else {
		sess.Facts = facts
	}
	if concl, err := f.store.GetConclusions(id); err != nil {
		slog.Error("IntakeFlow.Restore: failed to load conclusions", "error", err, "sessionID", id)
	} else {
		sess.Conclusions = NewConclusionSet(concl...)
	}
	if transcript, err := f.store.GetTranscript(id); err != nil {
		slog.Error("IntakeFlow.Restore: failed to load transcript", "error", err, "sessionID", id)
	} else {
		sess.Transcript = transcript
	}

	current, err := f.state.GetCurrentState(ctx, id, models.FlowTypeIntake)
	if err != nil {
		return nil, err
	}
	sess.Stopped = current == models.StateStopped
	rawPhase, err := f.state.GetStateData(ctx, id, models.FlowTypeIntake, models.DataKeyPhase)
	if err != nil {
		return nil, err
	}
	if rawPhase != "" {
		if p, perr := strconv.Atoi(rawPhase); perr == nil && p >= int(models.FirstPhase) {
			sess.Phase = models.Phase(p)
		} else {
			slog.Error("IntakeFlow.Restore: malformed phase, restarting at first phase", "sessionID", id, "phase", rawPhase)
		}
	}
	slog.Debug("IntakeFlow.Restore: session restored", "sessionID", id, "phase", sess.Phase, "stopped", sess.Stopped)
	return sess, nil
}

func (f *IntakeFlow) emit(sess *IntakeSession, text string) {
	f.record(sess, models.SenderBot, text)
}

func (f *IntakeFlow) record(sess *IntakeSession, sender models.Sender, text string) {
	msg := models.ChatMessage{Sender: sender, Text: text, CreatedAt: time.Now()}
	sess.Transcript = append(sess.Transcript, msg)
	if err := f.store.AddChatMessage(sess.ID, msg); err != nil {
		slog.Error("IntakeFlow.record: failed to persist transcript message", "error", err, "sessionID", sess.ID, "sender", sender)
	}
}

// persistProgress saves session metadata and flow state. stoppedBy names the dead-end token.
func (f *IntakeFlow) persistProgress(ctx context.Context, sess *IntakeSession, stoppedBy ...models.Token) {
	sess.UpdatedAt = time.Now()
	if err := f.store.SaveSession(sess.Record()); err != nil {
		slog.Error("IntakeFlow.persistProgress: failed to save session", "error", err, "sessionID", sess.ID)
	}
	state := models.StateAwaitingAnswer
	data := map[models.DataKey]string{models.DataKeyPhase: sess.Phase.String()}
	if sess.Stopped {
		state = models.StateStopped
		if len(stoppedBy) > 0 {
			data[models.DataKeyStoppedBy] = string(stoppedBy[0])
		}
	}
	if err := f.state.SetStateWithData(ctx, sess.ID, models.FlowTypeIntake, state, data); err != nil {
		slog.Error("IntakeFlow.persistProgress: failed to save flow state", "error", err, "sessionID", sess.ID)
	}
}
