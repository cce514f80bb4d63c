package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// Defaults for IntakeResponder.
const (
	DefaultRestartKeyword = "restart"
	DefaultStoppedMessage = `This checkup has ended. Send "restart" to begin a new one.`
	DefaultClosingMessage = `Your checkup is complete. Send "restart" to begin a new one.`
)

// IntakeResponder routes inbound chat messages to the sender's intake session and sends the
// bot messages back. The first message from an unknown sender starts a session and is answered
// with the greeting.
type IntakeResponder struct {
	svc            *flow.SessionService
	msgService     Service
	dedup          store.DedupRepo
	restartKeyword string
	stoppedMessage string
	closingMessage string
}

// ResponderOption configures an IntakeResponder.
type ResponderOption func(*IntakeResponder)

// WithDedup skips inbound messages whose transport ID was already recorded in repo.
func WithDedup(repo store.DedupRepo) ResponderOption {
	return func(r *IntakeResponder) {
		r.dedup = repo
	}
}

// WithRestartKeyword sets the message that restarts a participant's session.
// An empty keyword disables restarts.
func WithRestartKeyword(keyword string) ResponderOption {
	return func(r *IntakeResponder) {
		r.restartKeyword = strings.ToLower(strings.TrimSpace(keyword))
	}
}

// WithStoppedMessage sets the reply sent to participants whose session reached a dead-end.
func WithStoppedMessage(msg string) ResponderOption {
	return func(r *IntakeResponder) {
		r.stoppedMessage = msg
	}
}

// WithClosingMessage sets the reply sent to participants who already answered every question.
func WithClosingMessage(msg string) ResponderOption {
	return func(r *IntakeResponder) {
		r.closingMessage = msg
	}
}

// NewIntakeResponder creates a responder over the given session service and transport.
func NewIntakeResponder(svc *flow.SessionService, msgService Service, opts ...ResponderOption) *IntakeResponder {
	r := &IntakeResponder{
		svc:            svc,
		msgService:     msgService,
		restartKeyword: DefaultRestartKeyword,
		stoppedMessage: DefaultStoppedMessage,
		closingMessage: DefaultClosingMessage,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start processes inbound messages until ctx is cancelled or the transport closes its channel.
func (r *IntakeResponder) Start(ctx context.Context) {
	slog.Info("IntakeResponder.Start: processing inbound messages")
	go func() {
		defer slog.Info("IntakeResponder: stopped processing inbound messages")
		for {
			select {
			case msg, ok := <-r.msgService.Responses():
				if !ok {
					slog.Debug("IntakeResponder: inbound channel closed")
					return
				}
				if err := r.ProcessMessage(ctx, msg); err != nil {
					slog.Error("IntakeResponder: failed to process message", "error", err, "from", msg.From)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessMessage handles one inbound message.
func (r *IntakeResponder) ProcessMessage(ctx context.Context, msg models.InboundMessage) error {
	from, err := r.msgService.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if r.seen(msg.ID, from) {
		slog.Info("IntakeResponder.ProcessMessage: duplicate message skipped", "from", from, "id", msg.ID)
		return nil
	}

	replies, err := r.reply(ctx, from, msg.Body)
	if err != nil {
		r.release(msg.ID)
		return err
	}
	for _, text := range replies {
		if err := r.msgService.SendMessage(ctx, from, text); err != nil {
			return fmt.Errorf("failed to send reply: %w", err)
		}
	}

	if r.dedup != nil && msg.ID != "" {
		if err := r.dedup.MarkProcessed(msg.ID); err != nil {
			slog.Error("IntakeResponder.ProcessMessage: failed to mark processed", "error", err, "id", msg.ID)
		}
	}
	return nil
}

// seen records the message ID and reports whether it was recorded before.
// Messages without an ID, or a failing repo, are never treated as duplicates.
func (r *IntakeResponder) seen(id, from string) bool {
	if r.dedup == nil || id == "" {
		return false
	}
	isNew, err := r.dedup.RecordInbound(id, from)
	if err != nil {
		slog.Error("IntakeResponder.seen: dedup check failed, processing anyway", "error", err, "id", id)
		return false
	}
	return !isNew
}

// release forgets a message whose turn did not run, so that a redelivery is processed.
func (r *IntakeResponder) release(id string) {
	if r.dedup == nil || id == "" {
		return
	}
	if err := r.dedup.ReleaseInbound(id); err != nil {
		slog.Error("IntakeResponder.release: failed to release message", "error", err, "id", id)
	}
}

// reply runs the participant's turn and returns the messages to send back.
func (r *IntakeResponder) reply(ctx context.Context, from, text string) ([]string, error) {
	sessionID, err := r.svc.FindByParticipant(from)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if sessionID == "" {
		return r.start(ctx, from)
	}

	if r.restartKeyword != "" && strings.ToLower(strings.TrimSpace(text)) == r.restartKeyword {
		greeting, err := r.svc.Clear(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to restart session: %w", err)
		}
		slog.Info("IntakeResponder.reply: session restarted", "sessionID", sessionID, "from", from)
		return nonEmpty(greeting), nil
	}

	view, err := r.svc.Get(ctx, sessionID)
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return r.start(ctx, from)
	case err != nil:
		return nil, fmt.Errorf("failed to load session: %w", err)
	case view.Complete:
		return nonEmpty(r.closingMessage), nil
	}

	replies, err := r.svc.Submit(ctx, sessionID, text)
	switch {
	case errors.Is(err, flow.ErrSessionStopped):
		return nonEmpty(r.stoppedMessage), nil
	case errors.Is(err, models.ErrSessionNotFound):
		return r.start(ctx, from)
	case err != nil:
		return nil, fmt.Errorf("failed to submit message: %w", err)
	}
	return replies, nil
}

func (r *IntakeResponder) start(ctx context.Context, from string) ([]string, error) {
	view, greeting, err := r.svc.Create(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	slog.Info("IntakeResponder.start: session started for participant", "sessionID", view.ID, "from", from)
	return nonEmpty(greeting), nil
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
