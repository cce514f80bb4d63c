package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// FactGateway records user turns as facts and keeps the session's conclusions current.
// Store failures are logged and never surface to the caller.
type FactGateway struct {
	store  store.Store
	engine *RuleEngine
}

// NewFactGateway creates a gateway persisting to st and deriving with engine.
func NewFactGateway(st store.Store, engine *RuleEngine) *FactGateway {
	return &FactGateway{store: st, engine: engine}
}

// AddFact interprets raw for the session's current phase, derives conclusions and appends the fact.
// It returns the interpreted token whatever the persistence outcome.
func (g *FactGateway) AddFact(ctx context.Context, sess *IntakeSession, raw string) models.Token {
	token := Interpret(raw, sess.Phase)

	direct, hasDirect := DirectConclusion(token)
	if hasDirect {
		sess.Conclusions.Add(direct)
		g.persistConclusion(sess.ID, direct)
	}

	g.engine.Evaluate(sess.Conclusions, func(c models.Conclusion) {
		slog.Debug("FactGateway.AddFact: conclusion derived", "sessionID", sess.ID, "conclusion", c)
		g.persistConclusion(sess.ID, c)
	})

	fact := models.Fact{Raw: raw, Interpreted: token, CreatedAt: time.Now()}
	if hasDirect {
		fact.Conclusion = direct
	}
	if err := g.store.AddFact(sess.ID, fact); err != nil {
		slog.Error("FactGateway.AddFact: failed to persist fact", "error", err, "sessionID", sess.ID, "phase", sess.Phase)
		sess.Facts = append(sess.Facts, fact)
		return token
	}

	facts, err := g.store.GetFacts(sess.ID)
	if err != nil {
		slog.Error("FactGateway.AddFact: failed to refresh facts", "error", err, "sessionID", sess.ID)
		sess.Facts = append(sess.Facts, fact)
		return token
	}
	sess.Facts = facts
	slog.Debug("FactGateway.AddFact: fact recorded", "sessionID", sess.ID, "phase", sess.Phase, "token", token)
	return token
}

func (g *FactGateway) persistConclusion(sessionID string, c models.Conclusion) {
	if err := g.store.AddConclusion(sessionID, c); err != nil {
		slog.Error("FactGateway.persistConclusion: failed", "error", err, "sessionID", sessionID, "conclusion", c)
	}
}
