package flow

import (
	"errors"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/content"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

const (
	testInvalidPrompt = "Sorry, I did not get that."
	testDeadEndRange  = "That temperature is impossible. Go to the emergency room."
)

// testQuestion returns the question text used by newTestPack for phase.
func testQuestion(phase models.Phase) string {
	return "question " + phase.String()
}

// newTestPack returns content with a question per phase, a few normal responses and only the
// consent and out-of-range dead-ends, so that a full walk through all seven phases is possible.
func newTestPack() *content.Pack {
	questions := []models.Question{{Phase: models.PhaseInvalid, Question: testInvalidPrompt}}
	for p := models.PhaseConsent; p <= models.PhaseAntibioticsAllergy; p++ {
		questions = append(questions, models.Question{Phase: p, Question: testQuestion(p)})
	}
	responses := []models.Response{
		{Phase: models.PhaseConsent, Condition: []models.Token{models.TokenYes}, Response: "Great, let's start."},
		{Phase: models.PhaseTemperature, Condition: []models.Token{models.TokenNotInRange}, Response: "Hmm, noted."},
		{Phase: models.PhaseSoreThroat, Condition: []models.Token{models.TokenSoreThroat}, Response: "Sore throat noted."},
		{Phase: models.PhaseSoreThroat, Condition: []models.Token{models.TokenSoreThroat}, Response: "We will treat that."},
	}
	deadEnds := []models.Response{
		{Phase: models.PhaseConsent, Condition: []models.Token{models.TokenNo}, Response: "Goodbye then."},
		{Phase: models.PhaseTemperature, Condition: []models.Token{models.TokenNotInRange}, Response: testDeadEndRange},
	}
	return content.New(questions, responses, deadEnds)
}

// newTestFlow returns a controller over an in-memory store and the test pack.
func newTestFlow(t *testing.T) (*IntakeFlow, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return NewIntakeFlow(st, newTestPack(), MustRuleEngine(DefaultRules)), st
}

var errStoreDown = errors.New("store unavailable")

// failingStore rejects every write while still serving reads from the in-memory store.
type failingStore struct {
	*store.InMemoryStore
}

func (failingStore) AddFact(string, models.Fact) error                 { return errStoreDown }
func (failingStore) AddConclusion(string, models.Conclusion) error     { return errStoreDown }
func (failingStore) AddChatMessage(string, models.ChatMessage) error   { return errStoreDown }
func (failingStore) SaveSession(models.IntakeSessionRecord) error      { return errStoreDown }
func (failingStore) SaveFlowState(models.FlowState) error              { return errStoreDown }
func (failingStore) GetFacts(string) ([]models.Fact, error)            { return nil, errStoreDown }
