package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

type mockGenerator struct {
	out        string
	err        error
	userPrompt string
}

func (m *mockGenerator) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	m.userPrompt = userPrompt
	return m.out, m.err
}

func summarySession() *IntakeSession {
	sess := NewIntakeSession("sum", "")
	sess.Phase = models.PhaseSoreThroat
	sess.Facts = []models.Fact{
		{Raw: "yes", Interpreted: models.TokenYes},
		{Raw: "37.5", Interpreted: models.TokenLowFever, Conclusion: models.ConclusionLowFever},
		{Raw: "huh", Interpreted: "huh"},
	}
	sess.Conclusions = NewConclusionSet(models.ConclusionLowFever, models.ConclusionCold)
	return sess
}

func TestSummarizeDeterministic(t *testing.T) {
	sum := NewSummarizer(nil).Summarize(summarySession())
	if sum.Source != SummarySourceRules {
		t.Errorf("source = %q", sum.Source)
	}
	for _, want := range []string{"in progress", "phase 6", "Answers: yes, low fever.", "Conclusions: low fever, cold."} {
		if !strings.Contains(sum.Text, want) {
			t.Errorf("summary %q missing %q", sum.Text, want)
		}
	}
	if strings.Contains(sum.Text, "huh") {
		t.Errorf("summary includes unrecognised input: %q", sum.Text)
	}
}

func TestSummarizeWithGenerator(t *testing.T) {
	gen := &mockGenerator{out: "  Patient likely has a cold.  "}
	sum := NewSummarizer(gen).Summarize(summarySession())
	if sum.Source != SummarySourceLLM || sum.Text != "Patient likely has a cold." {
		t.Errorf("summary = %+v", sum)
	}
	if !strings.Contains(gen.userPrompt, "Conclusions: low fever, cold.") {
		t.Errorf("generator prompt missing conclusions: %q", gen.userPrompt)
	}
}

func TestSummarizeGeneratorFailureFallsBack(t *testing.T) {
	sum := NewSummarizer(&mockGenerator{err: errors.New("rate limited")}).Summarize(summarySession())
	if sum.Source != SummarySourceRules || !strings.Contains(sum.Text, "Conclusions:") {
		t.Errorf("summary = %+v", sum)
	}
}

func TestSummarizeCompleteSession(t *testing.T) {
	sess := summarySession()
	sess.Phase = models.LastPhase.Next()
	sum := NewSummarizer(nil).Summarize(sess)
	if !sum.Complete || sum.Stopped {
		t.Errorf("summary flags = complete %v, stopped %v", sum.Complete, sum.Stopped)
	}
	if !strings.Contains(sum.Text, "Intake complete") {
		t.Errorf("summary %q should report completion", sum.Text)
	}

	sess.Stopped = true
	if NewSummarizer(nil).Summarize(sess).Complete {
		t.Errorf("stopped session reported complete")
	}
}
