package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// PromptGenerator produces text from a system and a user prompt. *genai.Client implements it.
type PromptGenerator interface {
	GeneratePrompt(systemPrompt, userPrompt string) (string, error)
}

// Summary sources.
const (
	SummarySourceRules = "rules"
	SummarySourceLLM   = "llm"
)

// Summary is a clinician-facing digest of an intake session.
type Summary struct {
	SessionID   string              `json:"session_id"`
	Phase       models.Phase        `json:"phase"`
	Stopped     bool                `json:"stopped"`
	Complete    bool                `json:"complete"`
	Answers     []models.Fact       `json:"answers"`
	Conclusions []models.Conclusion `json:"conclusions"`
	Text        string              `json:"text"`
	Source      string              `json:"source"`
}

const summarySystemPrompt = `You are assisting a clinician. Summarise the patient intake below in at most four sentences.
Use only the answers and conclusions given. Do not add diagnoses or treatments that are not listed.`

// Summarizer builds session summaries, optionally rewritten by a language model.
type Summarizer struct {
	gen PromptGenerator
}

// NewSummarizer returns a summarizer. gen may be nil, in which case only the rule-based text is used.
func NewSummarizer(gen PromptGenerator) *Summarizer {
	return &Summarizer{gen: gen}
}

// Summarize describes the session. When a generator is configured its output replaces the
// rule-based text; generator failures fall back to the rule-based text.
func (s *Summarizer) Summarize(sess *IntakeSession) Summary {
	sum := Summary{
		SessionID:   sess.ID,
		Phase:       sess.Phase,
		Stopped:     sess.Stopped,
		Complete:    sess.Complete(),
		Answers:     append([]models.Fact(nil), sess.Facts...),
		Conclusions: sess.Conclusions.Items(),
		Text:        deterministicSummary(sess),
		Source:      SummarySourceRules,
	}
	if s == nil || s.gen == nil {
		return sum
	}
	text, err := s.gen.GeneratePrompt(summarySystemPrompt, sum.Text)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Error("Summarizer.Summarize: generation failed, using rule-based summary", "error", err, "sessionID", sess.ID)
		return sum
	}
	sum.Text = strings.TrimSpace(text)
	sum.Source = SummarySourceLLM
	return sum
}

func deterministicSummary(sess *IntakeSession) string {
	var b strings.Builder
	status := "in progress"
	switch {
	case sess.Stopped:
		status = "ended early"
	case sess.Complete():
		status = "complete"
	}
	fmt.Fprintf(&b, "Intake %s at phase %d.\n", status, sess.Phase)

	var answers []string
	for _, f := range sess.Facts {
		if isKnownToken(f.Interpreted) {
			answers = append(answers, string(f.Interpreted))
		}
	}
	if len(answers) > 0 {
		fmt.Fprintf(&b, "Answers: %s.\n", strings.Join(answers, ", "))
	}
	if items := sess.Conclusions.Items(); len(items) > 0 {
		parts := make([]string, len(items))
		for i, c := range items {
			parts[i] = string(c)
		}
		fmt.Fprintf(&b, "Conclusions: %s.", strings.Join(parts, ", "))
	} else {
		b.WriteString("No conclusions derived.")
	}
	return b.String()
}

// isKnownToken reports whether t is an accepted answer in some phase.
func isKnownToken(t models.Token) bool {
	for phase := range acceptedTokens {
		if IsAccepted(phase, t) {
			return true
		}
	}
	return false
}
