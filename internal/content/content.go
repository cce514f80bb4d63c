// Package content provides the question, response and dead-end tables that script an intake dialogue.
//
// A Pack is loaded once from YAML or JSON (or the embedded default) and is read-only afterwards;
// it is safe for concurrent use.
package content

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default_content.yaml
var defaultContent []byte

// Pack holds the greeting and the three content tables of an intake script.
type Pack struct {
	greeting  string
	questions []models.Question
	responses []models.Response
	deadEnds  []models.Response
}

// document is the on-disk layout of a content file.
type document struct {
	Greeting  string            `yaml:"greeting" json:"greeting"`
	Questions []models.Question `yaml:"questions" json:"questions"`
	Responses []models.Response `yaml:"responses" json:"responses"`
	DeadEnds  []models.Response `yaml:"dead_ends" json:"dead_ends"`
}

// New builds a pack from in-memory tables. Entries keep their authoring order.
func New(questions []models.Question, responses, deadEnds []models.Response) *Pack {
	return &Pack{
		questions: append([]models.Question(nil), questions...),
		responses: append([]models.Response(nil), responses...),
		deadEnds:  append([]models.Response(nil), deadEnds...),
	}
}

// WithGreeting returns a copy of the pack that opens every session with text.
func (p *Pack) WithGreeting(text string) *Pack {
	cp := *p
	cp.greeting = text
	return &cp
}

// Empty returns a pack with no content. Every lookup on it degrades to omission.
func Empty() *Pack {
	return &Pack{}
}

// Parse decodes a YAML or JSON content document.
func Parse(data []byte) (*Pack, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse content: %w", err)
	}
	return New(doc.Questions, doc.Responses, doc.DeadEnds).WithGreeting(doc.Greeting), nil
}

// Default returns the embedded content pack. It panics if the embedded file is malformed.
func Default() *Pack {
	p, err := Parse(defaultContent)
	if err != nil {
		panic(fmt.Sprintf("content: embedded default pack is invalid: %v", err))
	}
	return p
}

// Load reads a content file. A missing or malformed file yields an empty pack and a logged error,
// leaving the dialogue continuable with omitted text.
func Load(path string) *Pack {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("content.Load: failed to read content file", "path", path, "error", err)
		return Empty()
	}
	p, err := Parse(data)
	if err != nil {
		slog.Error("content.Load: failed to parse content file", "path", path, "error", err)
		return Empty()
	}
	slog.Debug("content.Load: content loaded", "path", path,
		"questions", len(p.questions), "responses", len(p.responses), "deadEnds", len(p.deadEnds))
	return p
}

// Greeting returns the text a new session opens with. Packs without an authored greeting fall back
// to the first phase's question.
func (p *Pack) Greeting() (string, bool) {
	if p.greeting != "" {
		return p.greeting, true
	}
	return p.Question(models.FirstPhase)
}

// Questions returns a copy of the question table.
func (p *Pack) Questions() []models.Question {
	return append([]models.Question(nil), p.questions...)
}

// Responses returns a copy of the normal response table.
func (p *Pack) Responses() []models.Response {
	return append([]models.Response(nil), p.responses...)
}

// DeadEnds returns a copy of the dead-end response table.
func (p *Pack) DeadEnds() []models.Response {
	return append([]models.Response(nil), p.deadEnds...)
}

// Question returns the first question authored for phase.
func (p *Pack) Question(phase models.Phase) (string, bool) {
	for _, q := range p.questions {
		if q.Phase == phase {
			return q.Question, true
		}
	}
	return "", false
}

// ResponseText joins, in authoring order, every normal response matching the phase and token.
func (p *Pack) ResponseText(phase models.Phase, token models.Token) (string, bool) {
	var parts []string
	for _, r := range p.responses {
		if r.Matches(phase, token) {
			parts = append(parts, r.Response)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

// DeadEnd returns the first dead-end response matching the phase and token.
func (p *Pack) DeadEnd(phase models.Phase, token models.Token) (string, bool) {
	for _, r := range p.deadEnds {
		if r.Matches(phase, token) {
			return r.Response, true
		}
	}
	return "", false
}
