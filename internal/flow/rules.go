package flow

import (
	"errors"
	"fmt"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// ErrRuleOrder is returned when a rule table cannot reach its fixpoint in a single ordered pass.
var ErrRuleOrder = errors.New("rule table is not evaluable in one pass")

// ConclusionSet is an insertion-ordered set of conclusions.
type ConclusionSet struct {
	order []models.Conclusion
	index map[models.Conclusion]struct{}
}

// NewConclusionSet builds a set from cs, dropping repeats after the first occurrence.
func NewConclusionSet(cs ...models.Conclusion) *ConclusionSet {
	s := &ConclusionSet{index: make(map[models.Conclusion]struct{}, len(cs))}
	for _, c := range cs {
		s.Add(c)
	}
	return s
}

// Add inserts c and reports whether it was new.
func (s *ConclusionSet) Add(c models.Conclusion) bool {
	if s.index == nil {
		s.index = make(map[models.Conclusion]struct{})
	}
	if _, ok := s.index[c]; ok {
		return false
	}
	s.index[c] = struct{}{}
	s.order = append(s.order, c)
	return true
}

// Has reports whether c is in the set.
func (s *ConclusionSet) Has(c models.Conclusion) bool {
	_, ok := s.index[c]
	return ok
}

// HasAll reports whether every conclusion in cs is in the set.
func (s *ConclusionSet) HasAll(cs []models.Conclusion) bool {
	for _, c := range cs {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Items returns the conclusions in first-derivation order.
func (s *ConclusionSet) Items() []models.Conclusion {
	out := make([]models.Conclusion, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of conclusions in the set.
func (s *ConclusionSet) Len() int {
	return len(s.order)
}

var directConclusions = map[models.Token]models.Conclusion{
	models.TokenNoFever:              models.ConclusionNoFever,
	models.TokenLowFever:             models.ConclusionLowFever,
	models.TokenHighFever:            models.ConclusionHighFever,
	models.TokenLightNasalBreathing:  models.ConclusionNasalDischarge,
	models.TokenHeavyNasalBreathing:  models.ConclusionSinusSwelling,
	models.TokenHeadache:             models.ConclusionHeadache,
	models.TokenNoHeadache:           models.ConclusionNoHeadache,
	models.TokenCough:                models.ConclusionCough,
	models.TokenNoCough:              models.ConclusionNoCough,
	models.TokenSoreThroat:           models.ConclusionSoreThroat,
	models.TokenNoSoreThroat:         models.ConclusionNoSoreThroat,
	models.TokenAntibioticsAllergy:   models.ConclusionAntibioticsAllergy,
	models.TokenNoAntibioticsAllergy: models.ConclusionNoAntibioticsAllergy,
}

// DirectConclusion maps an interpreted token to the conclusion it implies on its own.
func DirectConclusion(token models.Token) (models.Conclusion, bool) {
	c, ok := directConclusions[token]
	return c, ok
}

// Rule derives Then once every conclusion in When is present.
type Rule struct {
	When []models.Conclusion
	Then models.Conclusion
}

// DefaultRules is the cold-treatment rule table.
var DefaultRules = []Rule{
	{When: []models.Conclusion{models.ConclusionLowFever, models.ConclusionNasalDischarge, models.ConclusionCough, models.ConclusionHeadache}, Then: models.ConclusionCold},
	{When: []models.Conclusion{models.ConclusionSoreThroat, models.ConclusionCold}, Then: models.ConclusionTreat},
	{When: []models.Conclusion{models.ConclusionNoSoreThroat, models.ConclusionCold}, Then: models.ConclusionDontTreat},
	{When: []models.Conclusion{models.ConclusionTreat}, Then: models.ConclusionGiveMedication},
	{When: []models.Conclusion{models.ConclusionDontTreat}, Then: models.ConclusionDontGiveMedication},
	{When: []models.Conclusion{models.ConclusionGiveMedication, models.ConclusionAntibioticsAllergy}, Then: models.ConclusionGiveTylenol},
	{When: []models.Conclusion{models.ConclusionGiveMedication, models.ConclusionNoAntibioticsAllergy}, Then: models.ConclusionGiveAntibiotics},
}

// RuleEngine evaluates an ordered compound-rule table in a single pass.
type RuleEngine struct {
	rules []Rule
}

// NewRuleEngine validates rules and returns an engine for them.
//
// A rule may only depend on conclusions that are either never produced by a rule or produced by
// an earlier rule; otherwise one pass would miss derivations and ErrRuleOrder is returned.
// Self-dependencies and cycles violate the same ordering and are rejected too.
func NewRuleEngine(rules []Rule) (*RuleEngine, error) {
	producedAt := make(map[models.Conclusion]int, len(rules))
	for i, r := range rules {
		if r.Then == "" {
			return nil, fmt.Errorf("%w: rule %d has no conclusion", ErrRuleOrder, i)
		}
		if len(r.When) == 0 {
			return nil, fmt.Errorf("%w: rule %d (%s) has no premises", ErrRuleOrder, i, r.Then)
		}
		if _, dup := producedAt[r.Then]; !dup {
			producedAt[r.Then] = i
		}
	}
	for i, r := range rules {
		for _, premise := range r.When {
			j, derived := producedAt[premise]
			if derived && j >= i {
				return nil, fmt.Errorf("%w: rule %d (%s) needs %q derived by rule %d", ErrRuleOrder, i, r.Then, premise, j)
			}
		}
	}
	return &RuleEngine{rules: append([]Rule(nil), rules...)}, nil
}

// MustRuleEngine is like NewRuleEngine but panics on an invalid table.
func MustRuleEngine(rules []Rule) *RuleEngine {
	e, err := NewRuleEngine(rules)
	if err != nil {
		panic(err)
	}
	return e
}

// Rules returns a copy of the rule table.
func (e *RuleEngine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs every rule once in order against set, adding new conclusions as they fire so that
// later rules see them. onDerive, when non-nil, is called for each new conclusion before the next
// rule is considered. It returns the conclusions added, in derivation order.
func (e *RuleEngine) Evaluate(set *ConclusionSet, onDerive func(models.Conclusion)) []models.Conclusion {
	var added []models.Conclusion
	for _, r := range e.rules {
		if set.Has(r.Then) || !set.HasAll(r.When) {
			continue
		}
		set.Add(r.Then)
		added = append(added, r.Then)
		if onDerive != nil {
			onDerive(r.Then)
		}
	}
	return added
}
