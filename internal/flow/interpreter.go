package flow

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

var (
	affirmativePattern = regexp.MustCompile(`yes|ye|yep|yeah|i think i have|opo`)
	negativePattern    = regexp.MustCompile(`no|nope|nah|hmm|dili|wala|i don't think i have|i dont think i have`)
	temperaturePattern = regexp.MustCompile(`\d+(\.\d+)?`)
	lightNasalPattern  = regexp.MustCompile(`lightnasalbreathing|light nasal breathing|light nasal|light`)
	heavyNasalPattern  = regexp.MustCompile(`heavynasalbreathing|heavy nasal breathing|heavy nasal|heavy`)
)

// tokenPair is the affirmative/negative answer of a yes/no phase.
type tokenPair struct {
	yes models.Token
	no  models.Token
}

var yesNoPhases = map[models.Phase]tokenPair{
	models.PhaseConsent:            {models.TokenYes, models.TokenNo},
	models.PhaseHeadache:           {models.TokenHeadache, models.TokenNoHeadache},
	models.PhaseCough:              {models.TokenCough, models.TokenNoCough},
	models.PhaseSoreThroat:         {models.TokenSoreThroat, models.TokenNoSoreThroat},
	models.PhaseAntibioticsAllergy: {models.TokenAntibioticsAllergy, models.TokenNoAntibioticsAllergy},
}

var acceptedTokens = map[models.Phase][]models.Token{
	models.PhaseConsent:            {models.TokenYes, models.TokenNo},
	models.PhaseTemperature:        {models.TokenNoFever, models.TokenLowFever, models.TokenHighFever, models.TokenNotInRange},
	models.PhaseNasalBreathing:     {models.TokenLightNasalBreathing, models.TokenHeavyNasalBreathing},
	models.PhaseHeadache:           {models.TokenHeadache, models.TokenNoHeadache},
	models.PhaseCough:              {models.TokenCough, models.TokenNoCough},
	models.PhaseSoreThroat:         {models.TokenSoreThroat, models.TokenNoSoreThroat},
	models.PhaseAntibioticsAllergy: {models.TokenAntibioticsAllergy, models.TokenNoAntibioticsAllergy},
}

// Interpret maps raw user input to a canonical token for the given phase.
// Input that no pattern recognises is returned normalised, which is never an accepted token.
func Interpret(raw string, phase models.Phase) models.Token {
	input := strings.ToLower(strings.TrimSpace(raw))

	if pair, ok := yesNoPhases[phase]; ok {
		switch {
		case affirmativePattern.MatchString(input):
			return pair.yes
		case negativePattern.MatchString(input):
			return pair.no
		}
	}

	switch phase {
	case models.PhaseTemperature:
		if m := temperaturePattern.FindString(input); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				return classifyTemperature(v)
			}
		}
	case models.PhaseNasalBreathing:
		switch {
		case lightNasalPattern.MatchString(input):
			return models.TokenLightNasalBreathing
		case heavyNasalPattern.MatchString(input):
			return models.TokenHeavyNasalBreathing
		}
	}

	return models.Token(input)
}

// classifyTemperature buckets a Celsius reading using exclusive bounds.
func classifyTemperature(v float64) models.Token {
	switch {
	case v > 35 && v < 37:
		return models.TokenNoFever
	case v > 37 && v < 38:
		return models.TokenLowFever
	case v > 38 && v < 41:
		return models.TokenHighFever
	default:
		return models.TokenNotInRange
	}
}

// AcceptedTokens returns the tokens that are valid answers in phase.
func AcceptedTokens(phase models.Phase) []models.Token {
	return append([]models.Token(nil), acceptedTokens[phase]...)
}

// IsAccepted reports whether token is a valid answer in phase.
func IsAccepted(phase models.Phase, token models.Token) bool {
	for _, t := range acceptedTokens[phase] {
		if t == token {
			return true
		}
	}
	return false
}
