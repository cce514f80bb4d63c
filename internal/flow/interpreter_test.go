package flow

import (
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

func TestInterpretYesNoSynonyms(t *testing.T) {
	affirmative := []string{"yes", "Ye", "yep", " YEAH ", "I think I have", "opo"}
	negative := []string{"no", "nope", "nah", "hmm", "dili", "wala", "I don't think I have", "i dont think i have"}

	for phase, pair := range yesNoPhases {
		for _, in := range affirmative {
			if got := Interpret(in, phase); got != pair.yes {
				t.Errorf("Interpret(%q, %d) = %q, want %q", in, phase, got, pair.yes)
			}
		}
		for _, in := range negative {
			if got := Interpret(in, phase); got != pair.no {
				t.Errorf("Interpret(%q, %d) = %q, want %q", in, phase, got, pair.no)
			}
		}
	}
}

func TestInterpretPhaseTokenPairs(t *testing.T) {
	tests := []struct {
		phase   models.Phase
		yes, no models.Token
	}{
		{models.PhaseConsent, models.TokenYes, models.TokenNo},
		{models.PhaseHeadache, models.TokenHeadache, models.TokenNoHeadache},
		{models.PhaseCough, models.TokenCough, models.TokenNoCough},
		{models.PhaseSoreThroat, models.TokenSoreThroat, models.TokenNoSoreThroat},
		{models.PhaseAntibioticsAllergy, models.TokenAntibioticsAllergy, models.TokenNoAntibioticsAllergy},
	}
	for _, tt := range tests {
		if got := Interpret("yes", tt.phase); got != tt.yes {
			t.Errorf("phase %d yes = %q, want %q", tt.phase, got, tt.yes)
		}
		if got := Interpret("no", tt.phase); got != tt.no {
			t.Errorf("phase %d no = %q, want %q", tt.phase, got, tt.no)
		}
	}
}

func TestInterpretTemperature(t *testing.T) {
	tests := []struct {
		in   string
		want models.Token
	}{
		{"38.5", models.TokenHighFever},
		{"36.0", models.TokenNoFever},
		{"37.0", models.TokenNotInRange},
		{"100", models.TokenNotInRange},
		{"37.5", models.TokenLowFever},
		{"it is about 36.6 degrees", models.TokenNoFever},
		{"38", models.TokenNotInRange},
		{"35", models.TokenNotInRange},
		{"41", models.TokenNotInRange},
		{"40.9", models.TokenHighFever},
		{"warm", "warm"},
	}
	for _, tt := range tests {
		if got := Interpret(tt.in, models.PhaseTemperature); got != tt.want {
			t.Errorf("Interpret(%q, 2) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInterpretNasalBreathing(t *testing.T) {
	tests := []struct {
		in   string
		want models.Token
	}{
		{"light", models.TokenLightNasalBreathing},
		{"Light nasal breathing", models.TokenLightNasalBreathing},
		{"lightNasalBreathing", models.TokenLightNasalBreathing},
		{"heavy", models.TokenHeavyNasalBreathing},
		{"pretty heavy nasal", models.TokenHeavyNasalBreathing},
		{"normal", "normal"},
	}
	for _, tt := range tests {
		if got := Interpret(tt.in, models.PhaseNasalBreathing); got != tt.want {
			t.Errorf("Interpret(%q, 3) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInterpretUnrecognisedIsVerbatimAndInvalid(t *testing.T) {
	for _, phase := range []models.Phase{models.PhaseConsent, models.PhaseTemperature, models.PhaseNasalBreathing, models.PhaseCough} {
		got := Interpret("  Purple Elephant ", phase)
		if got != "purple elephant" {
			t.Errorf("Interpret verbatim at phase %d = %q", phase, got)
		}
		if IsAccepted(phase, got) {
			t.Errorf("verbatim token accepted at phase %d", phase)
		}
	}
}

func TestInterpretDeterministic(t *testing.T) {
	inputs := []string{"yes", "38.5", "light", "no", "???"}
	for phase := models.PhaseConsent; phase <= models.PhaseAntibioticsAllergy; phase++ {
		for _, in := range inputs {
			first := Interpret(in, phase)
			for i := 0; i < 5; i++ {
				if got := Interpret(in, phase); got != first {
					t.Fatalf("Interpret(%q, %d) not deterministic: %q vs %q", in, phase, got, first)
				}
			}
		}
	}
}

func TestAcceptedTokens(t *testing.T) {
	if !IsAccepted(models.PhaseTemperature, models.TokenNotInRange) {
		t.Errorf("not in range should be accepted at phase 2")
	}
	if IsAccepted(models.PhaseConsent, models.TokenHeadache) {
		t.Errorf("headache should not be accepted at phase 1")
	}
	if len(AcceptedTokens(models.PhaseInvalid)) != 0 {
		t.Errorf("invalid phase should accept nothing")
	}
	toks := AcceptedTokens(models.PhaseNasalBreathing)
	toks[0] = "mutated"
	if !IsAccepted(models.PhaseNasalBreathing, models.TokenLightNasalBreathing) {
		t.Errorf("AcceptedTokens must return a copy")
	}
}
