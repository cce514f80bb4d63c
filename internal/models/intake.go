// Package models defines the intake vocabulary and records for IntakePipe.
package models

import (
	"strconv"
	"time"
)

// Phase identifies which question of the intake script is active.
type Phase int

// Phase constants for the intake script.
const (
	// PhaseInvalid is the sentinel phase holding the "invalid input" question.
	PhaseInvalid            Phase = -1
	PhaseConsent            Phase = 1
	PhaseTemperature        Phase = 2
	PhaseNasalBreathing     Phase = 3
	PhaseHeadache           Phase = 4
	PhaseCough              Phase = 5
	PhaseSoreThroat         Phase = 6
	PhaseAntibioticsAllergy Phase = 7
)

// FirstPhase is the phase every new session starts in.
const FirstPhase = PhaseConsent

// LastPhase is the final question of the intake script. Sessions that move past it are complete.
const LastPhase = PhaseAntibioticsAllergy

// Next returns the phase that follows p.
func (p Phase) Next() Phase {
	return p + 1
}

// String returns the decimal form of the phase.
func (p Phase) String() string {
	return strconv.Itoa(int(p))
}

// Token is a canonical answer identifier produced by interpreting user input.
type Token string

// Token constants accepted by the intake script.
const (
	TokenYes                  Token = "yes"
	TokenNo                   Token = "no"
	TokenNoFever              Token = "no fever"
	TokenLowFever             Token = "low fever"
	TokenHighFever            Token = "high fever"
	TokenNotInRange           Token = "not in range"
	TokenLightNasalBreathing  Token = "lightNasalBreathing"
	TokenHeavyNasalBreathing  Token = "heavyNasalBreathing"
	TokenHeadache             Token = "headache"
	TokenNoHeadache           Token = "no headache"
	TokenCough                Token = "cough"
	TokenNoCough              Token = "no cough"
	TokenSoreThroat           Token = "soreThroat"
	TokenNoSoreThroat         Token = "not soreThroat"
	TokenAntibioticsAllergy   Token = "antibiotics allergy"
	TokenNoAntibioticsAllergy Token = "not antibiotics allergy"
)

// Conclusion is a derived diagnostic or action token.
type Conclusion string

// Conclusions derived directly from a single answer.
const (
	ConclusionNoFever              Conclusion = "no fever"
	ConclusionLowFever             Conclusion = "low fever"
	ConclusionHighFever            Conclusion = "high fever"
	ConclusionNasalDischarge       Conclusion = "nasal discharge"
	ConclusionSinusSwelling        Conclusion = "sinus membranes swelling"
	ConclusionHeadache             Conclusion = "headache"
	ConclusionNoHeadache           Conclusion = "no headache"
	ConclusionCough                Conclusion = "cough"
	ConclusionNoCough              Conclusion = "no cough"
	ConclusionSoreThroat           Conclusion = "soreThroat"
	ConclusionNoSoreThroat         Conclusion = "not soreThroat"
	ConclusionAntibioticsAllergy   Conclusion = "antibiotics allergy"
	ConclusionNoAntibioticsAllergy Conclusion = "not antibiotics allergy"
)

// Conclusions derived by compound rules.
const (
	ConclusionCold               Conclusion = "cold"
	ConclusionTreat              Conclusion = "treat"
	ConclusionDontTreat          Conclusion = "don't treat"
	ConclusionGiveMedication     Conclusion = "give medication"
	ConclusionDontGiveMedication Conclusion = "don't give medication"
	ConclusionGiveTylenol        Conclusion = "give Tylenol"
	ConclusionGiveAntibiotics    Conclusion = "give antibiotics"
)

// Fact is one recorded user turn: the raw input, its interpretation and the direct conclusion.
type Fact struct {
	Raw         string     `json:"raw"`
	Interpreted Token      `json:"interpreted"`
	Conclusion  Conclusion `json:"conclusion,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Question is a content entry asked when its phase becomes active.
type Question struct {
	Phase     Phase   `json:"phase" yaml:"phase"`
	Condition []Token `json:"condition,omitempty" yaml:"condition,omitempty"`
	Question  string  `json:"question" yaml:"question"`
}

// Response is a content entry emitted when an answer token matches its condition.
// Dead-end responses share this shape.
type Response struct {
	Phase     Phase   `json:"phase" yaml:"phase"`
	Condition []Token `json:"condition" yaml:"condition"`
	Response  string  `json:"response" yaml:"response"`
}

// Matches reports whether the response applies to the token in the given phase.
func (r Response) Matches(phase Phase, token Token) bool {
	if r.Phase != phase {
		return false
	}
	for _, c := range r.Condition {
		if c == token {
			return true
		}
	}
	return false
}

// Sender identifies the author of a transcript message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ChatMessage is one line of a session transcript.
type ChatMessage struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// IntakeSessionRecord is the persisted metadata of an intake session.
type IntakeSessionRecord struct {
	ID          string    `json:"id"`
	Participant string    `json:"participant,omitempty"` // canonical phone number for chat transports
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
