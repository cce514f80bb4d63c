package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestSubmitRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"valid", "yes", nil},
		{"empty", "", ErrEmptyMessage},
		{"whitespace", "  \t", ErrEmptyMessage},
		{"at limit", strings.Repeat("a", MaxMessageLength), nil},
		{"too long", strings.Repeat("a", MaxMessageLength+1), ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := SubmitRequest{Text: tt.text}
			if err := req.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateSessionRequestValidate(t *testing.T) {
	if err := (&CreateSessionRequest{}).Validate(); err != nil {
		t.Errorf("empty participant should be valid, got %v", err)
	}
	long := CreateSessionRequest{Participant: strings.Repeat("1", MaxParticipantLength+1)}
	if err := long.Validate(); !errors.Is(err, ErrParticipantTooLong) {
		t.Errorf("expected ErrParticipantTooLong, got %v", err)
	}
}

func TestPhase(t *testing.T) {
	if FirstPhase != PhaseConsent {
		t.Errorf("FirstPhase = %d, want %d", FirstPhase, PhaseConsent)
	}
	if got := PhaseConsent.Next(); got != PhaseTemperature {
		t.Errorf("PhaseConsent.Next() = %d", got)
	}
	if got := PhaseAntibioticsAllergy.Next(); got != 8 {
		t.Errorf("last phase should advance past the script, got %d", got)
	}
	if got := PhaseInvalid.String(); got != "-1" {
		t.Errorf("PhaseInvalid.String() = %q", got)
	}
	if got := PhaseHeadache.String(); got != "4" {
		t.Errorf("PhaseHeadache.String() = %q", got)
	}
}

func TestResponseMatches(t *testing.T) {
	r := Response{Phase: PhaseTemperature, Condition: []Token{TokenLowFever, TokenHighFever}, Response: "noted"}
	tests := []struct {
		phase Phase
		token Token
		want  bool
	}{
		{PhaseTemperature, TokenLowFever, true},
		{PhaseTemperature, TokenHighFever, true},
		{PhaseTemperature, TokenNoFever, false},
		{PhaseConsent, TokenLowFever, false},
	}
	for _, tt := range tests {
		if got := r.Matches(tt.phase, tt.token); got != tt.want {
			t.Errorf("Matches(%d, %q) = %v, want %v", tt.phase, tt.token, got, tt.want)
		}
	}
	if (Response{Phase: PhaseConsent}).Matches(PhaseConsent, TokenYes) {
		t.Error("a response without conditions should never match")
	}
}

func TestAPIResponseEnvelope(t *testing.T) {
	ok := Success(map[string]int{"count": 1})
	if ok.Status != string(APIStatusOK) || ok.Message != "" || ok.Result == nil {
		t.Errorf("unexpected success envelope: %+v", ok)
	}

	withMsg := SuccessWithMessage("created", nil)
	if withMsg.Status != string(APIStatusOK) || withMsg.Message != "created" {
		t.Errorf("unexpected success-with-message envelope: %+v", withMsg)
	}

	failed := Error("session not found")
	data, err := json.Marshal(failed)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if got, want := string(data), `{"status":"error","message":"session not found"}`; got != want {
		t.Errorf("error envelope = %s, want %s", got, want)
	}
}
