// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType represents a specific type of dialogue flow
type FlowType string

// StateType represents a specific state within a flow
type StateType string

// DataKey represents a key for storing state-specific data
type DataKey string

// Flow type constants.
const (
	FlowTypeIntake FlowType = "intake"
)

// State constants for the intake flow.
const (
	StateAwaitingAnswer StateType = "AWAITING_ANSWER" // a question is open for the current phase
	StateStopped        StateType = "STOPPED"         // a dead-end ended the session
)

// Data key constants for the intake flow.
const (
	DataKeyPhase     DataKey = "phase"     // current phase, decimal
	DataKeyStoppedBy DataKey = "stoppedBy" // token that triggered the dead-end
)
