// Package flow implements the intake dialogue: input interpretation, the conclusion engine,
// the fact gateway and the phase-driven dialogue controller.
package flow

import (
	"context"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// StateManager defines the interface for managing flow state.
type StateManager interface {
	// GetCurrentState retrieves the current state of a session in a flow
	GetCurrentState(ctx context.Context, sessionID string, flowType models.FlowType) (models.StateType, error)

	// SetCurrentState updates the current state of a session in a flow
	SetCurrentState(ctx context.Context, sessionID string, flowType models.FlowType, state models.StateType) error

	// GetStateData retrieves additional data associated with the session's state
	GetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey) (string, error)

	// SetStateData stores additional data associated with the session's state
	SetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey, value string) error

	// SetStateWithData updates the state and the given data keys together
	SetStateWithData(ctx context.Context, sessionID string, flowType models.FlowType, state models.StateType, data map[models.DataKey]string) error

	// TransitionState transitions from one state to another
	TransitionState(ctx context.Context, sessionID string, flowType models.FlowType, fromState, toState models.StateType) error

	// ResetState removes all state data for a session in a flow
	ResetState(ctx context.Context, sessionID string, flowType models.FlowType) error
}
