package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
}

// Compile-time check that StoreBasedStateManager implements StateManager.
var _ StateManager = (*StoreBasedStateManager)(nil)

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// GetCurrentState retrieves the current state of a session in a flow.
func (sm *StoreBasedStateManager) GetCurrentState(ctx context.Context, sessionID string, flowType models.FlowType) (models.StateType, error) {
	flowState, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager.GetCurrentState: store error", "error", err, "sessionID", sessionID, "flowType", flowType)
		return "", err
	}
	if flowState == nil {
		return "", nil
	}
	return flowState.CurrentState, nil
}

// update loads the flow state (creating it when absent), applies mutate and saves the result.
func (sm *StoreBasedStateManager) update(sessionID string, flowType models.FlowType, mutate func(*models.FlowState)) error {
	flowState, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		return fmt.Errorf("failed to load flow state: %w", err)
	}
	now := time.Now()
	if flowState == nil {
		flowState = &models.FlowState{
			SessionID: sessionID,
			FlowType:  flowType,
			StateData: make(map[models.DataKey]string),
			CreatedAt: now,
		}
	}
	if flowState.StateData == nil {
		flowState.StateData = make(map[models.DataKey]string)
	}
	mutate(flowState)
	flowState.UpdatedAt = now
	if err := sm.store.SaveFlowState(*flowState); err != nil {
		return fmt.Errorf("failed to save flow state: %w", err)
	}
	return nil
}

// SetCurrentState updates the current state of a session in a flow.
func (sm *StoreBasedStateManager) SetCurrentState(ctx context.Context, sessionID string, flowType models.FlowType, state models.StateType) error {
	err := sm.update(sessionID, flowType, func(fs *models.FlowState) {
		fs.CurrentState = state
	})
	if err != nil {
		slog.Error("StateManager.SetCurrentState: failed", "error", err, "sessionID", sessionID, "flowType", flowType, "state", state)
		return err
	}
	slog.Debug("StateManager.SetCurrentState: succeeded", "sessionID", sessionID, "flowType", flowType, "state", state)
	return nil
}

// GetStateData retrieves additional data associated with the session's state.
func (sm *StoreBasedStateManager) GetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey) (string, error) {
	flowState, err := sm.store.GetFlowState(sessionID, flowType)
	if err != nil {
		slog.Error("StateManager.GetStateData: store error", "error", err, "sessionID", sessionID, "flowType", flowType, "key", key)
		return "", err
	}
	if flowState == nil {
		return "", nil
	}
	return flowState.StateData[key], nil
}

// SetStateData stores additional data associated with the session's state.
func (sm *StoreBasedStateManager) SetStateData(ctx context.Context, sessionID string, flowType models.FlowType, key models.DataKey, value string) error {
	err := sm.update(sessionID, flowType, func(fs *models.FlowState) {
		fs.StateData[key] = value
	})
	if err != nil {
		slog.Error("StateManager.SetStateData: failed", "error", err, "sessionID", sessionID, "flowType", flowType, "key", key)
		return err
	}
	return nil
}

// SetStateWithData updates the state and the given data keys in a single write.
func (sm *StoreBasedStateManager) SetStateWithData(ctx context.Context, sessionID string, flowType models.FlowType, state models.StateType, data map[models.DataKey]string) error {
	err := sm.update(sessionID, flowType, func(fs *models.FlowState) {
		fs.CurrentState = state
		for k, v := range data {
			fs.StateData[k] = v
		}
	})
	if err != nil {
		slog.Error("StateManager.SetStateWithData: failed", "error", err, "sessionID", sessionID, "flowType", flowType, "state", state)
		return err
	}
	slog.Debug("StateManager.SetStateWithData: succeeded", "sessionID", sessionID, "flowType", flowType, "state", state)
	return nil
}

// TransitionState transitions from one state to another.
func (sm *StoreBasedStateManager) TransitionState(ctx context.Context, sessionID string, flowType models.FlowType, fromState, toState models.StateType) error {
	currentState, err := sm.GetCurrentState(ctx, sessionID, flowType)
	if err != nil {
		return err
	}
	if currentState != fromState {
		err := fmt.Errorf("invalid state transition: expected %s, current is %s", fromState, currentState)
		slog.Error("StateManager.TransitionState: invalid transition", "error", err, "sessionID", sessionID, "flowType", flowType)
		return err
	}
	if err := sm.SetCurrentState(ctx, sessionID, flowType, toState); err != nil {
		return err
	}
	slog.Info("StateManager.TransitionState: succeeded", "sessionID", sessionID, "flowType", flowType, "from", fromState, "to", toState)
	return nil
}

// ResetState removes all state data for a session in a flow.
func (sm *StoreBasedStateManager) ResetState(ctx context.Context, sessionID string, flowType models.FlowType) error {
	if err := sm.store.DeleteFlowState(sessionID, flowType); err != nil {
		slog.Error("StateManager.ResetState: failed", "error", err, "sessionID", sessionID, "flowType", flowType)
		return err
	}
	slog.Debug("StateManager.ResetState: succeeded", "sessionID", sessionID, "flowType", flowType)
	return nil
}
