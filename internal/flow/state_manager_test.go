package flow

import (
	"context"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

func TestStoreBasedStateManager(t *testing.T) {
	ctx := context.Background()
	sm := NewMockStateManager()
	const id = "sess-1"

	state, err := sm.GetCurrentState(ctx, id, models.FlowTypeIntake)
	if err != nil || state != "" {
		t.Fatalf("GetCurrentState on empty = %q, %v", state, err)
	}

	if err := sm.SetCurrentState(ctx, id, models.FlowTypeIntake, models.StateAwaitingAnswer); err != nil {
		t.Fatal(err)
	}
	if err := sm.SetStateData(ctx, id, models.FlowTypeIntake, models.DataKeyPhase, "4"); err != nil {
		t.Fatal(err)
	}
	if v, _ := sm.GetStateData(ctx, id, models.FlowTypeIntake, models.DataKeyPhase); v != "4" {
		t.Errorf("phase data = %q", v)
	}

	if err := sm.TransitionState(ctx, id, models.FlowTypeIntake, models.StateStopped, models.StateAwaitingAnswer); err == nil {
		t.Errorf("TransitionState from wrong state should fail")
	}
	if err := sm.TransitionState(ctx, id, models.FlowTypeIntake, models.StateAwaitingAnswer, models.StateStopped); err != nil {
		t.Errorf("TransitionState: %v", err)
	}

	data := map[models.DataKey]string{models.DataKeyStoppedBy: string(models.TokenNotInRange)}
	if err := sm.SetStateWithData(ctx, id, models.FlowTypeIntake, models.StateStopped, data); err != nil {
		t.Fatal(err)
	}
	if v, _ := sm.GetStateData(ctx, id, models.FlowTypeIntake, models.DataKeyPhase); v != "4" {
		t.Errorf("SetStateWithData dropped existing key, phase = %q", v)
	}

	if err := sm.ResetState(ctx, id, models.FlowTypeIntake); err != nil {
		t.Fatal(err)
	}
	if state, _ := sm.GetCurrentState(ctx, id, models.FlowTypeIntake); state != "" {
		t.Errorf("state after reset = %q", state)
	}
}
