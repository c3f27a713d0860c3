package domain

import (
	"testing"
)

func TestParseDecisionKnownKind(t *testing.T) {
	raw := []byte(`{
		"action": "move_stage",
		"message": "Sure, let's set that up!",
		"stage_change": {"to_stage": "Qualification", "reason": "demo requested"},
		"intent": {"name": "demo_request", "confidence": 0.93}
	}`)

	decision, err := ParseDecision(raw)
	if err != nil {
		t.Fatalf("ParseDecision returned error: %v", err)
	}
	if decision.Action != ActionMoveStage {
		t.Fatalf("expected action %q, got %q", ActionMoveStage, decision.Action)
	}
	if decision.StageChange == nil || decision.StageChange.ToStage != "Qualification" {
		t.Fatalf("expected stage change to Qualification, got %+v", decision.StageChange)
	}
	if decision.Message != "Sure, let's set that up!" {
		t.Fatalf("unexpected message: %q", decision.Message)
	}
	if decision.Intent == nil || decision.Intent.Confidence != 0.93 {
		t.Fatalf("expected intent confidence 0.93, got %+v", decision.Intent)
	}
}

func TestParseDecisionUnknownKind(t *testing.T) {
	decision, err := ParseDecision([]byte(`{"action": "launch_rocket"}`))
	if err != nil {
		t.Fatalf("ParseDecision returned error: %v", err)
	}
	if decision.Action != ActionUnknown {
		t.Fatalf("expected unknown action, got %q", decision.Action)
	}
}

func TestParseDecisionMissingActionDefaultsToNoAction(t *testing.T) {
	decision, err := ParseDecision([]byte(`{"message": "hello"}`))
	if err != nil {
		t.Fatalf("ParseDecision returned error: %v", err)
	}
	if !decision.IsNoAction() {
		t.Fatalf("expected no_action, got %q", decision.Action)
	}
}

func TestParseDecisionInvalidJSON(t *testing.T) {
	if _, err := ParseDecision([]byte(`{"action":`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestIsNoActionNilDecision(t *testing.T) {
	var decision *Decision
	if !decision.IsNoAction() {
		t.Fatal("nil decision should be no_action")
	}
}
