// Package domain defines the decision model produced by the external decision
// service and consumed by the action dispatcher.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActionKind enumerates the actions the dispatcher knows how to execute.
type ActionKind string

const (
	ActionSendMessage       ActionKind = "send_message"
	ActionMoveStage         ActionKind = "move_stage"
	ActionQualifyLead       ActionKind = "qualify_lead"
	ActionCheckAvailability ActionKind = "check_availability"
	ActionScheduleMeeting   ActionKind = "schedule_meeting"
	ActionFinalizeAndAssign ActionKind = "finalize_and_assign"
	ActionTransferToHuman   ActionKind = "transfer_to_human"
	ActionRequestInfo       ActionKind = "request_info"
	ActionFollowUp          ActionKind = "follow_up"
	ActionNone              ActionKind = "no_action"
	// ActionUnknown marks an unrecognized kind; the dispatcher treats it as a
	// logged no-op.
	ActionUnknown ActionKind = "unknown"
)

// Origin identifies which decision path produced a decision.
const (
	OriginAgent    = "agent"
	OriginFallback = "fallback"
)

// StageChange carries the move_stage payload.
type StageChange struct {
	ToStage string `json:"to_stage"`
	Reason  string `json:"reason,omitempty"`
}

// Appointment carries the schedule_meeting payload.
type Appointment struct {
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Title           string    `json:"title,omitempty"`
}

// Intent is the classified intent metadata attached to a decision.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Usage reports token consumption of the decision call.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// Decision is the structured outcome of one decision call. Exactly one action
// executes per cycle; payload fields are populated per kind.
type Decision struct {
	Action         ActionKind     `json:"action"`
	Message        string         `json:"message,omitempty"`
	StageChange    *StageChange   `json:"stage_change,omitempty"`
	Qualification  map[string]any `json:"qualification,omitempty"`
	Appointment    *Appointment   `json:"appointment,omitempty"`
	SDROutcome     string         `json:"sdr_outcome,omitempty"`
	SDRNotes       string         `json:"sdr_notes,omitempty"`
	FollowUpTime   *time.Time     `json:"follow_up_time,omitempty"`
	FollowUpNeeded bool           `json:"follow_up_needed,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Intent         *Intent        `json:"intent,omitempty"`
	Usage          *Usage         `json:"usage,omitempty"`
	Model          string         `json:"model,omitempty"`

	// Origin records which decision path produced this decision. It is set
	// locally, never parsed from the wire, but serialized into audit payloads.
	Origin string `json:"origin,omitempty"`
}

var knownKinds = map[ActionKind]struct{}{
	ActionSendMessage:       {},
	ActionMoveStage:         {},
	ActionQualifyLead:       {},
	ActionCheckAvailability: {},
	ActionScheduleMeeting:   {},
	ActionFinalizeAndAssign: {},
	ActionTransferToHuman:   {},
	ActionRequestInfo:       {},
	ActionFollowUp:          {},
	ActionNone:              {},
}

// ParseDecision decodes a decision service response. Unrecognized action
// kinds are preserved as ActionUnknown so the dispatcher can log them; a
// missing action defaults to no_action.
func ParseDecision(raw []byte) (*Decision, error) {
	var decision Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, fmt.Errorf("failed to decode decision: %w", err)
	}

	decision.Action = ActionKind(strings.TrimSpace(string(decision.Action)))
	if decision.Action == "" {
		decision.Action = ActionNone
		return &decision, nil
	}
	if _, ok := knownKinds[decision.Action]; !ok {
		decision.Action = ActionUnknown
	}
	return &decision, nil
}

// IsNoAction reports whether the decision requires no dispatch at all.
func (d *Decision) IsNoAction() bool {
	return d == nil || d.Action == ActionNone
}
