package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskAgentCycle = "agent.cycle"

const TaskFollowUpDue = "agent.followup.due"

type AgentCyclePayload struct {
	ConversationID string `json:"conversationId"`
}

type FollowUpDuePayload struct {
	FollowUpID string `json:"followUpId"`
}

func NewAgentCycleTask(payload AgentCyclePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAgentCycle, data), nil
}

func ParseAgentCyclePayload(task *asynq.Task) (AgentCyclePayload, error) {
	var payload AgentCyclePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AgentCyclePayload{}, err
	}
	return payload, nil
}

func NewFollowUpDueTask(payload FollowUpDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFollowUpDue, data), nil
}

func ParseFollowUpDuePayload(task *asynq.Task) (FollowUpDuePayload, error) {
	var payload FollowUpDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return FollowUpDuePayload{}, err
	}
	return payload, nil
}
