package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskDeadlineCheck = "tasks.deadline_check"

type DeadlineCheckPayload struct {
	TaskID int64 `json:"taskId"`
}

func NewDeadlineCheckTask(payload DeadlineCheckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeadlineCheck, data), nil
}

func ParseDeadlineCheckPayload(task *asynq.Task) (DeadlineCheckPayload, error) {
	var payload DeadlineCheckPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DeadlineCheckPayload{}, err
	}
	return payload, nil
}
