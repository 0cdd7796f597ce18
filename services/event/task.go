package event

import (
	"encoding/json"
	"fmt"

	"smallbiznis-loyalty/pkg/taskname"

	"github.com/hibiken/asynq"
)

type ProcessEventPayload struct {
	TenantID string `json:"tenant_id"`
	EventID  string `json:"event_id"`
	TraceID  string `json:"trace_id,omitempty"`
}

// NewProcessEventTask builds the asynq task for one stored event. The task id
// is derived from the event id, so enqueueing twice is rejected by asynq.
func NewProcessEventTask(p ProcessEventPayload, queue string) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s:%s", p.TenantID, p.EventID)),
		asynq.MaxRetry(10),
	}
	if queue != "" {
		opts = append(opts, asynq.Queue(queue))
	}
	return asynq.NewTask(taskname.LoyaltyProcessEvent, payload, opts...), nil
}
