package contracts

import (
	"encoding/json"
	"time"
)

// Event kinds carried on the realtime channel. The names are part of the
// wire protocol consumed by clients.
const (
	KindTaskCreated = "taskCreated"
	KindTaskUpdated = "taskUpdated"
	KindTaskDeleted = "taskDeleted"
)

// TaskEvent is published by the task gateway after a successful mutation and
// consumed by the broadcast relay bridge.
type TaskEvent struct {
	EventID     string          `json:"event_id"`
	Kind        string          `json:"kind"`
	TaskID      string          `json:"task_id"`
	ActorUserID string          `json:"actor_user_id"`
	SessionID   string          `json:"session_id,omitempty"`
	Task        json.RawMessage `json:"task,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// EventSubject returns the NATS subject for a task event kind.
// Format: task.event.{kind}
func EventSubject(kind string) string {
	return "task.event." + kind
}
