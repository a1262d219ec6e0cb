package model

import (
	"encoding/json"
	"time"
)

// AgentTask is a unit of work claimed from the control plane.
type AgentTask struct {
	ID          string          `json:"id"`
	Type        WorkerType      `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	ScheduledAt time.Time       `json:"scheduled_at"`
}

// TaskResult is the opaque outcome of a successful handler invocation. The
// runtime never inspects its contents; it only forwards it to completeTask.
type TaskResult = json.RawMessage
