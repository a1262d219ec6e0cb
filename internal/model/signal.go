package model

import (
	"encoding/json"
	"time"
)

// SignalType enumerates the signal vocabulary posted to /api/agent/signal.
type SignalType string

const (
	SignalAgentStarting  SignalType = "agent_starting"
	SignalAgentStopping  SignalType = "agent_stopping"
	SignalHeartbeat      SignalType = "heartbeat"
	SignalTaskStarted    SignalType = "task_started"
	SignalTaskCompleted  SignalType = "task_completed"
	SignalTaskFailed     SignalType = "task_failed"
	SignalLog            SignalType = "log"
)

// Severity is the level attached to log-category signals.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Signal is an out-of-band event posted to the control plane.
type Signal struct {
	Category  string          `json:"category"`
	Type      SignalType      `json:"type"`
	Severity  Severity        `json:"severity,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewLifecycleSignal builds a Signal with category=agent for a lifecycle
// event type (agent_starting, heartbeat, task_started, ...).
func NewLifecycleSignal(t SignalType, payload any) Signal {
	return Signal{
		Category:  "agent",
		Type:      t,
		Payload:   mustMarshal(payload),
		Timestamp: time.Now(),
	}
}

func mustMarshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
