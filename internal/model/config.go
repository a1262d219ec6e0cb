// Package model holds the wire/domain types shared by every runtime
// component: the server-authored AgentConfig, tasks, and signals.
package model

import "encoding/json"

// WorkerType is a recognized worker-type tag.
type WorkerType string

const (
	WorkerFetcher    WorkerType = "fetcher"
	WorkerSuggestion WorkerType = "suggestion"
	WorkerApply      WorkerType = "apply"
	WorkerLogger     WorkerType = "logger"
	WorkerMaintain   WorkerType = "maintain"
)

// Scheduled reports whether this worker type produces periodic tasks on its
// own (fetcher, logger, maintain) as opposed to being purely event-driven
// (suggestion, apply).
func (w WorkerType) Scheduled() bool {
	switch w {
	case WorkerFetcher, WorkerLogger, WorkerMaintain:
		return true
	default:
		return false
	}
}

// WorkerSettings is one worker's configuration slice. ScheduleIntervalMS is
// only meaningful for scheduled worker types. Extra fields are opaque to the
// runtime and forwarded to handlers verbatim via Raw.
type WorkerSettings struct {
	Enabled            bool            `json:"enabled"`
	ScheduleIntervalMS int             `json:"schedule_interval_ms,omitempty"`
	LogLevel           *string         `json:"log_level,omitempty"`
	Raw                json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full object in Raw in addition to decoding the
// fields the runtime interprets.
func (w *WorkerSettings) UnmarshalJSON(data []byte) error {
	type alias WorkerSettings
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*w = WorkerSettings(a)
	w.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// VersionInfo is an optional update-advisory record.
type VersionInfo struct {
	RecommendedVersion string `json:"recommended_version,omitempty"`
	DownloadURL        string `json:"download_url,omitempty"`
	Checksum           string `json:"checksum,omitempty"`
	Required           bool   `json:"required,omitempty"`
}

// AgentConfig is the server-authored, versioned configuration.
// A given Version is immutable; the runtime replaces the whole value
// atomically on each applyConfig.
type AgentConfig struct {
	Version             string                    `json:"version"`
	HeartbeatIntervalMS int                       `json:"heartbeat_interval_ms"`
	TaskPollIntervalMS  int                       `json:"task_poll_interval_ms"`
	MaxConcurrentTasks  int                       `json:"max_concurrent_tasks"`
	Workers             map[WorkerType]WorkerSettings `json:"workers"`
	Limits              json.RawMessage           `json:"limits,omitempty"`
	VersionInfo         *VersionInfo              `json:"version_info,omitempty"`
}

// Worker returns the settings for a worker type, plus whether it was present.
func (c *AgentConfig) Worker(w WorkerType) (WorkerSettings, bool) {
	if c == nil || c.Workers == nil {
		return WorkerSettings{}, false
	}
	s, ok := c.Workers[w]
	return s, ok
}

// WorkspaceConfig holds credentials/endpoints for external systems that
// handlers use. It is opaque to the runtime beyond being loaded once at
// startup and handed to every handler invocation.
type WorkspaceConfig struct {
	Raw json.RawMessage
}

// Decode unmarshals the workspace config into v.
func (w WorkspaceConfig) Decode(v any) error {
	if len(w.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(w.Raw, v)
}
